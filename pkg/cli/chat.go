package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/agent"
	"github.com/m-mizutani/troupe/pkg/llm"
	"github.com/m-mizutani/troupe/pkg/metrics"
	"github.com/m-mizutani/troupe/pkg/model"
	"github.com/m-mizutani/troupe/pkg/scenario"
	"github.com/m-mizutani/troupe/pkg/simulation"
	"github.com/m-mizutani/troupe/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	var (
		cfg          = newConfig()
		scenarioPath string
		agentName    string
		speaker      string
		transaction  string
		resume       bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "scenario",
			Aliases:     []string{"s"},
			Usage:       "Path to scenario YAML defining the agent",
			Sources:     cli.EnvVars("TROUPE_SCENARIO"),
			Destination: &scenarioPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "agent",
			Aliases:     []string{"a"},
			Usage:       "Agent to talk with. Defaults to the first agent of the scenario",
			Destination: &agentName,
		},
		&cli.StringFlag{
			Name:        "as",
			Usage:       "Name the agent sees as the speaker",
			Destination: &speaker,
		},
		&cli.StringFlag{
			Name:        "transaction",
			Aliases:     []string{"t"},
			Usage:       "Checkpoint the conversation into this transaction after every message",
			Destination: &transaction,
		},
		&cli.BoolFlag{
			Name:        "resume",
			Usage:       "Continue the conversation from the latest checkpoint of the transaction",
			Destination: &resume,
		},
	}
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, toolFlags(cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Talk with one agent interactively",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if resume && transaction == "" {
				return goerr.New("--resume requires --transaction")
			}

			sc, err := scenario.Load(scenarioPath)
			if err != nil {
				return err
			}

			session, err := newChatSession(ctx, cfg, sc, transaction, resume)
			if err != nil {
				return err
			}
			defer session.close(ctx)

			a, err := session.pick(agentName)
			if err != nil {
				return err
			}

			return session.loop(ctx, a, speaker, c.Root().Writer)
		},
	}
}

type chatSession struct {
	actor   *agent.Loop
	sim     *scenario.Simulation
	ctrl    *simulation.Controller
	cleanup []func()
}

func newChatSession(ctx context.Context, cfg *config, sc *scenario.Scenario, transaction string, resume bool) (*chatSession, error) {
	s := &chatSession{}
	rec := metrics.New()

	storage, err := cfg.newStorage(ctx)
	if err != nil {
		return nil, err
	}

	cache := llm.NewCache()
	gateway, closeGateway, err := cfg.newGateway(ctx, cache, rec)
	if err != nil {
		return nil, err
	}
	s.cleanup = append(s.cleanup, closeGateway)

	if transaction != "" {
		repo, closeRepo, err := cfg.newRepository(ctx)
		if err != nil {
			s.close(ctx)
			return nil, err
		}
		s.cleanup = append(s.cleanup, closeRepo)

		ctrl, err := simulation.New(simulation.NewInput{
			Storage: storage,
			Repo:    repo,
			Cache:   cache,
			Metrics: rec,
		})
		if err != nil {
			s.close(ctx)
			return nil, err
		}
		if err := ctrl.Begin(ctx, transaction); err != nil {
			s.close(ctx)
			return nil, err
		}
		s.ctrl = ctrl
	}

	tools, closeTools, err := cfg.newTools(ctx, storage)
	if err != nil {
		s.close(ctx)
		return nil, err
	}
	s.cleanup = append(s.cleanup, closeTools)
	s.actor = agent.NewLoop(gateway,
		agent.WithConfig(cfg.loopConfig()),
		agent.WithTools(tools),
		agent.WithMetrics(rec),
	)

	s.sim, err = scenario.Build(ctx, sc, scenario.BuildInput{
		Actor:    s.actor,
		Embedder: gateway,
		Tools:    tools,
		Metrics:  rec,
	})
	if err != nil {
		s.close(ctx)
		return nil, err
	}

	if s.ctrl != nil {
		if err := s.ctrl.Register(s.sim.Objects()...); err != nil {
			s.close(ctx)
			return nil, err
		}
		if resume {
			if err := s.ctrl.Resume(ctx); err != nil {
				s.close(ctx)
				return nil, err
			}
		}
	}

	return s, nil
}

func (s *chatSession) pick(name string) (*agent.Agent, error) {
	if len(s.sim.Agents) == 0 {
		return nil, goerr.Wrap(model.ErrAgentNotFound, "scenario has no agent")
	}
	if name == "" {
		return s.sim.Agents[0], nil
	}
	for _, a := range s.sim.Agents {
		if a.Name() == name {
			return a, nil
		}
	}
	return nil, goerr.Wrap(model.ErrAgentNotFound, "no such agent in scenario", goerr.V("name", name))
}

func (s *chatSession) loop(ctx context.Context, a *agent.Agent, speaker string, out io.Writer) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return goerr.Wrap(err, "failed to initialize readline")
	}
	defer rl.Close()

	fmt.Fprintf(out, "Talking with %s. Type 'exit' to quit.\n", a.Name())

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				break
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return goerr.Wrap(err, "failed to read input")
		}

		message := strings.TrimSpace(line)
		if message == "exit" {
			break
		}
		if message == "" {
			continue
		}

		result, err := s.actor.ListenAndAct(ctx, a, message, speaker)
		if result != nil {
			printReplies(out, a.Name(), result)
		}
		if err != nil {
			logging.From(ctx).Error("agent failed to act", "agent", a.Name(), "error", err)
			continue
		}

		if s.ctrl != nil {
			if _, err := s.ctrl.Checkpoint(ctx); err != nil {
				return err
			}
		}
	}

	fmt.Fprintf(out, "\nChat session completed\n")
	return nil
}

func (s *chatSession) close(ctx context.Context) {
	if s.ctrl != nil {
		if err := s.ctrl.End(ctx); err != nil && !errors.Is(err, model.ErrNoActiveTransaction) {
			logging.From(ctx).Warn("failed to end transaction", "error", err)
		}
	}
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

func printReplies(w io.Writer, name string, result *agent.ActResult) {
	for _, a := range result.Actions {
		switch a.Kind {
		case model.ActionTalk:
			fmt.Fprintf(w, "%s: %s\n", name, a.Content)
		case model.ActionThink:
			fmt.Fprintf(w, "  (%s thinks: %s)\n", name, a.Content)
		}
	}
	if result.Truncated {
		fmt.Fprintf(w, "  (%s stopped: %s)\n", name, result.Reason)
	}
}
