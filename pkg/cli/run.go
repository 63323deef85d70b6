package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/agent"
	"github.com/m-mizutani/troupe/pkg/llm"
	"github.com/m-mizutani/troupe/pkg/metrics"
	"github.com/m-mizutani/troupe/pkg/model"
	"github.com/m-mizutani/troupe/pkg/scenario"
	"github.com/m-mizutani/troupe/pkg/simulation"
	"github.com/m-mizutani/troupe/pkg/utils/logging"
	"github.com/m-mizutani/troupe/pkg/world"
	"github.com/urfave/cli/v3"
)

func runCommand() *cli.Command {
	var (
		cfg             = newConfig()
		scenarioPath    string
		steps           int64
		transaction     string
		checkpointEvery int64
		resume          bool
		quiet           bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "scenario",
			Aliases:     []string{"s"},
			Usage:       "Path to scenario YAML",
			Sources:     cli.EnvVars("TROUPE_SCENARIO"),
			Destination: &scenarioPath,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "steps",
			Aliases:     []string{"n"},
			Usage:       "Number of steps per world. Overrides the scenario when positive",
			Destination: &steps,
		},
		&cli.StringFlag{
			Name:        "transaction",
			Aliases:     []string{"t"},
			Usage:       "Transaction name. A fresh name is generated when empty",
			Sources:     cli.EnvVars("TROUPE_TRANSACTION"),
			Destination: &transaction,
		},
		&cli.IntFlag{
			Name:        "checkpoint-every",
			Usage:       "Checkpoint after every N steps. Zero only checkpoints at the end",
			Value:       1,
			Destination: &checkpointEvery,
		},
		&cli.BoolFlag{
			Name:        "resume",
			Usage:       "Continue from the latest checkpoint of the transaction",
			Destination: &resume,
		},
		&cli.BoolFlag{
			Name:        "quiet",
			Aliases:     []string{"q"},
			Usage:       "Do not print actions",
			Destination: &quiet,
		},
	}
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, toolFlags(cfg)...)
	flags = append(flags, metricsFlags(cfg)...)

	return &cli.Command{
		Name:  "run",
		Usage: "Run a scenario inside a transaction",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if resume && transaction == "" {
				return goerr.New("--resume requires --transaction")
			}
			if transaction == "" {
				transaction = "run-" + uuid.NewString()
			}

			sc, err := scenario.Load(scenarioPath)
			if err != nil {
				return err
			}
			if steps > 0 {
				sc.Steps = int(steps)
			}

			return runScenario(ctx, cfg, runInput{
				Scenario:        sc,
				Transaction:     transaction,
				CheckpointEvery: int(checkpointEvery),
				Resume:          resume,
				Out:             c.Root().Writer,
				Progress:        c.Root().ErrWriter,
				Quiet:           quiet,
			})
		},
	}
}

type runInput struct {
	Scenario        *scenario.Scenario
	Transaction     string
	CheckpointEvery int
	Resume          bool
	Out             io.Writer
	Progress        io.Writer
	Quiet           bool
}

func runScenario(ctx context.Context, cfg *config, input runInput) error {
	ctx, logger := logging.WithAttrs(ctx, "transaction", input.Transaction)

	rec := metrics.New()
	defer cfg.serveMetrics(ctx, rec)()

	storage, err := cfg.newStorage(ctx)
	if err != nil {
		return err
	}
	repo, closeRepo, err := cfg.newRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	cache := llm.NewCache()
	gateway, closeGateway, err := cfg.newGateway(ctx, cache, rec)
	if err != nil {
		return err
	}
	defer closeGateway()

	ctrl, err := simulation.New(simulation.NewInput{
		Storage: storage,
		Repo:    repo,
		Cache:   cache,
		Metrics: rec,
	})
	if err != nil {
		return err
	}

	// Begin loads the cached responses of a previous run, so building the
	// scenario afterwards replays document embeddings from the cache.
	if err := ctrl.Begin(ctx, input.Transaction); err != nil {
		return err
	}
	defer func() {
		if err := ctrl.End(ctx); err != nil && !errors.Is(err, model.ErrNoActiveTransaction) {
			logger.Warn("failed to end transaction", "error", err)
		}
	}()

	tools, closeTools, err := cfg.newTools(ctx, storage)
	if err != nil {
		return err
	}
	defer closeTools()

	loop := agent.NewLoop(gateway,
		agent.WithConfig(cfg.loopConfig()),
		agent.WithTools(tools),
		agent.WithMetrics(rec),
	)

	sim, err := scenario.Build(ctx, input.Scenario, scenario.BuildInput{
		Actor:    loop,
		Embedder: gateway,
		Tools:    tools,
		Metrics:  rec,
	})
	if err != nil {
		return err
	}
	if err := ctrl.Register(sim.Objects()...); err != nil {
		return err
	}

	if input.Resume {
		if err := ctrl.Resume(ctx); err != nil {
			return err
		}
		logger.Info("resumed transaction")
	}

	sinceCheckpoint := 0
	hook := func(ctx context.Context, w *world.World, report *world.StepReport) error {
		if !input.Quiet {
			printStep(input.Out, w.Name(), report)
		}
		sinceCheckpoint++
		if input.CheckpointEvery <= 0 || report.Step%input.CheckpointEvery != 0 {
			return nil
		}
		if _, err := ctrl.Checkpoint(ctx); err != nil {
			return err
		}
		sinceCheckpoint = 0
		return nil
	}

	for _, w := range sim.Worlds {
		remaining := input.Scenario.Steps - w.Step()
		if remaining <= 0 {
			logger.Info("world already completed", "world", w.Name(), "step", w.Step())
			continue
		}

		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(input.Progress))
		s.Suffix = fmt.Sprintf(" running %s (%d steps)", w.Name(), remaining)
		s.Start()
		_, err := w.Run(ctx, remaining, world.AfterEachStep(hook))
		s.Stop()
		if err != nil {
			return goerr.Wrap(err, "failed to run world", goerr.V("world", w.Name()))
		}
	}

	if sinceCheckpoint > 0 {
		if _, err := ctrl.Checkpoint(ctx); err != nil {
			return err
		}
	}

	_, checkpoints, _ := ctrl.Active()
	stats := cache.Stats()
	fmt.Fprintf(input.Out, "\ntransaction %s: %d checkpoints, %d cache hits, %d cache misses\n",
		input.Transaction, checkpoints, stats.Hits, stats.Misses)
	return nil
}

func printStep(w io.Writer, worldName string, report *world.StepReport) {
	header := fmt.Sprintf("[%s #%d", worldName, report.Step)
	if report.Time != nil {
		header += " " + report.Time.Format(time.RFC3339)
	}
	fmt.Fprintln(w, header+"]")

	for _, turn := range report.Turns {
		for _, a := range turn.Actions {
			if a.Kind == model.ActionDone {
				continue
			}
			line := fmt.Sprintf("  %s %s", turn.Agent, a.Kind)
			if a.Target != "" {
				line += " -> " + a.Target
			}
			if a.Content != "" {
				line += ": " + a.Content
			}
			fmt.Fprintln(w, line)
		}
		if turn.Truncated {
			fmt.Fprintf(w, "  %s stopped (%s)\n", turn.Agent, turn.Reason)
		}
		if turn.Error != "" {
			fmt.Fprintf(w, "  %s failed: %s\n", turn.Agent, turn.Error)
		}
	}
	if report.Dropped > 0 {
		fmt.Fprintf(w, "  %d messages not delivered\n", report.Dropped)
	}
}
