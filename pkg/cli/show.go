package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/agent"
	"github.com/m-mizutani/troupe/pkg/llm"
	"github.com/m-mizutani/troupe/pkg/model"
	"github.com/m-mizutani/troupe/pkg/simulation"
	"github.com/urfave/cli/v3"
)

func showCommand() *cli.Command {
	var (
		cfg         = newConfig()
		transaction string
		agentName   string
		seq         int64
		lastN       int64
		maxLength   int64
		timestamps  bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "transaction",
			Aliases:     []string{"t"},
			Usage:       "Transaction name",
			Sources:     cli.EnvVars("TROUPE_TRANSACTION"),
			Destination: &transaction,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "agent",
			Aliases:     []string{"a"},
			Usage:       "Agent whose transcript is printed. All agents when empty",
			Destination: &agentName,
		},
		&cli.IntFlag{
			Name:        "checkpoint",
			Aliases:     []string{"c"},
			Usage:       "Checkpoint sequence number. The latest checkpoint when negative",
			Value:       -1,
			Destination: &seq,
		},
		&cli.IntFlag{
			Name:        "last",
			Usage:       "Only print the last N records",
			Destination: &lastN,
		},
		&cli.IntFlag{
			Name:        "max-length",
			Usage:       "Shorten each record to this many characters",
			Value:       200,
			Destination: &maxLength,
		},
		&cli.BoolFlag{
			Name:        "timestamps",
			Usage:       "Print the simulation time of each record",
			Destination: &timestamps,
		},
	}
	flags = append(flags, globalFlags(cfg)...)

	return &cli.Command{
		Name:  "show",
		Usage: "Print agent transcripts stored in a checkpoint",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}
			ctrl, err := simulation.New(simulation.NewInput{
				Storage: storage,
				Cache:   llm.NewCache(),
			})
			if err != nil {
				return err
			}

			tx, err := ctrl.Load(ctx, transaction)
			if err != nil {
				return err
			}

			cp := tx.Latest()
			if seq >= 0 {
				var ok bool
				if cp, ok = tx.Checkpoint(int(seq)); !ok {
					cp = nil
				}
			}
			if cp == nil {
				return goerr.Wrap(model.ErrCheckpointMissing, "checkpoint not found",
					goerr.V("transaction", transaction), goerr.V("seq", seq))
			}

			names := make([]string, 0, len(cp.State.Agents))
			for name := range cp.State.Agents {
				if agentName == "" || name == agentName {
					names = append(names, name)
				}
			}
			if len(names) == 0 {
				return goerr.Wrap(model.ErrAgentNotFound, "agent not in checkpoint", goerr.V("name", agentName))
			}
			sort.Strings(names)

			opts := []agent.TranscriptOption{agent.WithMaxContentLength(int(maxLength))}
			if lastN > 0 {
				opts = append(opts, agent.WithLastN(int(lastN)))
			}
			if timestamps {
				opts = append(opts, agent.WithTimestamps())
			}

			out := c.Root().Writer
			fmt.Fprintf(out, "transaction %s, checkpoint #%d (%s)\n", tx.Name, cp.Seq, cp.CreatedAt.Format("2006-01-02 15:04:05"))
			for _, name := range names {
				a, err := restoreAgent(cp.State.Agents[name])
				if err != nil {
					return goerr.Wrap(err, "failed to restore agent", goerr.V("name", name))
				}
				fmt.Fprintf(out, "\n== %s ==\n", name)
				if err := agent.Transcript(out, a, opts...); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func restoreAgent(s agent.State) (*agent.Agent, error) {
	a, err := agent.New(s.Persona)
	if err != nil {
		return nil, goerr.Wrap(model.ErrSnapshotCorrupted, "invalid persona in checkpoint", goerr.V("error", err))
	}
	if err := a.Restore(s); err != nil {
		return nil, err
	}
	return a, nil
}
