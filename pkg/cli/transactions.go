package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func transactionsCommand() *cli.Command {
	var (
		cfg    = newConfig()
		offset int64
		limit  int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "offset",
			Usage:       "Offset for pagination",
			Value:       0,
			Sources:     cli.EnvVars("TROUPE_LIST_OFFSET"),
			Destination: &offset,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of transactions to list",
			Value:       100,
			Sources:     cli.EnvVars("TROUPE_LIST_LIMIT"),
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(cfg)...)

	return &cli.Command{
		Name:  "transactions",
		Usage: "List persisted transactions, most recently updated first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if cfg.project == "" {
				logging.From(ctx).Warn("no Firestore project configured, the transaction index is empty")
			}

			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			records, err := repo.ListTransactions(ctx, int(offset), int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to list transactions")
			}

			for _, r := range records {
				fmt.Fprintf(c.Root().Writer, "%s\t%d checkpoints\tlast #%d\t%s\n",
					r.Name, r.Checkpoints, r.LastSeq, r.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}
