package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/qotd/internal/bot"
)

func newAskCmd(flags *globalFlags) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Ask a round of questions",
		Long:  "Picks recipients from the source channel, sends each a question by DM, and records the pending questions in the ledger.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, flags, dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "select recipients and questions without sending or saving")
	return cmd
}

func runAsk(cmd *cobra.Command, flags *globalFlags, dryRun bool) (err error) {
	e, err := setup(cmd, flags)
	if err != nil {
		return err
	}
	defer closeInto(&err, e)

	asker, err := bot.NewAsker(bot.AskerOpts{
		Client: e.client,
		Store:  e.store,
		Config: e.cfg,
		Logger: e.log,
	})
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	res, runErr := asker.Run(ctx, dryRun)

	out := cmd.OutOrStdout()
	if res != nil {
		if res.DryRun {
			fmt.Fprintf(out, "Dry run (round %s): would ask %d recipient(s)\n", res.Round, len(res.Picks))
			for _, p := range res.Picks {
				fmt.Fprintf(out, "  %s  %s\n", p.User, p.Question)
			}
		} else {
			fmt.Fprintf(out, "Round %s: asked %d of %d recipient(s)\n", res.Round, len(res.Asked), len(res.Picks))
		}
	}
	if runErr != nil {
		return fmt.Errorf("ask: %w", runErr)
	}
	return nil
}
