package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/qotd/internal/bot"
)

func newCollectCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect answers to pending questions",
		Long:  "Checks every pending question for a reply and republishes answers under today's thread in the destination channel.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd, flags)
		},
	}
	return cmd
}

func runCollect(cmd *cobra.Command, flags *globalFlags) (err error) {
	e, err := setup(cmd, flags)
	if err != nil {
		return err
	}
	defer closeInto(&err, e)

	collector, err := bot.NewCollector(bot.CollectorOpts{
		Client: e.client,
		Store:  e.store,
		Config: e.cfg,
		Logger: e.log,
	})
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	report, runErr := collector.Run(ctx)
	if report != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Checked %d, published %d, retained %d, expired %d, failed %d\n",
			report.Checked, report.Published, report.Retained, report.Expired, report.Failed)
	}
	if runErr != nil {
		return fmt.Errorf("collect: %w", runErr)
	}
	return nil
}
