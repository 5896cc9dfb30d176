package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/qotd/internal/ledger"
	"github.com/zulandar/qotd/internal/status"
	"golang.org/x/term"
)

func newLedgerCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and maintain the ledger",
		Long:  "The ledger holds pending questions and the daily answer threads shared by ask and collect.",
	}

	cmd.AddCommand(newLedgerShowCmd(flags))
	cmd.AddCommand(newLedgerPruneCmd(flags))
	return cmd
}

func newLedgerShowCmd(flags *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show pending questions and daily threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerShow(cmd, flags, format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "auto", "output format: auto, table, json (auto is table on a terminal)")
	return cmd
}

func newLedgerPruneCmd(flags *globalFlags) *cobra.Command {
	var (
		olderThan time.Duration
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop pending questions older than a given age",
		Long:  "Removes pending questions asked longer ago than --older-than. Entries without an ask time are kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerPrune(cmd, flags, olderThan, dryRun)
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "maximum age of a pending question")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list what would be dropped without saving")
	return cmd
}

// openLedger loads config and opens the store without a platform client.
func openLedger(cmd *cobra.Command, flags *globalFlags) (ledger.Store, error) {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, err
	}
	store, err := ledger.Open(cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return store, nil
}

func runLedgerShow(cmd *cobra.Command, flags *globalFlags, format string) (err error) {
	store, err := openLedger(cmd, flags)
	if err != nil {
		return err
	}
	defer closeInto(&err, store)

	l, err := store.Load(commandContext(cmd))
	if err != nil {
		return err
	}
	view := status.NewLedgerView(l, time.Now())
	out := cmd.OutOrStdout()

	switch format {
	case "auto":
		if !isTerminal(out) {
			return writeJSON(out, view)
		}
		writeLedgerTable(out, view)
	case "table":
		writeLedgerTable(out, view)
	case "json":
		return writeJSON(out, view)
	default:
		return fmt.Errorf("unknown format %q (auto, table, json)", format)
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeLedgerTable(out io.Writer, v status.LedgerView) {
	fmt.Fprintf(out, "Revision %d, %d pending\n\n", v.Revision, len(v.Pending))
	if len(v.Pending) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "USER\tASKED\tAGE\tROUND")
		for _, p := range v.Pending {
			asked, age := "-", "-"
			if !p.AskedAt.IsZero() {
				asked = p.AskedAt.Format(time.RFC3339)
				age = p.Age
			}
			round := p.Round
			if round == "" {
				round = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.User, asked, age, round)
		}
		w.Flush()
		fmt.Fprintln(out)
	}
	if len(v.DailyThreads) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DAY\tTHREAD")
		for _, ref := range v.DailyThreads {
			fmt.Fprintf(w, "%s\t%s\n", ref.Day, ref.ThreadAnchor)
		}
		w.Flush()
	}
}

func runLedgerPrune(cmd *cobra.Command, flags *globalFlags, olderThan time.Duration, dryRun bool) (err error) {
	if olderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}
	store, err := openLedger(cmd, flags)
	if err != nil {
		return err
	}
	defer closeInto(&err, store)

	ctx := commandContext(cmd)
	l, err := store.Load(ctx)
	if err != nil {
		return err
	}
	dropped := l.Prune(time.Now(), olderThan)

	out := cmd.OutOrStdout()
	for _, e := range dropped {
		fmt.Fprintf(out, "drop %s (asked %s)\n", e.User, e.AskedAt.Format(time.RFC3339))
	}
	if dryRun {
		fmt.Fprintf(out, "%d pending question(s) would be dropped\n", len(dropped))
		return nil
	}
	if len(dropped) == 0 {
		fmt.Fprintln(out, "Nothing to prune")
		return nil
	}
	if err := store.Save(ctx, l); err != nil {
		return err
	}
	fmt.Fprintf(out, "Dropped %d pending question(s), %d remain\n", len(dropped), len(l.Pending))
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
