package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"doctools/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var statusFlags []string
	var clear bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recognition and conversion history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !cfg.History.Enabled {
				fmt.Fprintln(out, "History is disabled (set history.enabled = true)")
				return nil
			}

			statuses := make([]history.Status, 0, len(statusFlags))
			for _, value := range statusFlags {
				status, err := history.ParseStatus(value)
				if err != nil {
					return err
				}
				statuses = append(statuses, status)
			}

			store, err := history.Open(cfg)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			if clear {
				removed, err := store.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed %d history entr%s\n", removed, pluralY(removed))
				return nil
			}

			entries, err := store.List(cmd.Context(), limit, statuses...)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No history entries")
				return nil
			}
			printHistory(out, entries)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show (0 for all)")
	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (pending, running, completed, failed, cancelled)")
	cmd.Flags().BoolVar(&clear, "clear", false, "Delete every history entry")
	return cmd
}

func printHistory(out io.Writer, entries []history.Entry) {
	tbl := newResultTable(
		[]string{"ID", "Kind", "Status", "Source", "Created", "Duration", "Detail"},
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
		2,
	)
	for _, e := range entries {
		duration := "-"
		if d := e.Duration(); d > 0 {
			duration = d.Round(time.Millisecond).String()
		}
		detail := e.Destination
		if e.ErrorMessage != "" {
			detail = e.ErrorMessage
			if e.ErrorKind != "" {
				detail = e.ErrorKind + ": " + detail
			}
		}
		tbl.addRow(historyStatusKind(e.Status),
			shortID(e.ID),
			e.Kind,
			string(e.Status),
			truncate(e.Source, 50),
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			duration,
			truncate(detail, 60),
		)
	}
	fmt.Fprintln(out, tbl.render(shouldColorize(out)))
	fmt.Fprintf(out, "%s entr%s\n", strconv.Itoa(len(entries)), pluralY(int64(len(entries))))
}

func pluralY(n int64) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
