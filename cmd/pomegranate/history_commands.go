package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/akash-ravi/pomegranate-app/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and manage recorded classifications",
	}

	historyCmd.AddCommand(newHistoryListCommand(ctx))
	historyCmd.AddCommand(newHistoryShowCommand(ctx))
	historyCmd.AddCommand(newHistoryDeleteCommand(ctx))
	historyCmd.AddCommand(newHistoryExportCommand(ctx))

	return historyCmd
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List recorded classifications, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListAll(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format != "" && format != "table" {
				if records == nil {
					records = []history.Record{}
				}
				return writeStructured(out, format, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "No history recorded yet")
				return nil
			}
			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				rows = append(rows, []string{
					strconv.FormatInt(rec.ID, 10),
					displayLabel(rec.Type),
					rec.Location,
					formatMillis(rec.Time),
					rec.ImagePath,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Type", "Location", "Recorded", "Image"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table, json or yaml")
	return cmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one recorded classification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			store, err := ctx.openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("history record %d not found", id)
			}

			out := cmd.OutOrStdout()
			if format != "" && format != "text" {
				return writeStructured(out, format, rec)
			}
			fmt.Fprintf(out, "ID:        %d\n", rec.ID)
			fmt.Fprintf(out, "Type:      %s\n", displayLabel(rec.Type))
			fmt.Fprintf(out, "Location:  %s\n", rec.Location)
			fmt.Fprintf(out, "Recorded:  %s\n", formatMillis(rec.Time))
			fmt.Fprintf(out, "Image:     %s\n", rec.ImagePath)
			if _, statErr := os.Stat(rec.ImagePath); statErr != nil {
				fmt.Fprintln(out, "           (archived image is missing)")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json or yaml")
	return cmd
}

func newHistoryDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a recorded classification (the archived image is kept)",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			store, err := ctx.openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Delete(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if removed {
				fmt.Fprintf(out, "Deleted history record %d\n", id)
			} else {
				fmt.Fprintf(out, "No history record %d\n", id)
			}
			return nil
		},
	}
}

func newHistoryExportCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export all history as JSON, YAML or Parquet",
		Long: `Export every history record. The format follows the file extension unless
--format is given. Use "-" to write to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			if format == "" {
				format = history.FormatFromPath(target)
			}

			store, err := ctx.openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListAll(cmd.Context())
			if err != nil {
				return err
			}

			if target == "-" {
				return history.Export(cmd.OutOrStdout(), records, strings.ToLower(format))
			}
			f, err := os.Create(target)
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			if err := history.Export(f, records, strings.ToLower(format)); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close export file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s\n", len(records), target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Export format: json, yaml or parquet")
	return cmd
}

func parseRecordID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(raw), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid history id %q", raw)
	}
	return id, nil
}
