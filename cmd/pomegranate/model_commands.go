package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/akash-ravi/pomegranate-app/internal/model"
)

func newModelCommand(ctx *commandContext) *cobra.Command {
	modelCmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect the bundled classifier",
	}
	modelCmd.AddCommand(newModelInfoCommand(ctx))
	return modelCmd
}

func newModelInfoCommand(ctx *commandContext) *cobra.Command {
	var load bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show model metadata and whether it loads",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Model:     %s%s\n", cfg.Model.Path, missingSuffix(cfg.Model.Path))
			fmt.Fprintf(out, "Metadata:  %s%s\n", cfg.Model.MetadataPath, missingSuffix(cfg.Model.MetadataPath))
			fmt.Fprintf(out, "Labels:    %s", cfg.Model.LabelPolicy)
			if cfg.Model.LabelPolicy == "fixed" {
				fmt.Fprintf(out, " (%s)", cfg.Model.FixedLabel)
			}
			fmt.Fprintln(out)

			meta, err := model.ReadMetadata(cfg.Model.MetadataPath)
			if err != nil {
				return fmt.Errorf("model metadata: %w", err)
			}
			fmt.Fprintf(out, "Input:     %s %v\n", meta.InputName, meta.InputShape)
			fmt.Fprintf(out, "Output:    %s %v\n", meta.OutputName, meta.OutputShape)

			rows := make([][]string, 0, len(meta.Classes))
			for i, class := range meta.Classes {
				rows = append(rows, []string{fmt.Sprint(i), class, displayLabel(class)})
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderTable([]string{"Index", "Class", "Display"}, rows, []columnAlignment{alignRight, alignLeft, alignLeft}))

			if !load {
				return nil
			}
			logger, err := ctx.ensureLogger(cmd)
			if err != nil {
				return err
			}
			engine := model.NewEngine(cfg.Model.MetadataPath, ctx.modelLoader(cfg), logger)
			defer engine.Close()
			if _, err := engine.Load(cmd.Context()); err != nil {
				fmt.Fprintln(out, "\nStatus:    degraded")
				return err
			}
			fmt.Fprintln(out, "\nStatus:    ready")
			return nil
		},
	}

	cmd.Flags().BoolVar(&load, "load", false, "Also open an inference session")
	return cmd
}

func missingSuffix(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return " (missing)"
	}
	return ""
}
