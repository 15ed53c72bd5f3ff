package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/akash-ravi/pomegranate-app/internal/archive"
	"github.com/akash-ravi/pomegranate-app/internal/config"
	"github.com/akash-ravi/pomegranate-app/internal/history"
	"github.com/akash-ravi/pomegranate-app/internal/pipeline"
	"github.com/akash-ravi/pomegranate-app/internal/predict"
	"github.com/akash-ravi/pomegranate-app/internal/tensor"
)

type classifyOutput struct {
	SubmissionID  string             `json:"submission_id,omitempty" yaml:"submission_id,omitempty"`
	Label         string             `json:"label" yaml:"label"`
	TopClass      string             `json:"top_class" yaml:"top_class"`
	Confidence    float32            `json:"confidence" yaml:"confidence"`
	Probabilities map[string]float32 `json:"probabilities" yaml:"probabilities"`
	Record        *history.Record    `json:"record,omitempty" yaml:"record,omitempty"`
}

func newClassifyCommand(ctx *commandContext) *cobra.Command {
	var (
		location string
		dryRun   bool
		format   string
	)

	cmd := &cobra.Command{
		Use:   "classify <image>",
		Short: "Classify a photo and record it in history",
		Long: `Archive a private copy of the photo, run the classifier over it and store
the result in history. With --dry-run the photo is only classified.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := config.ExpandPath(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			var committed *history.Record
			nav := pipeline.NavigatorFunc(func(_ context.Context, rec history.Record) {
				committed = &rec
			})
			ws, err := ctx.openWorkspace(cmd, nav)
			if err != nil {
				return err
			}
			defer ws.Close()

			var (
				result *predict.Result
				view   classifyOutput
			)
			src := archive.SourceImage{URI: source, Filename: filepath.Base(source)}
			if dryRun {
				if src.Empty() {
					fmt.Fprintln(out, "Nothing selected")
					return nil
				}
				result, err = classifyOnly(cmd.Context(), ws, source)
				if err != nil {
					return err
				}
			} else {
				outcome, err := ws.orch.SubmitImage(cmd.Context(), src, location)
				if err != nil {
					return fmt.Errorf("classify %s: %w", source, err)
				}
				if outcome.State == pipeline.StateIdle || outcome.Prediction == nil {
					fmt.Fprintln(out, "Nothing selected")
					return nil
				}
				result = outcome.Prediction
				view.SubmissionID = outcome.SubmissionID
				view.Record = committed
			}

			classes := ws.engine.Classes()
			view.Label = result.Label
			view.TopClass = result.TopClass
			view.Confidence = result.Confidence
			view.Probabilities = predict.Distribution(result.Scores[result.BatchIndex], classes)

			if format != "" && format != "text" {
				return writeStructured(out, format, view)
			}
			printClassification(out, view)
			return nil
		},
	}

	cmd.Flags().StringVarP(&location, "location", "l", "", "Location stored with the record (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Classify without archiving or recording")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json or yaml")
	return cmd
}

// classifyOnly reads and scores an image without touching the archive or
// the history store.
func classifyOnly(ctx context.Context, ws *workspace, source string) (*predict.Result, error) {
	input, err := ws.codec.EncodeFile(ctx, source)
	if err != nil {
		return nil, err
	}
	raw, err := ws.engine.Predict(ctx, input)
	if err != nil {
		return nil, err
	}
	return predict.Interpret(raw, tensor.Batch, 0, ws.engine.Classes(), ws.policy)
}

func printClassification(out io.Writer, res classifyOutput) {
	fmt.Fprintf(out, "Label:      %s\n", displayLabel(res.Label))
	fmt.Fprintf(out, "Top class:  %s (%s)\n", displayLabel(res.TopClass), percent(res.Confidence))
	if res.Record != nil {
		fmt.Fprintf(out, "Recorded:   #%d at %s\n", res.Record.ID, res.Record.ImagePath)
	}

	type score struct {
		class string
		value float32
	}
	scores := make([]score, 0, len(res.Probabilities))
	for class, value := range res.Probabilities {
		scores = append(scores, score{class, value})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].value == scores[j].value {
			return scores[i].class < scores[j].class
		}
		return scores[i].value > scores[j].value
	})
	rows := make([][]string, 0, len(scores))
	for _, s := range scores {
		rows = append(rows, []string{displayLabel(s.class), percent(s.value)})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable([]string{"Class", "Score"}, rows, []columnAlignment{alignLeft, alignRight}))
	}
}

func percent(v float32) string {
	return strings.TrimSuffix(fmt.Sprintf("%.1f", v*100), ".0") + "%"
}
