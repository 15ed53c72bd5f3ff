package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/akash-ravi/pomegranate-app/internal/handlers"
	"github.com/akash-ravi/pomegranate-app/internal/logging"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the classifier and history over local HTTP",
		Long: `Start an HTTP server for a companion UI on this machine. The model loads
on the first classification; /health reports when it could not be loaded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// HTTP clients read the committed record from the response.
			ws, err := ctx.openWorkspace(cmd, nil)
			if err != nil {
				return err
			}
			defer ws.Close()

			addr := strings.TrimSpace(bind)
			if addr == "" {
				addr = ws.cfg.Server.Bind
			}

			h := handlers.NewHandler(handlers.Deps{
				Encoder:   ws.codec,
				Predictor: ws.engine,
				Policy:    ws.policy,
				Submitter: ws.orch,
				History:   ws.store,
				FS:        ws.fs,
				InboxDir:  ws.cfg.InboxDir(),
				Logger:    ws.logger.With(logging.FieldComponent, "http"),
			})
			return handlers.Serve(cmd.Context(), addr, h.Routes(ws.cfg.Server.AllowedOrigins), ws.logger)
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (default from config)")
	return cmd
}
