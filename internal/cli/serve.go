package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gzhole/aidetect/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the detector over HTTP",
	Long: `Start an HTTP server exposing the detection pipeline.

Routes:
  POST /v1/detect         {"text": "...", "provider": "gemini"}
  GET  /v1/history        recent detections (?limit=N)
  GET  /v1/history/:id    one detection, by id or id prefix
  POST /v1/model/reload   retry a failed model load
  GET  /healthz           tier order and model state

If the model server is not up when aidetect starts, the model tier is
skipped until a reload succeeds.

  aidetect serve --addr 127.0.0.1:8787`,
	RunE: serveCommand,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func serveCommand(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	store, err := e.openHistory()
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}
	audit, err := e.openAudit()
	if err != nil {
		return err
	}
	if audit != nil {
		defer func() { _ = audit.Close() }()
	}

	// Fail fast on a bad provider instead of on the first request.
	if _, err := e.capability(""); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load the model up front so the first request does not pay for it. A
	// failure only means the model tier is skipped until POST /v1/model/reload.
	if e.client != nil {
		if err := e.model.Initialize(ctx); err != nil {
			e.log.Warn("model tier unavailable, reload with POST /v1/model/reload", "model", e.model.Name(), "error", err)
		}
	}

	srv := server.New(e.pipeline, server.Options{
		Capabilities: e.capability,
		History:      store,
		Audit:        audit,
		Model:        e.model,
		MaxBodyBytes: e.cfg.Server.MaxBodyBytes,
		Logger:       e.log,
	})

	addr := serveAddr
	if addr == "" {
		addr = e.cfg.Server.Addr
	}
	cmd.PrintErrf("aidetect listening on http://%s\n", addr)
	return srv.Run(ctx, addr)
}
