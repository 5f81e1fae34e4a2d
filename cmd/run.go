package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quizsnap/internal/api"
	"quizsnap/internal/config"
	"quizsnap/internal/logger"
	"quizsnap/internal/pipeline"
	"quizsnap/internal/sheets"
	"quizsnap/internal/watcher"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the capture folder and answer new screenshots",
	Long: `Watch CAPTURE_DIR for new *.png screenshots and run every one through
OCR, the duplicate gates and the AI model. Results are stored in OUTPUT_DIR.

Markers left behind by an interrupted run are cleared on startup so that the
affected captures are picked up again.

With --serve the HTTP API is started as well. When GOOGLE_SHEET_URL is set,
every answered question is appended to the sheet.`,
	Example: `  # Watch the default Captures folder
  quizsnap run

  # Watch and serve the HTTP API on port 9000
  HTTP_ADDR=:9000 quizsnap run --serve

  # Start paused; nothing is answered until re-enabled over the API
  quizsnap run --serve --auto-answer=false`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		serve, _ := cmd.Flags().GetBool("serve")
		return runService(cmd, serviceOptions{watch: true, serve: serve})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API without watching the capture folder",
	Long: `Start the pipeline behind the HTTP API only. Captures arrive through
POST /api/captures and results are streamed on GET /api/stream.`,
	Example: `  quizsnap serve
  HTTP_API_KEY=secret quizsnap serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(cmd, serviceOptions{serve: true})
	},
}

type serviceOptions struct {
	watch bool
	serve bool
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)

	runCmd.Flags().Bool("serve", false, "Also serve the HTTP API")
	for _, c := range []*cobra.Command{runCmd, serveCmd} {
		c.Flags().Bool("auto-answer", true, "Answer captures as they arrive")
		c.Flags().String("addr", "", "HTTP listen address (default: HTTP_ADDR)")
	}
}

func runService(cmd *cobra.Command, opts serviceOptions) error {
	log := logger.WithComponent(cmd.Name())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("auto-answer") {
		cfg.AutoAnswer, _ = cmd.Flags().GetBool("auto-answer")
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTPAddr = addr
	}

	ctx, cancel := createContextWithTimeout(0, log)
	defer cancel()

	// The watcher is created after the pipeline, which reports outcomes to it.
	var w *watcher.Watcher
	observer := func(path string, outcome pipeline.Outcome) {
		if w != nil {
			w.Release(path)
		}
	}

	a, err := newApp(ctx, cfg, observer)
	if err != nil {
		return err
	}
	defer a.Close()
	p := a.pipeline

	if n, err := p.Recover(); err != nil {
		log.Warn().Err(err).Msg("Failed to clear stale processing markers")
	} else if n > 0 {
		log.Info().Int("markers", n).Msg("Cleared stale processing markers")
	}

	if opts.watch {
		w = watcher.New(cfg.CaptureDir, cfg.WatchInterval, p, a.store)
	}

	g, gctx := errgroup.WithContext(ctx)

	if exporter, err := newSheetsExporter(gctx, cfg, log); err != nil {
		return err
	} else if exporter != nil {
		unsubscribe := p.Bus().Subscribe(exporter.Subscriber)
		defer unsubscribe()
		g.Go(func() error {
			exporter.Run(gctx)
			return nil
		})
	}

	p.Start(gctx)

	if w != nil {
		g.Go(func() error { return w.Run(gctx) })
	}
	if opts.serve {
		srv := api.NewServer(cfg.APIConfig(), p, a.store, p.Bus())
		g.Go(func() error { return srv.Run(gctx) })
	}

	log.Info().
		Str("captures", cfg.CaptureDir).
		Str("output", cfg.OutputDir).
		Bool("auto_answer", p.AutoAnswer()).
		Bool("watch", opts.watch).
		Bool("serve", opts.serve).
		Msg("quizsnap running, press Ctrl+C to stop")

	err = g.Wait()
	cancel()
	p.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("Stopped")
	return nil
}

// newSheetsExporter returns nil when no sheet is configured.
func newSheetsExporter(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*sheets.Exporter, error) {
	sheetsCfg := cfg.SheetsConfig()
	if !sheetsCfg.Enabled() {
		return nil, nil
	}
	svc, err := sheets.NewSheetsService(ctx, sheetsCfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create Google Sheets client")
		return nil, fmt.Errorf("failed to connect to Google Sheets: %w", err)
	}
	log.Info().Str("worksheet", sheetsCfg.Worksheet).Msg("Exporting answers to Google Sheets")
	return sheets.NewExporter(svc), nil
}
