package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gridmap/internal/api"
	"github.com/sells-group/gridmap/internal/config"
	"github.com/sells-group/gridmap/internal/overlay"
)

var (
	servePort   int
	servePeriod string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the overlay API and event stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(true); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		handler, cleanup, err := buildServer(ctx, cfg, servePeriod)
		if err != nil {
			return err
		}
		defer cleanup()

		return startServer(ctx, handler, resolvePort(servePort, cfg.Server.Port))
	},
}

// buildServer wires membership, datasets, detail and tiles into the HTTP
// surface. cleanup stops every session and releases the detail store.
func buildServer(ctx context.Context, c *config.Config, period string) (http.Handler, func(), error) {
	idx, err := c.Index()
	if err != nil {
		return nil, nil, err
	}
	view, err := c.Transform()
	if err != nil {
		return nil, nil, err
	}

	catalog, err := openCatalog(c)
	if err != nil {
		return nil, nil, err
	}
	if period == "" {
		period = c.Dataset.Period
	}
	period, table, _, err := loadPeriod(ctx, catalog, idx, period)
	if err != nil {
		return nil, nil, err
	}

	pending, err := startMembership(ctx, c)
	if err != nil {
		return nil, nil, err
	}

	backend, err := openDetail(ctx, c)
	if err != nil {
		return nil, nil, err
	}

	hub := overlay.NewHub(ctx, pending, table, period, view, backend.Fetcher, catalog, overlay.Options{
		Threshold:    c.Gesture.Threshold,
		Timeout:      c.Detail.Timeout(),
		DrillZoom:    c.Viewport.DrillZoom,
		OverviewZoom: c.Viewport.OverviewZoom,
	})

	opts := []api.Option{
		api.WithCatalog(catalog),
		api.WithAllowedOrigins(c.Server.AllowedOrigins),
		api.WithReadyTimeout(time.Duration(c.Server.ReadyTimeoutSecs) * time.Second),
	}
	if tiles := newTileProxy(c); tiles != nil {
		opts = append(opts, api.WithTiles(tiles))
	}
	if backend.Handler != nil {
		opts = append(opts, api.WithDetailService(backend.Handler))
	}

	cleanup := func() {
		hub.Shutdown()
		if err := backend.Close(); err != nil {
			zap.L().Warn("close detail store", zap.Error(err))
		}
	}
	return api.New(hub, opts...).Handler(), cleanup, nil
}

// resolvePort prefers the flag over the configured port.
func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

// startServer serves until ctx is cancelled, then shuts down gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}

	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&servePeriod, "period", "", "initial period (default from manifest)")
	rootCmd.AddCommand(serveCmd)
}
