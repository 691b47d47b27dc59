// Command signal runs the signaling broker that lets hosts and controllers
// find each other and negotiate WebRTC data channels.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LemmyAI/duelo/internal/config"
	"github.com/LemmyAI/duelo/internal/logging"
	"github.com/LemmyAI/duelo/internal/metrics"
	"github.com/LemmyAI/duelo/internal/signaling"
)

const releaseVersion = "0.1.0"

func main() {
	cobra.CheckErr(newCmd(&config.Signal{}).Execute())
}

func newCmd(cfg *config.Signal) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "duelo-signal",
		Short:   "Relay WebRTC signaling between duelo hosts and controllers.",
		Args:    cobra.NoArgs,
		Version: releaseVersion,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			if err := config.Bind(cmd.Flags()); err != nil {
				return err
			}
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(config.Normalize)
	cfg.AddFlags(fs)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetVersionTemplate("duelo-signal v{{.Version}}\n")
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return cmd
}

func run(ctx context.Context, cfg *config.Signal) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	broker, err := newBroker(cfg, logger)
	if err != nil {
		logger.Error("❌ broker unavailable", zap.Error(err))
		return err
	}
	server := signaling.NewServer(broker, cfg.Server(),
		signaling.WithMetrics(m),
		signaling.WithLogger(logger))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           newRouter(server, reg),
		IdleTimeout:       10 * time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("📡 signaling listening", zap.String("addr", srv.Addr), zap.Bool("redis", cfg.RedisURL != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("signaling: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Hijacked websockets are not tracked by Shutdown.
		return multierr.Combine(
			srv.Shutdown(shutdownCtx),
			server.Close(),
			broker.Close(),
		)
	})

	err = g.Wait()
	logger.Info("👋 signaling stopped")
	return err
}

func newBroker(cfg *config.Signal, logger *zap.Logger) (signaling.Broker, error) {
	if cfg.RedisURL == "" {
		return signaling.NewMemoryBroker(clock.New()), nil
	}
	return signaling.NewRedisBroker(cfg.Redis(), logger)
}

func newRouter(server http.Handler, gatherer prometheus.Gatherer) *httprouter.Router {
	mux := httprouter.New()
	mux.Handler(http.MethodGet, "/ws", server)
	mux.GET("/healthz", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Ok\n"))
	})
	mux.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
