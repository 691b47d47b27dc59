// Command host runs a duelo room: it claims a room code, accepts up to two
// controllers and serves the operator API.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LemmyAI/duelo/internal/api"
	"github.com/LemmyAI/duelo/internal/config"
	"github.com/LemmyAI/duelo/internal/game"
	"github.com/LemmyAI/duelo/internal/logging"
	"github.com/LemmyAI/duelo/internal/metrics"
	"github.com/LemmyAI/duelo/internal/peer"
	"github.com/LemmyAI/duelo/internal/protocol"
	"github.com/LemmyAI/duelo/internal/random"
	"github.com/LemmyAI/duelo/internal/room"
	"github.com/LemmyAI/duelo/internal/transport"
	"github.com/LemmyAI/duelo/internal/webrtc"
)

const (
	releaseVersion = "0.1.0"
	timeout        = 10 * time.Second
)

func main() {
	cobra.CheckErr(newCmd(&config.Host{}).Execute())
}

func newCmd(cfg *config.Host) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "duelo-host",
		Short:   "Host a two-player duelo room.",
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
	cmd.SetVersionTemplate("duelo-host v{{.Version}}\n")
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return cmd
}

func run(ctx context.Context, cfg *config.Host) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	codec, err := protocol.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}
	modes, err := buildModes(cfg.Modes)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	logger.Info("🎮 duelo host starting", zap.String("version", releaseVersion), zap.String("transport", cfg.Transport))

	mgr := peer.NewManager(
		peer.WithCodec(codec),
		peer.WithKickGrace(cfg.KickGrace),
		peer.WithMetrics(m),
		peer.WithManagerLogger(logger))
	host := game.NewHost(cfg.Game(), mgr, modes,
		game.WithMetrics(m),
		game.WithLogger(logger))
	defer host.Close()
	mgr.SetHandler(host)

	var (
		network     room.Listener
		peerHandler http.Handler
	)
	switch cfg.Transport {
	case config.TransportWS:
		ws := transport.NewWSNetwork(cfg.TransportConfig(), "", logger)
		network, peerHandler = ws, ws
	default:
		network = webrtc.NewNetwork(cfg.SignalURL, cfg.TransportConfig(), logger)
	}

	claimCtx, cancel := context.WithTimeout(ctx, timeout)
	l, err := room.Claim(claimCtx, random.New(), network)
	cancel()
	if err != nil {
		logger.Error("❌ could not claim a room code", zap.Error(err))
		return err
	}
	mgr.Serve(l)
	defer func() {
		if err := mgr.Close(); err != nil {
			logger.Warn("close connections", zap.Error(err))
		}
	}()

	code := l.Addr()
	handler := api.New(host,
		api.WithRoom(code, cfg.BaseURL()),
		api.WithGatherer(reg),
		api.WithPeerHandler(peerHandler),
		api.WithLogger(logger))
	printJoinCode(code, cfg.BaseURL()+"/?room="+code)
	logger.Info("🏠 room ready", zap.String("code", code), zap.String("api", "http://"+cfg.Addr()))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		IdleTimeout:       10 * time.Minute,
		ReadHeaderTimeout: timeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("🎧 operator API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("operator api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("👋 host stopped")
	return err
}

// printJoinCode shows the room code and a scannable join link in the
// terminal.
func printJoinCode(code, link string) {
	fmt.Printf("\n  Room code: %s\n\n", code)
	q, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return
	}
	fmt.Println(q.ToSmallString(false))
	fmt.Printf("  %s\n\n", link)
}
