// Command controller is a terminal controller for a duelo room.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LemmyAI/duelo/internal/config"
	"github.com/LemmyAI/duelo/internal/controller"
	"github.com/LemmyAI/duelo/internal/logging"
	"github.com/LemmyAI/duelo/internal/peer"
	"github.com/LemmyAI/duelo/internal/protocol"
	"github.com/LemmyAI/duelo/internal/transport"
	"github.com/LemmyAI/duelo/internal/webrtc"
)

const releaseVersion = "0.1.0"

func main() {
	cobra.CheckErr(newCmd(&config.Controller{}).Execute())
}

func newCmd(cfg *config.Controller) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "duelo-controller",
		Short:   "Join a duelo room from the terminal.",
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
	cmd.SetVersionTemplate("duelo-controller v{{.Version}}\n")
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return cmd
}

func run(ctx context.Context, cfg *config.Controller) error {
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

	var dialer transport.Dialer
	switch cfg.Transport {
	case config.TransportWS:
		dialer = transport.NewWSNetwork(cfg.TransportConfig(), cfg.HostURL, logger)
	default:
		dialer = webrtc.NewNetwork(cfg.SignalURL, cfg.TransportConfig(), logger)
	}

	updates := make(chan controller.Update, 64)
	session := controller.NewSession(dialer, cfg.Client(),
		controller.WithLogger(logger),
		controller.WithClientOptions(peer.WithClientCodec(codec)),
		controller.OnUpdate(func(u controller.Update) {
			select {
			case updates <- u:
			default:
			}
		}))
	defer func() { _ = session.Close() }()

	fmt.Println(usage)
	if cfg.Name != "" && cfg.Room != "" {
		if err := session.Join(ctx, cfg.Name, cfg.Room); err != nil {
			logger.Warn("❌ join failed", zap.Error(err))
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			report(session, u)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := execute(ctx, session, line, os.Stdout)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Println("error:", err)
			}
		}
	}
}

// report prints what changed.
func report(s *controller.Session, u controller.Update) {
	switch u.Kind {
	case controller.UpdateStatus:
		if u.Message != "" {
			fmt.Printf("[%s] %s\n", u.Status, u.Message)
		} else {
			fmt.Printf("[%s]\n", u.Status)
		}
	case controller.UpdateState:
		state := s.Store().State()
		if me, ok := s.Store().Me(); ok {
			fmt.Printf("%s | %s %.2f\n", state.GamePhase, me.Name, me.Score)
		} else {
			fmt.Println(state.GamePhase)
		}
	case controller.UpdateError:
		fmt.Println("⚠️ ", u.Message)
	case controller.UpdateKicked:
		fmt.Println("👢", u.Message)
	}
}
