// gameclient connects to a game server, completes the welcome and UDP test
// handshake and drives the main-thread frame loop.
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

	"github.com/lcx/gameclient/config"
	"github.com/lcx/gameclient/log"
	"github.com/lcx/gameclient/metrics"
	gnet "github.com/lcx/gameclient/net"
	"github.com/lcx/gameclient/tracing"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

type options struct {
	configDir   string
	env         string
	username    string
	fps         int
	metricsAddr string
	attempts    int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "gameclient",
		Short:         "Game client transport: TCP/UDP session with a main-thread frame loop",
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err := run(ctx, opts)
			if err != nil {
				log.Error().Err(err).Msg("gameclient stopped")
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configDir, "config", "c", "configs", "directory holding client.yaml, logger.yaml and tracing.yaml")
	f.StringVar(&opts.env, "env", "", "configuration environment; loads <name>.<env>.yaml when set")
	f.StringVarP(&opts.username, "username", "u", "player", "name sent in the welcome acknowledgement")
	f.IntVar(&opts.fps, "fps", 60, "frame loop rate; queued tasks run once per frame")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. :9100")
	f.IntVar(&opts.attempts, "retry", 5, "connect attempts before giving up")
	return cmd
}

func (o *options) validate() error {
	if o.fps <= 0 {
		return fmt.Errorf("fps must be positive, got %d", o.fps)
	}
	if o.attempts <= 0 {
		return fmt.Errorf("retry must be positive, got %d", o.attempts)
	}
	return nil
}

func (o *options) frameInterval() time.Duration {
	return time.Second / time.Duration(o.fps)
}

func run(ctx context.Context, opts *options) error {
	cm := config.GetInstance()
	cm.SetBasePath(opts.configDir)
	cm.SetEnvironment(opts.env)
	defer config.ResetInstance()

	if err := log.InitializeWithConfigManager(cm); err != nil {
		log.Warn().Err(err).Msg("logger config not loaded, using console defaults")
	}
	defer log.Default().Close()

	if err := tracing.InitTracing(cm); err != nil {
		return err
	}

	client, err := gnet.NewClientWithConfigManager(cm)
	if err != nil {
		log.Warn().Err(err).Msg("client config not loaded, using defaults")
		if client, err = gnet.NewClient(nil); err != nil {
			return err
		}
	}
	if err := gnet.RegisterDefaultHandlers(client, opts.username); err != nil {
		return err
	}

	disconnected := make(chan error, 1)
	client.OnStateChange(func(ev gnet.StateEvent) {
		log.Info().Str("from", ev.From.String()).Str("to", ev.To.String()).Err(ev.Err).Msg("connection state changed")
		if ev.To == gnet.StateDisconnected && ev.From != gnet.StateConnecting {
			select {
			case disconnected <- ev.Err:
			default:
			}
		}
	})

	g, ctx := errgroup.WithContext(ctx)
	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           metricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", opts.metricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer client.Disconnect()
		if err := client.ConnectWithRetry(ctx, opts.attempts); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		log.Info().Str("session", client.SessionID()).Msg("connected")
		return frameLoop(ctx, client, opts.frameInterval(), disconnected)
	})

	return g.Wait()
}

// frameLoop runs queued tasks once per frame until ctx ends or the server
// drops the session.
func frameLoop(ctx context.Context, client *gnet.Client, interval time.Duration, disconnected <-chan error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			client.Update()
			return nil
		case <-ticker.C:
			client.Update()
		}

		select {
		case cause := <-disconnected:
			if cause == nil {
				return errors.New("disconnected from server")
			}
			return fmt.Errorf("disconnected from server: %w", cause)
		default:
		}
	}
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Gatherer(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	return mux
}
