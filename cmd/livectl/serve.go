package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/naveego/live-go/client"
	"github.com/naveego/live-go/middleware"
	"github.com/naveego/live-go/registry"
	"github.com/naveego/live-go/transport"
)

var (
	metricsAddr string
	weight      int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the Echo service until interrupted",
	Long: `serve connects to the relay and answers Echo.Say and Echo.Time requests.
When registry endpoints are configured the connection id is announced under
the service name "Echo" so that other peers can discover it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, err := connect(ctx, client.WithMiddleware(handlerMiddleware()...))
		if err != nil {
			return err
		}
		defer c.Disconnect()

		if err := c.RegisterService(&Echo{peer: c.ID()}); err != nil {
			return err
		}

		lost := make(chan any, 1)
		_ = c.On(transport.EventDisconnect, func(reason any) {
			select {
			case lost <- reason:
			default:
			}
		})

		if metricsAddr != "" {
			srv := serveMetrics(metricsAddr)
			defer shutdownMetrics(srv)
		}

		if len(cfg.Registry.Endpoints) > 0 {
			reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout.Std(), logger)
			if err != nil {
				return err
			}
			defer reg.Close()
			if err := c.Announce(ctx, reg, "Echo", weight, cfg.Registry.TTL.Std()); err != nil {
				return err
			}
			defer func() {
				wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := c.Withdraw(wctx, reg, "Echo"); err != nil {
					logger.Warn("withdraw failed", zap.Error(err))
				}
			}()
			pterm.Info.Printfln("announced Echo at %s", strings.Join(cfg.Registry.Endpoints, ","))
		}

		pterm.Info.Printfln("serving Echo as %s, Ctrl+C to stop", c.ID())
		select {
		case <-ctx.Done():
			pterm.Info.Println("shutting down")
			return nil
		case reason := <-lost:
			return errors.New("relay connection lost: " + toString(reason))
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address, e.g. :9100")
	serveCmd.Flags().IntVar(&weight, "weight", 1, "load-balancing weight announced to the registry")
}

// handlerMiddleware builds the inbound chain from config, outermost first.
func handlerMiddleware() []middleware.Middleware {
	mws := []middleware.Middleware{
		middleware.Logging(logger),
		middleware.Metrics(),
	}
	if cfg.Handler.Rate > 0 {
		mws = append(mws, middleware.RateLimit(cfg.Handler.Rate, cfg.Handler.Burst))
	}
	if cfg.Handler.Timeout > 0 {
		mws = append(mws, middleware.Timeout(cfg.Handler.Timeout.Std()))
	}
	return mws
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	pterm.Info.Printfln("metrics on http://%s/metrics", addr)
	return srv
}

func shutdownMetrics(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown reason"
}
