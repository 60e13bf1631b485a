package main

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/angeloszaimis/frontend-gateway/config"
	"github.com/angeloszaimis/frontend-gateway/internal/healthcheck"
	"github.com/angeloszaimis/frontend-gateway/internal/httpserver"
	"github.com/angeloszaimis/frontend-gateway/pkg/logger"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		slog.Error("frontend-gateway failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	var configFile string

	return &cli.Command{
		Name:  "frontend-gateway",
		Usage: "Serve frontend health checks and proxy API traffic to the backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to a YAML config file",
				Destination: &configFile,
				Sources:     cli.EnvVars("FRONTEND_GATEWAY_CONFIG"),
			},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			return serve(ctx, configFile)
		},
		Commands: []*cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"s"},
				Usage:   "Start the HTTP server",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return serve(ctx, configFile)
				},
			},
			cmdHealthcheck(&configFile),
		},
	}
}

func serve(ctx context.Context, configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return goerr.Wrap(err, "failed to load config")
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logBackend(cfg, log)

	gw, err := newGateway(cfg, log)
	if err != nil {
		return goerr.Wrap(err, "failed to build gateway")
	}

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	workersDone := gw.start(workersCtx)
	defer func() {
		stopWorkers()
		<-workersDone
	}()

	srv, err := httpserver.New(cfg.Server.Address, setupRouter(cfg, log, gw),
		httpserver.WithShutdownTimeout(cfg.ShutdownTimeout()))
	if err != nil {
		return goerr.Wrap(err, "failed to create server")
	}

	srvErrCh := make(chan error, 1)

	go func() {
		log.Info("Frontend gateway listening",
			slog.String("address", cfg.Server.Address),
			slog.String("health_mode", cfg.Health.Mode))
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			return goerr.Wrap(err, "server failed")
		}
	}

	return nil
}

func logBackend(cfg *config.Config, log *slog.Logger) {
	fallback := cfg.UsesFallbackBackend()

	log.Info("Backend configured",
		slog.String("url", cfg.Backend.InternalURL),
		slog.Bool("fallback", fallback))

	if fallback && cfg.Server.Environment == config.EnvProd {
		log.Warn("Backend URL not set, using local default",
			slog.String("env", config.BackendURLEnv),
			slog.String("url", config.DefaultBackendURL))
	}
}

func cmdHealthcheck(configFile *string) *cli.Command {
	var timeout time.Duration

	return &cli.Command{
		Name:  "healthcheck",
		Usage: "Probe the running gateway's health endpoint and exit non-zero unless it answers 2xx",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "Probe deadline",
				Value:       healthcheck.DefaultTimeout,
				Destination: &timeout,
			},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return goerr.Wrap(err, "failed to load config")
			}

			return probeSelf(ctx, cfg.Server.Address, timeout)
		},
	}
}

// probeSelf checks the gateway listening on addr. An empty host means all
// interfaces, so the loopback address is probed instead.
func probeSelf(ctx context.Context, addr string, timeout time.Duration) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return goerr.Wrap(err, "invalid server address", goerr.V("address", addr))
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	base := &url.URL{Scheme: "http", Host: net.JoinHostPort(host, port)}
	outcome := healthcheck.NewProber(base, healthcheck.WithTimeout(timeout)).Probe(ctx)
	if !outcome.Healthy() {
		if outcome.Err != nil {
			return outcome.Err
		}
		return goerr.New("gateway is unhealthy",
			goerr.V("target", base.String()),
			goerr.V("status", outcome.StatusCode))
	}

	return nil
}
