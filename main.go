package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"driftserver/config"
	"driftserver/server"
)

// Drift entry point: loads configuration, starts the tick loop and serves
// websocket clients plus the operator API.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "drift:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		addr       string
		debug      bool
	)
	flag.StringVar(&configPath, "config", "", "optional TOML config file")
	flag.StringVar(&addr, "addr", "", "listen address, overrides BIND_ADDRESS")
	flag.BoolVar(&debug, "debug", false, "enable debug log output")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.BindAddress = addr
	}

	logger, err := server.InitLogger(cfg.LogFile, debug || cfg.Debug)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer server.SyncLogger()

	server.Log.Infow("drift authoritative server",
		"tick_rate", cfg.Limits.TickRate,
		"max_players", cfg.Limits.MaxPlayers,
		"anticheat", cfg.Limits.EnableAntiCheat,
		"bind", cfg.BindAddress)

	metrics := &server.Metrics{}
	hub := server.NewHub(logger)
	world := server.NewWorld(server.WorldOptions{
		Limits:      cfg.Limits,
		Logger:      logger,
		Metrics:     metrics,
		Broadcaster: hub,
	})
	scheduler := server.NewScheduler(world, logger)
	gateway := server.NewGateway(world, hub, scheduler.Next, logger)

	ln, err := net.Listen("tcp", cfg.BindAddress)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.BindAddress, err)
	}
	srv := &http.Server{
		Handler:           server.NewRouter(gateway, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		errCh <- scheduler.Run(ctx)
	}()
	go func() {
		server.Log.Infof("listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		server.Log.Info("received shutdown signal")
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("fatal task error", zap.Error(err))
		}
	}
	stop()

	server.Log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http shutdown", zap.Error(serr))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
