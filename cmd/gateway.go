package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/cliprelay/internal/config"
	"github.com/nextlevelbuilder/cliprelay/internal/gateway"
	"github.com/nextlevelbuilder/cliprelay/internal/gateway/methods"
	"github.com/nextlevelbuilder/cliprelay/internal/pairing"
	"github.com/nextlevelbuilder/cliprelay/internal/qr"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "gateway",
		Aliases: []string{"serve"},
		Short:   "Run the relay (default command)",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	cfg, cfgPath := mustLoadConfig()
	level := setupLogging(os.Stderr, cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := initOTelExporter(ctx, cfg)
	defer shutdownTracing()

	core, err := methods.NewCore(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	limiter := gateway.NewRateLimiter(cfg.Gateway.RateLimitRPM, cfg.Gateway.RateLimitBurst)
	if limiter.Enabled() {
		slog.Info("token guessing rate limit enabled", "rpm", cfg.Gateway.RateLimitRPM, "burst", cfg.Gateway.RateLimitBurst)
	}
	router := gateway.NewRouter(limiter)
	core.Register(router)

	server := gateway.NewServer(cfg, router)
	server.SetCensus(core.Census)
	server.Handle("GET /qr/{token}", qr.Handler(qr.NewEncoder(cfg.QR), func(value string) bool {
		tok, ok := core.Tokens.Resolve(value)
		return ok && tok.Type == pairing.MethodQR
	}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return router.Run(gctx) })
	g.Go(func() error { return limiter.Run(gctx) })
	g.Go(func() error { core.Devices.Run(gctx); return nil })
	g.Go(func() error { core.Pairs.Run(gctx); return nil })
	g.Go(func() error { core.Tokens.Run(gctx); return nil })

	watcher, err := config.NewWatcher(cfgPath, cfg)
	if err != nil {
		slog.Warn("config hot reload disabled", "error", err)
	} else {
		watcher.OnChange(func(next *config.Config) {
			cfg.ReplaceFrom(next)
			level.Set(logLevel(next.Log.Level))
			limiter.Update(next.Gateway.RateLimitRPM, next.Gateway.RateLimitBurst)
			slog.Info("config applied", "log_level", next.Log.Level, "rate_limit_rpm", next.Gateway.RateLimitRPM)
		})
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil {
				slog.Warn("config watcher stopped", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error { return server.Start(gctx) })

	slog.Info("cliprelay starting", "version", Version, "config", cfgPath)
	if err := g.Wait(); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}
