package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/seance/internal/autoproxy"
	"github.com/nextlevelbuilder/seance/internal/bus"
	"github.com/nextlevelbuilder/seance/internal/channels"
	"github.com/nextlevelbuilder/seance/internal/channels/discord"
	"github.com/nextlevelbuilder/seance/internal/channels/telegram"
	"github.com/nextlevelbuilder/seance/internal/config"
	"github.com/nextlevelbuilder/seance/internal/dispatch"
	"github.com/nextlevelbuilder/seance/internal/telemetry"
)

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

func runSeance() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		slog.Error("seance stopped with error", "error", err)
		os.Exit(1)
	}
}

// serve wires every component and blocks until ctx is cancelled or a
// component fails.
func serve(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Telemetry, Version)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(reg)

	msgBus := bus.New()
	channelMgr := channels.NewManager(msgBus)
	if err := registerChannels(cfg, msgBus, channelMgr); err != nil {
		return err
	}

	peer, err := autoproxy.CompilePeerPattern(cfg.Autoproxy.PeerPattern)
	if err != nil {
		return err
	}
	broadcaster := dispatch.NewBroadcaster(msgBus)
	engine, err := autoproxy.New(autoproxy.Options{
		PeerPattern:  peer,
		Scope:        cfg.Granularity(),
		Timeout:      cfg.Autoproxy.Timeout.Std(),
		StartEnabled: cfg.Autoproxy.StartEnabled,
		Notifier:     broadcaster,
		Observer:     metrics,
	})
	if err != nil {
		return err
	}
	globalSync := dispatch.NewGlobalSync(channelMgr, metrics)
	msgBus.Subscribe("autoproxy-global", globalSync.Handle)

	dispatcher := dispatch.New(dispatch.Options{
		Engine:        engine,
		Router:        msgBus,
		Identities:    channelMgr,
		CommandPrefix: cfg.Autoproxy.CommandPrefix,
		ProxyPrefix:   cfg.Autoproxy.ProxyPrefix,
		Metrics:       metrics,
	})

	if err := channelMgr.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		channelMgr.StopAll(stopCtx)
	}()

	// Initial presence reflects the start mode before any message arrives.
	broadcaster.Publish(engine.GlobalState())

	slog.Info("seance starting",
		"version", Version,
		"scope", engine.Granularity(),
		"timeout", cfg.Autoproxy.Timeout.Std(),
		"start_enabled", cfg.Autoproxy.StartEnabled,
		"channels", channelMgr.GetEnabledChannels(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return globalSync.Run(gctx) })
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Addr, reg, channelMgr) })
	}

	err = g.Wait()
	slog.Info("graceful shutdown initiated")
	return err
}

func registerChannels(cfg *config.Config, msgBus *bus.MessageBus, mgr *channels.Manager) error {
	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(cfg.Channels.Discord, msgBus)
		if err != nil {
			return err
		}
		mgr.RegisterChannel(ch.Name(), ch)
	}
	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(cfg.Channels.Telegram, msgBus)
		if err != nil {
			return err
		}
		mgr.RegisterChannel(ch.Name(), ch)
	}
	return nil
}

// channelStatuser reports per-channel health; *channels.Manager implements it.
type channelStatuser interface {
	GetStatus() map[string]channels.ChannelStatus
}

// serveMetrics exposes reg on /metrics and channel health on /healthz
// until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, chans channelStatuser) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", healthHandler(chans))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// healthHandler answers 200 while at least one channel is running and
// 503 otherwise, with the per-channel status as JSON.
func healthHandler(chans channelStatuser) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := chans.GetStatus()
		code := http.StatusServiceUnavailable
		for _, st := range status {
			if st.Running {
				code = http.StatusOK
				break
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":       code == http.StatusOK,
			"channels": status,
		})
	})
}
