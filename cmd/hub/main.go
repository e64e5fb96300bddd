package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/relaygate/relaygate/internal/control"
	"github.com/relaygate/relaygate/internal/ingress"
	"github.com/relaygate/relaygate/internal/obs"
	"github.com/relaygate/relaygate/internal/ratelimit"
	"github.com/relaygate/relaygate/internal/relay"
	"github.com/relaygate/relaygate/internal/token"
)

func main() {
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	if cfg.SigningSecret == "" {
		obs.Error("hub.config", obs.Fields{"err": "signing-secret is required"})
		os.Exit(1)
	}
	if cfg.BaseDomain == "" {
		obs.Error("hub.config", obs.Fields{"err": "domain is required"})
		os.Exit(1)
	}
	obs.Info("hub.start", obs.Fields{"public": cfg.PublicAddr, "metrics": cfg.MetricsAddr, "domain": cfg.BaseDomain, "control": cfg.ControlBase})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := control.NewClient(cfg.ControlBase, cfg.InternalSecret)
	hub := relay.NewHub(relay.Config{
		RequestTimeout:    cfg.RequestTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Capacity:          cfg.Capacity,
		CloseReplaced:     cfg.CloseReplaced,
	}, token.NewCodec(cfg.SigningSecret), ctrl)

	limiter, err := ratelimit.New(ratelimit.Window{Length: cfg.RateWindow, Max: cfg.RateMax},
		cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		obs.Error("hub.ratelimit", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	go runSweepLoop(ctx, limiter, cfg.SweepInterval)

	router := ingress.NewRouter(ingress.Config{
		BaseDomain:   cfg.BaseDomain,
		Staleness:    cfg.Staleness,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}, ctrl, limiter, hub)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", ingress.HealthHandler(hub))
	mux.HandleFunc("/ws/connect", hub.AcceptTunnel)
	mux.Handle("/v1/", router)
	mux.HandleFunc("/", ingress.NotFoundHandler())

	srv := &http.Server{
		Addr:              cfg.PublicAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var ready atomic.Bool
	go startMetricsServer(cfg.MetricsAddr, hub, ready.Load)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	ready.Store(true)
	obs.Info("hub.ready", obs.Fields{"addr": cfg.PublicAddr})

	select {
	case <-ctx.Done():
		obs.Info("hub.shutdown.signal", obs.Fields{})
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.Error("hub.listen", obs.Fields{"err": err.Error(), "addr": cfg.PublicAddr})
			os.Exit(1)
		}
	}
	ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obs.Error("hub.shutdown", obs.Fields{"err": err.Error()})
	}
	obs.Info("hub.shutdown.complete", obs.Fields{})
}

// runSweepLoop periodically drops expired rate limit buckets when the
// limiter keeps them in memory. The redis backend expires keys itself.
func runSweepLoop(ctx context.Context, limiter ratelimit.Limiter, interval time.Duration) {
	sweeper, ok := limiter.(interface{ Sweep() int })
	if !ok || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if removed := sweeper.Sweep(); removed > 0 {
				obs.Debug("hub.ratelimit.sweep", obs.Fields{"removed": removed})
			}
		}
	}
}
