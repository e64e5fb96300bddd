package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaygate/relaygate/internal/connector"
	"github.com/relaygate/relaygate/internal/control"
	"github.com/relaygate/relaygate/internal/obs"
)

func main() {
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	if cfg.LicenseKey == "" || cfg.DeviceID == "" || cfg.Slug == "" {
		obs.Error("connector.config", obs.Fields{"err": "license, device and slug are required"})
		os.Exit(1)
	}
	obs.Info("connector.start", obs.Fields{"slug": cfg.Slug, "upstream": cfg.UpstreamBase, "control": cfg.ControlBase})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := connector.New(connector.Config{
		LicenseKey:       cfg.LicenseKey,
		DeviceID:         cfg.DeviceID,
		Slug:             cfg.Slug,
		UpstreamBase:     cfg.UpstreamBase,
		RelayWsURL:       cfg.RelayWsURL,
		ReconnectDelay:   cfg.ReconnectDelay,
		RequestTimeout:   cfg.RequestTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}, control.NewClient(cfg.ControlBase, ""))

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		obs.Error("connector.exit", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	obs.Info("connector.shutdown.complete", obs.Fields{})
}
