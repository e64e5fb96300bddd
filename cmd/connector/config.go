package main

import (
	"flag"
	"time"
)

// Config holds all runtime configuration derived from flags.
type Config struct {
	ControlBase      string
	LicenseKey       string
	DeviceID         string
	Slug             string
	UpstreamBase     string
	RelayWsURL       string
	ReconnectDelay   time.Duration
	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration
	Debug            bool
}

var cfg Config

func init() {
	flag.StringVar(&cfg.ControlBase, "control-url", "http://127.0.0.1:3000", "control authority base url")
	flag.StringVar(&cfg.LicenseKey, "license", "", "license key identifying the tenant")
	flag.StringVar(&cfg.DeviceID, "device", "", "stable device identifier for this host")
	flag.StringVar(&cfg.Slug, "slug", "", "tenant endpoint slug to serve")
	flag.StringVar(&cfg.UpstreamBase, "upstream", "http://127.0.0.1:8000", "local service base url the tunnel fronts")
	flag.StringVar(&cfg.RelayWsURL, "relay-url", "", "override the tunnel websocket url from the issue response")
	flag.DurationVar(&cfg.ReconnectDelay, "reconnect-delay", 3*time.Second, "fixed wait between reconnect cycles")
	flag.DurationVar(&cfg.RequestTimeout, "request-timeout", 60*time.Second, "time limit per replayed local request")
	flag.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", 10*time.Second, "websocket handshake time limit")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
	flag.Parse()
}
