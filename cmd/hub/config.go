package main

import (
	"flag"
	"time"
)

// Config holds all runtime configuration derived from flags.
type Config struct {
	PublicAddr        string
	MetricsAddr       string
	BaseDomain        string
	ControlBase       string
	SigningSecret     string
	InternalSecret    string
	RequestTimeout    time.Duration
	HeartbeatInterval time.Duration
	Capacity          int
	CloseReplaced     bool
	Staleness         time.Duration
	MaxBodyBytes      int64
	RateWindow        time.Duration
	RateMax           int
	SweepInterval     time.Duration
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	Debug             bool
}

var cfg Config

// init registers flags into the global flag set. main() simply parses and uses cfg.
func init() {
	flag.StringVar(&cfg.PublicAddr, "public", ":8080", "public listener address (tenant traffic and tunnel upgrades)")
	flag.StringVar(&cfg.MetricsAddr, "metrics", ":9100", "metrics, health and dashboard listen address")
	flag.StringVar(&cfg.BaseDomain, "domain", "", "base wildcard domain (e.g. example.com) to extract tenant slugs")
	flag.StringVar(&cfg.ControlBase, "control-url", "http://127.0.0.1:3000", "control authority base url")
	flag.StringVar(&cfg.SigningSecret, "signing-secret", "", "session token HMAC secret; must match the control authority")
	flag.StringVar(&cfg.InternalSecret, "internal-secret", "", "shared secret sent to the control authority on internal calls")
	flag.DurationVar(&cfg.RequestTimeout, "request-timeout", 30*time.Second, "settlement deadline per relayed request")
	flag.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", 15*time.Second, "registry heartbeat period per tunnel")
	flag.IntVar(&cfg.Capacity, "capacity", 100, "advertised per-connector request capacity")
	flag.BoolVar(&cfg.CloseReplaced, "close-replaced", false, "actively close a superseded tunnel socket on reconnect")
	flag.DurationVar(&cfg.Staleness, "relay-staleness", 60*time.Second, "max heartbeat age for a registry-reported route to count as live")
	flag.Int64Var(&cfg.MaxBodyBytes, "max-body", 10<<20, "maximum buffered request body size in bytes")
	flag.DurationVar(&cfg.RateWindow, "rate-window", time.Minute, "fixed rate limit window length")
	flag.IntVar(&cfg.RateMax, "rate-max", 120, "requests allowed per window per (tenant, client ip)")
	flag.DurationVar(&cfg.SweepInterval, "rate-sweep-interval", 5*time.Minute, "interval for sweeping expired rate limit buckets")
	flag.StringVar(&cfg.RedisAddr, "redis", "", "redis address for shared rate limiting; empty keeps counters in memory")
	flag.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database index")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
	flag.Parse()
}
