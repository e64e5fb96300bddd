// Package ingress terminates public tenant traffic: it resolves the tenant
// from the Host header, applies per-tenant rate limiting, and dispatches
// either across the relay hub's tunnel or straight to a configured upstream.
package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/relaygate/relaygate/internal/control"
	"github.com/relaygate/relaygate/internal/httpx"
	"github.com/relaygate/relaygate/internal/obs"
	"github.com/relaygate/relaygate/internal/ratelimit"
	"github.com/relaygate/relaygate/internal/relay"
)

// Dispatcher is the slice of the relay hub the router drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, slug, method, path string, headers map[string]string, body []byte) (*relay.Response, error)
	Online(slug string) bool
}

// Config tunes the router.
type Config struct {
	BaseDomain string
	// Staleness bounds how old a registry-reported heartbeat may be for the
	// relay route to still be considered authoritative.
	Staleness time.Duration
	// MaxBodyBytes caps buffered request bodies; the tunnel protocol does
	// not stream.
	MaxBodyBytes int64
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Staleness <= 0 {
		out.Staleness = 60 * time.Second
	}
	if out.MaxBodyBytes <= 0 {
		out.MaxBodyBytes = 10 << 20
	}
	return out
}

// Router handles all public /v1/* traffic for tenant subdomains.
type Router struct {
	cfg       Config
	directory control.TenantDirectory
	limiter   ratelimit.Limiter
	hub       Dispatcher
	upstream  *http.Client
	now       func() time.Time
}

func NewRouter(cfg Config, directory control.TenantDirectory, limiter ratelimit.Limiter, hub Dispatcher) *Router {
	c := cfg.withDefaults()
	return &Router{
		cfg:       c,
		directory: directory,
		limiter:   limiter,
		hub:       hub,
		upstream:  &http.Client{Timeout: 60 * time.Second},
		now:       time.Now,
	}
}

// SlugFromHost extracts the tenant label: the host must be exactly one
// subdomain label beneath the base domain. The bare base domain and its www
// form resolve to no tenant.
func SlugFromHost(host, baseDomain string) string {
	if host == "" || baseDomain == "" {
		return ""
	}
	if host == baseDomain || host == "www."+baseDomain {
		return ""
	}
	suffix := "." + baseDomain
	if !strings.HasSuffix(host, suffix) {
		return ""
	}
	sub := strings.TrimSuffix(host, suffix)
	if sub == "" || strings.Contains(sub, ".") {
		return ""
	}
	return sub
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host := httpx.EffectiveHost(r)
	slug := SlugFromHost(host, rt.cfg.BaseDomain)
	if slug == "" {
		obs.ErrorsTotal.WithLabelValues("tenant_host").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "tenant_host_required"})
		return
	}

	ep, err := rt.directory.Lookup(r.Context(), slug)
	if err != nil && !errors.Is(err, control.ErrTenantUnknown) {
		obs.Error("ingress.lookup", obs.Fields{"slug": slug, "err": err.Error()})
		obs.ErrorsTotal.WithLabelValues("tenant_lookup").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "tenant_lookup_failed"})
		return
	}
	if ep == nil || errors.Is(err, control.ErrTenantUnknown) || ep.Status != "active" {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "unknown_or_inactive_tenant"})
		return
	}

	rate, err := rt.limiter.Allow(r.Context(), slug+":"+httpx.ClientIP(r))
	if err != nil {
		// A broken limiter backend fails open; counting resumes when it
		// recovers.
		obs.Error("ingress.ratelimit", obs.Fields{"slug": slug, "err": err.Error()})
		rate = ratelimit.Result{Allowed: true}
	}
	if rate.Limit > 0 {
		w.Header().Set("X-Ratelimit-Limit", strconv.Itoa(rate.Limit))
		w.Header().Set("X-Ratelimit-Remaining", strconv.Itoa(rate.Remaining))
	}
	if !rate.Allowed {
		obs.RateLimitedTotal.Inc()
		w.Header().Set("Retry-After", strconv.Itoa(int(rate.RetryAfter.Seconds())))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"ok": false, "error": "rate_limit_exceeded"})
		return
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, rt.cfg.MaxBodyBytes+1))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "body_read_failed"})
			return
		}
		if int64(len(body)) > rt.cfg.MaxBodyBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"ok": false, "error": "body_too_large"})
			return
		}
	}

	if rt.useRelay(ep, slug) {
		rt.relayDispatch(w, r, slug, body)
		return
	}
	rt.directProxy(w, r, ep, body)
}

// useRelay decides the operating mode for this request: tunnel-mediated
// whenever a live or freshly heartbeating connector exists, or when the
// tenant has no direct upstream configured at all.
func (rt *Router) useRelay(ep *control.TenantEndpoint, slug string) bool {
	if ep.UpstreamBaseURL == "" {
		return true
	}
	if rt.hub.Online(slug) {
		return true
	}
	return ep.RelayFresh(rt.cfg.Staleness, rt.now())
}

func (rt *Router) relayDispatch(w http.ResponseWriter, r *http.Request, slug string, body []byte) {
	headers := httpx.FilterIngress(r.Header)
	resp, err := rt.hub.Dispatch(r.Context(), slug, strings.ToUpper(r.Method), r.URL.RequestURI(), headers, body)
	if err != nil {
		var cerr *relay.ConnectorError
		switch {
		case errors.Is(err, relay.ErrTenantOffline):
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "tenant_offline"})
		case errors.Is(err, relay.ErrRelayTimeout):
			writeJSON(w, http.StatusGatewayTimeout, map[string]any{"ok": false, "error": "relay_timeout"})
		case errors.As(err, &cerr):
			writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "error": "relay_upstream_failed", "detail": cerr.Message})
		default:
			obs.Error("ingress.relay", obs.Fields{"slug": slug, "err": err.Error()})
			writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "error": "relay_upstream_failed"})
		}
		return
	}

	for k, v := range resp.Headers {
		if strings.EqualFold(k, "content-length") {
			continue
		}
		w.Header().Set(k, v)
	}
	w.Header().Set("X-Relaygate-Relay", "v1")
	w.Header().Set("X-Relaygate-Tenant", slug)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// directProxy forwards straight to the tenant's configured upstream when no
// tunnel is required. Non-streaming, mirroring the relay path.
func (rt *Router) directProxy(w http.ResponseWriter, r *http.Request, ep *control.TenantEndpoint, body []byte) {
	target := strings.TrimRight(ep.UpstreamBaseURL, "/") + r.URL.RequestURI()
	req, err := http.NewRequestWithContext(r.Context(), strings.ToUpper(r.Method), target, bytes.NewReader(body))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "error": "upstream_request_failed"})
		return
	}
	for k, v := range httpx.FilterIngress(r.Header) {
		if k == "content-length" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := rt.upstream.Do(req)
	if err != nil {
		obs.Error("ingress.upstream", obs.Fields{"slug": ep.Slug, "err": err.Error()})
		obs.ErrorsTotal.WithLabelValues("direct_upstream").Inc()
		writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "error": "upstream_unreachable"})
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Relaygate-Proxy", "v1")
	w.Header().Set("X-Relaygate-Tenant", ep.Slug)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// HealthHandler answers the public health probe with the hub's live tunnel
// count.
func HealthHandler(hub interface{ ConnectorsOnline() int }) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":               true,
			"service":          "relaygate-hub",
			"at":               time.Now().UTC().Format(time.RFC3339),
			"connectorsOnline": hub.ConnectorsOnline(),
		})
	}
}

// NotFoundHandler answers non-tenant paths outside /v1 and /health.
func NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "not_found"})
	}
}

