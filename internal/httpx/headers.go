// Package httpx holds the header hygiene shared by the hub and the
// connector: which headers never cross the tunnel, how the client IP and
// effective host are derived behind proxies.
package httpx

import (
	"net"
	"net/http"
	"strings"
)

// ingressStrip are request headers the hub never forwards into a tunnel
// frame: host-identifying headers get replaced on the connector side, and
// routing headers injected by our own infrastructure must not leak through.
var ingressStrip = map[string]struct{}{
	"host":                 {},
	"x-forwarded-host":     {},
	"x-relay-connector-id": {},
	"x-tenant-slug":        {},
}

// connectorStrip are headers the connector drops before replaying a frame
// against the local upstream: hop-by-hop headers plus anything injected by
// intermediate infrastructure.
var connectorStrip = map[string]struct{}{
	"host":              {},
	"x-forwarded-host":  {},
	"content-length":    {},
	"connection":        {},
	"keep-alive":        {},
	"proxy-connection":  {},
	"transfer-encoding": {},
	"upgrade":           {},
	"te":                {},
	"trailer":           {},
	"expect":            {},
	"accept-encoding":   {},
}

// LowerMap flattens an http.Header into a lowercase-keyed map, joining
// repeated values with commas.
func LowerMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) == 0 {
			continue
		}
		out[strings.ToLower(k)] = strings.Join(vs, ",")
	}
	return out
}

// FilterIngress returns the lowercase header map a request_open frame
// carries, with routing and host headers removed.
func FilterIngress(h http.Header) map[string]string {
	out := LowerMap(h)
	for k := range out {
		if _, drop := ingressStrip[k]; drop {
			delete(out, k)
		}
	}
	return out
}

// FilterConnector strips the hop-by-hop and infrastructure headers from a
// frame's header map before the local upstream call.
func FilterConnector(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		key := strings.ToLower(k)
		if _, drop := connectorStrip[key]; drop {
			continue
		}
		if strings.HasPrefix(key, "cf-") {
			continue
		}
		out[key] = v
	}
	return out
}

// ResponseMap converts upstream response headers for a response_end frame.
// Content-Length is excluded: the hub re-derives it from the decoded body.
func ResponseMap(h http.Header) map[string]string {
	out := LowerMap(h)
	delete(out, "content-length")
	return out
}

// EffectiveHost returns the request's routing host: x-forwarded-host when an
// edge proxy set it, otherwise the Host header, lowercased with any port
// stripped.
func EffectiveHost(r *http.Request) string {
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	host = strings.ToLower(strings.TrimSpace(host))
	if i := strings.LastIndexByte(host, ':'); i != -1 && isDigits(host[i+1:]) {
		host = host[:i]
	}
	return host
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ClientIP resolves the originating client address: edge-provided headers
// first, then the socket peer.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("Cf-Connecting-Ip"); ip != "" {
		return strings.TrimSpace(ip)
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
