package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFilterIngressStripsRoutingHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Host", "acme.example.com")
	h.Set("X-Forwarded-Host", "acme.example.com")
	h.Set("X-Relay-Connector-Id", "conn_1")
	h.Set("X-Tenant-Slug", "acme")
	h.Set("Authorization", "Bearer abc")
	h.Set("Content-Type", "application/json")

	out := FilterIngress(h)
	for _, gone := range []string{"host", "x-forwarded-host", "x-relay-connector-id", "x-tenant-slug"} {
		if _, ok := out[gone]; ok {
			t.Errorf("header %q should be stripped", gone)
		}
	}
	if out["authorization"] != "Bearer abc" || out["content-type"] != "application/json" {
		t.Errorf("application headers lost: %v", out)
	}
}

func TestFilterConnectorStripsHopByHopAndCf(t *testing.T) {
	in := map[string]string{
		"Connection":        "keep-alive",
		"Transfer-Encoding": "chunked",
		"content-length":    "42",
		"accept-encoding":   "gzip",
		"cf-connecting-ip":  "1.2.3.4",
		"cf-ray":            "xyz",
		"accept":            "application/json",
		"X-Custom":          "keep",
	}
	out := FilterConnector(in)
	if len(out) != 2 {
		t.Errorf("expected 2 surviving headers, got %v", out)
	}
	if out["accept"] != "application/json" || out["x-custom"] != "keep" {
		t.Errorf("surviving headers wrong: %v", out)
	}
}

func TestResponseMapDropsContentLength(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Length", "10")
	h.Set("Content-Type", "text/plain")
	out := ResponseMap(h)
	if _, ok := out["content-length"]; ok {
		t.Error("content-length should be excluded")
	}
	if out["content-type"] != "text/plain" {
		t.Errorf("content-type lost: %v", out)
	}
}

func TestEffectiveHost(t *testing.T) {
	cases := []struct {
		host, xfh, want string
	}{
		{"acme.example.com", "", "acme.example.com"},
		{"ACME.Example.COM:8443", "", "acme.example.com"},
		{"internal:8080", "acme.example.com", "acme.example.com"},
		{"acme.example.com:443", "", "acme.example.com"},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		r.Host = tc.host
		if tc.xfh != "" {
			r.Header.Set("X-Forwarded-Host", tc.xfh)
		}
		if got := EffectiveHost(r); got != tc.want {
			t.Errorf("host=%q xfh=%q: got %q want %q", tc.host, tc.xfh, got, tc.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.9:1234"
	if got := ClientIP(r); got != "10.0.0.9" {
		t.Errorf("remote addr ip: got %q", got)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := ClientIP(r); got != "203.0.113.7" {
		t.Errorf("xff ip: got %q", got)
	}
	r.Header.Set("Cf-Connecting-Ip", "198.51.100.2")
	if got := ClientIP(r); got != "198.51.100.2" {
		t.Errorf("cf ip: got %q", got)
	}
}
