package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/connectors/issue" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["licenseKey"] != "lic-1" || body["deviceId"] != "dev-1" || body["endpointSlug"] != "acme" {
			t.Errorf("unexpected issue body: %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"connector": map[string]any{
				"connectorId":  "conn_1",
				"tenantId":     "ten_1",
				"endpointSlug": "acme",
				"relayWsUrl":   "ws://relay.local/ws/connect",
			},
			"connectorToken": "rct.x.y",
		})
	}))
	defer srv.Close()

	sess, tok, err := NewClient(srv.URL, "").IssueSession(context.Background(), "lic-1", "dev-1", "acme")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if sess.ConnectorID != "conn_1" || sess.RelayWsURL != "ws://relay.local/ws/connect" || tok != "rct.x.y" {
		t.Errorf("unexpected session: %+v token=%q", sess, tok)
	}
}

func TestVerifySessionRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Relay-Secret"); got != "hush" {
			t.Errorf("missing internal secret header, got %q", got)
		}
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "reason": "connector_session_not_found"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "hush").VerifySession(context.Background(), "rct.bad.token")
	var rejected *ErrSessionRejected
	if !errors.As(err, &rejected) {
		t.Fatalf("expected ErrSessionRejected, got %v", err)
	}
	if rejected.Reason != "connector_session_not_found" {
		t.Errorf("unexpected reason %q", rejected.Reason)
	}
}

func TestHeartbeat(t *testing.T) {
	var gotAuth string
	var gotReport HeartbeatReport
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReport)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "").Heartbeat(context.Background(), "tok-1", HeartbeatReport{
		ConnectorID:    "conn_1",
		Status:         SessionOnline,
		Capacity:       100,
		ActiveRequests: 3,
		RelayVersion:   "relay-0.1.0",
	})
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("bearer not sent, got %q", gotAuth)
	}
	if gotReport.ConnectorID != "conn_1" || gotReport.ActiveRequests != 3 {
		t.Errorf("unexpected report: %+v", gotReport)
	}
}

func TestHeartbeatRejectedIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "reason": "invalid_connector_token"})
	}))
	defer srv.Close()
	if err := NewClient(srv.URL, "").Heartbeat(context.Background(), "tok", HeartbeatReport{}); err == nil {
		t.Fatal("expected error for rejected heartbeat")
	}
}

func TestLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("slug") {
		case "acme":
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "endpoint": map[string]any{
				"slug":            "acme",
				"status":          "active",
				"relayStatus":     "online",
				"relayLastSeenAt": time.Now().UTC().Format(time.RFC3339),
			}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	ep, err := c.Lookup(context.Background(), "acme")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ep.Slug != "acme" || !ep.RelayFresh(time.Minute, time.Now()) {
		t.Errorf("unexpected endpoint: %+v", ep)
	}
	if _, err := c.Lookup(context.Background(), "ghost"); !errors.Is(err, ErrTenantUnknown) {
		t.Errorf("expected ErrTenantUnknown, got %v", err)
	}
}

func TestRelayFreshStale(t *testing.T) {
	now := time.Now()
	ep := &TenantEndpoint{RelayStatus: SessionOnline, RelayLastSeenAt: now.Add(-2 * time.Minute).UTC().Format(time.RFC3339)}
	if ep.RelayFresh(time.Minute, now) {
		t.Error("stale heartbeat should not be fresh")
	}
	ep.RelayStatus = SessionOffline
	ep.RelayLastSeenAt = now.UTC().Format(time.RFC3339)
	if ep.RelayFresh(time.Minute, now) {
		t.Error("offline relay should not be fresh")
	}
}
