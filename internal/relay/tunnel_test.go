package relay

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/relaygate/relaygate/internal/control"
	"github.com/relaygate/relaygate/internal/proto"
	"github.com/relaygate/relaygate/internal/token"
	"github.com/relaygate/relaygate/internal/tunnel"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/connect"
}

func httpHandler(h *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/connect", h.AcceptTunnel)
	return mux
}

func TestAcceptTunnelOverWebsocket(t *testing.T) {
	codec := token.NewCodec("integration-secret")
	tok, err := codec.Issue("conn_1", "ten_1", "acme", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	reg := &fakeRegistry{sessions: map[string]*control.ConnectorSession{
		tok: {ConnectorID: "conn_1", TenantID: "ten_1", Slug: "acme"},
	}}
	h := NewHub(Config{HeartbeatInterval: time.Hour}, codec, reg)

	srv := httptest.NewServer(httpHandler(h))
	defer srv.Close()

	conn, err := tunnel.Dial(wsURL(srv), tok, 5*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read connected: %v", err)
	}
	f, err := proto.Decode(raw)
	if err != nil || f.Type != proto.TypeConnected || f.TenantSlug != "acme" {
		t.Fatalf("expected connected frame, got %+v err=%v", f, err)
	}

	// Play connector for one relayed request.
	go func() {
		raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req, err := proto.Decode(raw)
		if err != nil || req.Type != proto.TypeRequestOpen {
			return
		}
		body := base64.StdEncoding.EncodeToString([]byte("pong"))
		_ = conn.WriteFrame(proto.ResponseEnd(req.RequestID, 200, map[string]string{"content-type": "text/plain"}, body))
	}()

	waitOnline(t, h, "acme")
	resp, err := h.Dispatch(context.Background(), "acme", "GET", "/v1/ping", nil, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.Status != 200 || string(resp.Body) != "pong" {
		t.Errorf("unexpected response: %+v %s", resp, resp.Body)
	}
}

func TestAcceptTunnelRejectsBadCredentials(t *testing.T) {
	codec := token.NewCodec("integration-secret")
	h := NewHub(Config{}, codec, &fakeRegistry{rejectVerify: true})
	srv := httptest.NewServer(httpHandler(h))
	defer srv.Close()

	// No bearer at all.
	if _, err := tunnel.Dial(wsURL(srv), "", time.Second); err == nil {
		t.Error("dial without token should fail")
	}
	// Signed by the wrong secret.
	bad, _ := token.NewCodec("other-secret").Issue("conn_1", "ten_1", "acme", time.Minute)
	if _, err := tunnel.Dial(wsURL(srv), bad, time.Second); err == nil {
		t.Error("dial with bad signature should fail")
	}
	// Valid signature but revoked at the authority.
	revoked, _ := codec.Issue("conn_1", "ten_1", "acme", time.Minute)
	if _, err := tunnel.Dial(wsURL(srv), revoked, time.Second); err == nil {
		t.Error("dial with revoked session should fail")
	}
	if h.ConnectorsOnline() != 0 {
		t.Error("no tunnel should be routed")
	}
}

func waitOnline(t *testing.T, h *Hub, slug string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !h.Online(slug) {
		if time.Now().After(deadline) {
			t.Fatal("tunnel never routed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
