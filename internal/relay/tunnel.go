package relay

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/relaygate/relaygate/internal/control"
	"github.com/relaygate/relaygate/internal/obs"
	"github.com/relaygate/relaygate/internal/proto"
	"github.com/relaygate/relaygate/internal/tunnel"
)

// AcceptTunnel authenticates and serves one connector tunnel. It blocks for
// the connection's lifetime, so it is mounted directly as an HTTP handler.
//
// Authentication failures destroy the socket without an HTTP error body:
// the request is an upgrade handshake and has no useful response channel.
func (h *Hub) AcceptTunnel(w http.ResponseWriter, r *http.Request) {
	bearer := bearerToken(r)
	if bearer == "" {
		obs.ErrorsTotal.WithLabelValues("tunnel_auth_missing").Inc()
		destroySocket(w)
		return
	}
	if _, err := h.codec.Verify(bearer); err != nil {
		obs.Error("tunnel.auth.token", obs.Fields{"err": err.Error(), "remote": r.RemoteAddr})
		obs.ErrorsTotal.WithLabelValues("tunnel_auth_token").Inc()
		destroySocket(w)
		return
	}
	sess, err := h.registry.VerifySession(r.Context(), bearer)
	if err != nil {
		obs.Error("tunnel.auth.session", obs.Fields{"err": err.Error(), "remote": r.RemoteAddr})
		obs.ErrorsTotal.WithLabelValues("tunnel_auth_session").Inc()
		destroySocket(w)
		return
	}

	conn, err := tunnel.Upgrade(w, r)
	if err != nil {
		// Upgrade already answered the handshake.
		obs.Error("tunnel.upgrade", obs.Fields{"err": err.Error(), "remote": r.RemoteAddr})
		return
	}
	h.serveTunnel(sess, bearer, conn)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// destroySocket tears the underlying connection down without writing a
// response. Falls back to a bare status for non-hijackable writers (tests).
func destroySocket(w http.ResponseWriter) {
	if hj, ok := w.(http.Hijacker); ok {
		if conn, _, err := hj.Hijack(); err == nil {
			_ = conn.Close()
			return
		}
	}
	w.WriteHeader(http.StatusUnauthorized)
}

// serveTunnel runs the routed lifetime of one authenticated connection:
// install route, heartbeat, announce, then pump frames until the transport
// fails. Pending requests of a dead tunnel are left to their own timeouts.
func (h *Hub) serveTunnel(sess *control.ConnectorSession, connectorToken string, conn TunnelConn) {
	rt := h.register(sess, connectorToken, conn)
	obs.Info("tunnel.routed", obs.Fields{"slug": rt.slug, "connector_id": rt.connectorID, "remote": conn.RemoteAddr()})

	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	go h.heartbeatLoop(hbCtx, rt)

	if err := conn.WriteFrame(proto.Connected(rt.connectorID, rt.slug)); err != nil {
		obs.Error("tunnel.connected_frame", obs.Fields{"err": err.Error(), "slug": rt.slug})
	}

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		f, err := proto.Decode(raw)
		if err != nil {
			obs.Debug("tunnel.frame.malformed", obs.Fields{"slug": rt.slug, "err": err.Error()})
			continue
		}
		h.handleFrame(rt, f)
	}

	stopHeartbeat()
	h.unregister(rt)
	_ = conn.Close()
	obs.Info("tunnel.closed", obs.Fields{"slug": rt.slug, "connector_id": rt.connectorID})
}

// heartbeatLoop reports liveness and load to the registry every interval H,
// starting immediately. A rejected heartbeat is fatal to the tunnel: the
// socket is closed so the registry's and the hub's views of liveness agree.
func (h *Hub) heartbeatLoop(ctx context.Context, rt *route) {
	beat := func() error {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return h.registry.Heartbeat(cctx, rt.connectorToken, control.HeartbeatReport{
			ConnectorID:    rt.connectorID,
			Status:         control.SessionOnline,
			Capacity:       rt.capacity,
			ActiveRequests: h.activeRequests(rt),
			RelayVersion:   h.cfg.RelayVersion,
			RelayCapabilities: map[string]any{
				"streaming": false,
				"frames":    []string{proto.TypeRequestOpen, proto.TypeResponseEnd, proto.TypeError, proto.TypePing, proto.TypePong},
			},
		})
	}

	fail := func(err error) {
		if ctx.Err() != nil {
			return
		}
		obs.HeartbeatFailuresTotal.Inc()
		obs.Error("tunnel.heartbeat", obs.Fields{"err": err.Error(), "slug": rt.slug, "connector_id": rt.connectorID})
		_ = rt.conn.CloseWithReason(1011, "heartbeat rejected")
	}

	if err := beat(); err != nil {
		fail(err)
		return
	}
	t := time.NewTicker(h.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := beat(); err != nil {
				fail(err)
				return
			}
		}
	}
}
