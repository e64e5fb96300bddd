// Package relay implements the hub: the routing table mapping tenant slugs
// to live tunnel connections and the correlation engine matching relayed
// requests to their terminal frames.
package relay

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"sync"
	"time"

	"github.com/relaygate/relaygate/internal/control"
	"github.com/relaygate/relaygate/internal/obs"
	"github.com/relaygate/relaygate/internal/proto"
	"github.com/relaygate/relaygate/internal/token"
)

// TunnelConn is the frame transport the hub drives. Satisfied by
// tunnel.Conn; tests substitute in-memory fakes.
type TunnelConn interface {
	ReadMessage() ([]byte, error)
	WriteFrame(*proto.Frame) error
	CloseWithReason(code int, reason string) error
	Close() error
	RemoteAddr() string
}

// Registry is the hub's view of the control authority.
type Registry interface {
	VerifySession(ctx context.Context, connectorToken string) (*control.ConnectorSession, error)
	Heartbeat(ctx context.Context, connectorToken string, report control.HeartbeatReport) error
}

// Config tunes the hub's timers and capacities.
type Config struct {
	RequestTimeout    time.Duration // T: settlement deadline per relayed request
	HeartbeatInterval time.Duration // H: registry heartbeat period per tunnel
	Capacity          int           // advertised per-connector capacity
	RelayVersion      string
	// CloseReplaced actively closes a superseded tunnel socket when a new
	// connection arrives for the same slug. Off by default: closing aborts
	// the old connection's still-in-flight requests.
	CloseReplaced bool
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = 30 * time.Second
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = 15 * time.Second
	}
	if out.Capacity <= 0 {
		out.Capacity = 100
	}
	if out.RelayVersion == "" {
		out.RelayVersion = "relaygate-0.1.0"
	}
	return out
}

// route is one slug's live tunnel binding.
type route struct {
	slug           string
	connectorID    string
	tenantID       string
	connectorToken string
	conn           TunnelConn
	capacity       int
	activeRequests int // guarded by Hub.mu
	connectedAt    time.Time
}

type settlement struct {
	frame *proto.Frame // terminal response_end or error frame
	err   error
}

// pendingRequest correlates one dispatched request with its settlement.
// Destroyed exactly once: by the terminal frame or by the timeout, whichever
// wins removal from the table.
type pendingRequest struct {
	createdAt time.Time
	timer     *time.Timer
	done      chan settlement // buffered; the settling side never blocks
}

// Response is a settled relayed request, ready to replay as HTTP.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Hub owns the routing and pending tables. All mutation happens under one
// mutex; observation and mutation of an entry are never separated by a
// suspension point.
type Hub struct {
	cfg      Config
	codec    *token.Codec
	registry Registry

	mu      sync.Mutex
	routes  map[string]*route
	pending map[string]*pendingRequest

	relayedTotal  int64
	timeoutsTotal int64
}

func NewHub(cfg Config, codec *token.Codec, registry Registry) *Hub {
	c := cfg.withDefaults()
	return &Hub{
		cfg:      c,
		codec:    codec,
		registry: registry,
		routes:   make(map[string]*route),
		pending:  make(map[string]*pendingRequest),
	}
}

func newRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "relay_" + hex.EncodeToString([]byte(time.Now().Format("150405.000000")))
	}
	return "relay_" + hex.EncodeToString(b)
}

// Online reports whether a live tunnel is routed for the slug.
func (h *Hub) Online(slug string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.routes[slug] != nil
}

// ConnectorsOnline returns the routed tunnel count for /health.
func (h *Hub) ConnectorsOnline() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.routes)
}

// Dispatch relays one ingress request over the slug's tunnel and blocks
// until a terminal frame or the timeout settles it. Headers must already be
// lowercase with routing headers stripped.
func (h *Hub) Dispatch(ctx context.Context, slug, method, path string, headers map[string]string, body []byte) (*Response, error) {
	id := newRequestID()
	p := &pendingRequest{createdAt: time.Now(), done: make(chan settlement, 1)}

	h.mu.Lock()
	rt := h.routes[slug]
	if rt == nil {
		h.mu.Unlock()
		return nil, ErrTenantOffline
	}
	h.pending[id] = p
	rt.activeRequests++
	p.timer = time.AfterFunc(h.cfg.RequestTimeout, func() {
		if h.settle(id, settlement{err: ErrRelayTimeout}) {
			h.mu.Lock()
			h.timeoutsTotal++
			h.mu.Unlock()
			obs.RelayTimeoutsTotal.Inc()
			obs.Error("relay.timeout", obs.Fields{"request_id": id, "slug": slug})
		}
	})
	h.mu.Unlock()
	obs.PendingRequests.Set(float64(h.pendingCount()))
	obs.RelayRequestsTotal.Inc()

	defer func() {
		h.mu.Lock()
		rt.activeRequests--
		h.mu.Unlock()
	}()

	bodyBase64 := ""
	if len(body) > 0 {
		bodyBase64 = base64.StdEncoding.EncodeToString(body)
	}
	frame := proto.RequestOpen(id, slug, method, path, headers, bodyBase64)

	start := time.Now()
	if err := rt.conn.WriteFrame(frame); err != nil {
		// The socket died between lookup and write; the entry is removed
		// here so the timer never fires for it.
		h.settle(id, settlement{err: ErrTenantOffline})
		<-p.done
		obs.ErrorsTotal.WithLabelValues("tunnel_write").Inc()
		return nil, ErrTenantOffline
	}

	s := <-p.done
	obs.RelayDurationSeconds.Observe(time.Since(start).Seconds())
	if s.err != nil {
		return nil, s.err
	}
	return frameToResponse(s.frame), nil
}

func frameToResponse(f *proto.Frame) *Response {
	status := f.Status
	if status == 0 {
		status = 200
	}
	var body []byte
	if f.BodyBase64 != "" {
		if decoded, err := base64.StdEncoding.DecodeString(f.BodyBase64); err == nil {
			body = decoded
		}
	}
	return &Response{Status: status, Headers: f.Headers, Body: body}
}

// settle resolves the pending request exactly once; whichever caller removes
// the table entry delivers the settlement. Returns false when the request is
// unknown or already settled.
func (h *Hub) settle(id string, s settlement) bool {
	h.mu.Lock()
	p := h.pending[id]
	if p == nil {
		h.mu.Unlock()
		return false
	}
	delete(h.pending, id)
	h.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.done <- s
	obs.PendingRequests.Set(float64(h.pendingCount()))
	return true
}

func (h *Hub) pendingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// handleFrame dispatches one inbound frame from a tunnel. Frames for unknown
// or already-settled request ids are dropped silently.
func (h *Hub) handleFrame(rt *route, f *proto.Frame) {
	switch f.Type {
	case proto.TypePong:
		// Liveness only.
	case proto.TypePing:
		_ = rt.conn.WriteFrame(proto.Pong(f.RequestID))
	case proto.TypeResponseEnd:
		if f.RequestID == "" {
			return
		}
		if h.settle(f.RequestID, settlement{frame: f}) {
			h.mu.Lock()
			h.relayedTotal++
			h.mu.Unlock()
		}
	case proto.TypeError:
		if f.RequestID == "" {
			return
		}
		h.settle(f.RequestID, settlement{err: &ConnectorError{Message: f.Message}})
	default:
		obs.Debug("tunnel.frame.ignored", obs.Fields{"type": f.Type, "slug": rt.slug})
	}
}

// register installs the tunnel as the slug's route, replacing any prior
// entry. The superseded socket is only closed when CloseReplaced is set; its
// in-flight requests settle independently either way.
func (h *Hub) register(sess *control.ConnectorSession, connectorToken string, conn TunnelConn) *route {
	rt := &route{
		slug:           sess.Slug,
		connectorID:    sess.ConnectorID,
		tenantID:       sess.TenantID,
		connectorToken: connectorToken,
		conn:           conn,
		capacity:       h.cfg.Capacity,
		connectedAt:    time.Now(),
	}
	h.mu.Lock()
	old := h.routes[sess.Slug]
	h.routes[sess.Slug] = rt
	count := len(h.routes)
	h.mu.Unlock()
	obs.ConnectorsOnline.Set(float64(count))
	if old != nil {
		obs.Warn("tunnel.replaced", obs.Fields{"slug": sess.Slug, "old_connector": old.connectorID, "new_connector": sess.ConnectorID})
		if h.cfg.CloseReplaced {
			_ = old.conn.CloseWithReason(1012, "replaced by newer connection")
		}
	}
	return rt
}

// unregister removes the route only while it still points at this exact
// connection, so a replacement's entry survives the old socket's close.
func (h *Hub) unregister(rt *route) {
	h.mu.Lock()
	if h.routes[rt.slug] == rt {
		delete(h.routes, rt.slug)
	}
	count := len(h.routes)
	h.mu.Unlock()
	obs.ConnectorsOnline.Set(float64(count))
}

func (h *Hub) activeRequests(rt *route) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return rt.activeRequests
}

// Stats is the hub's state snapshot for health, dashboards and tests.
type Stats struct {
	ConnectorsOnline int   `json:"connectors_online"`
	PendingRequests  int   `json:"pending_requests"`
	RelayedTotal     int64 `json:"relayed_total"`
	TimeoutsTotal    int64 `json:"timeouts_total"`
}

func (h *Hub) Snapshot() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		ConnectorsOnline: len(h.routes),
		PendingRequests:  len(h.pending),
		RelayedTotal:     h.relayedTotal,
		TimeoutsTotal:    h.timeoutsTotal,
	}
}
