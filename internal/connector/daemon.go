// Package connector implements the daemon that runs beside the local
// service: it requests a session, holds the outbound tunnel, and replays
// request frames against the local upstream.
package connector

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relaygate/relaygate/internal/control"
	"github.com/relaygate/relaygate/internal/httpx"
	"github.com/relaygate/relaygate/internal/obs"
	"github.com/relaygate/relaygate/internal/proto"
	"github.com/relaygate/relaygate/internal/tunnel"
)

// Config holds the daemon's identity and targets.
type Config struct {
	LicenseKey string
	DeviceID   string
	Slug       string
	// UpstreamBase is the local service the tunnel fronts.
	UpstreamBase string
	// RelayWsURL overrides the tunnel URL the issue response carries.
	RelayWsURL string
	// ReconnectDelay is the fixed wait between cycles. No backoff: the
	// relay end is expected to come back quickly and the delay is short.
	ReconnectDelay   time.Duration
	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.UpstreamBase = strings.TrimRight(out.UpstreamBase, "/")
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = 3 * time.Second
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = 60 * time.Second
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	return out
}

// Daemon cycles through session issuance, tunnel connection and the frame
// loop until its context ends.
type Daemon struct {
	cfg     Config
	control *control.Client
	local   *http.Client
}

func New(cfg Config, ctrl *control.Client) *Daemon {
	c := cfg.withDefaults()
	return &Daemon{
		cfg:     c,
		control: ctrl,
		local:   &http.Client{Timeout: c.RequestTimeout},
	}
}

// Run drives the reconnect cycle. Each cycle requests a fresh session token;
// tokens are never reused across cycles.
func (d *Daemon) Run(ctx context.Context) error {
	for {
		if err := d.runOnce(ctx); err != nil && ctx.Err() == nil {
			obs.Error("connector.cycle", obs.Fields{"slug": d.cfg.Slug, "err": err.Error()})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.cfg.ReconnectDelay):
		}
		obs.Info("connector.reconnect", obs.Fields{"slug": d.cfg.Slug})
	}
}

func (d *Daemon) runOnce(ctx context.Context) error {
	sess, connectorToken, err := d.control.IssueSession(ctx, d.cfg.LicenseKey, d.cfg.DeviceID, d.cfg.Slug)
	if err != nil {
		return fmt.Errorf("issue session: %w", err)
	}
	wsURL := d.cfg.RelayWsURL
	if wsURL == "" {
		wsURL = sess.RelayWsURL
	}
	if wsURL == "" {
		return fmt.Errorf("issue response carried no relay url")
	}

	obs.Info("connector.connecting", obs.Fields{"slug": d.cfg.Slug, "connector_id": sess.ConnectorID, "relay": wsURL})
	conn, err := tunnel.Dial(wsURL, connectorToken, d.cfg.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("tunnel dial: %w", err)
	}
	defer conn.Close()

	// Tear the socket down when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("tunnel read: %w", err)
		}
		f, err := proto.Decode(raw)
		if err != nil {
			obs.Debug("connector.frame.malformed", obs.Fields{"err": err.Error()})
			continue
		}
		switch f.Type {
		case proto.TypeConnected:
			obs.Info("connector.online", obs.Fields{"slug": f.TenantSlug, "connector_id": f.ConnectorID})
		case proto.TypePing:
			_ = conn.WriteFrame(proto.Pong(f.RequestID))
		case proto.TypeRequestOpen:
			if f.RequestID == "" {
				continue
			}
			go d.handleRequest(conn, f)
		default:
			obs.Debug("connector.frame.ignored", obs.Fields{"type": f.Type})
		}
	}
}

// handleRequest replays one frame against the local upstream and answers
// with exactly one terminal frame. A failed local call reports an error
// frame and leaves the tunnel untouched.
func (d *Daemon) handleRequest(conn *tunnel.Conn, f *proto.Frame) {
	resp, err := d.proxyLocal(f)
	if err != nil {
		obs.Error("connector.proxy", obs.Fields{"request_id": f.RequestID, "path": f.Path, "err": err.Error()})
		_ = conn.WriteFrame(proto.Error(f.RequestID, err.Error()))
		return
	}
	_ = conn.WriteFrame(resp)
}

func (d *Daemon) proxyLocal(f *proto.Frame) (*proto.Frame, error) {
	method := strings.ToUpper(f.Method)
	if method == "" {
		method = http.MethodGet
	}
	path := f.Path
	if path == "" {
		path = "/"
	}

	var body []byte
	if f.BodyBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(f.BodyBase64)
		if err != nil {
			return nil, fmt.Errorf("request body decode: %w", err)
		}
		body = decoded
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, d.cfg.UpstreamBase+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for k, v := range httpx.FilterConnector(f.Headers) {
		req.Header.Set(k, v)
	}

	obs.Debug("connector.proxy.request", obs.Fields{"method": method, "path": path})
	resp, err := d.local.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream call: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream body: %w", err)
	}

	bodyBase64 := ""
	if len(respBody) > 0 {
		bodyBase64 = base64.StdEncoding.EncodeToString(respBody)
	}
	return proto.ResponseEnd(f.RequestID, resp.StatusCode, httpx.ResponseMap(resp.Header), bodyBase64), nil
}
