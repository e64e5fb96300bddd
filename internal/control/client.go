// Package control talks to the external license/tenant-registry service: it
// issues connector sessions for the daemon, verifies them for the hub, and
// records heartbeats. Relay-side state never lives here.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrSessionRejected wraps a control-plane refusal with its reason code
// (revoked session, expired token, unknown connector).
type ErrSessionRejected struct {
	Reason string
}

func (e *ErrSessionRejected) Error() string { return "session rejected: " + e.Reason }

// TenantDirectory resolves tenant metadata by slug for the ingress router.
type TenantDirectory interface {
	Lookup(ctx context.Context, slug string) (*TenantEndpoint, error)
}

// ErrTenantUnknown is returned by directory lookups for unregistered slugs.
var ErrTenantUnknown = errors.New("unknown tenant")

// Client is the HTTP client for the control authority.
type Client struct {
	base           string
	internalSecret string
	http           *http.Client
}

func NewClient(baseURL, internalSecret string) *Client {
	return &Client{
		base:           strings.TrimRight(baseURL, "/"),
		internalSecret: internalSecret,
		http:           &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) post(ctx context.Context, path string, header http.Header, body any, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.internalSecret != "" {
		req.Header.Set("X-Relay-Secret", c.internalSecret)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("control response decode: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// IssueSession requests a fresh signed session token for the given license
// and slug. Called by the connector daemon on every reconnect cycle.
func (c *Client) IssueSession(ctx context.Context, licenseKey, deviceID, slug string) (*IssuedSession, string, error) {
	var out struct {
		OK        bool           `json:"ok"`
		Error     string         `json:"error"`
		Reason    string         `json:"reason"`
		Connector *IssuedSession `json:"connector"`
		Token     string         `json:"connectorToken"`
	}
	status, err := c.post(ctx, "/api/connectors/issue", nil, map[string]string{
		"licenseKey":   licenseKey,
		"deviceId":     deviceID,
		"endpointSlug": slug,
	}, &out)
	if err != nil {
		return nil, "", err
	}
	if status != http.StatusOK || !out.OK || out.Connector == nil || out.Token == "" {
		reason := out.Error
		if reason == "" {
			reason = out.Reason
		}
		if reason == "" {
			reason = fmt.Sprintf("issue failed (%d)", status)
		}
		return nil, "", &ErrSessionRejected{Reason: reason}
	}
	return out.Connector, out.Token, nil
}

// VerifySession asks the authority whether the token still maps to a live,
// non-revoked session. The hub calls this during the tunnel upgrade, after
// its own local signature check.
func (c *Client) VerifySession(ctx context.Context, connectorToken string) (*ConnectorSession, error) {
	var out struct {
		OK        bool              `json:"ok"`
		Reason    string            `json:"reason"`
		Error     string            `json:"error"`
		Connector *ConnectorSession `json:"connector"`
	}
	status, err := c.post(ctx, "/api/connectors/verify", nil, map[string]string{
		"connectorToken": connectorToken,
	}, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || !out.OK || out.Connector == nil {
		reason := out.Reason
		if reason == "" {
			reason = out.Error
		}
		if reason == "" {
			reason = fmt.Sprintf("verify failed (%d)", status)
		}
		return nil, &ErrSessionRejected{Reason: reason}
	}
	return out.Connector, nil
}

// Heartbeat records a connector's liveness and load. Any non-2xx answer is
// an error; the hub treats that as fatal for the tunnel so the registry and
// routing table never disagree about liveness for long.
func (c *Client) Heartbeat(ctx context.Context, connectorToken string, report HeartbeatReport) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+connectorToken)
	var out struct {
		OK     bool   `json:"ok"`
		Reason string `json:"reason"`
		Error  string `json:"error"`
	}
	status, err := c.post(ctx, "/api/connectors/heartbeat", header, report, &out)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 || !out.OK {
		reason := out.Reason
		if reason == "" {
			reason = out.Error
		}
		return fmt.Errorf("heartbeat rejected (%d): %s", status, reason)
	}
	return nil
}

// Lookup implements TenantDirectory against the registry's endpoint API.
func (c *Client) Lookup(ctx context.Context, slug string) (*TenantEndpoint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.base+"/api/endpoints/by-slug?slug="+url.QueryEscape(slug), nil)
	if err != nil {
		return nil, err
	}
	if c.internalSecret != "" {
		req.Header.Set("X-Relay-Secret", c.internalSecret)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTenantUnknown
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("endpoint lookup failed (%d)", resp.StatusCode)
	}
	var out struct {
		OK       bool            `json:"ok"`
		Endpoint *TenantEndpoint `json:"endpoint"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("endpoint lookup decode: %w", err)
	}
	if !out.OK || out.Endpoint == nil {
		return nil, ErrTenantUnknown
	}
	return out.Endpoint, nil
}
