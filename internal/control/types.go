package control

import "time"

// Session statuses reported by the control authority.
const (
	SessionIssued  = "issued"
	SessionOnline  = "online"
	SessionOffline = "offline"
	SessionRevoked = "revoked"
)

// ConnectorSession is one authorized tunnel binding as the control authority
// records it. The hub observes these; only the authority mutates them.
type ConnectorSession struct {
	ConnectorID       string         `json:"connectorId"`
	TenantID          string         `json:"tenantId"`
	Slug              string         `json:"endpointSlug"`
	DeviceID          string         `json:"deviceId,omitempty"`
	IssuedAt          string         `json:"issuedAt,omitempty"`
	ExpiresAt         string         `json:"expiresAt,omitempty"`
	LastSeenAt        string         `json:"lastSeenAt,omitempty"`
	Status            string         `json:"status,omitempty"`
	Capacity          int            `json:"capacity,omitempty"`
	ActiveRequests    int            `json:"activeRequests,omitempty"`
	RelayVersion      string         `json:"relayVersion,omitempty"`
	RelayCapabilities map[string]any `json:"relayCapabilities,omitempty"`
}

// TenantEndpoint is the registry's view of one tenant, read by the ingress
// router to make its dispatch decision.
type TenantEndpoint struct {
	Slug             string `json:"slug"`
	TenantID         string `json:"tenantId,omitempty"`
	Status           string `json:"status"`
	UpstreamBaseURL  string `json:"upstreamBaseUrl,omitempty"`
	RelayConnectorID string `json:"relayConnectorId,omitempty"`
	RelayStatus      string `json:"relayStatus,omitempty"`
	RelayLastSeenAt  string `json:"relayLastSeenAt,omitempty"`
}

// RelayFresh reports whether the endpoint's connector heartbeat is recent
// enough (within staleness) to consider the tunnel route authoritative.
func (e *TenantEndpoint) RelayFresh(staleness time.Duration, now time.Time) bool {
	if e.RelayStatus != SessionOnline || e.RelayLastSeenAt == "" {
		return false
	}
	seen, err := time.Parse(time.RFC3339, e.RelayLastSeenAt)
	if err != nil {
		return false
	}
	return now.Sub(seen) <= staleness
}

// HeartbeatReport is what the hub pushes to the authority on each beat.
type HeartbeatReport struct {
	ConnectorID       string         `json:"connectorId"`
	Status            string         `json:"status"`
	Capacity          int            `json:"capacity"`
	ActiveRequests    int            `json:"activeRequests"`
	RelayVersion      string         `json:"relayVersion"`
	RelayCapabilities map[string]any `json:"relayCapabilities"`
}

// IssuedSession is the daemon's view of a freshly issued session.
type IssuedSession struct {
	ConnectorID string `json:"connectorId"`
	TenantID    string `json:"tenantId"`
	Slug        string `json:"endpointSlug"`
	IssuedAt    string `json:"issuedAt"`
	ExpiresAt   string `json:"expiresAt"`
	RelayWsURL  string `json:"relayWsUrl"`
}
