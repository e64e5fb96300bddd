package relay

import "errors"

var (
	// ErrTenantOffline means no live tunnel is routed for the slug.
	ErrTenantOffline = errors.New("tenant offline")
	// ErrRelayTimeout means no terminal frame arrived within the request timeout.
	ErrRelayTimeout = errors.New("relay timeout")
)

// ConnectorError carries the message of an explicit error frame sent by the
// connector for one request.
type ConnectorError struct {
	Message string
}

func (e *ConnectorError) Error() string { return "connector error: " + e.Message }
