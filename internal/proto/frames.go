// Package proto defines the JSON text frames exchanged over a tunnel
// connection. One type tag selects the shape; every frame is a single
// websocket text message.
package proto

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame type tags.
const (
	TypeConnected   = "connected"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeRequestOpen = "request_open"
	TypeResponseEnd = "response_end"
	TypeError       = "error"
)

// Frame is the wire shape shared by all frame kinds; unused fields are
// omitted per kind.
type Frame struct {
	Type        string            `json:"type"`
	ConnectorID string            `json:"connector_id,omitempty"`
	TenantSlug  string            `json:"tenant_slug,omitempty"`
	At          string            `json:"at,omitempty"`
	RequestID   string            `json:"request_id,omitempty"`
	Method      string            `json:"method,omitempty"`
	Path        string            `json:"path,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	BodyBase64  string            `json:"body_base64,omitempty"`
	Stream      bool              `json:"stream"`
	Status      int               `json:"status,omitempty"`
	Message     string            `json:"message,omitempty"`
}

// Known reports whether the type tag is one this protocol revision handles.
// Frames with unknown tags are ignored by both ends rather than treated as
// protocol errors.
func (f *Frame) Known() bool {
	switch f.Type {
	case TypeConnected, TypePing, TypePong, TypeRequestOpen, TypeResponseEnd, TypeError:
		return true
	default:
		return false
	}
}

// Decode parses one frame from raw message bytes.
func Decode(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("decode frame: missing type tag")
	}
	return &f, nil
}

// Connected is sent by the hub once a tunnel is authenticated and routed.
func Connected(connectorID, slug string) *Frame {
	return &Frame{Type: TypeConnected, ConnectorID: connectorID, TenantSlug: slug, At: time.Now().UTC().Format(time.RFC3339)}
}

// Pong answers a ping, echoing the request id when one was carried.
func Pong(requestID string) *Frame {
	return &Frame{Type: TypePong, RequestID: requestID}
}

// RequestOpen carries one public request to the connector. Path includes the
// query string; headers are lowercase-keyed with hop-by-hop and routing
// headers already stripped; the body travels base64-encoded.
func RequestOpen(requestID, slug, method, path string, headers map[string]string, bodyBase64 string) *Frame {
	return &Frame{
		Type:       TypeRequestOpen,
		RequestID:  requestID,
		TenantSlug: slug,
		Method:     method,
		Path:       path,
		Headers:    headers,
		BodyBase64: bodyBase64,
		Stream:     false,
	}
}

// ResponseEnd is the connector's terminal success frame for a request.
func ResponseEnd(requestID string, status int, headers map[string]string, bodyBase64 string) *Frame {
	return &Frame{Type: TypeResponseEnd, RequestID: requestID, Status: status, Headers: headers, BodyBase64: bodyBase64}
}

// Error is the connector's terminal failure frame for a request.
func Error(requestID, message string) *Frame {
	return &Frame{Type: TypeError, RequestID: requestID, Message: message}
}
