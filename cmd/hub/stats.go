package main

import (
	"time"

	"github.com/relaygate/relaygate/internal/relay"
)

// Stats represents current hub stats for dashboards & API.
type Stats struct {
	Connectors int    `json:"connectors_online"`
	Pending    int    `json:"pending_requests"`
	Relayed    int64  `json:"relayed_total"`
	Timeouts   int64  `json:"timeouts_total"`
	Now        string `json:"now"`
}

func collectStats(h *relay.Hub) Stats {
	s := h.Snapshot()
	return Stats{
		Connectors: s.ConnectorsOnline,
		Pending:    s.PendingRequests,
		Relayed:    s.RelayedTotal,
		Timeouts:   s.TimeoutsTotal,
		Now:        time.Now().UTC().Format(time.RFC3339),
	}
}

// ToTemplateMap returns a map suited for html/template rendering.
func (s Stats) ToTemplateMap() map[string]any {
	return map[string]any{
		"Connectors": s.Connectors,
		"Pending":    s.Pending,
		"Relayed":    s.Relayed,
		"Timeouts":   s.Timeouts,
	}
}
