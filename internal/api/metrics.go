package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/momcore/internal/protocol"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Session       SessionMetrics `json:"session"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket feed statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
	PendingTickets   int `json:"pending_tickets"`
}

// SessionMetrics summarises the session's replicated state.
type SessionMetrics struct {
	Role         string `json:"role"`
	Connected    bool   `json:"connected"`
	Users        int    `json:"users"`
	Online       int    `json:"online"`
	Topics       int    `json:"topics"`
	PendingTotal int    `json:"pending_total"`
}

// handleMetrics returns runtime and session statistics as JSON. The
// Prometheus exposition lives at /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}
	if s.feed != nil {
		metrics.WebSocket.ConnectedClients = s.feed.ClientCount()
	}
	metrics.WebSocket.PendingTickets = s.tickets.count()

	snap, err := s.session.Snapshot(r.Context())
	if err != nil {
		writeSessionError(w, err)
		return
	}
	metrics.Session = SessionMetrics{
		Role:      string(snap.Role),
		Connected: snap.Connected,
		Users:     len(snap.Users),
		Topics:    len(snap.Topics),
	}
	for _, u := range snap.Users {
		if u.Presence == protocol.StatusOnline {
			metrics.Session.Online++
		}
		metrics.Session.PendingTotal += u.Pending
	}

	writeJSON(w, http.StatusOK, metrics)
}
