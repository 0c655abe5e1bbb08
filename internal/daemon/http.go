package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/towerops/tower/internal/audit"
	"github.com/towerops/tower/internal/config"
)

// statusTailRecords is how much of the audit trail /status returns.
const statusTailRecords = 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon binds to loopback; cross-origin pages cannot reach it
	// anyway.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Status is the /status response body.
type Status struct {
	Sessions  []string       `json:"sessions"`
	StartedAt time.Time      `json:"started_at"`
	Uptime    string         `json:"uptime"`
	Recent    []audit.Record `json:"recent,omitempty"`
}

func (t *Tower) httpHandler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", t.handleHealthz)
	mux.HandleFunc("/status", t.handleStatus)
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		t.handleEvents(ctx, w, r)
	})
	return mux
}

func (t *Tower) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"uptime": time.Since(t.startedAt).Round(time.Second).String(),
	})
}

func (t *Tower) handleStatus(w http.ResponseWriter, r *http.Request) {
	recent, err := audit.Tail(config.ExpandHome(t.cfg.Daemon.AuditTrail), statusTailRecords)
	if err != nil {
		slog.Warn("reading audit trail for status", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Status{
		Sessions:  t.router.Sessions(),
		StartedAt: t.startedAt,
		Uptime:    time.Since(t.startedAt).Round(time.Second).String(),
		Recent:    recent,
	})
}

// handleEvents streams every bus event to the client as JSON frames until
// the client disconnects or the daemon shuts down.
func (t *Tower) handleEvents(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, unsub := t.events.Subscribe()
	defer unsub()

	// Drain client frames so close handshakes are noticed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		case <-clientGone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				slog.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
