package sse

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/stackgobrr/actions-dashboard-sub000/internal"
)

// GatewayConfig holds per-session knobs. MaxSessionAge defaults below common
// edge idle limits so the gateway ends sessions before a proxy does; clients
// reconnect on their own.
type GatewayConfig struct {
	HeartbeatInterval time.Duration
	MaxSessionAge     time.Duration
	AllowedOrigin     string
}

// Gateway streams broadcast events to dashboard clients over Server-Sent
// Events, one subscription per open connection, filtered by installation id.
type Gateway struct {
	broadcaster *internal.Broadcaster
	cfg         GatewayConfig
	logger      *log.Logger
}

func NewGateway(broadcaster *internal.Broadcaster, cfg GatewayConfig, logger *log.Logger) *Gateway {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.MaxSessionAge <= 0 {
		cfg.MaxSessionAge = 29 * time.Minute
	}
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = "*"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{broadcaster: broadcaster, cfg: cfg, logger: logger}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	installationID := r.URL.Query().Get("installation_id")
	if installationID == "" {
		http.Error(w, "missing installation_id", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", g.cfg.AllowedOrigin)
	w.WriteHeader(http.StatusOK)

	g.serveSession(w, r, flusher, installationID)
}

func (g *Gateway) serveSession(w http.ResponseWriter, r *http.Request, flusher http.Flusher, installationID string) {
	internal.AddSSESession(1)
	g.logger.Printf("session open installation=%s remote=%s", installationID, r.RemoteAddr)

	// Broadcast callbacks run on the webhook goroutine; hand events to the
	// session loop over a channel so only this goroutine touches the writer.
	// A full buffer drops the event rather than stalling the broadcaster.
	events := make(chan internal.Event, 16)
	unsubscribe := g.broadcaster.Subscribe(installationID, func(event internal.Event) {
		select {
		case events <- event:
		default:
			g.logger.Printf("session backlog full installation=%s, dropping event", installationID)
		}
	})

	heartbeat := time.NewTicker(g.cfg.HeartbeatInterval)
	lifetime := time.NewTimer(g.cfg.MaxSessionAge)

	// The context can fire close to the lifetime timer; the Once keeps the
	// teardown from running twice.
	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			heartbeat.Stop()
			lifetime.Stop()
			unsubscribe()
			internal.AddSSESession(-1)
			g.logger.Printf("session closed installation=%s", installationID)
		})
	}
	defer cleanup()

	connected := internal.Event{
		Type:           internal.EventConnected,
		InstallationID: installationID,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
	if err := writeEventFrame(w, flusher, connected); err != nil {
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-lifetime.C:
			g.logger.Printf("session lifetime reached installation=%s", installationID)
			return
		case event := <-events:
			if err := writeEventFrame(w, flusher, event); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := writeHeartbeatFrame(w, flusher); err != nil {
				return
			}
		}
	}
}

func writeEventFrame(w http.ResponseWriter, flusher http.Flusher, event internal.Event) error {
	encoded, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", encoded); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeHeartbeatFrame(w http.ResponseWriter, flusher http.Flusher) error {
	if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
