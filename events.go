package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultHeartbeat keeps idle streams open through proxies with idle timeouts
	DefaultHeartbeat = 30 * time.Second

	// clientBuffer is the number of events queued per stream before the client is dropped
	clientBuffer = 64

	eventConnected  = "connected"
	eventFileChange = "fileChange"
)

// Hub relays watcher events to browser clients over Server-Sent Events.
// Each connection subscribes its own listener and removes it on disconnect.
type Hub struct {
	source    EventSource
	heartbeat time.Duration
	logger    *slog.Logger
	clients   atomic.Int64
}

// NewHub creates a hub fed by source. A nil source gives streams that only
// acknowledge the connection and send heartbeats.
func NewHub(source EventSource, heartbeat time.Duration, logger *slog.Logger) *Hub {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		source:    source,
		heartbeat: heartbeat,
		logger:    logger,
	}
}

// Clients returns the number of open streams
func (h *Hub) Clients() int {
	return int(h.clients.Load())
}

// sseWriter serializes writes from the event loop and the keep-alive goroutine
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseWriter) writeEvent(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteKeepAlive sends an SSE comment, which EventSource clients ignore
func (s *sseWriter) WriteKeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// ServeHTTP holds the stream open until the client disconnects
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming unsupported by response writer")
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable proxy buffering

	clientID := uuid.NewString()
	logger := h.logger.With("client_id", clientID)

	events := make(chan FileChangeEvent, clientBuffer)
	overflow := make(chan struct{})
	var overflowOnce sync.Once

	if h.source != nil {
		unsubscribe := h.source.Subscribe(func(ev FileChangeEvent) {
			select {
			case events <- ev:
			default:
				// a lagging client is disconnected rather than silently missing an event
				overflowOnce.Do(func() { close(overflow) })
			}
		})
		defer unsubscribe()
	}

	count := h.clients.Add(1)
	defer func() {
		remaining := h.clients.Add(-1)
		logger.Info("change stream closed", "clients", remaining)
	}()
	logger.Info("change stream opened", "clients", count)

	sw := &sseWriter{w: w, flusher: flusher}
	if err := sw.writeEvent(eventConnected, struct{}{}); err != nil {
		logger.Debug("initial write failed", "error", err)
		return
	}

	keepAlive := NewTickerKeepAlive(h.heartbeat)
	keepAliveDone := keepAlive.Start(sw, logger)
	defer func() {
		keepAlive.Stop()
		<-keepAliveDone
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAliveDone:
			return
		case <-overflow:
			logger.Warn("client too slow, closing change stream")
			return
		case ev := <-events:
			if err := sw.writeEvent(eventFileChange, ev); err != nil {
				logger.Debug("event write failed", "error", err)
				return
			}
		}
	}
}
