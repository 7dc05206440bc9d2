package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/messenger"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/metrics"
)

// newAdminServer builds the read-mostly admin HTTP API around m:
// health/metrics snapshots, dead-letter and schedule listings, and a
// websocket stream of live attempt metrics, grounded on the teacher's
// services/control-plane/registry mux+CORS+writeJSON surface.
func newAdminServer(addr string, m *messenger.Messenger) *http.Server {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", healthHandler(m)).Methods(http.MethodGet)
	r.HandleFunc("/metrics", metricsHandler(m)).Methods(http.MethodGet)
	if h := m.PrometheusHandler(); h != nil {
		r.Handle("/metrics/prometheus", h).Methods(http.MethodGet)
	}
	r.HandleFunc("/dlq/{transport}", dlqHandler(m)).Methods(http.MethodGet)
	r.HandleFunc("/schedules", schedulesHandler(m)).Methods(http.MethodGet)

	hub := newLiveHub(m)
	r.HandleFunc("/live", hub.serveWS)

	return &http.Server{
		Addr:              addr,
		Handler:           withCORS(r),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if httpErr, ok := err.(interface{ HTTPStatus() int }); ok {
		status = httpErr.HTTPStatus()
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func healthHandler(m *messenger.Messenger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		transportName := r.URL.Query().Get("transport")
		queue := r.URL.Query().Get("queue")
		if transportName == "" || queue == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "transport and queue query params are required"})
			return
		}
		window := parseWindow(r, time.Minute)
		snap, err := m.GetHealth(r.Context(), transportName, queue, window)
		if err != nil {
			writeError(w, err)
			return
		}
		status := http.StatusOK
		if snap.Overall == metrics.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, snap)
	}
}

func metricsHandler(m *messenger.Messenger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window := parseWindow(r, 0)
		writeJSON(w, http.StatusOK, m.GetMetrics(window))
	}
}

func dlqHandler(m *messenger.Messenger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		transportName := mux.Vars(r)["transport"]
		queue := r.URL.Query().Get("queue")
		if queue == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "queue query param is required"})
			return
		}
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		t, ok := m.Transport(transportName)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "transport not registered"})
			return
		}
		dlq, ok := t.(interface {
			DeadLetters(ctx context.Context, queue string, limit int) ([]envelope.Envelope, error)
		})
		if !ok {
			writeJSON(w, http.StatusNotImplemented, map[string]any{"error": "transport does not support dead-letter inspection"})
			return
		}
		rows, err := dlq.DeadLetters(r.Context(), queue, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

func schedulesHandler(m *messenger.Messenger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := m.Scheduler().List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

func parseWindow(r *http.Request, def time.Duration) time.Duration {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// liveHub pushes a rolling metrics snapshot to every connected /live
// client once per tick, the admin-dashboard equivalent of polling
// /metrics repeatedly.
type liveHub struct {
	m        *messenger.Messenger
	interval time.Duration

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newLiveHub(m *messenger.Messenger) *liveHub {
	h := &liveHub{m: m, interval: time.Second, clients: map[*websocket.Conn]struct{}{}}
	go h.broadcastLoop()
	return h
}

func (h *liveHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	// Drain and discard client reads; this feed is server-to-client only.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.mu.Lock()
				delete(h.clients, conn)
				h.mu.Unlock()
				conn.Close()
				return
			}
		}
	}()
}

func (h *liveHub) broadcastLoop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for range ticker.C {
		agg := h.m.GetMetrics(h.interval * 10)
		h.mu.Lock()
		for c := range h.clients {
			if err := c.WriteJSON(agg); err != nil {
				delete(h.clients, c)
				c.Close()
			}
		}
		h.mu.Unlock()
	}
}
