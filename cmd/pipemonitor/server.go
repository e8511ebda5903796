package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stsolovey/pipemonitor/internal/metrics"
	"github.com/stsolovey/pipemonitor/internal/monitor"
	"github.com/stsolovey/pipemonitor/internal/transport"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 512
)

// wsEvent is one websocket frame: a snapshot on connect, then updates.
type wsEvent struct {
	Type  string              `json:"type"`
	Pipes []monitor.PipeState `json:"pipes,omitempty"`
	Pipe  *monitor.PipeState  `json:"pipe,omitempty"`
}

type App struct {
	monitor   *monitor.Monitor
	transport transport.Provider
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

func NewApp(m *monitor.Monitor, provider transport.Provider, logger *zap.Logger) *App {
	return &App{
		monitor:   m,
		transport: provider,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Routes returns the HTTP API of the monitor.
func (a *App) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /pipes", a.handlePipes)
	mux.HandleFunc("GET /pipes/{name}", a.handlePipe)
	mux.HandleFunc("GET /stats", a.handleStats)
	mux.HandleFunc("GET /ws", a.handleWebsocket)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]bool{"healthy": true})
}

func (a *App) handlePipes(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.monitor.Pipes())
}

func (a *App) handlePipe(w http.ResponseWriter, r *http.Request) {
	state, ok := a.monitor.Lookup(r.PathValue("name"))
	if !ok {
		http.Error(w, "pipe not found", http.StatusNotFound)

		return
	}

	a.writeJSON(w, http.StatusOK, state)
}

func (a *App) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := a.monitor.Stats()

	if a.transport != nil {
		ts := a.transport.Stats()

		a.writeJSON(w, http.StatusOK, map[string]any{
			"received":  stats.Received,
			"dropped":   stats.Dropped,
			"transport": ts,
		})

		return
	}

	a.writeJSON(w, http.StatusOK, stats)
}

func (a *App) writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		a.logger.Error("failed to encode response", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if _, err := w.Write(data); err != nil {
		a.logger.Debug("failed to write response", zap.Error(err))
	}
}

// handleWebsocket streams a snapshot of all pipes followed by every state
// update. Clients that cannot keep up miss updates.
func (a *App) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", zap.Error(err))

		return
	}
	defer conn.Close()

	metrics.MonitorWebsocketClients.Inc()
	defer metrics.MonitorWebsocketClients.Dec()

	updates, stop := a.monitor.Listen()
	defer stop()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read loop only notices when the client goes away.
	conn.SetReadLimit(wsReadLimit)

	go func() {
		defer cancel()

		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := a.send(conn, wsEvent{Type: "snapshot", Pipes: a.monitor.Pipes()}); err != nil {
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case state, ok := <-updates:
			if !ok {
				return
			}

			if err := a.send(conn, wsEvent{Type: "update", Pipe: &state}); err != nil {
				return
			}

		case <-ping.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func (a *App) send(conn *websocket.Conn, ev wsEvent) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}

	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			a.logger.Debug("websocket write failed", zap.Error(err))
		}

		return err
	}

	return nil
}
