package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/instance"
)

// HeartbeatFunc is invoked when a worker heartbeat frame arrives.
type HeartbeatFunc func(ctx context.Context, workerID id.WorkerID, seenAt time.Time) error

// workerConn is one connected worker.
type workerConn struct {
	conn     net.Conn
	appName  string
	workerID string

	writeMu sync.Mutex
}

func (c *workerConn) writeFrame(f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("transport: marshal frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerText(c.conn, data)
}

// Hub upgrades worker connections and fans dispatch frames out to the
// workers of an application. It implements the barrier's Notifier.
type Hub struct {
	logger    *slog.Logger
	heartbeat HeartbeatFunc

	mu    sync.RWMutex
	byApp map[string]map[*workerConn]struct{}
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHeartbeatFunc wires worker heartbeat frames to a callback,
// typically the cluster store's heartbeat write.
func WithHeartbeatFunc(fn HeartbeatFunc) HubOption {
	return func(h *Hub) { h.heartbeat = fn }
}

// NewHub creates a Hub.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		logger: logger,
		byApp:  make(map[string]map[*workerConn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request to a WebSocket connection and serves
// it until the worker disconnects. Workers identify themselves through
// the app and worker query parameters.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	appName := r.URL.Query().Get("app")
	workerID := r.URL.Query().Get("worker")
	if appName == "" || workerID == "" {
		http.Error(w, "app and worker query parameters required", http.StatusBadRequest)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			slog.String("app", appName),
			slog.String("error", err.Error()),
		)
		return
	}

	wc := &workerConn{conn: conn, appName: appName, workerID: workerID}
	h.add(wc)
	h.logger.Info("worker connected",
		slog.String("app", appName),
		slog.String("worker_id", workerID),
	)

	go h.readLoop(wc)
}

func (h *Hub) add(wc *workerConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byApp[wc.appName]
	if !ok {
		set = make(map[*workerConn]struct{})
		h.byApp[wc.appName] = set
	}
	set[wc] = struct{}{}
}

func (h *Hub) remove(wc *workerConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.byApp[wc.appName]; ok {
		delete(set, wc)
		if len(set) == 0 {
			delete(h.byApp, wc.appName)
		}
	}
}

// readLoop consumes frames from one worker until the connection drops.
// Only heartbeat frames are expected inbound; everything else is
// answered with an error frame.
func (h *Hub) readLoop(wc *workerConn) {
	defer func() {
		h.remove(wc)
		_ = wc.conn.Close()
		h.logger.Info("worker disconnected",
			slog.String("app", wc.appName),
			slog.String("worker_id", wc.workerID),
		)
	}()

	for {
		data, err := wsutil.ReadClientText(wc.conn)
		if err != nil {
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Warn("invalid frame from worker",
				slog.String("worker_id", wc.workerID),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch frame.Type {
		case FrameHeartbeat:
			if h.heartbeat == nil {
				continue
			}
			wid, parseErr := id.ParseWorkerID(frame.WorkerID)
			if parseErr != nil {
				h.logger.Warn("heartbeat with invalid worker id",
					slog.String("worker_id", frame.WorkerID),
					slog.String("error", parseErr.Error()),
				)
				continue
			}
			if hbErr := h.heartbeat(context.Background(), wid, time.Now().UTC()); hbErr != nil {
				h.logger.Warn("heartbeat write failed",
					slog.String("worker_id", frame.WorkerID),
					slog.String("error", hbErr.Error()),
				)
			}
		default:
			errFrame := &Frame{
				Type:      FrameErr,
				Error:     fmt.Sprintf("unexpected frame type %q", frame.Type),
				Timestamp: time.Now().UTC(),
			}
			_ = wc.writeFrame(errFrame)
		}
	}
}

// NotifyInstance broadcasts a dispatch frame to every connected worker
// of the application. It returns an error only when no connected worker
// accepted the frame; individual write failures are logged and the
// failing connections dropped.
func (h *Hub) NotifyInstance(_ context.Context, appName string, inst *instance.Instance, shards []*instance.Shard) error {
	frame, err := NewDispatchFrame(appName, inst, shards)
	if err != nil {
		return err
	}

	h.mu.RLock()
	conns := make([]*workerConn, 0, len(h.byApp[appName]))
	for wc := range h.byApp[appName] {
		conns = append(conns, wc)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("transport: no connected workers for app %q", appName)
	}

	delivered := 0
	for _, wc := range conns {
		if writeErr := wc.writeFrame(frame); writeErr != nil {
			h.logger.Warn("dispatch push failed, dropping connection",
				slog.String("app", appName),
				slog.String("worker_id", wc.workerID),
				slog.String("error", writeErr.Error()),
			)
			h.remove(wc)
			_ = wc.conn.Close()
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("transport: dispatch push reached no workers for app %q", appName)
	}
	return nil
}

// ConnectedWorkers returns how many workers of the application are
// currently connected.
func (h *Hub) ConnectedWorkers(appName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byApp[appName])
}

// Close drops every connection. The hub is not usable afterwards.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.byApp {
		for wc := range set {
			_ = wc.conn.Close()
		}
	}
	h.byApp = make(map[string]map[*workerConn]struct{})
	return nil
}
