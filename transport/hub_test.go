package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/instance"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsURL(t *testing.T, srv *httptest.Server, app string, workerID id.WorkerID) string {
	t.Helper()
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "?app=" + app + "&worker=" + workerID.String()
}

func dialWorker(t *testing.T, srv *httptest.Server, app string, workerID id.WorkerID) (net.Conn, func()) {
	t.Helper()
	c, _, _, err := ws.Dial(context.Background(), wsURL(t, srv, app, workerID))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c, func() { _ = c.Close() }
}

func waitConnected(t *testing.T, hub *Hub, app string, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for hub.ConnectedWorkers(app) < n {
		select {
		case <-deadline:
			t.Fatalf("only %d workers connected for %s, want %d", hub.ConnectedWorkers(app), app, n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHubRejectsMissingParams(t *testing.T) {
	hub := NewHub(discardLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHubBroadcastsDispatchToAppWorkers(t *testing.T) {
	hub := NewHub(discardLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn, cleanup := dialWorker(t, srv, "billing", id.NewWorkerID())
	defer cleanup()
	waitConnected(t, hub, "billing", 1)

	inst := &instance.Instance{ID: id.NewInstanceID(), JobID: id.NewJobID(), Status: instance.StatusRunning}
	shards := []*instance.Shard{{ID: id.NewShardID(), InstanceID: inst.ID, Item: 0, Status: instance.ShardNew}}

	if err := hub.NotifyInstance(context.Background(), "billing", inst, shards); err != nil {
		t.Fatalf("NotifyInstance: %v", err)
	}

	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != FrameDispatch {
		t.Fatalf("frame type = %s, want dispatch", frame.Type)
	}
	var payload DispatchPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Instance.ID != inst.ID {
		t.Errorf("instance id = %s, want %s", payload.Instance.ID, inst.ID)
	}
	if len(payload.Shards) != 1 {
		t.Errorf("shards = %d, want 1", len(payload.Shards))
	}
}

func TestHubScopesBroadcastByApp(t *testing.T) {
	hub := NewHub(discardLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	_, cleanupA := dialWorker(t, srv, "billing", id.NewWorkerID())
	defer cleanupA()
	waitConnected(t, hub, "billing", 1)

	inst := &instance.Instance{ID: id.NewInstanceID(), Status: instance.StatusRunning}

	// No worker of "reports" is connected.
	if err := hub.NotifyInstance(context.Background(), "reports", inst, nil); err == nil {
		t.Error("expected error notifying app without workers")
	}
	if err := hub.NotifyInstance(context.Background(), "billing", inst, nil); err != nil {
		t.Errorf("billing notify failed: %v", err)
	}
}

func TestHubInvokesHeartbeatFunc(t *testing.T) {
	var mu sync.Mutex
	beats := map[id.WorkerID]time.Time{}

	hub := NewHub(discardLogger(), WithHeartbeatFunc(func(_ context.Context, wid id.WorkerID, seenAt time.Time) error {
		mu.Lock()
		defer mu.Unlock()
		beats[wid] = seenAt
		return nil
	}))
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	workerID := id.NewWorkerID()
	conn, cleanup := dialWorker(t, srv, "billing", workerID)
	defer cleanup()
	waitConnected(t, hub, "billing", 1)

	hb, err := json.Marshal(NewHeartbeatFrame("billing", workerID))
	if err != nil {
		t.Fatal(err)
	}
	if err := wsutil.WriteClientText(conn, hb); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		_, ok := beats[workerID]
		mu.Unlock()
		if ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("heartbeat never reached callback")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHubDisconnectRemovesWorker(t *testing.T) {
	hub := NewHub(discardLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	_, cleanup := dialWorker(t, srv, "billing", id.NewWorkerID())
	waitConnected(t, hub, "billing", 1)

	cleanup()

	deadline := time.After(2 * time.Second)
	for hub.ConnectedWorkers("billing") != 0 {
		select {
		case <-deadline:
			t.Fatal("worker not removed after disconnect")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
