package cluster

import (
	"context"
	"testing"
	"time"
)

type stubStore struct {
	Store
	workers []*Worker
	reaped  int
}

func (s *stubStore) ListWorkersByApp(_ context.Context, appName string) ([]*Worker, error) {
	var out []*Worker
	for _, w := range s.workers {
		if w.AppName == appName {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *stubStore) ReapDeadWorkers(_ context.Context, cutoff time.Time) (int, error) {
	n := 0
	for _, w := range s.workers {
		if w.State == WorkerActive && w.LastSeen.Before(cutoff) {
			w.State = WorkerDead
			n++
		}
	}
	s.reaped = n
	return n, nil
}

func TestHasAliveWorkers(t *testing.T) {
	now := time.Now()
	store := &stubStore{workers: []*Worker{
		{AppName: "billing", State: WorkerActive, LastSeen: now.Add(-5 * time.Second)},
		{AppName: "billing", State: WorkerDead, LastSeen: now},
		{AppName: "reports", State: WorkerActive, LastSeen: now.Add(-2 * time.Minute)},
		{AppName: "search", State: WorkerDraining, LastSeen: now},
	}}
	reg := NewRegistry(store, 30*time.Second, nil)
	reg.now = func() time.Time { return now }

	tests := []struct {
		app  string
		want bool
	}{
		{"billing", true},
		{"reports", false}, // last seen past threshold
		{"search", false},  // draining does not count
		{"unknown", false},
	}
	for _, tt := range tests {
		got, err := reg.HasAliveWorkers(context.Background(), tt.app)
		if err != nil {
			t.Fatalf("HasAliveWorkers(%q): %v", tt.app, err)
		}
		if got != tt.want {
			t.Errorf("HasAliveWorkers(%q) = %v, want %v", tt.app, got, tt.want)
		}
	}
}

func TestAliveWorkersFilters(t *testing.T) {
	now := time.Now()
	store := &stubStore{workers: []*Worker{
		{AppName: "billing", State: WorkerActive, LastSeen: now},
		{AppName: "billing", State: WorkerActive, LastSeen: now.Add(-time.Hour)},
		{AppName: "billing", State: WorkerDraining, LastSeen: now},
	}}
	reg := NewRegistry(store, 30*time.Second, nil)
	reg.now = func() time.Time { return now }

	alive, err := reg.AliveWorkers(context.Background(), "billing")
	if err != nil {
		t.Fatal(err)
	}
	if len(alive) != 1 {
		t.Fatalf("expected 1 alive worker, got %d", len(alive))
	}
}

func TestReap(t *testing.T) {
	now := time.Now()
	store := &stubStore{workers: []*Worker{
		{AppName: "billing", State: WorkerActive, LastSeen: now.Add(-time.Hour)},
		{AppName: "billing", State: WorkerActive, LastSeen: now},
	}}
	reg := NewRegistry(store, 30*time.Second, nil)
	reg.now = func() time.Time { return now }

	n, err := reg.Reap(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reaped, got %d", n)
	}
	if store.workers[0].State != WorkerDead {
		t.Error("stale worker not marked dead")
	}
}
