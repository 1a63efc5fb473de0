package firetime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/job"
)

type fakeJobStore struct {
	job.Store

	mu    sync.Mutex
	wrote map[id.JobID]*job.FireTime
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{wrote: make(map[id.JobID]*job.FireTime)}
}

func (s *fakeJobStore) SetJobFireTime(_ context.Context, jobID id.JobID, ft *job.FireTime) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wrote[jobID] = ft
	return nil
}

func (s *fakeJobStore) get(jobID id.JobID) *job.FireTime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wrote[jobID]
}

func TestRecorderPersistsFireTime(t *testing.T) {
	store := newFakeJobStore()
	rec := NewRecorder(store, 16, nil, WithWorkers(1))
	if err := rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer rec.Stop(context.Background())

	jobID := id.NewJobID()
	now := time.Now().UTC()
	next := now.Add(time.Minute)
	rec.Submit(jobID, Info{Current: now, Next: &next})

	deadline := time.After(2 * time.Second)
	for store.get(jobID) == nil {
		select {
		case <-deadline:
			t.Fatal("fire time never persisted")
		case <-time.After(10 * time.Millisecond):
		}
	}

	ft := store.get(jobID)
	if ft.Current == nil || !ft.Current.Equal(now) {
		t.Errorf("current = %v, want %v", ft.Current, now)
	}
	if ft.Next == nil || !ft.Next.Equal(next) {
		t.Errorf("next = %v, want %v", ft.Next, next)
	}
}

func TestRecorderDropsWhenSaturated(t *testing.T) {
	store := newFakeJobStore()
	// Not started: nothing drains the queue, so depth-1 saturates
	// after one submit.
	rec := NewRecorder(store, 1, nil)

	a := id.NewJobID()
	b := id.NewJobID()
	rec.Submit(a, Info{Current: time.Now()})
	rec.Submit(b, Info{Current: time.Now()}) // must not block

	if len(rec.queue) != 1 {
		t.Fatalf("queue length = %d, want 1", len(rec.queue))
	}
}

func TestRecorderStopIsIdempotent(t *testing.T) {
	rec := NewRecorder(newFakeJobStore(), 4, nil, WithWorkers(1))
	if err := rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := rec.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := rec.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}
