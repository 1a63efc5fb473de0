package state

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/instance"
	"github.com/fannyfinal/antares/job"
)

type fakeJobStore struct {
	job.Store

	states map[id.JobID]job.State
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{states: make(map[id.JobID]job.State)}
}

func (s *fakeJobStore) GetJobState(_ context.Context, jobID id.JobID) (job.State, error) {
	st, ok := s.states[jobID]
	if !ok {
		return "", antares.ErrJobNotFound
	}
	return st, nil
}

func (s *fakeJobStore) SetJobState(_ context.Context, jobID id.JobID, st job.State) error {
	s.states[jobID] = st
	return nil
}

func (s *fakeJobStore) CompareAndSetJobState(_ context.Context, jobID id.JobID, from, to job.State) (bool, error) {
	if s.states[jobID] != from {
		return false, nil
	}
	s.states[jobID] = to
	return true, nil
}

type fakeInstanceStore struct {
	instance.Store

	running map[id.JobID]bool
}

func (s *fakeInstanceStore) HasRunningInstance(_ context.Context, jobID id.JobID) (bool, error) {
	return s.running[jobID], nil
}

func newController(jobs job.Store, instances instance.Store) *Controller {
	return NewController(jobs, instances, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestUpdateDirectlyAppliesLegalTransition(t *testing.T) {
	jobs := newFakeJobStore()
	j := &job.Job{ID: id.NewJobID(), AppName: "billing", Class: "rollup"}
	jobs.states[j.ID] = job.StateWaiting

	c := newController(jobs, &fakeInstanceStore{})
	if err := c.UpdateDirectly(context.Background(), j, job.StateRunning); err != nil {
		t.Fatal(err)
	}
	if jobs.states[j.ID] != job.StateRunning {
		t.Errorf("stored state = %s, want running", jobs.states[j.ID])
	}
	if j.State != job.StateRunning {
		t.Errorf("in-memory state = %s, want running", j.State)
	}
}

func TestUpdateDirectlyRejectsIllegalTransition(t *testing.T) {
	jobs := newFakeJobStore()
	j := &job.Job{ID: id.NewJobID(), AppName: "billing", Class: "rollup"}
	jobs.states[j.ID] = job.StateStopped

	c := newController(jobs, &fakeInstanceStore{})
	err := c.UpdateDirectly(context.Background(), j, job.StateRunning)
	if !errors.Is(err, antares.ErrStateTransferInvalid) {
		t.Fatalf("err = %v, want ErrStateTransferInvalid", err)
	}
	if jobs.states[j.ID] != job.StateStopped {
		t.Error("state mutated by rejected transition")
	}
}

func TestUpdateSafelyAppliesWhenStateUnchanged(t *testing.T) {
	jobs := newFakeJobStore()
	j := &job.Job{ID: id.NewJobID(), AppName: "billing", Class: "rollup"}
	jobs.states[j.ID] = job.StateRunning

	c := newController(jobs, &fakeInstanceStore{})
	if err := c.UpdateSafely(context.Background(), j, job.StateRunning, job.StateWaiting); err != nil {
		t.Fatal(err)
	}
	if jobs.states[j.ID] != job.StateWaiting {
		t.Errorf("stored state = %s, want waiting", jobs.states[j.ID])
	}
}

func TestUpdateSafelyNoOpWhenStateMoved(t *testing.T) {
	jobs := newFakeJobStore()
	j := &job.Job{ID: id.NewJobID(), AppName: "billing", Class: "rollup"}
	// Operator stopped the job while the fire was in flight.
	jobs.states[j.ID] = job.StateStopped

	c := newController(jobs, &fakeInstanceStore{})
	if err := c.UpdateSafely(context.Background(), j, job.StateRunning, job.StateWaiting); err != nil {
		t.Fatal(err)
	}
	if jobs.states[j.ID] != job.StateStopped {
		t.Errorf("stored state = %s, job stopped mid-run must stay stopped", jobs.states[j.ID])
	}
}

func TestUpdateSafelyNoOpOnIllegalTransition(t *testing.T) {
	jobs := newFakeJobStore()
	j := &job.Job{ID: id.NewJobID(), AppName: "billing", Class: "rollup"}
	jobs.states[j.ID] = job.StateRunning

	c := newController(jobs, &fakeInstanceStore{})
	if err := c.UpdateSafely(context.Background(), j, job.StateRunning, job.StateRunning); err != nil {
		t.Fatal(err)
	}
	if jobs.states[j.ID] != job.StateRunning {
		t.Error("state mutated by illegal safe update")
	}
}

func TestHasLiveInstance(t *testing.T) {
	j := &job.Job{ID: id.NewJobID()}
	instances := &fakeInstanceStore{running: map[id.JobID]bool{j.ID: true}}

	c := newController(newFakeJobStore(), instances)
	live, err := c.HasLiveInstance(context.Background(), j)
	if err != nil {
		t.Fatal(err)
	}
	if !live {
		t.Error("expected live instance")
	}
}
