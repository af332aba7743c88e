package environment

import (
	"context"
	"sync"
	"testing"
	"time"

	appErr "codeclash/pkg/errors"
)

// flakyRuntime fails the first failures provisions, then succeeds.
type flakyRuntime struct {
	mu         sync.Mutex
	failures   int
	provisions int
	teardowns  int
}

func (f *flakyRuntime) Provision(_ context.Context, gameID string) (*Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisions++
	if f.provisions <= f.failures {
		return nil, appErr.New(appErr.EnvironmentProvisionFailed)
	}
	return &Handle{ID: "env", GameID: gameID, MountPoint: "players"}, nil
}

func (f *flakyRuntime) Install(context.Context, *Handle, string, string) error { return nil }

func (f *flakyRuntime) WriteFile(context.Context, *Handle, string, []byte) error { return nil }

func (f *flakyRuntime) Exec(context.Context, *Handle, string, string) (ExecResult, error) {
	return ExecResult{}, nil
}

func (f *flakyRuntime) Health(context.Context, *Handle) bool { return true }

func (f *flakyRuntime) Teardown(context.Context, *Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns++
	return nil
}

func TestProvisionRetriesTransientFailures(t *testing.T) {
	rt := &flakyRuntime{failures: 2}
	mgr := NewManager(rt, ManagerConfig{ProvisionAttempts: 3, BackoffBase: time.Millisecond, BackoffMax: 5 * time.Millisecond})

	s, err := mgr.Provision(context.Background(), "dummy")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if s.Handle().State() != StateReady {
		t.Fatalf("state = %s, want ready", s.Handle().State())
	}
	if rt.provisions != 3 {
		t.Fatalf("provision attempts = %d, want 3", rt.provisions)
	}
}

func TestProvisionExhaustionIsFatal(t *testing.T) {
	rt := &flakyRuntime{failures: 10}
	mgr := NewManager(rt, ManagerConfig{ProvisionAttempts: 3, BackoffBase: time.Millisecond})

	_, err := mgr.Provision(context.Background(), "dummy")
	if appErr.GetCode(err) != appErr.EnvironmentProvisionFailed {
		t.Fatalf("err = %v, want EnvironmentProvisionFailed", err)
	}
	if rt.provisions != 3 {
		t.Fatalf("provision attempts = %d", rt.provisions)
	}
}

func TestProvisionHonorsCancellation(t *testing.T) {
	rt := &flakyRuntime{failures: 10}
	mgr := NewManager(rt, ManagerConfig{ProvisionAttempts: 5, BackoffBase: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := mgr.Provision(ctx, "dummy")
	if appErr.GetCode(err) != appErr.Cancelled {
		t.Fatalf("err = %v, want Cancelled", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancellation did not interrupt backoff")
	}
}

func TestTeardownRunsOnce(t *testing.T) {
	rt := &flakyRuntime{}
	mgr := NewManager(rt, ManagerConfig{ProvisionAttempts: 1})

	s, err := mgr.Provision(context.Background(), "dummy")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}

	mgr.Teardown(context.Background(), s)
	mgr.Teardown(context.Background(), s)
	mgr.Teardown(context.Background(), nil)

	if rt.teardowns != 1 {
		t.Fatalf("teardowns = %d, want 1", rt.teardowns)
	}
	if s.Handle().State() != StateTornDown {
		t.Fatalf("state = %s", s.Handle().State())
	}
}

func TestRecycleProducesFreshSession(t *testing.T) {
	rt := &flakyRuntime{}
	mgr := NewManager(rt, ManagerConfig{ProvisionAttempts: 1})

	s, err := mgr.Provision(context.Background(), "dummy")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	fresh, err := mgr.Recycle(context.Background(), s, "dummy")
	if err != nil {
		t.Fatalf("Recycle: %v", err)
	}
	if fresh == s {
		t.Fatal("recycle returned the old session")
	}
	if rt.teardowns != 1 || rt.provisions != 2 {
		t.Fatalf("teardowns=%d provisions=%d", rt.teardowns, rt.provisions)
	}
}

func TestComputeBackoffCapped(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	if d := computeBackoff(1, base, max); d != base {
		t.Fatalf("attempt 1 = %v", d)
	}
	if d := computeBackoff(2, base, max); d != 2*base {
		t.Fatalf("attempt 2 = %v", d)
	}
	if d := computeBackoff(10, base, max); d != max {
		t.Fatalf("attempt 10 = %v, want cap", d)
	}
}
