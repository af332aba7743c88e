// Package environment manages isolated, disposable sandboxes that host one
// game instance and the installed player code for the duration of a match.
package environment

import (
	"context"
	"sync"
	"sync/atomic"
)

// State represents the lifecycle state of an environment.
type State string

const (
	StateProvisioning State = "provisioning"
	StateReady        State = "ready"
	StateBusy         State = "busy"
	StateTornDown     State = "torn_down"
	StateFailed       State = "failed"
)

// Handle identifies one provisioned sandbox instance.
type Handle struct {
	// ID is unique per provisioned instance; a recycled environment gets a
	// fresh handle.
	ID string

	// GameID names the game whose engine assets are staged in the sandbox.
	GameID string

	// MountPoint is the path inside the sandbox under which player code is
	// installed, one directory per player.
	MountPoint string

	// ref is runtime-specific: a work directory for the local runtime, a
	// container id for the docker runtime.
	ref string

	mu    sync.Mutex
	state State
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Ref returns the runtime-specific reference for the sandbox instance.
func (h *Handle) Ref() string {
	return h.ref
}

// ExecResult captures one command execution inside the sandbox.
type ExecResult struct {
	ExitCode int
	Output   string
}

// Runtime provisions and drives sandboxes. Implementations must be safe for
// concurrent use across matches; a single Handle is only ever driven by one
// arena at a time.
type Runtime interface {
	// Provision creates a fresh sandbox with the game's engine assets staged.
	Provision(ctx context.Context, gameID string) (*Handle, error)

	// Install copies a player's submission into the sandbox under the
	// handle's mount point.
	Install(ctx context.Context, h *Handle, playerID, sourcePath string) error

	// WriteFile creates a file inside the sandbox (round logs, prompts).
	WriteFile(ctx context.Context, h *Handle, destPath string, content []byte) error

	// Exec runs a shell command inside the sandbox. workDir is relative to
	// the sandbox root; empty means the root itself. A non-zero exit code is
	// reported via ExecResult, not via error.
	Exec(ctx context.Context, h *Handle, command, workDir string) (ExecResult, error)

	// Health is a cheap liveness probe used before each round.
	Health(ctx context.Context, h *Handle) bool

	// Teardown destroys the sandbox. Callers treat it as best-effort.
	Teardown(ctx context.Context, h *Handle) error
}

// Session binds a Runtime to one provisioned Handle. Game adapters receive a
// session so they can drive the sandbox without owning its lifecycle.
type Session struct {
	rt       Runtime
	handle   *Handle
	tornDown atomic.Bool
}

// NewSession binds a runtime to a provisioned handle.
func NewSession(rt Runtime, h *Handle) *Session {
	return &Session{rt: rt, handle: h}
}

// Handle returns the bound environment handle.
func (s *Session) Handle() *Handle {
	return s.handle
}

// Install copies a player's submission into the sandbox.
func (s *Session) Install(ctx context.Context, playerID, sourcePath string) error {
	return s.rt.Install(ctx, s.handle, playerID, sourcePath)
}

// WriteFile creates a file inside the sandbox.
func (s *Session) WriteFile(ctx context.Context, destPath string, content []byte) error {
	return s.rt.WriteFile(ctx, s.handle, destPath, content)
}

// Exec runs a shell command inside the sandbox.
func (s *Session) Exec(ctx context.Context, command, workDir string) (ExecResult, error) {
	return s.rt.Exec(ctx, s.handle, command, workDir)
}

// Health probes sandbox liveness.
func (s *Session) Health(ctx context.Context) bool {
	return s.rt.Health(ctx, s.handle)
}

// teardownOnce runs teardown at most once per session, regardless of how
// many exit paths reach it.
func (s *Session) teardownOnce(ctx context.Context) error {
	if !s.tornDown.CompareAndSwap(false, true) {
		return nil
	}
	return s.rt.Teardown(ctx, s.handle)
}
