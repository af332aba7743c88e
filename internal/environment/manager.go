package environment

import (
	"context"
	"time"

	appErr "codeclash/pkg/errors"
	"codeclash/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultProvisionAttempts = 3
	defaultBackoffBase       = 500 * time.Millisecond
	defaultBackoffMax        = 10 * time.Second
)

// ManagerConfig controls provisioning retry behavior.
type ManagerConfig struct {
	ProvisionAttempts int           `yaml:"provisionAttempts"`
	BackoffBase       time.Duration `yaml:"backoffBase"`
	BackoffMax        time.Duration `yaml:"backoffMax"`
}

// Manager wraps a Runtime with bounded-retry provisioning, guaranteed
// single teardown, and the reuse/recycle policy. One Manager is shared by
// all arenas; each provisioned Session is exclusively owned by one arena.
type Manager struct {
	runtime  Runtime
	attempts int
	base     time.Duration
	max      time.Duration
}

// NewManager creates an environment lifecycle manager.
func NewManager(rt Runtime, cfg ManagerConfig) *Manager {
	attempts := cfg.ProvisionAttempts
	if attempts <= 0 {
		attempts = defaultProvisionAttempts
	}
	base := cfg.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	max := cfg.BackoffMax
	if max <= 0 {
		max = defaultBackoffMax
	}
	return &Manager{runtime: rt, attempts: attempts, base: base, max: max}
}

// Provision creates a fresh environment, retrying with exponential backoff.
// Exhausting all attempts is fatal to the match.
func (m *Manager) Provision(ctx context.Context, gameID string) (*Session, error) {
	var lastErr error
	for attempt := 0; attempt < m.attempts; attempt++ {
		if attempt > 0 {
			delay := computeBackoff(attempt, m.base, m.max)
			logger.Warn(ctx, "environment provision retry",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, appErr.CancelledError("provisioning cancelled")
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, appErr.CancelledError("provisioning cancelled")
		}

		handle, err := m.runtime.Provision(ctx, gameID)
		if err == nil {
			handle.setState(StateReady)
			logger.Info(ctx, "environment provisioned",
				zap.String("environment_id", handle.ID),
				zap.Int("attempt", attempt+1))
			return NewSession(m.runtime, handle), nil
		}
		lastErr = err
	}
	return nil, appErr.ProvisionError(lastErr, m.attempts)
}

// Teardown destroys a session's environment, at most once. Failures are
// logged and never returned; teardown must not block match completion.
func (m *Manager) Teardown(ctx context.Context, s *Session) {
	if s == nil {
		return
	}
	h := s.Handle()
	if err := s.teardownOnce(ctx); err != nil {
		logger.Warn(ctx, "environment teardown failed",
			zap.String("environment_id", h.ID),
			zap.Error(err))
		h.setState(StateFailed)
		return
	}
	h.setState(StateTornDown)
}

// Recycle tears down a faulted or unhealthy environment and provisions a
// fresh one for the same game.
func (m *Manager) Recycle(ctx context.Context, s *Session, gameID string) (*Session, error) {
	m.Teardown(ctx, s)
	return m.Provision(ctx, gameID)
}

// Healthy probes a session's environment.
func (m *Manager) Healthy(ctx context.Context, s *Session) bool {
	if s == nil {
		return false
	}
	return s.Health(ctx)
}

func computeBackoff(attempt int, base, max time.Duration) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		if delay >= max/2 {
			return max
		}
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}
