// Package scheduler fans a tournament's matches out over a bounded worker
// pool. Matches are fully isolated: one match aborting, panicking, or
// losing its environment never disturbs the others.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"codeclash/internal/arena"
	"codeclash/internal/environment"
	"codeclash/internal/game"
	"codeclash/internal/stats"
	"codeclash/internal/trajectory"
	appErr "codeclash/pkg/errors"
	"codeclash/pkg/utils/logger"
)

const defaultMaxConcurrent = 4

// Config bounds tournament-wide concurrency.
type Config struct {
	MaxConcurrent int `yaml:"maxConcurrent"`
}

// MatchSpec names one match to run. An empty MatchID gets a generated one.
type MatchSpec struct {
	MatchID string        `yaml:"matchID" json:"match_id"`
	GameID  string        `yaml:"gameID" json:"game_id"`
	Players []game.Player `yaml:"players" json:"players"`
	Arena   arena.Config  `yaml:"arena" json:"-"`
}

// Deps are the collaborators shared by every match.
type Deps struct {
	Registry     *game.Registry
	Envs         *environment.Manager
	Provider     game.SubmissionProvider
	Sink         trajectory.Sink
	TournamentID string

	// OnMatchDone is invoked once per terminal record, from the match's
	// worker goroutine. Optional.
	OnMatchDone func(context.Context, *stats.MatchRecord)
}

// MatchStatus is a point-in-time view of one scheduled match.
type MatchStatus struct {
	MatchID string      `json:"match_id"`
	GameID  string      `json:"game_id"`
	State   arena.State `json:"state"`
}

// Scheduler runs match specs with bounded concurrency.
type Scheduler struct {
	cfg  Config
	deps Deps

	mu      sync.Mutex
	arenas  map[string]*arena.Arena
	games   map[string]string
	records []*stats.MatchRecord
}

// New creates a scheduler. MaxConcurrent defaults when unset.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Registry == nil {
		return nil, appErr.ValidationError("registry", "required")
	}
	if deps.Envs == nil {
		return nil, appErr.ValidationError("envs", "required")
	}
	if deps.Provider == nil {
		return nil, appErr.ValidationError("provider", "required")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	return &Scheduler{
		cfg:    cfg,
		deps:   deps,
		arenas: make(map[string]*arena.Arena),
		games:  make(map[string]string),
	}, nil
}

// Run executes all specs and returns terminal records in spec order. Specs
// that never start because the context was cancelled still get an aborted
// record, so the slice always lines up with the input.
func (s *Scheduler) Run(ctx context.Context, specs []MatchSpec) ([]*stats.MatchRecord, error) {
	for i := range specs {
		if specs[i].GameID == "" {
			return nil, appErr.ValidationError(fmt.Sprintf("specs[%d].gameID", i), "required")
		}
		if !s.deps.Registry.Has(specs[i].GameID) {
			return nil, appErr.Newf(appErr.GameNotFound, "unknown game %q", specs[i].GameID)
		}
		if specs[i].MatchID == "" {
			specs[i].MatchID = newMatchID(specs[i].GameID)
		}
	}

	records := make([]*stats.MatchRecord, len(specs))
	sem := make(chan struct{}, s.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	logger.Info(ctx, "tournament dispatch",
		zap.Int("matches", len(specs)),
		zap.Int("max_concurrent", s.cfg.MaxConcurrent))

	for i, spec := range specs {
		if ctx.Err() != nil {
			records[i] = s.abortedRecord(spec, arena.AbortCancelled)
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			records[i] = s.abortedRecord(spec, arena.AbortCancelled)
			continue
		}

		wg.Add(1)
		go func(i int, spec MatchSpec) {
			defer wg.Done()
			defer func() { <-sem }()
			records[i] = s.runMatch(ctx, spec)
		}(i, spec)
	}
	wg.Wait()

	s.mu.Lock()
	s.records = append(s.records, records...)
	s.mu.Unlock()
	return records, nil
}

func (s *Scheduler) runMatch(ctx context.Context, spec MatchSpec) (rec *stats.MatchRecord) {
	// A panicking adapter must not take the tournament down with it.
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "match panicked",
				zap.String("match_id", spec.MatchID),
				zap.Any("panic", r))
			rec = s.abortedRecord(spec, arena.AbortInternalError)
			s.notify(ctx, rec)
		}
	}()

	adapter, err := s.deps.Registry.Adapter(spec.GameID)
	if err != nil {
		logger.Error(ctx, "adapter construction failed", zap.Error(err))
		rec = s.abortedRecord(spec, arena.AbortSetupFailed)
		s.notify(ctx, rec)
		return rec
	}

	a, err := arena.New(arena.Params{
		MatchID:      spec.MatchID,
		TournamentID: s.deps.TournamentID,
		Players:      spec.Players,
		Game:         adapter,
		Envs:         s.deps.Envs,
		Provider:     s.deps.Provider,
		Sink:         s.deps.Sink,
		Config:       spec.Arena,
	})
	if err != nil {
		logger.Error(ctx, "arena construction failed",
			zap.String("match_id", spec.MatchID), zap.Error(err))
		rec = s.abortedRecord(spec, arena.AbortSetupFailed)
		s.notify(ctx, rec)
		return rec
	}

	s.mu.Lock()
	s.arenas[spec.MatchID] = a
	s.games[spec.MatchID] = spec.GameID
	s.mu.Unlock()

	rec = a.Run(ctx)
	s.notify(ctx, rec)
	return rec
}

func (s *Scheduler) notify(ctx context.Context, rec *stats.MatchRecord) {
	if s.deps.OnMatchDone != nil {
		s.deps.OnMatchDone(ctx, rec)
	}
}

// abortedRecord synthesizes an aborted terminal record for a match that
// never ran, keeping the output slice aligned with the input specs. The
// reason says why it never ran: cancellation, setup failure, or a panic.
func (s *Scheduler) abortedRecord(spec MatchSpec, reason string) *stats.MatchRecord {
	ids := make([]game.PlayerID, 0, len(spec.Players))
	perPlayer := make(map[game.PlayerID]stats.PlayerStats, len(spec.Players))
	for _, p := range spec.Players {
		ids = append(ids, p.ID)
		perPlayer[p.ID] = stats.PlayerStats{Player: p.ID}
	}
	now := time.Now().UnixMilli()
	return &stats.MatchRecord{
		MatchID:      spec.MatchID,
		TournamentID: s.deps.TournamentID,
		GameID:       spec.GameID,
		Players:      ids,
		FinalState:   stats.StateAborted,
		AbortReason:  reason,
		PlayerStats:  perPlayer,
		StartedAt:    now,
		FinishedAt:   now,
	}
}

// Statuses reports every scheduled match and its current arena state.
func (s *Scheduler) Statuses() []MatchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MatchStatus, 0, len(s.arenas))
	for id, a := range s.arenas {
		out = append(out, MatchStatus{MatchID: id, GameID: s.games[id], State: a.State()})
	}
	return out
}

// Records returns the terminal records accumulated so far.
func (s *Scheduler) Records() []*stats.MatchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*stats.MatchRecord, len(s.records))
	copy(out, s.records)
	return out
}

// RoundRobin expands a player list into all head-to-head pairings.
func RoundRobin(gameID string, players []game.Player, cfg arena.Config) []MatchSpec {
	var specs []MatchSpec
	for i := 0; i < len(players); i++ {
		for j := i + 1; j < len(players); j++ {
			specs = append(specs, MatchSpec{
				GameID:  gameID,
				Players: []game.Player{players[i], players[j]},
				Arena:   cfg,
			})
		}
	}
	return specs
}

func newMatchID(gameID string) string {
	stamp := time.Now().Format("060102150405")
	return fmt.Sprintf("%s.%s.%s", gameID, stamp, uuid.NewString()[:8])
}
