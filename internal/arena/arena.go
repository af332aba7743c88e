// Package arena runs one match: a fixed player set competing over rounds of
// one game inside an isolated environment. The arena owns the match state
// machine, the fault policy, and the single terminal record.
package arena

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"codeclash/internal/environment"
	"codeclash/internal/game"
	"codeclash/internal/stats"
	"codeclash/internal/trajectory"
	appErr "codeclash/pkg/errors"
	"codeclash/pkg/utils/logger"
)

// State is the arena lifecycle state.
type State string

const (
	StateInit       State = "INIT"
	StateRoundSetup State = "ROUND_SETUP"
	StateValidating State = "VALIDATING"
	StateExecuting  State = "EXECUTING"
	StateScoring    State = "SCORING"
	StatePostRound  State = "POST_ROUND"
	StateComplete   State = "COMPLETE"
	StateAborted    State = "ABORTED"
)

// Abort reasons recorded on the terminal record.
const (
	AbortProvisionFailed = "provision_failed"
	AbortFaultLimit      = "fault_threshold_exceeded"
	AbortCancelled       = "cancelled"

	// Stamped by the scheduler on matches that never reached Run.
	AbortSetupFailed   = "setup_failed"
	AbortInternalError = "internal_error"
)

const (
	defaultMaxRounds      = 5
	defaultRoundTimeout   = 10 * time.Minute
	defaultSetupTimeout   = 30 * time.Second
	defaultFaultThreshold = 2
)

// Config bounds one match.
type Config struct {
	MaxRounds      int           `yaml:"maxRounds"`
	RoundTimeout   time.Duration `yaml:"roundTimeout"`
	SetupTimeout   time.Duration `yaml:"setupTimeout"`
	FaultThreshold int           `yaml:"faultThreshold"`
}

func (c Config) withDefaults() Config {
	if c.MaxRounds <= 0 {
		c.MaxRounds = defaultMaxRounds
	}
	if c.RoundTimeout <= 0 {
		c.RoundTimeout = defaultRoundTimeout
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = defaultSetupTimeout
	}
	if c.FaultThreshold <= 0 {
		c.FaultThreshold = defaultFaultThreshold
	}
	return c
}

// Params assembles one arena's collaborators.
type Params struct {
	MatchID      string
	TournamentID string
	Players      []game.Player
	Game         game.Adapter
	Envs         *environment.Manager
	Provider     game.SubmissionProvider
	// Sink is optional; a nil sink disables trajectory emission.
	Sink   trajectory.Sink
	Config Config
}

// Arena drives a single match from INIT to a terminal state. An Arena is
// single use: Run may be called once.
type Arena struct {
	matchID      string
	tournamentID string
	players      []game.Player
	playerIDs    []game.PlayerID
	adapter      game.Adapter
	envs         *environment.Manager
	provider     game.SubmissionProvider
	sink         trajectory.Sink
	cfg          Config

	agg *stats.Aggregator
	env *environment.Session

	consecutiveFaults int
	scoringErrors     int

	mu    sync.Mutex
	state State
}

// New validates params and assembles an arena.
func New(p Params) (*Arena, error) {
	if p.MatchID == "" {
		return nil, appErr.ValidationError("matchID", "required")
	}
	if len(p.Players) < 2 {
		return nil, appErr.ValidationError("players", "at least two required")
	}
	if p.Game == nil {
		return nil, appErr.ValidationError("game", "required")
	}
	if p.Envs == nil {
		return nil, appErr.ValidationError("envs", "required")
	}
	if p.Provider == nil {
		return nil, appErr.ValidationError("provider", "required")
	}
	seen := make(map[game.PlayerID]bool, len(p.Players))
	ids := make([]game.PlayerID, 0, len(p.Players))
	for _, pl := range p.Players {
		if pl.ID == "" {
			return nil, appErr.ValidationError("players", "empty player id")
		}
		if seen[pl.ID] {
			return nil, appErr.ValidationError("players", "duplicate player id "+string(pl.ID))
		}
		seen[pl.ID] = true
		ids = append(ids, pl.ID)
	}

	return &Arena{
		matchID:      p.MatchID,
		tournamentID: p.TournamentID,
		players:      p.Players,
		playerIDs:    ids,
		adapter:      p.Game,
		envs:         p.Envs,
		provider:     p.Provider,
		sink:         p.Sink,
		cfg:          p.Config.withDefaults(),
		agg:          stats.NewAggregator(ids),
		state:        StateInit,
	}, nil
}

// State returns the current lifecycle state.
func (a *Arena) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Arena) transition(ctx context.Context, to State) {
	a.mu.Lock()
	from := a.state
	a.state = to
	a.mu.Unlock()
	logger.Debug(ctx, "arena transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)))
}

// Run executes the match to a terminal state and returns its record. Per
// round failures are absorbed into round statistics; Run itself only ends
// in COMPLETE or ABORTED.
func (a *Arena) Run(ctx context.Context) *stats.MatchRecord {
	ctx = logger.WithMatch(ctx, a.matchID, a.adapter.ID())
	if a.tournamentID != "" {
		ctx = logger.WithTournament(ctx, a.tournamentID)
	}
	startedAt := time.Now()
	logger.Info(ctx, "match starting",
		zap.Int("players", len(a.players)),
		zap.Int("max_rounds", a.cfg.MaxRounds))

	env, err := a.envs.Provision(ctx, a.adapter.ID())
	if err != nil {
		logger.Error(ctx, "initial provisioning failed", zap.Error(err))
		return a.finish(ctx, startedAt, stats.StateAborted, abortReasonFor(err))
	}
	a.env = env
	// Teardown must run even when the match context is already cancelled.
	defer func() {
		a.envs.Teardown(context.WithoutCancel(ctx), a.env)
	}()

	for round := 0; round < a.cfg.MaxRounds; round++ {
		rctx := logger.WithRound(ctx, round)
		if ctx.Err() != nil {
			return a.finish(ctx, startedAt, stats.StateAborted, AbortCancelled)
		}

		outcome := a.runRound(rctx, round)
		if outcome.folded {
			if err := a.agg.Fold(outcome.stats); err != nil {
				logger.Error(rctx, "round fold failed", zap.Error(err))
			}
			a.emitRound(rctx, outcome)
		}

		switch outcome.verdict {
		case verdictNextRound:
		case verdictMatchOver:
			logger.Info(rctx, "game declared match over")
			return a.finish(ctx, startedAt, stats.StateComplete, "")
		case verdictAbortProvision:
			return a.finish(ctx, startedAt, stats.StateAborted, AbortProvisionFailed)
		case verdictAbortFaults:
			logger.Error(rctx, "consecutive fault limit reached",
				zap.Int("faults", a.consecutiveFaults),
				zap.Int("threshold", a.cfg.FaultThreshold))
			return a.finish(ctx, startedAt, stats.StateAborted, AbortFaultLimit)
		case verdictAbortCancelled:
			return a.finish(ctx, startedAt, stats.StateAborted, AbortCancelled)
		}
	}
	return a.finish(ctx, startedAt, stats.StateComplete, "")
}

func (a *Arena) finish(ctx context.Context, startedAt time.Time, final stats.FinalState, abortReason string) *stats.MatchRecord {
	if final == stats.StateAborted {
		a.transition(ctx, StateAborted)
	} else {
		a.transition(ctx, StateComplete)
	}

	rec := &stats.MatchRecord{
		MatchID:      a.matchID,
		TournamentID: a.tournamentID,
		GameID:       a.adapter.ID(),
		Players:      a.playerIDs,
		FinalState:   final,
		AbortReason:  abortReason,
		PlayerStats:  a.agg.Snapshot(),
		Rounds:       a.agg.Rounds(),
		StartedAt:    startedAt.UnixMilli(),
		FinishedAt:   time.Now().UnixMilli(),
	}

	if a.sink != nil {
		// Terminal emission must survive match cancellation.
		emitCtx := context.WithoutCancel(ctx)
		if err := a.sink.EmitMatch(emitCtx, rec); err != nil {
			logger.Warn(ctx, "match record emission failed", zap.Error(err))
		}
	}
	logger.Info(ctx, "match finished",
		zap.String("final_state", string(final)),
		zap.String("abort_reason", abortReason),
		zap.Int("rounds", len(rec.Rounds)))
	return rec
}

func (a *Arena) emitRound(ctx context.Context, out roundOutcome) {
	if a.sink == nil || out.record == nil {
		return
	}
	if err := a.sink.EmitRound(context.WithoutCancel(ctx), out.record); err != nil {
		logger.Warn(ctx, "round record emission failed", zap.Error(err))
	}
}

func abortReasonFor(err error) string {
	if appErr.GetCode(err) == appErr.Cancelled {
		return AbortCancelled
	}
	return AbortProvisionFailed
}
