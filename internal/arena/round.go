package arena

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"codeclash/internal/game"
	"codeclash/internal/stats"
	"codeclash/internal/trajectory"
	appErr "codeclash/pkg/errors"
	"codeclash/pkg/utils/logger"
)

type verdict int

const (
	verdictNextRound verdict = iota
	verdictMatchOver
	verdictAbortProvision
	verdictAbortFaults
	verdictAbortCancelled
)

// roundOutcome is what one round hands back to the match loop. folded is
// false for rounds interrupted before producing a record, e.g. by match
// cancellation.
type roundOutcome struct {
	verdict verdict
	folded  bool
	stats   stats.RoundStats
	record  *trajectory.Record
}

func (a *Arena) runRound(ctx context.Context, round int) roundOutcome {
	started := time.Now()
	a.transition(ctx, StateRoundSetup)

	// An environment that died between rounds is replaced before setup so
	// the failure is not charged against any player.
	if !a.envs.Healthy(ctx, a.env) {
		logger.Warn(ctx, "environment unhealthy before round, recycling",
			zap.String("environment_id", a.env.Handle().ID))
		fresh, err := a.envs.Recycle(ctx, a.env, a.adapter.ID())
		if err != nil {
			return roundOutcome{verdict: verdictForProvisionErr(err)}
		}
		a.env = fresh
	}

	var (
		flags      []string
		forfeits   []game.PlayerID
		active     []game.PlayerID
		validation = make(map[game.PlayerID]string, len(a.playerIDs))
		subs       = make(map[game.PlayerID]game.Submission, len(a.playerIDs))
	)
	addFlag := func(flag string) {
		for _, f := range flags {
			if f == flag {
				return
			}
		}
		flags = append(flags, flag)
	}
	forfeit := func(p game.PlayerID, flag, reason string) {
		forfeits = append(forfeits, p)
		validation[p] = reason
		addFlag(flag)
	}

	for _, p := range a.playerIDs {
		pollCtx, cancel := context.WithTimeout(ctx, a.cfg.SetupTimeout)
		sub, err := a.provider.Next(pollCtx, p, round)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return roundOutcome{verdict: verdictAbortCancelled}
			}
			logger.Info(ctx, "player forfeits round, no submission",
				zap.String("player", string(p)), zap.Error(err))
			forfeit(p, stats.FlagMissing, "no submission")
			continue
		}
		if err := a.env.Install(ctx, string(p), sub.Path); err != nil {
			logger.Warn(ctx, "submission install failed",
				zap.String("player", string(p)), zap.Error(err))
			forfeit(p, stats.FlagInstall, "install failed")
			continue
		}
		subs[p] = sub
	}

	a.transition(ctx, StateValidating)
	for _, p := range a.playerIDs {
		sub, ok := subs[p]
		if !ok {
			continue
		}
		vr, err := a.adapter.Validate(ctx, a.env, sub)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return roundOutcome{verdict: verdictAbortCancelled}
			}
			forfeit(p, stats.FlagInvalid, err.Error())
		case !vr.OK:
			forfeit(p, stats.FlagInvalid, vr.Reason)
		default:
			validation[p] = "ok"
			active = append(active, p)
		}
	}

	// With every player forfeiting there is nothing to run and nothing to
	// score; the round still counts toward the match length.
	if len(active) == 0 {
		addFlag(stats.FlagMutualForfeit)
		rs := stats.RoundStats{
			Index:      round,
			DurationMs: time.Since(started).Milliseconds(),
			Forfeits:   forfeits,
			Errors:     flags,
		}
		return roundOutcome{
			verdict: verdictNextRound,
			folded:  true,
			stats:   rs,
			record:  a.newRecord(round, rs, validation, nil, game.RawOutcome{}),
		}
	}

	a.transition(ctx, StateExecuting)
	rc := game.RoundContext{
		MatchID: a.matchID,
		Round:   round,
		Players: active,
		Env:     a.env,
		Timeout: a.cfg.RoundTimeout,
	}
	execCtx, cancel := context.WithTimeout(ctx, a.cfg.RoundTimeout)
	raw, execErr := a.adapter.Execute(execCtx, rc)
	cancel()
	if execErr != nil {
		if ctx.Err() != nil {
			return roundOutcome{verdict: verdictAbortCancelled}
		}
		return a.handleFault(ctx, round, started, forfeits, flags, validation, execErr)
	}
	a.consecutiveFaults = 0

	a.transition(ctx, StateScoring)
	result, scoreErr := a.adapter.Score(rc, raw)
	var rs stats.RoundStats
	if scoreErr != nil || result.Kind == game.KindIndeterminate {
		// Ambiguity is recorded, never guessed away. It is not an
		// environment fault and does not touch the fault counter.
		a.scoringErrors++
		if scoreErr != nil {
			logger.Warn(ctx, "round scoring failed", zap.Error(scoreErr))
		}
		addFlag(stats.FlagIndeterminate)
		rs = stats.RoundStats{
			Index:         round,
			DurationMs:    time.Since(started).Milliseconds(),
			Indeterminate: true,
			Forfeits:      forfeits,
			Errors:        flags,
			Scores:        result.Scores,
		}
	} else {
		rs = stats.RoundStats{
			Index:      round,
			DurationMs: time.Since(started).Milliseconds(),
			Draw:       result.Kind == game.KindDraw,
			Forfeits:   forfeits,
			Errors:     flags,
			Scores:     result.Scores,
		}
		if result.Kind == game.KindWinner {
			rs.Winner = result.Winner
		}
	}

	a.transition(ctx, StatePostRound)
	a.stashRoundLog(ctx, round, raw)

	out := roundOutcome{
		verdict: verdictNextRound,
		folded:  true,
		stats:   rs,
		record:  a.newRecord(round, rs, validation, &result, raw),
	}
	if result.MatchOver && !rs.Indeterminate {
		out.verdict = verdictMatchOver
	}
	return out
}

// handleFault absorbs an execution failure: the round is recorded as
// faulted, the environment is recycled, and the consecutive fault counter
// decides whether the match survives.
func (a *Arena) handleFault(ctx context.Context, round int, started time.Time, forfeits []game.PlayerID, flags []string, validation map[game.PlayerID]string, execErr error) roundOutcome {
	flag := stats.FlagFault
	if appErr.GetCode(execErr) == appErr.ExecutionTimeout {
		flag = stats.FlagTimeout
	}
	a.consecutiveFaults++
	logger.Warn(ctx, "round execution faulted",
		zap.String("flag", flag),
		zap.Int("consecutive_faults", a.consecutiveFaults),
		zap.Error(execErr))

	rs := stats.RoundStats{
		Index:      round,
		DurationMs: time.Since(started).Milliseconds(),
		Forfeits:   forfeits,
		Errors:     append(flags, flag),
	}
	out := roundOutcome{
		verdict: verdictNextRound,
		folded:  true,
		stats:   rs,
		record:  a.newRecord(round, rs, validation, nil, game.RawOutcome{}),
	}
	if a.consecutiveFaults >= a.cfg.FaultThreshold {
		out.verdict = verdictAbortFaults
		return out
	}

	fresh, err := a.envs.Recycle(ctx, a.env, a.adapter.ID())
	if err != nil {
		out.verdict = verdictForProvisionErr(err)
		return out
	}
	a.env = fresh
	return out
}

// stashRoundLog copies the engine's round log into the environment so the
// next round's submissions can read their own history.
func (a *Arena) stashRoundLog(ctx context.Context, round int, raw game.RawOutcome) {
	if raw.Log == "" {
		return
	}
	dest := fmt.Sprintf("logs/round_%d.log", round)
	if err := a.env.WriteFile(ctx, dest, []byte(raw.Log)); err != nil {
		logger.Warn(ctx, "round log copy failed", zap.Error(err))
	}
}

func (a *Arena) newRecord(round int, rs stats.RoundStats, validation map[game.PlayerID]string, result *game.RoundResult, raw game.RawOutcome) *trajectory.Record {
	return &trajectory.Record{
		TournamentID:  a.tournamentID,
		MatchID:       a.matchID,
		GameID:        a.adapter.ID(),
		RoundIndex:    round,
		Players:       a.playerIDs,
		Validation:    validation,
		Result:        result,
		RawOutcomeRef: raw.Ref,
		EngineLog:     raw.Log,
		DurationMs:    rs.DurationMs,
		Errors:        rs.Errors,
		EmittedAt:     time.Now(),
	}
}

func verdictForProvisionErr(err error) verdict {
	if appErr.GetCode(err) == appErr.Cancelled {
		return verdictAbortCancelled
	}
	return verdictAbortProvision
}
