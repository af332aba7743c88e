// Package stats folds raw per-round outcomes into comparable per-player and
// per-match statistics. Folding is deterministic in round order within one
// match and commutative when merging across matches.
package stats

import (
	"sort"

	"codeclash/internal/game"
	appErr "codeclash/pkg/errors"
)

// FinalState is the terminal state of a match.
type FinalState string

const (
	StateComplete FinalState = "COMPLETE"
	StateAborted  FinalState = "ABORTED"
)

// Round error flags. They are data, not exceptions: per-round failures are
// absorbed here and never propagate past the arena.
const (
	FlagTimeout       = "timeout"
	FlagFault         = "environment_fault"
	FlagInvalid       = "invalid_submission"
	FlagMissing       = "missing_submission"
	FlagInstall       = "install_failed"
	FlagMutualForfeit = "mutual_forfeit"
	FlagIndeterminate = "indeterminate"
)

// RoundStats is the immutable record of one round.
type RoundStats struct {
	Index         int                       `json:"index"`
	DurationMs    int64                     `json:"duration_ms"`
	Winner        game.PlayerID             `json:"winner,omitempty"`
	Draw          bool                      `json:"draw,omitempty"`
	Indeterminate bool                      `json:"indeterminate,omitempty"`
	Forfeits      []game.PlayerID           `json:"forfeits,omitempty"`
	Errors        []string                  `json:"errors,omitempty"`
	Scores        map[game.PlayerID]float64 `json:"scores,omitempty"`
}

// Errored reports whether the round ended in an engine-detected error
// rather than a game result.
func (r RoundStats) Errored() bool {
	return len(r.Errors) > 0
}

// HasFlag reports whether the round carries the given error flag.
func (r RoundStats) HasFlag(flag string) bool {
	for _, f := range r.Errors {
		if f == flag {
			return true
		}
	}
	return false
}

// PlayerStats is the cumulative tally for one player.
type PlayerStats struct {
	Player   game.PlayerID `json:"player"`
	Wins     int           `json:"wins"`
	Losses   int           `json:"losses"`
	Draws    int           `json:"draws"`
	Forfeits int           `json:"forfeits"`
	Errors   int           `json:"errors"`
	Rounds   int           `json:"rounds"`
	Score    float64       `json:"score"`
}

// Merge combines two tallies for the same player. It is commutative and
// associative, so cross-match aggregation order never matters.
func Merge(a, b PlayerStats) PlayerStats {
	player := a.Player
	if player == "" {
		player = b.Player
	}
	return PlayerStats{
		Player:   player,
		Wins:     a.Wins + b.Wins,
		Losses:   a.Losses + b.Losses,
		Draws:    a.Draws + b.Draws,
		Forfeits: a.Forfeits + b.Forfeits,
		Errors:   a.Errors + b.Errors,
		Rounds:   a.Rounds + b.Rounds,
		Score:    a.Score + b.Score,
	}
}

// Aggregator accumulates one match's statistics. It is exclusively owned by
// its arena during the match; snapshots are published only at terminal
// states.
type Aggregator struct {
	players   []game.PlayerID
	perPlayer map[game.PlayerID]PlayerStats
	rounds    []RoundStats
}

// NewAggregator creates an aggregator for a fixed player set.
func NewAggregator(players []game.PlayerID) *Aggregator {
	perPlayer := make(map[game.PlayerID]PlayerStats, len(players))
	for _, p := range players {
		perPlayer[p] = PlayerStats{Player: p}
	}
	return &Aggregator{players: players, perPlayer: perPlayer}
}

// Fold appends one round and updates player tallies. Round indices must
// arrive in order with no gaps; a round is folded exactly once.
func (ag *Aggregator) Fold(rs RoundStats) error {
	if rs.Index != len(ag.rounds) {
		return appErr.Newf(appErr.InvalidParams, "round index %d out of order, want %d", rs.Index, len(ag.rounds))
	}
	ag.rounds = append(ag.rounds, rs)

	forfeited := make(map[game.PlayerID]bool, len(rs.Forfeits))
	for _, p := range rs.Forfeits {
		forfeited[p] = true
	}

	for _, p := range ag.players {
		st := ag.perPlayer[p]
		st.Rounds++
		if score, ok := rs.Scores[p]; ok {
			st.Score += score
		}
		switch {
		case forfeited[p]:
			st.Forfeits++
		case rs.Errored() && rs.Winner == "" && !rs.Draw:
			// Faulted or indeterminate round with no declared result.
			st.Errors++
		case rs.Draw:
			st.Draws++
		case rs.Winner == p:
			st.Wins++
		case rs.Winner != "":
			st.Losses++
		}
		ag.perPlayer[p] = st
	}
	return nil
}

// Rounds returns a copy of the folded round records.
func (ag *Aggregator) Rounds() []RoundStats {
	out := make([]RoundStats, len(ag.rounds))
	copy(out, ag.rounds)
	return out
}

// Snapshot returns a copy of the per-player tallies. The copy is consistent
// with the rounds folded so far, even when the match later aborts.
func (ag *Aggregator) Snapshot() map[game.PlayerID]PlayerStats {
	out := make(map[game.PlayerID]PlayerStats, len(ag.perPlayer))
	for p, st := range ag.perPlayer {
		out[p] = st
	}
	return out
}

// MatchRecord is the terminal record of one match, published once.
type MatchRecord struct {
	MatchID      string                        `json:"match_id"`
	TournamentID string                        `json:"tournament_id,omitempty"`
	GameID       string                        `json:"game_id"`
	Players      []game.PlayerID               `json:"players"`
	FinalState   FinalState                    `json:"final_state"`
	AbortReason  string                        `json:"abort_reason,omitempty"`
	PlayerStats  map[game.PlayerID]PlayerStats `json:"player_stats"`
	Rounds       []RoundStats                  `json:"rounds"`
	StartedAt    int64                         `json:"started_at"`
	FinishedAt   int64                         `json:"finished_at"`
}

// MergeRecords folds terminal match records into cumulative per-player
// tallies. The fold is commutative across records.
func MergeRecords(records []MatchRecord) map[game.PlayerID]PlayerStats {
	out := make(map[game.PlayerID]PlayerStats)
	for _, rec := range records {
		for p, st := range rec.PlayerStats {
			out[p] = Merge(out[p], st)
		}
	}
	return out
}

// WinRate is a leaderboard view entry.
type WinRate struct {
	Player  game.PlayerID `json:"player"`
	Wins    int           `json:"wins"`
	Rounds  int           `json:"rounds"`
	Rate    float64       `json:"rate"`
	Matches int           `json:"matches"`
}

// WinRates computes the win-rate leaderboard as a pure fold over terminal
// records, sorted by rate descending then name.
func WinRates(records []MatchRecord) []WinRate {
	merged := MergeRecords(records)
	matches := make(map[game.PlayerID]int)
	for _, rec := range records {
		for p := range rec.PlayerStats {
			matches[p]++
		}
	}

	out := make([]WinRate, 0, len(merged))
	for p, st := range merged {
		wr := WinRate{Player: p, Wins: st.Wins, Rounds: st.Rounds, Matches: matches[p]}
		if st.Rounds > 0 {
			wr.Rate = float64(st.Wins) / float64(st.Rounds)
		}
		out = append(out, wr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rate != out[j].Rate {
			return out[i].Rate > out[j].Rate
		}
		return out[i].Player < out[j].Player
	})
	return out
}
