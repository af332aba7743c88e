// Package game defines the pluggable contract between the match
// orchestration engine and individual games. The engine never inspects a
// game's internals; it only drives validate, execute, and score.
package game

import (
	"context"
	"time"

	"codeclash/internal/environment"
)

// PlayerID is a stable player identity within a tournament.
type PlayerID string

// Player couples an identity with the model tag that produced its code.
type Player struct {
	ID    PlayerID `yaml:"name" json:"name"`
	Model string   `yaml:"model" json:"model,omitempty"`
}

// Submission is one player's code artifact for one round. The engine reads
// it at round setup; it is produced and replaced between rounds by the
// external agent collaborator.
type Submission struct {
	Player PlayerID
	Round  int
	// Path is a host path to the submission file or directory.
	Path string
}

// ValidationResult reports whether a submission may enter the round.
type ValidationResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// ResultKind classifies a scored round.
type ResultKind string

const (
	KindWinner        ResultKind = "winner"
	KindDraw          ResultKind = "draw"
	KindIndeterminate ResultKind = "indeterminate"
)

// RoundResult is the structured outcome of scoring one round.
type RoundResult struct {
	Kind   ResultKind           `json:"kind"`
	Winner PlayerID             `json:"winner,omitempty"`
	Scores map[PlayerID]float64 `json:"scores,omitempty"`

	// MatchOver is the game-declared early-stop signal.
	MatchOver bool `json:"match_over,omitempty"`
}

// RawOutcome is the opaque payload produced by executing one round. The
// engine never interprets it; it is only handed back to the same adapter
// for scoring within the same round.
type RawOutcome struct {
	Payload []byte
	// Ref names where the payload came from inside the environment.
	Ref string
	// Log is the engine's stdout/stderr for the round, used for round-log
	// copy-in and trajectory artifacts.
	Log string
}

// RoundContext carries everything an adapter needs to run one round.
type RoundContext struct {
	MatchID string
	Round   int
	// Players is the set of validated, non-forfeiting players this round.
	Players []PlayerID
	Env     *environment.Session
	Timeout time.Duration
}

// Adapter is the per-game implementation of the three engine capabilities.
// Adapters are stateless across rounds except for state kept inside the
// environment itself.
type Adapter interface {
	// ID returns the game identifier used in configuration.
	ID() string

	// Validate checks one submission. It must be deterministic and must not
	// mutate the environment beyond read access.
	Validate(ctx context.Context, env *environment.Session, sub Submission) (ValidationResult, error)

	// Execute runs one round and must respect the context deadline.
	Execute(ctx context.Context, rc RoundContext) (RawOutcome, error)

	// Score derives a structured result from a raw outcome. It must be pure
	// given the raw outcome.
	Score(rc RoundContext, raw RawOutcome) (RoundResult, error)
}
