// Package trajectory emits per-round and terminal match records to pluggable
// sinks. Emission is best effort: a sink failure is logged and surfaced as a
// round error flag but never interrupts match progression.
package trajectory

import (
	"context"
	"encoding/json"
	"time"

	"codeclash/internal/game"
	"codeclash/internal/stats"
	appErr "codeclash/pkg/errors"
)

// Record is the durable per-round trajectory entry.
type Record struct {
	TournamentID  string                         `json:"tournament_id,omitempty"`
	MatchID       string                         `json:"match_id"`
	GameID        string                         `json:"game_id"`
	RoundIndex    int                            `json:"round_index"`
	Players       []game.PlayerID                `json:"players"`
	Validation    map[game.PlayerID]string       `json:"validation,omitempty"`
	Result        *game.RoundResult              `json:"result,omitempty"`
	RawOutcomeRef string                         `json:"raw_outcome_ref,omitempty"`
	EngineLog     string                         `json:"engine_log,omitempty"`
	DurationMs    int64                          `json:"duration_ms"`
	Errors        []string                       `json:"errors,omitempty"`
	EmittedAt     time.Time                      `json:"emitted_at"`
}

// Sink receives round records and terminal match records.
type Sink interface {
	EmitRound(ctx context.Context, rec *Record) error
	EmitMatch(ctx context.Context, rec *stats.MatchRecord) error
	Close() error
}

// MultiSink fans records out to several sinks. Every sink is attempted; the
// first error is returned after all attempts.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks. Nil entries are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &MultiSink{sinks: out}
}

func (m *MultiSink) EmitRound(ctx context.Context, rec *Record) error {
	var first error
	for _, s := range m.sinks {
		if err := s.EmitRound(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *MultiSink) EmitMatch(ctx context.Context, rec *stats.MatchRecord) error {
	var first error
	for _, s := range m.sinks {
		if err := s.EmitMatch(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *MultiSink) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func encodeRecord(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.RecordEncodeFailed, "encode trajectory record")
	}
	return data, nil
}
