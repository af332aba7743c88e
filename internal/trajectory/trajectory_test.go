package trajectory

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"codeclash/internal/common/mq"
	"codeclash/internal/game"
	"codeclash/internal/stats"
)

func TestLocalSinkRoundLayout(t *testing.T) {
	sink, err := NewLocalSink(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalSink: %v", err)
	}
	rec := &Record{
		MatchID:    "m1",
		GameID:     "dummy",
		RoundIndex: 2,
		Players:    []game.PlayerID{"alpha", "beta"},
		Result:     &game.RoundResult{Kind: game.KindWinner, Winner: "alpha"},
	}
	if err := sink.EmitRound(context.Background(), rec); err != nil {
		t.Fatalf("EmitRound: %v", err)
	}

	path := filepath.Join(sink.dir, "m1", "rounds", "round_2", "results.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	var got Record
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Result == nil || got.Result.Winner != "alpha" {
		t.Fatalf("round-tripped record = %+v", got)
	}
}

func TestLocalSinkMatchRecord(t *testing.T) {
	sink, err := NewLocalSink(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalSink: %v", err)
	}
	rec := &stats.MatchRecord{MatchID: "m2", GameID: "dummy", FinalState: stats.StateComplete}
	if err := sink.EmitMatch(context.Background(), rec); err != nil {
		t.Fatalf("EmitMatch: %v", err)
	}
	if _, err := os.Stat(filepath.Join(sink.dir, "m2", "match.json")); err != nil {
		t.Fatalf("match record missing: %v", err)
	}
}

type fakeProducer struct {
	published []*mq.Message
	topics    []string
	err       error
}

func (f *fakeProducer) Publish(_ context.Context, topic string, msg *mq.Message) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeProducer) PublishBatch(ctx context.Context, topic string, msgs []*mq.Message) error {
	for _, m := range msgs {
		if err := f.Publish(ctx, topic, m); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeProducer) Ping(context.Context) error { return nil }
func (f *fakeProducer) Close() error               { return nil }

func TestQueueSinkKeyAndHeaders(t *testing.T) {
	producer := &fakeProducer{}
	sink := NewQueueSink(producer, "trajectories")

	rec := &Record{MatchID: "m3", GameID: "dummy", RoundIndex: 0}
	if err := sink.EmitRound(context.Background(), rec); err != nil {
		t.Fatalf("EmitRound: %v", err)
	}

	if len(producer.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(producer.published))
	}
	msg := producer.published[0]
	if msg.Key != "m3" {
		t.Fatalf("partition key = %q, want match id", msg.Key)
	}
	if rt, _ := msg.GetHeader(headerRecordType); rt != recordTypeRound {
		t.Fatalf("record_type header = %q", rt)
	}
	if producer.topics[0] != "trajectories" {
		t.Fatalf("topic = %q", producer.topics[0])
	}
}

type failingSink struct{ err error }

func (f *failingSink) EmitRound(context.Context, *Record) error            { return f.err }
func (f *failingSink) EmitMatch(context.Context, *stats.MatchRecord) error { return f.err }
func (f *failingSink) Close() error                                        { return nil }

type countingSink struct{ rounds, matches int }

func (c *countingSink) EmitRound(context.Context, *Record) error { c.rounds++; return nil }
func (c *countingSink) EmitMatch(context.Context, *stats.MatchRecord) error {
	c.matches++
	return nil
}
func (c *countingSink) Close() error { return nil }

func TestMultiSinkAttemptsAllSinks(t *testing.T) {
	boom := errors.New("boom")
	counting := &countingSink{}
	multi := NewMultiSink(&failingSink{err: boom}, counting, nil)

	err := multi.EmitRound(context.Background(), &Record{MatchID: "m4"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want first sink failure", err)
	}
	if counting.rounds != 1 {
		t.Fatal("second sink was not attempted after first failed")
	}

	if err := multi.EmitMatch(context.Background(), &stats.MatchRecord{MatchID: "m4"}); !errors.Is(err, boom) {
		t.Fatalf("EmitMatch err = %v", err)
	}
	if counting.matches != 1 {
		t.Fatal("second sink missed match record")
	}
}
