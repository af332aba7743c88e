package leaderboard

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"codeclash/internal/game"
	"codeclash/internal/stats"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStoreWithClient(client, RedisConfig{Namespace: "test"})
}

func record(matchID string, winnerWins int) *stats.MatchRecord {
	return &stats.MatchRecord{
		MatchID:    matchID,
		GameID:     "dummy",
		Players:    []game.PlayerID{"alpha", "beta"},
		FinalState: stats.StateComplete,
		PlayerStats: map[game.PlayerID]stats.PlayerStats{
			"alpha": {Player: "alpha", Wins: winnerWins, Rounds: winnerWins + 1},
			"beta":  {Player: "beta", Wins: 1, Rounds: winnerWins + 1},
		},
		Rounds: []stats.RoundStats{{Index: 0, Winner: "alpha"}},
	}
}

func TestPublishAndRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Publish(ctx, record("m1", 3)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := store.Publish(ctx, record("m2", 2)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	records, err := store.Records(ctx)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records", len(records))
	}
	if records[0].MatchID != "m1" || records[1].MatchID != "m2" {
		t.Fatalf("publish order lost: %s, %s", records[0].MatchID, records[1].MatchID)
	}
}

func TestPublishIsWriteOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := record("m1", 3)
	if err := store.Publish(ctx, rec); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// A replayed record must not double count.
	if err := store.Publish(ctx, rec); err != nil {
		t.Fatalf("second Publish: %v", err)
	}

	records, err := store.Records(ctx)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
}

func TestPublishRejectsEmptyMatchID(t *testing.T) {
	store := newTestStore(t)
	if err := store.Publish(context.Background(), &stats.MatchRecord{}); err == nil {
		t.Fatal("expected error for empty match id")
	}
}

func TestStandings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Publish(ctx, record("m1", 3)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := store.Publish(ctx, record("m2", 5)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	standings, err := store.Standings(ctx)
	if err != nil {
		t.Fatalf("Standings: %v", err)
	}
	if standings.Matches != 2 {
		t.Fatalf("matches = %d", standings.Matches)
	}
	if len(standings.WinRates) != 2 || standings.WinRates[0].Player != "alpha" {
		t.Fatalf("win rates = %+v", standings.WinRates)
	}
	if len(standings.Elo) != 2 {
		t.Fatalf("elo = %+v", standings.Elo)
	}
	if standings.Elo[0].Player != "alpha" {
		t.Fatalf("elo leader = %s", standings.Elo[0].Player)
	}
}
