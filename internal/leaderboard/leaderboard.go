// Package leaderboard persists terminal match records and serves standings
// derived from them. Records are append-only and written at most once per
// match id, so replays and retries cannot double count.
package leaderboard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"codeclash/internal/stats"
	appErr "codeclash/pkg/errors"
)

const defaultOpTimeout = 5 * time.Second

// RedisConfig configures the record store.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Namespace string        `yaml:"namespace"`
	OpTimeout time.Duration `yaml:"opTimeout"`
}

// Store is a Redis-backed terminal record log.
type Store struct {
	client  redis.UniversalClient
	ns      string
	timeout time.Duration
}

// NewStore connects to Redis and verifies the connection.
func NewStore(cfg RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	s := newStore(client, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.LeaderboardStoreError, "ping redis %s", cfg.Addr)
	}
	return s, nil
}

// NewStoreWithClient wraps an existing client, mainly for tests.
func NewStoreWithClient(client redis.UniversalClient, cfg RedisConfig) *Store {
	return newStore(client, cfg)
}

func newStore(client redis.UniversalClient, cfg RedisConfig) *Store {
	ns := cfg.Namespace
	if ns == "" {
		ns = "codeclash"
	}
	timeout := cfg.OpTimeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Store{client: client, ns: ns, timeout: timeout}
}

func (s *Store) recordsKey() string { return s.ns + ":records" }

func (s *Store) guardKey(matchID string) string { return s.ns + ":published:" + matchID }

// Publish appends one terminal record. A record for the same match id is
// written exactly once; later calls are silently absorbed.
func (s *Store) Publish(ctx context.Context, rec *stats.MatchRecord) error {
	if rec == nil || rec.MatchID == "" {
		return appErr.ValidationError("record", "match id required")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return appErr.Wrapf(err, appErr.RecordEncodeFailed, "encode match record %s", rec.MatchID)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fresh, err := s.client.SetNX(ctx, s.guardKey(rec.MatchID), 1, 0).Result()
	if err != nil {
		return appErr.Wrapf(err, appErr.LeaderboardStoreError, "publish guard for %s", rec.MatchID)
	}
	if !fresh {
		return nil
	}
	if err := s.client.RPush(ctx, s.recordsKey(), data).Err(); err != nil {
		return appErr.Wrapf(err, appErr.LeaderboardStoreError, "append record %s", rec.MatchID)
	}
	return nil
}

// Records returns all published records in publish order.
func (s *Store) Records(ctx context.Context) ([]stats.MatchRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.client.LRange(ctx, s.recordsKey(), 0, -1).Result()
	if err != nil {
		return nil, appErr.Wrap(err, appErr.LeaderboardStoreError)
	}
	out := make([]stats.MatchRecord, 0, len(raw))
	for _, item := range raw {
		var rec stats.MatchRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, appErr.Wrap(err, appErr.RecordEncodeFailed)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Standings is the derived leaderboard view.
type Standings struct {
	WinRates []stats.WinRate  `json:"win_rates"`
	Elo      []stats.EloEntry `json:"elo"`
	Matches  int              `json:"matches"`
}

// Standings folds all published records into the leaderboard view.
func (s *Store) Standings(ctx context.Context) (Standings, error) {
	records, err := s.Records(ctx)
	if err != nil {
		return Standings{}, err
	}
	table := stats.NewEloTable(0, 0)
	for _, rec := range records {
		table.ApplyMatch(rec)
	}
	return Standings{
		WinRates: stats.WinRates(records),
		Elo:      table.Standings(),
		Matches:  len(records),
	}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
