package arena

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"codeclash/internal/environment"
	"codeclash/internal/game"
	"codeclash/internal/stats"
	"codeclash/internal/trajectory"
	appErr "codeclash/pkg/errors"
)

// fakeRuntime counts lifecycle calls and can be told to fail provisioning.
type fakeRuntime struct {
	mu            sync.Mutex
	provisions    int
	teardowns     int
	failProvision bool
}

func (f *fakeRuntime) Provision(ctx context.Context, gameID string) (*environment.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failProvision {
		return nil, appErr.New(appErr.EnvironmentProvisionFailed)
	}
	f.provisions++
	return &environment.Handle{ID: fmt.Sprintf("env-%d", f.provisions), GameID: gameID, MountPoint: "players"}, nil
}

func (f *fakeRuntime) Install(context.Context, *environment.Handle, string, string) error {
	return nil
}

func (f *fakeRuntime) WriteFile(context.Context, *environment.Handle, string, []byte) error {
	return nil
}

func (f *fakeRuntime) Exec(context.Context, *environment.Handle, string, string) (environment.ExecResult, error) {
	return environment.ExecResult{}, nil
}

func (f *fakeRuntime) Health(context.Context, *environment.Handle) bool { return true }

func (f *fakeRuntime) Teardown(context.Context, *environment.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns++
	return nil
}

func (f *fakeRuntime) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.provisions, f.teardowns
}

// roundScript tells the fake adapter what to do for one round.
type roundScript struct {
	invalid  map[game.PlayerID]string
	execErr  error
	execWait bool
	result   game.RoundResult
}

type fakeAdapter struct {
	mu       sync.Mutex
	script   []roundScript
	executes int
	scores   int
}

func (f *fakeAdapter) ID() string { return "dummy" }

func (f *fakeAdapter) forRound(round int) roundScript {
	if round < len(f.script) {
		return f.script[round]
	}
	return roundScript{result: game.RoundResult{Kind: game.KindDraw}}
}

func (f *fakeAdapter) Validate(_ context.Context, _ *environment.Session, sub game.Submission) (game.ValidationResult, error) {
	if reason, bad := f.forRound(sub.Round).invalid[sub.Player]; bad {
		return game.ValidationResult{OK: false, Reason: reason}, nil
	}
	return game.ValidationResult{OK: true}, nil
}

func (f *fakeAdapter) Execute(ctx context.Context, rc game.RoundContext) (game.RawOutcome, error) {
	f.mu.Lock()
	f.executes++
	f.mu.Unlock()
	sc := f.forRound(rc.Round)
	if sc.execWait {
		<-ctx.Done()
		return game.RawOutcome{}, appErr.Wrapf(ctx.Err(), appErr.ExecutionTimeout, "round timed out")
	}
	if sc.execErr != nil {
		return game.RawOutcome{}, sc.execErr
	}
	return game.RawOutcome{Payload: []byte("ok"), Log: "round log"}, nil
}

func (f *fakeAdapter) Score(rc game.RoundContext, _ game.RawOutcome) (game.RoundResult, error) {
	f.mu.Lock()
	f.scores++
	f.mu.Unlock()
	return f.forRound(rc.Round).result, nil
}

type fakeProvider struct {
	missing map[game.PlayerID]bool
	// missingAt withholds a player's submission for specific rounds only.
	missingAt map[game.PlayerID]map[int]bool
}

func (f *fakeProvider) Next(_ context.Context, p game.PlayerID, round int) (game.Submission, error) {
	if f.missing[p] || f.missingAt[p][round] {
		return game.Submission{}, appErr.ForfeitError(appErr.SubmissionMissing, string(p), "no submission present")
	}
	return game.Submission{Player: p, Round: round, Path: "/tmp/" + string(p)}, nil
}

type recordingSink struct {
	mu      sync.Mutex
	rounds  []*trajectory.Record
	matches []*stats.MatchRecord
}

func (s *recordingSink) EmitRound(_ context.Context, rec *trajectory.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds = append(s.rounds, rec)
	return nil
}

func (s *recordingSink) EmitMatch(_ context.Context, rec *stats.MatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches = append(s.matches, rec)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func newTestArena(t *testing.T, rt *fakeRuntime, adapter *fakeAdapter, provider game.SubmissionProvider, sink trajectory.Sink, cfg Config) *Arena {
	t.Helper()
	a, err := New(Params{
		MatchID:  "match-1",
		Players:  []game.Player{{ID: "alpha"}, {ID: "beta"}},
		Game:     adapter,
		Envs:     environment.NewManager(rt, environment.ManagerConfig{ProvisionAttempts: 1, BackoffBase: time.Millisecond}),
		Provider: provider,
		Sink:     sink,
		Config:   cfg,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestMatchCompletesAllRounds(t *testing.T) {
	rt := &fakeRuntime{}
	adapter := &fakeAdapter{script: []roundScript{
		{result: game.RoundResult{Kind: game.KindWinner, Winner: "alpha", Scores: map[game.PlayerID]float64{"alpha": 2, "beta": 1}}},
		{result: game.RoundResult{Kind: game.KindWinner, Winner: "beta"}},
		{result: game.RoundResult{Kind: game.KindDraw}},
	}}
	sink := &recordingSink{}
	a := newTestArena(t, rt, adapter, &fakeProvider{}, sink, Config{MaxRounds: 3})

	rec := a.Run(context.Background())

	if rec.FinalState != stats.StateComplete {
		t.Fatalf("final state = %s, want COMPLETE", rec.FinalState)
	}
	if len(rec.Rounds) != 3 {
		t.Fatalf("rounds = %d, want 3", len(rec.Rounds))
	}
	alpha := rec.PlayerStats["alpha"]
	if alpha.Wins != 1 || alpha.Losses != 1 || alpha.Draws != 1 {
		t.Fatalf("alpha = %+v", alpha)
	}
	if a.State() != StateComplete {
		t.Fatalf("arena state = %s", a.State())
	}

	provisions, teardowns := rt.counts()
	if provisions != 1 || teardowns != 1 {
		t.Fatalf("provisions=%d teardowns=%d, want 1 each", provisions, teardowns)
	}
	if len(sink.rounds) != 3 || len(sink.matches) != 1 {
		t.Fatalf("emitted %d round, %d match records", len(sink.rounds), len(sink.matches))
	}
}

func TestMatchOverStopsEarly(t *testing.T) {
	rt := &fakeRuntime{}
	adapter := &fakeAdapter{script: []roundScript{
		{result: game.RoundResult{Kind: game.KindWinner, Winner: "alpha", MatchOver: true}},
	}}
	a := newTestArena(t, rt, adapter, &fakeProvider{}, nil, Config{MaxRounds: 5})

	rec := a.Run(context.Background())
	if rec.FinalState != stats.StateComplete {
		t.Fatalf("final state = %s", rec.FinalState)
	}
	if len(rec.Rounds) != 1 {
		t.Fatalf("rounds = %d, want 1 after early stop", len(rec.Rounds))
	}
}

func TestInvalidSubmissionForfeitsRound(t *testing.T) {
	rt := &fakeRuntime{}
	adapter := &fakeAdapter{script: []roundScript{
		{
			invalid: map[game.PlayerID]string{"beta": "syntax error"},
			result:  game.RoundResult{Kind: game.KindWinner, Winner: "alpha"},
		},
	}}
	a := newTestArena(t, rt, adapter, &fakeProvider{}, nil, Config{MaxRounds: 1})

	rec := a.Run(context.Background())
	if rec.FinalState != stats.StateComplete {
		t.Fatalf("final state = %s, forfeit must not abort", rec.FinalState)
	}
	rs := rec.Rounds[0]
	if len(rs.Forfeits) != 1 || rs.Forfeits[0] != "beta" {
		t.Fatalf("forfeits = %v", rs.Forfeits)
	}
	if !rs.HasFlag(stats.FlagInvalid) {
		t.Fatalf("flags = %v, want invalid_submission", rs.Errors)
	}
	if rec.PlayerStats["beta"].Forfeits != 1 || rec.PlayerStats["beta"].Losses != 0 {
		t.Fatalf("beta = %+v, forfeit must not count as loss", rec.PlayerStats["beta"])
	}
}

func TestMissingSubmissionForfeitsSingleRound(t *testing.T) {
	rt := &fakeRuntime{}
	adapter := &fakeAdapter{script: []roundScript{
		{result: game.RoundResult{Kind: game.KindWinner, Winner: "alpha"}},
		{result: game.RoundResult{Kind: game.KindWinner, Winner: "alpha"}},
		{result: game.RoundResult{Kind: game.KindWinner, Winner: "beta"}},
	}}
	provider := &fakeProvider{missingAt: map[game.PlayerID]map[int]bool{
		"beta": {1: true},
	}}
	a := newTestArena(t, rt, adapter, provider, nil, Config{MaxRounds: 3})

	rec := a.Run(context.Background())
	if rec.FinalState != stats.StateComplete {
		t.Fatalf("final state = %s, one-sided forfeit must not abort", rec.FinalState)
	}
	if len(rec.Rounds) != 3 {
		t.Fatalf("rounds = %d, the match must continue past the forfeit", len(rec.Rounds))
	}

	mid := rec.Rounds[1]
	if len(mid.Forfeits) != 1 || mid.Forfeits[0] != "beta" {
		t.Fatalf("round 1 forfeits = %v", mid.Forfeits)
	}
	if !mid.HasFlag(stats.FlagMissing) {
		t.Fatalf("round 1 flags = %v, want missing_submission", mid.Errors)
	}
	if len(rec.Rounds[0].Forfeits) != 0 || len(rec.Rounds[2].Forfeits) != 0 {
		t.Fatalf("surrounding rounds forfeits = %v / %v", rec.Rounds[0].Forfeits, rec.Rounds[2].Forfeits)
	}

	// The remaining player still plays the forfeited round out.
	if adapter.executes != 3 {
		t.Fatalf("executes = %d, want every round run", adapter.executes)
	}
	beta := rec.PlayerStats["beta"]
	if beta.Forfeits != 1 || beta.Losses != 1 || beta.Wins != 1 {
		t.Fatalf("beta = %+v, the forfeit must not count as a loss", beta)
	}
}

func TestMutualForfeitSkipsExecution(t *testing.T) {
	rt := &fakeRuntime{}
	adapter := &fakeAdapter{}
	provider := &fakeProvider{missing: map[game.PlayerID]bool{"alpha": true, "beta": true}}
	a := newTestArena(t, rt, adapter, provider, nil, Config{MaxRounds: 2})

	rec := a.Run(context.Background())
	if rec.FinalState != stats.StateComplete {
		t.Fatalf("final state = %s", rec.FinalState)
	}
	if len(rec.Rounds) != 2 {
		t.Fatalf("rounds = %d, mutual forfeits still count toward the match", len(rec.Rounds))
	}
	if adapter.executes != 0 || adapter.scores != 0 {
		t.Fatalf("adapter ran %d executes, %d scores on forfeited rounds", adapter.executes, adapter.scores)
	}
	for _, rs := range rec.Rounds {
		if !rs.HasFlag(stats.FlagMutualForfeit) {
			t.Fatalf("round %d flags = %v", rs.Index, rs.Errors)
		}
	}
}

func TestConsecutiveTimeoutsAbortMatch(t *testing.T) {
	rt := &fakeRuntime{}
	adapter := &fakeAdapter{script: []roundScript{
		{execWait: true},
		{execWait: true},
	}}
	a := newTestArena(t, rt, adapter, &fakeProvider{}, nil, Config{
		MaxRounds:      5,
		RoundTimeout:   20 * time.Millisecond,
		FaultThreshold: 2,
	})

	rec := a.Run(context.Background())
	if rec.FinalState != stats.StateAborted {
		t.Fatalf("final state = %s, want ABORTED", rec.FinalState)
	}
	if rec.AbortReason != AbortFaultLimit {
		t.Fatalf("abort reason = %s", rec.AbortReason)
	}
	if len(rec.Rounds) != 2 {
		t.Fatalf("rounds = %d, want exactly 2 faulted rounds", len(rec.Rounds))
	}
	for _, rs := range rec.Rounds {
		if !rs.HasFlag(stats.FlagTimeout) {
			t.Fatalf("round %d flags = %v, want timeout", rs.Index, rs.Errors)
		}
	}
	// The first fault recycles the environment; the second aborts instead.
	provisions, teardowns := rt.counts()
	if provisions != 2 {
		t.Fatalf("provisions = %d, want recycle after first fault", provisions)
	}
	if teardowns != 2 {
		t.Fatalf("teardowns = %d, want recycle plus terminal teardown", teardowns)
	}
}

func TestTimeoutRecoveryResetsFaultCounter(t *testing.T) {
	rt := &fakeRuntime{}
	adapter := &fakeAdapter{script: []roundScript{
		{execWait: true},
		{result: game.RoundResult{Kind: game.KindWinner, Winner: "alpha"}},
		{execWait: true},
	}}
	a := newTestArena(t, rt, adapter, &fakeProvider{}, nil, Config{
		MaxRounds:      3,
		RoundTimeout:   20 * time.Millisecond,
		FaultThreshold: 2,
	})

	rec := a.Run(context.Background())
	if rec.FinalState != stats.StateComplete {
		t.Fatalf("final state = %s, non-consecutive faults must not abort", rec.FinalState)
	}
	if len(rec.Rounds) != 3 {
		t.Fatalf("rounds = %d", len(rec.Rounds))
	}
}

func TestCancellationAbortsAndTearsDown(t *testing.T) {
	rt := &fakeRuntime{}
	adapter := &fakeAdapter{script: []roundScript{
		{result: game.RoundResult{Kind: game.KindWinner, Winner: "alpha"}},
		{execWait: true},
	}}
	a := newTestArena(t, rt, adapter, &fakeProvider{}, nil, Config{
		MaxRounds:    5,
		RoundTimeout: 10 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	rec := a.Run(ctx)
	if rec.FinalState != stats.StateAborted {
		t.Fatalf("final state = %s", rec.FinalState)
	}
	if rec.AbortReason != AbortCancelled {
		t.Fatalf("abort reason = %s", rec.AbortReason)
	}
	if len(rec.Rounds) != 1 {
		t.Fatalf("rounds = %d, only the completed round should be recorded", len(rec.Rounds))
	}
	if rec.Rounds[0].Winner != "alpha" {
		t.Fatalf("round 0 = %+v", rec.Rounds[0])
	}

	_, teardowns := rt.counts()
	if teardowns != 1 {
		t.Fatalf("teardowns = %d, want exactly one despite cancellation", teardowns)
	}
}

func TestProvisionFailureAbortsMatch(t *testing.T) {
	rt := &fakeRuntime{failProvision: true}
	adapter := &fakeAdapter{}
	a := newTestArena(t, rt, adapter, &fakeProvider{}, nil, Config{MaxRounds: 3})

	rec := a.Run(context.Background())
	if rec.FinalState != stats.StateAborted {
		t.Fatalf("final state = %s", rec.FinalState)
	}
	if rec.AbortReason != AbortProvisionFailed {
		t.Fatalf("abort reason = %s", rec.AbortReason)
	}
	if len(rec.Rounds) != 0 {
		t.Fatalf("rounds = %d, want none", len(rec.Rounds))
	}
	if adapter.executes != 0 {
		t.Fatal("adapter must not run without an environment")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.MaxRounds != 5 {
		t.Fatalf("MaxRounds = %d", cfg.MaxRounds)
	}
	if cfg.FaultThreshold != 2 {
		t.Fatalf("FaultThreshold = %d, want abort on the second consecutive fault", cfg.FaultThreshold)
	}
	if cfg.RoundTimeout != 10*time.Minute || cfg.SetupTimeout != 30*time.Second {
		t.Fatalf("timeouts = %v / %v", cfg.RoundTimeout, cfg.SetupTimeout)
	}
}

func TestNewRejectsBadParams(t *testing.T) {
	rt := &fakeRuntime{}
	mgr := environment.NewManager(rt, environment.ManagerConfig{})

	cases := []struct {
		name string
		p    Params
	}{
		{"no match id", Params{Players: []game.Player{{ID: "a"}, {ID: "b"}}, Game: &fakeAdapter{}, Envs: mgr, Provider: &fakeProvider{}}},
		{"one player", Params{MatchID: "m", Players: []game.Player{{ID: "a"}}, Game: &fakeAdapter{}, Envs: mgr, Provider: &fakeProvider{}}},
		{"duplicate players", Params{MatchID: "m", Players: []game.Player{{ID: "a"}, {ID: "a"}}, Game: &fakeAdapter{}, Envs: mgr, Provider: &fakeProvider{}}},
		{"no game", Params{MatchID: "m", Players: []game.Player{{ID: "a"}, {ID: "b"}}, Envs: mgr, Provider: &fakeProvider{}}},
		{"no provider", Params{MatchID: "m", Players: []game.Player{{ID: "a"}, {ID: "b"}}, Game: &fakeAdapter{}, Envs: mgr}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.p); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
