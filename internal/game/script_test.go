package game

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	appErr "codeclash/pkg/errors"
)

func newScriptGame(t *testing.T, cfg Config) *ScriptGame {
	t.Helper()
	if cfg.RunCommand == "" {
		cfg.RunCommand = "./engine.sh {players} {sims} {result}"
	}
	adapter, err := NewScriptGame(cfg)
	if err != nil {
		t.Fatalf("NewScriptGame: %v", err)
	}
	return adapter.(*ScriptGame)
}

func TestNewScriptGameRejectsBadConfig(t *testing.T) {
	if _, err := NewScriptGame(Config{ID: "g"}); err == nil {
		t.Fatal("expected error for missing runCommand")
	}
	if _, err := NewScriptGame(Config{ID: "g", RunCommand: `run "broken`}); err == nil {
		t.Fatal("expected error for unbalanced quoting")
	}
}

func TestScoreWinner(t *testing.T) {
	g := newScriptGame(t, Config{ID: "dummy"})
	rc := RoundContext{Players: []PlayerID{"alpha", "beta"}}
	raw := RawOutcome{Payload: []byte(
		"engine chatter\nFINAL_RESULTS\nalpha: 61 rounds won\nbeta: 39 rounds won\n")}

	res, err := g.Score(rc, raw)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if res.Kind != KindWinner || res.Winner != "alpha" {
		t.Fatalf("result = %+v", res)
	}
	if res.Scores["alpha"] != 61 || res.Scores["beta"] != 39 {
		t.Fatalf("scores = %v", res.Scores)
	}
}

func TestScoreUsesLastResultsSection(t *testing.T) {
	g := newScriptGame(t, Config{ID: "dummy"})
	rc := RoundContext{Players: []PlayerID{"alpha", "beta"}}
	// Earlier FINAL_RESULTS blocks are engine noise; only the tail counts.
	raw := RawOutcome{Payload: []byte(
		"FINAL_RESULTS\nalpha: 99 rounds won\n...\nFINAL_RESULTS\nalpha: 10 rounds won\nbeta: 90 rounds won\n")}

	res, err := g.Score(rc, raw)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if res.Winner != "beta" || res.Scores["alpha"] != 10 {
		t.Fatalf("result = %+v", res)
	}
}

func TestScoreDrawOnTiedTop(t *testing.T) {
	g := newScriptGame(t, Config{ID: "dummy"})
	rc := RoundContext{Players: []PlayerID{"alpha", "beta"}}
	raw := RawOutcome{Payload: []byte("FINAL_RESULTS\nalpha: 50 rounds won\nbeta: 50 rounds won\n")}

	res, err := g.Score(rc, raw)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if res.Kind != KindDraw {
		t.Fatalf("result = %+v", res)
	}
}

func TestScoreIgnoresUnknownPlayers(t *testing.T) {
	g := newScriptGame(t, Config{ID: "dummy"})
	rc := RoundContext{Players: []PlayerID{"alpha"}}
	raw := RawOutcome{Payload: []byte("FINAL_RESULTS\nalpha: 3 rounds won\nintruder: 99 rounds won\n")}

	res, err := g.Score(rc, raw)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if res.Winner != "alpha" {
		t.Fatalf("result = %+v", res)
	}
	if _, ok := res.Scores["intruder"]; ok {
		t.Fatal("unknown player leaked into scores")
	}
}

func TestScoreEmptyIsIndeterminate(t *testing.T) {
	g := newScriptGame(t, Config{ID: "dummy"})
	rc := RoundContext{Players: []PlayerID{"alpha", "beta"}}

	res, err := g.Score(rc, RawOutcome{Payload: []byte("crash before results\n")})
	if res.Kind != KindIndeterminate {
		t.Fatalf("result = %+v", res)
	}
	if appErr.GetCode(err) != appErr.ScoringAmbiguous {
		t.Fatalf("err = %v, want ScoringAmbiguous", err)
	}
}

func TestValidateHostChecks(t *testing.T) {
	g := newScriptGame(t, Config{ID: "dummy"})
	ctx := context.Background()

	vr, err := g.Validate(ctx, nil, Submission{Player: "alpha", Path: "/does/not/exist"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if vr.OK {
		t.Fatal("missing submission validated")
	}

	empty := filepath.Join(t.TempDir(), "empty.py")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	vr, err = g.Validate(ctx, nil, Submission{Player: "alpha", Path: empty})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if vr.OK {
		t.Fatal("empty submission validated")
	}

	good := filepath.Join(t.TempDir(), "main.py")
	if err := os.WriteFile(good, []byte("print('hi')\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	vr, err = g.Validate(ctx, nil, Submission{Player: "alpha", Path: good})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !vr.OK {
		t.Fatalf("valid submission rejected: %s", vr.Reason)
	}
}

func TestStaticProviderRereadsEachRound(t *testing.T) {
	root := t.TempDir()
	provider := NewStaticProvider(root)
	ctx := context.Background()

	if _, err := provider.Next(ctx, "alpha", 0); appErr.GetCode(err) != appErr.SubmissionMissing {
		t.Fatalf("err = %v, want SubmissionMissing", err)
	}

	// The agent drops code between rounds; the next poll must see it.
	if err := os.MkdirAll(filepath.Join(root, "alpha"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	sub, err := provider.Next(ctx, "alpha", 1)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if sub.Round != 1 || sub.Path != filepath.Join(root, "alpha") {
		t.Fatalf("sub = %+v", sub)
	}
}

func TestChanProviderFallsBackToLastKnown(t *testing.T) {
	provider := NewChanProvider([]PlayerID{"alpha"})
	ctx := context.Background()

	provider.Offer(Submission{Player: "alpha", Path: "/v1"})
	sub, err := provider.Next(ctx, "alpha", 0)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if sub.Path != "/v1" {
		t.Fatalf("sub = %+v", sub)
	}

	// No fresh offer for round 1: the previous codebase carries over.
	sub, err = provider.Next(ctx, "alpha", 1)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if sub.Path != "/v1" || sub.Round != 1 {
		t.Fatalf("sub = %+v", sub)
	}

	// A fresh offer replaces any pending one.
	provider.Offer(Submission{Player: "alpha", Path: "/v2"})
	provider.Offer(Submission{Player: "alpha", Path: "/v3"})
	sub, err = provider.Next(ctx, "alpha", 2)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if sub.Path != "/v3" {
		t.Fatalf("sub = %+v, want the replacement offer", sub)
	}
}

func TestChanProviderConcurrentMatches(t *testing.T) {
	players := []PlayerID{"alpha", "beta", "gamma", "delta"}
	provider := NewChanProvider(players)
	ctx := context.Background()

	// One provider is shared by every concurrent arena, so each player's
	// poll loop runs in its own goroutine.
	var wg sync.WaitGroup
	for _, player := range players {
		wg.Add(1)
		go func(player PlayerID) {
			defer wg.Done()
			for round := 0; round < 20; round++ {
				provider.Offer(Submission{Player: player, Path: "/" + string(player)})
				sub, err := provider.Next(ctx, player, round)
				if err != nil {
					t.Errorf("Next(%s, %d): %v", player, round, err)
					return
				}
				if sub.Player != player || sub.Round != round {
					t.Errorf("sub = %+v", sub)
					return
				}
			}
		}(player)
	}
	wg.Wait()
}

func TestChanProviderTimesOutIntoForfeit(t *testing.T) {
	provider := NewChanProvider([]PlayerID{"alpha"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := provider.Next(ctx, "alpha", 0); appErr.GetCode(err) != appErr.SubmissionMissing {
		t.Fatalf("err = %v, want SubmissionMissing", err)
	}
}

func TestRegistryBuildsFreshAdapters(t *testing.T) {
	r := DefaultRegistry()
	if err := r.AddGame(Config{ID: "dummy", Kind: KindScript, RunCommand: "./engine.sh {players}"}); err != nil {
		t.Fatalf("AddGame: %v", err)
	}
	if err := r.AddGame(Config{ID: "bad", Kind: "nope"}); err == nil {
		t.Fatal("unknown kind accepted")
	}
	if !r.Has("dummy") || r.Has("bad") {
		t.Fatal("Has results wrong")
	}

	a1, err := r.Adapter("dummy")
	if err != nil {
		t.Fatalf("Adapter: %v", err)
	}
	a2, err := r.Adapter("dummy")
	if err != nil {
		t.Fatalf("Adapter: %v", err)
	}
	if a1 == a2 {
		t.Fatal("adapters must be per-match instances")
	}
	if _, err := r.Adapter("missing"); appErr.GetCode(err) != appErr.GameNotFound {
		t.Fatalf("err = %v, want GameNotFound", err)
	}
}
