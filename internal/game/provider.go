package game

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	appErr "codeclash/pkg/errors"
)

// SubmissionProvider is the external agent actor seen from the engine: at
// round setup the engine polls it (with a timeout) for each player's
// current submission. Absence is a forfeit for that round, never an abort.
type SubmissionProvider interface {
	Next(ctx context.Context, player PlayerID, round int) (Submission, error)
}

// StaticProvider serves submissions from a fixed directory layout,
// <root>/<player>, re-read every round so an out-of-band agent can replace
// code between rounds.
type StaticProvider struct {
	root string
}

// NewStaticProvider creates a directory-backed provider.
func NewStaticProvider(root string) *StaticProvider {
	return &StaticProvider{root: root}
}

func (p *StaticProvider) Next(ctx context.Context, player PlayerID, round int) (Submission, error) {
	if err := ctx.Err(); err != nil {
		return Submission{}, appErr.CancelledError("submission poll cancelled")
	}
	path := filepath.Join(p.root, string(player))
	if _, err := os.Stat(path); err != nil {
		return Submission{}, appErr.ForfeitError(appErr.SubmissionMissing, string(player), "no submission present")
	}
	return Submission{Player: player, Round: round, Path: path}, nil
}

// ChanProvider feeds submissions from a channel per player, for agents that
// push updates between rounds. Next blocks until a submission for the
// requested round arrives or the context expires.
type ChanProvider struct {
	updates map[PlayerID]chan Submission

	// mu guards last; one provider is shared by every concurrent match.
	mu   sync.Mutex
	last map[PlayerID]Submission
}

// NewChanProvider creates a push-based provider for the given players.
func NewChanProvider(players []PlayerID) *ChanProvider {
	updates := make(map[PlayerID]chan Submission, len(players))
	for _, p := range players {
		updates[p] = make(chan Submission, 1)
	}
	return &ChanProvider{
		updates: updates,
		last:    make(map[PlayerID]Submission, len(players)),
	}
}

// Offer submits a player's next code artifact. It replaces any pending one.
func (p *ChanProvider) Offer(sub Submission) {
	ch, ok := p.updates[sub.Player]
	if !ok {
		return
	}
	select {
	case ch <- sub:
	default:
		// Drain the stale pending submission, then queue the fresh one.
		select {
		case <-ch:
		default:
		}
		ch <- sub
	}
}

func (p *ChanProvider) Next(ctx context.Context, player PlayerID, round int) (Submission, error) {
	ch, ok := p.updates[player]
	if !ok {
		return Submission{}, appErr.ForfeitError(appErr.SubmissionMissing, string(player), "unknown player")
	}

	select {
	case sub := <-ch:
		return p.remember(sub, round), nil
	default:
	}

	// Round 0 must wait for an initial submission; later rounds fall back
	// to the player's previous code, matching how agents persist codebases
	// between rounds.
	p.mu.Lock()
	last, seen := p.last[player]
	p.mu.Unlock()
	if seen {
		last.Round = round
		return last, nil
	}

	select {
	case sub := <-ch:
		return p.remember(sub, round), nil
	case <-ctx.Done():
		return Submission{}, appErr.ForfeitError(appErr.SubmissionMissing, string(player), "timed out waiting for submission")
	}
}

func (p *ChanProvider) remember(sub Submission, round int) Submission {
	sub.Round = round
	p.mu.Lock()
	p.last[sub.Player] = sub
	p.mu.Unlock()
	return sub
}
