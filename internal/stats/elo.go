package stats

import (
	"math"
	"sort"

	"codeclash/internal/game"
)

const (
	defaultEloInitial = 1200.0
	defaultEloK       = 32.0
)

// EloTable maintains relative skill ratings over a sequence of matches.
// Unlike the per-player tallies this fold is order sensitive, so callers
// replay records in match order.
type EloTable struct {
	initial float64
	k       float64
	ratings map[game.PlayerID]float64
}

// NewEloTable creates a table with the given initial rating and K factor.
// Zero values select the defaults.
func NewEloTable(initial, k float64) *EloTable {
	if initial == 0 {
		initial = defaultEloInitial
	}
	if k == 0 {
		k = defaultEloK
	}
	return &EloTable{initial: initial, k: k, ratings: make(map[game.PlayerID]float64)}
}

// Rating returns the current rating for a player.
func (t *EloTable) Rating(p game.PlayerID) float64 {
	if r, ok := t.ratings[p]; ok {
		return r
	}
	return t.initial
}

// ExpectedScore returns the expected result for a against b.
func ExpectedScore(a, b float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (b-a)/400.0))
}

// ApplyMatch updates ratings from one terminal two-player record. Rounds with
// no declared result transfer no rating. Actual scores are taken from win
// counts and normalized so the pair sums to one per rated round.
func (t *EloTable) ApplyMatch(rec MatchRecord) {
	if len(rec.Players) != 2 {
		return
	}
	pa, pb := rec.Players[0], rec.Players[1]
	sa, sb := 0.0, 0.0
	rated := 0
	for _, rs := range rec.Rounds {
		switch {
		case rs.Indeterminate:
			continue
		case rs.Draw:
			sa += 0.5
			sb += 0.5
		case rs.Winner == pa:
			sa++
		case rs.Winner == pb:
			sb++
		default:
			continue
		}
		rated++
	}
	if rated == 0 {
		return
	}

	// Normalize to a single game outcome in [0, 1].
	actualA := sa / float64(rated)
	actualB := sb / float64(rated)

	ra, rb := t.Rating(pa), t.Rating(pb)
	ea := ExpectedScore(ra, rb)
	eb := ExpectedScore(rb, ra)
	t.ratings[pa] = ra + t.k*(actualA-ea)
	t.ratings[pb] = rb + t.k*(actualB-eb)
}

// EloEntry is one row of the rating leaderboard.
type EloEntry struct {
	Player game.PlayerID `json:"player"`
	Rating float64       `json:"rating"`
}

// Standings returns the rated players sorted by rating descending then name.
func (t *EloTable) Standings() []EloEntry {
	out := make([]EloEntry, 0, len(t.ratings))
	for p, r := range t.ratings {
		out = append(out, EloEntry{Player: p, Rating: r})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].Player < out[j].Player
	})
	return out
}
