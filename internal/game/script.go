package game

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"codeclash/internal/environment"
	appErr "codeclash/pkg/errors"

	"github.com/google/shlex"
)

// KindScript is the adapter kind for engine-script games.
const KindScript = "script"

const defaultResultFile = "result.log"

// resultMarker separates engine chatter from the machine-readable tail of
// the result file.
const resultMarker = "FINAL_RESULTS"

var scoreLine = regexp.MustCompile(`^\s*(\S+):\s+(\d+)\s+rounds won`)

// ScriptGame drives a game whose engine is a command run inside the
// environment. The run command is a template; {players}, {sims} and
// {result} are substituted per round. The engine is expected to print a
// FINAL_RESULTS section with one "<player>: <n> rounds won" line per
// player into the result file.
type ScriptGame struct {
	id              string
	runCommand      string
	validateCommand string
	resultFile      string
	sims            int
}

// NewScriptGame builds a script adapter from configuration.
func NewScriptGame(cfg Config) (Adapter, error) {
	if cfg.RunCommand == "" {
		return nil, appErr.ValidationError("runCommand", "required")
	}
	// Catch quoting mistakes at configuration time, not mid-match.
	if _, err := shlex.Split(cfg.RunCommand); err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "unparseable runCommand for game %q", cfg.ID)
	}
	resultFile := cfg.ResultFile
	if resultFile == "" {
		resultFile = defaultResultFile
	}
	sims := cfg.SimsPerRound
	if sims <= 0 {
		sims = 1
	}
	return &ScriptGame{
		id:              cfg.ID,
		runCommand:      cfg.RunCommand,
		validateCommand: cfg.ValidateCommand,
		resultFile:      resultFile,
		sims:            sims,
	}, nil
}

func (g *ScriptGame) ID() string {
	return g.id
}

// Validate checks the submission artifact on the host and, when a validate
// command is configured, asks the engine to vet the installed copy.
func (g *ScriptGame) Validate(ctx context.Context, env *environment.Session, sub Submission) (ValidationResult, error) {
	info, err := os.Stat(sub.Path)
	if err != nil {
		return ValidationResult{OK: false, Reason: "submission not found"}, nil
	}
	if !info.IsDir() && info.Size() == 0 {
		return ValidationResult{OK: false, Reason: "submission is empty"}, nil
	}

	if g.validateCommand == "" {
		return ValidationResult{OK: true}, nil
	}

	cmd := strings.ReplaceAll(g.validateCommand, "{player}", string(sub.Player))
	res, err := env.Exec(ctx, cmd, "game")
	if err != nil {
		return ValidationResult{}, err
	}
	if res.ExitCode != 0 {
		return ValidationResult{OK: false, Reason: firstLine(res.Output)}, nil
	}
	return ValidationResult{OK: true}, nil
}

// Execute runs the engine command for one round and reads back the result
// file as the opaque outcome.
func (g *ScriptGame) Execute(ctx context.Context, rc RoundContext) (RawOutcome, error) {
	args := make([]string, 0, len(rc.Players))
	for _, p := range rc.Players {
		args = append(args, "../"+rc.Env.Handle().MountPoint+"/"+string(p))
	}

	cmd := g.runCommand
	cmd = strings.ReplaceAll(cmd, "{players}", strings.Join(args, " "))
	cmd = strings.ReplaceAll(cmd, "{sims}", strconv.Itoa(g.sims))
	cmd = strings.ReplaceAll(cmd, "{result}", g.resultFile)

	res, err := rc.Env.Exec(ctx, cmd, "game")
	if err != nil {
		return RawOutcome{}, err
	}
	if res.ExitCode != 0 {
		return RawOutcome{Log: res.Output},
			appErr.Newf(appErr.EngineExitError, "engine exited with code %d: %s", res.ExitCode, firstLine(res.Output))
	}

	out, err := rc.Env.Exec(ctx, "cat "+g.resultFile, "game")
	if err != nil {
		return RawOutcome{Log: res.Output}, err
	}
	if out.ExitCode != 0 {
		return RawOutcome{Log: res.Output}, appErr.New(appErr.ResultMissing)
	}

	return RawOutcome{
		Payload: []byte(out.Output),
		Ref:     "game/" + g.resultFile,
		Log:     res.Output,
	}, nil
}

// Score parses the FINAL_RESULTS section of the result payload. Equal top
// scores are a draw; an empty or unparseable section is indeterminate.
func (g *ScriptGame) Score(rc RoundContext, raw RawOutcome) (RoundResult, error) {
	text := string(raw.Payload)
	if idx := strings.LastIndex(text, resultMarker); idx >= 0 {
		text = text[idx+len(resultMarker):]
	}

	known := make(map[PlayerID]bool, len(rc.Players))
	for _, p := range rc.Players {
		known[p] = true
	}

	scores := make(map[PlayerID]float64)
	for _, line := range strings.Split(text, "\n") {
		m := scoreLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		player := PlayerID(m[1])
		if !known[player] {
			continue
		}
		won, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		scores[player] = float64(won)
	}

	if len(scores) == 0 {
		return RoundResult{Kind: KindIndeterminate},
			appErr.Newf(appErr.ScoringAmbiguous, "no scores in %s output", g.resultFile)
	}

	players := make([]PlayerID, 0, len(scores))
	for p := range scores {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i] < players[j] })

	best := players[0]
	tied := false
	for _, p := range players[1:] {
		switch {
		case scores[p] > scores[best]:
			best = p
			tied = false
		case scores[p] == scores[best]:
			tied = true
		}
	}

	if tied {
		return RoundResult{Kind: KindDraw, Scores: scores}, nil
	}
	return RoundResult{Kind: KindWinner, Winner: best, Scores: scores}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

var _ Adapter = (*ScriptGame)(nil)

// String implements fmt.Stringer for log output.
func (g *ScriptGame) String() string {
	return fmt.Sprintf("script-game(%s)", g.id)
}
