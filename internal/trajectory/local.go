package trajectory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"codeclash/internal/stats"
	appErr "codeclash/pkg/errors"
)

// LocalSink writes records under a directory tree mirroring the match
// layout, one JSON file per round plus a terminal record per match:
//
//	<dir>/<match_id>/rounds/round_<n>/results.json
//	<dir>/<match_id>/match.json
type LocalSink struct {
	dir string
}

// NewLocalSink creates the root directory if needed.
func NewLocalSink(dir string) (*LocalSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.ArtifactUploadFailed, "create trajectory dir")
	}
	return &LocalSink{dir: dir}, nil
}

func (s *LocalSink) EmitRound(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return appErr.CancelledError("trajectory emit cancelled")
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	roundDir := filepath.Join(s.dir, rec.MatchID, "rounds", fmt.Sprintf("round_%d", rec.RoundIndex))
	if err := os.MkdirAll(roundDir, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.ArtifactUploadFailed, "create round dir")
	}
	return s.writeFile(filepath.Join(roundDir, "results.json"), data)
}

func (s *LocalSink) EmitMatch(ctx context.Context, rec *stats.MatchRecord) error {
	if err := ctx.Err(); err != nil {
		return appErr.CancelledError("trajectory emit cancelled")
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	matchDir := filepath.Join(s.dir, rec.MatchID)
	if err := os.MkdirAll(matchDir, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.ArtifactUploadFailed, "create match dir")
	}
	return s.writeFile(filepath.Join(matchDir, "match.json"), data)
}

func (s *LocalSink) Close() error { return nil }

// writeFile writes through a temp file and rename so readers never observe
// a partially written record.
func (s *LocalSink) writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return appErr.Wrapf(err, appErr.ArtifactUploadFailed, "write record")
	}
	if err := os.Rename(tmp, path); err != nil {
		return appErr.Wrapf(err, appErr.ArtifactUploadFailed, "rename record")
	}
	return nil
}
