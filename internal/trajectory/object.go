package trajectory

import (
	"bytes"
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"codeclash/internal/common/storage"
	"codeclash/internal/stats"
	appErr "codeclash/pkg/errors"
)

// ObjectSink uploads zstd-compressed records to object storage. Keys follow
// the round layout so artifacts can be joined with queue records by match id
// and round index:
//
//	trajectories/<match_id>/round_<n>.json.zst
//	trajectories/<match_id>/match.json.zst
type ObjectSink struct {
	store   storage.ObjectStorage
	bucket  string
	encoder *zstd.Encoder
}

// NewObjectSink creates a sink writing to the given bucket.
func NewObjectSink(store storage.ObjectStorage, bucket string) (*ObjectSink, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalError, "create zstd encoder")
	}
	return &ObjectSink{store: store, bucket: bucket, encoder: enc}, nil
}

func (s *ObjectSink) EmitRound(ctx context.Context, rec *Record) error {
	key := fmt.Sprintf("trajectories/%s/round_%d.json.zst", rec.MatchID, rec.RoundIndex)
	return s.upload(ctx, key, rec)
}

func (s *ObjectSink) EmitMatch(ctx context.Context, rec *stats.MatchRecord) error {
	key := fmt.Sprintf("trajectories/%s/match.json.zst", rec.MatchID)
	return s.upload(ctx, key, rec)
}

func (s *ObjectSink) Close() error {
	s.encoder.Close()
	return nil
}

func (s *ObjectSink) upload(ctx context.Context, key string, v any) error {
	data, err := encodeRecord(v)
	if err != nil {
		return err
	}
	compressed := s.encoder.EncodeAll(data, nil)
	err = s.store.PutObject(ctx, s.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), "application/zstd")
	if err != nil {
		return appErr.Wrapf(err, appErr.ArtifactUploadFailed, "upload %s", key)
	}
	return nil
}
