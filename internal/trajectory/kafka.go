package trajectory

import (
	"context"

	"github.com/google/uuid"

	"codeclash/internal/common/mq"
	"codeclash/internal/stats"
	appErr "codeclash/pkg/errors"
)

const (
	headerRecordType = "record_type"
	headerGameID     = "game_id"

	recordTypeRound = "round"
	recordTypeMatch = "match"
)

// QueueSink publishes records to a message queue topic. The match id is the
// partitioning key, so all records of one match preserve round order.
type QueueSink struct {
	producer mq.Producer
	topic    string
}

// NewQueueSink wraps a producer for the given topic.
func NewQueueSink(producer mq.Producer, topic string) *QueueSink {
	return &QueueSink{producer: producer, topic: topic}
}

func (s *QueueSink) EmitRound(ctx context.Context, rec *Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	msg := mq.NewMessage(data)
	msg.ID = uuid.NewString()
	msg.Key = rec.MatchID
	msg.SetHeader(headerRecordType, recordTypeRound)
	msg.SetHeader(headerGameID, rec.GameID)
	if err := s.producer.Publish(ctx, s.topic, msg); err != nil {
		return appErr.Wrapf(err, appErr.RecordPublishFailed, "publish round %d of %s", rec.RoundIndex, rec.MatchID)
	}
	return nil
}

func (s *QueueSink) EmitMatch(ctx context.Context, rec *stats.MatchRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	msg := mq.NewMessage(data)
	msg.ID = uuid.NewString()
	msg.Key = rec.MatchID
	msg.SetHeader(headerRecordType, recordTypeMatch)
	msg.SetHeader(headerGameID, rec.GameID)
	if err := s.producer.Publish(ctx, s.topic, msg); err != nil {
		return appErr.Wrapf(err, appErr.RecordPublishFailed, "publish match record %s", rec.MatchID)
	}
	return nil
}

func (s *QueueSink) Close() error {
	return s.producer.Close()
}
