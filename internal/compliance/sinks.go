package compliance

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"healthcare-portal/internal/docstore"
	"healthcare-portal/internal/model"
)

// RedisStreamSink appends events to a Redis stream for the remote audit
// service to consume.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamSink caps the stream at roughly maxLen entries (0 = no cap).
func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Write(ctx context.Context, ev AccessEvent) error {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: s.maxLen > 0,
		Values: map[string]interface{}{
			"timestamp":  ev.Timestamp.Format(time.RFC3339Nano),
			"user_id":    ev.UserID,
			"action":     ev.Action,
			"resource":   ev.Resource,
			"ip_address": ev.IPAddress,
		},
	}).Err()
}

// DocSink appends events to the auditLogs collection of the remote store.
type DocSink struct {
	docs docstore.Store
}

func NewDocSink(docs docstore.Store) *DocSink {
	return &DocSink{docs: docs}
}

func (s *DocSink) Write(ctx context.Context, ev AccessEvent) error {
	_, err := s.docs.Add(ctx, model.CollectionAuditLogs, map[string]any{
		"action":      ev.Action,
		"performedBy": ev.UserID,
		"resource":    ev.Resource,
		"ipAddress":   ev.IPAddress,
		"timestamp":   ev.Timestamp,
	})
	return err
}
