package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

// DefaultStream is the Redis stream audit entries are published to.
const DefaultStream = "presence:audit"

// StreamAdder is the part of *redis.Client the stream mirror needs.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStream publishes audit entries to a capped Redis stream.
type RedisStream struct {
	client  StreamAdder
	stream  string
	maxLen  int64
	timeout time.Duration
}

// NewRedisStream creates a stream mirror. A maxLen of zero keeps everything.
func NewRedisStream(client StreamAdder, stream string, maxLen int64) *RedisStream {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStream{client: client, stream: stream, maxLen: maxLen, timeout: 2 * time.Second}
}

func (r *RedisStream) Record(ctx context.Context, e schema.AuditEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode audit entry")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: r.maxLen > 0,
		Values: map[string]interface{}{
			"id":        e.ID,
			"action":    string(e.Action),
			"actor":     e.Actor,
			"line":      Line(e),
			"data":      string(data),
			"timestamp": strconv.FormatInt(e.Timestamp.Unix(), 10),
		},
	}).Err()
	return errors.Wrapf(err, "xadd %s", r.stream)
}
