package redis

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/cassiomorais/cashier/internal/plugin/builtin"
	"github.com/redis/go-redis/v9"
)

// StreamProducer appends terminal payment results to a Redis stream for reconcilers to consume.
// Each stream is trimmed to roughly maxLen entries; zero keeps everything.
type StreamProducer struct {
	client redis.Cmdable
	maxLen int64
}

var _ builtin.Publisher = (*StreamProducer)(nil)

func NewStreamProducer(client redis.Cmdable, maxLen int64) *StreamProducer {
	return &StreamProducer{client: client, maxLen: maxLen}
}

func (p *StreamProducer) Publish(ctx context.Context, stream string, values map[string]any) error {
	fields := maps.Clone(values)
	if fields == nil {
		fields = map[string]any{}
	}
	fields["published_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	args := &redis.XAddArgs{Stream: stream, Values: fields}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish result to %s: %w", stream, err)
	}
	return nil
}
