// Package redisstream publishes queue events to a Redis stream.
package redisstream

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/refset/supportqueue/internal/queue"
)

// Publisher appends one stream entry per event with XADD.
type Publisher struct {
	rdb    redis.Cmdable
	stream string
	maxLen int64
}

// New returns a publisher writing to stream. A positive maxLen trims the
// stream approximately to that many entries.
func New(rdb redis.Cmdable, stream string, maxLen int64) *Publisher {
	return &Publisher{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (p *Publisher) Name() string { return "redis" }

// Publish adds events in order and stops at the first failure.
func (p *Publisher) Publish(ctx context.Context, events []queue.Event) error {
	for _, ev := range events {
		if err := p.rdb.XAdd(ctx, p.args(ev)).Err(); err != nil {
			return fmt.Errorf("xadd event %d to %s: %w", ev.Seq, p.stream, err)
		}
	}
	return nil
}

func (p *Publisher) args(ev queue.Event) *redis.XAddArgs {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: Values(ev),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return args
}

// Values flattens an event into stream fields in a fixed order.
func Values(ev queue.Event) []any {
	return []any{
		"seq", strconv.FormatInt(ev.Seq, 10),
		"kind", string(ev.Kind),
		"ticket_id", ev.TicketID,
		"terminal_id", ev.TerminalID,
		"team_id", ev.TeamID,
		"status", string(ev.Status),
		"at", ev.At.UTC().Format(time.RFC3339Nano),
	}
}
