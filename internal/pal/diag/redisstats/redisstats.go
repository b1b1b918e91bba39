// Package redisstats periodically publishes scheduler snapshots to a
// Redis pub/sub channel for external dashboards: a channel-per-topic,
// context-cancellable background goroutine with cenkalti/backoff
// retrying transient publish errors. Diagnostic only: nothing in the
// scheduler or allocators depends on a Publisher running.
package redisstats

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-redis/redis/v8"

	"github.com/oriys/pal/internal/pal/logging"
)

const channelPrefix = "pal:scheduler:stats:"

// Snapshot is one published scheduler-state sample.
type Snapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	ReadyEventCount uint64    `json:"ready_event_count"`
	ParkedWorkers   int       `json:"parked_workers"`
	PerPoolERTR     []int32   `json:"per_pool_ertr"`
}

// SnapshotFunc produces the next Snapshot to publish; callers typically
// close over a *scheduler.Scheduler's exported counters.
type SnapshotFunc func() Snapshot

// Publisher periodically publishes Snapshot values produced by a
// SnapshotFunc to a Redis channel.
type Publisher struct {
	client  *redis.Client
	channel string
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPublisher starts a background goroutine that calls snap every
// interval and PUBLISHes the JSON-encoded result to topic's channel.
// Transient publish errors are retried with exponential backoff rather
// than dropped, since a dashboard missing one tick is more confusing
// than it catching up a few hundred milliseconds late.
func NewPublisher(client *redis.Client, topic string, interval time.Duration, snap SnapshotFunc) *Publisher {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		client:  client,
		channel: channelPrefix + topic,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go p.loop(ctx, interval, snap)
	return p
}

func (p *Publisher) loop(ctx context.Context, interval time.Duration, snap SnapshotFunc) {
	defer close(p.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := json.Marshal(snap())
			if err != nil {
				logging.Op().Error("redisstats: marshal snapshot failed", "err", err)
				continue
			}
			_, err = backoff.Retry(ctx, func() (struct{}, error) {
				return struct{}{}, p.client.Publish(ctx, p.channel, payload).Err()
			}, backoff.WithMaxTries(3))
			if err != nil {
				logging.Op().Warn("redisstats: publish failed after retries", "channel", p.channel, "err", err)
			}
		}
	}
}

// Close stops the publish loop and waits for it to exit. It does not
// close the underlying *redis.Client, which the caller owns.
func (p *Publisher) Close() {
	p.cancel()
	<-p.done
}
