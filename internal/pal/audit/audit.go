// Package audit provides an optional async completion-audit sink:
// task completions are batched onto a buffered channel and flushed to
// Postgres by a background goroutine, using a pgxpool
// connect-then-ensure-schema bootstrap. Diagnostic only: no other
// component depends on a Sink existing, and a full channel drops
// records rather than applying backpressure to the scheduler.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/pal/internal/pal/logging"
)

// Config holds the sink's batching knobs.
type Config struct {
	DSN           string
	BatchSize     int           // records flushed per batch (default 100)
	BufferSize    int           // channel capacity (default 1000)
	FlushInterval time.Duration // periodic flush even if a batch isn't full (default 500ms)
	FlushTimeout  time.Duration // per-flush database deadline (default 5s)
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 500 * time.Millisecond
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 5 * time.Second
	}
	return c
}

// Record is one completed task's audit row.
type Record struct {
	TaskID      uint32
	ParentID    uint32
	PoolIndex   int
	DurationUs  int64
	CompletedAt time.Time
}

// Sink batches Records onto a channel and flushes them to Postgres
// from a single background goroutine, so Record() never blocks a
// worker on database I/O.
type Sink struct {
	pool *pgxpool.Pool
	cfg  Config

	records chan Record
	done    chan struct{}
}

// NewSink connects to cfg.DSN, ensures the audit table exists, and
// starts the background flush loop.
func NewSink(ctx context.Context, cfg Config) (*Sink, error) {
	cfg = cfg.withDefaults()
	if cfg.DSN == "" {
		return nil, fmt.Errorf("audit: DSN is required")
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS task_completions (
		task_id     BIGINT NOT NULL,
		parent_id   BIGINT NOT NULL,
		pool_index  INTEGER NOT NULL,
		duration_us BIGINT NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL
	)`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ensure schema: %w", err)
	}

	s := &Sink{
		pool:    pool,
		cfg:     cfg,
		records: make(chan Record, cfg.BufferSize),
		done:    make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

// Record enqueues a completion record without blocking; if the buffer
// is full, the record is dropped and logged rather than applying
// backpressure to the caller.
func (s *Sink) Record(r Record) {
	select {
	case s.records <- r:
	default:
		logging.Op().Warn("audit: record buffer full, dropping completion", "task_id", r.TaskID)
	}
}

func (s *Sink) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, s.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
		if err := s.flush(ctx, batch); err != nil {
			logging.Op().Error("audit: flush failed", "count", len(batch), "err", err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-s.records:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *Sink) flush(ctx context.Context, batch []Record) error {
	rows := make([][]any, len(batch))
	for i, r := range batch {
		rows[i] = []any{r.TaskID, r.ParentID, r.PoolIndex, r.DurationUs, r.CompletedAt}
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"task_completions"},
		[]string{"task_id", "parent_id", "pool_index", "duration_us", "completed_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// Close drains and flushes any pending records, then closes the pool.
func (s *Sink) Close() {
	close(s.records)
	<-s.done
	s.pool.Close()
}
