// Package publisher writes audit entries to the store and, optionally, to a
// streaming sink. Callers treat Emit errors as log-only: an audited operation
// that already committed is never rolled back because its entry failed.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"govconsent/internal/audit"
	auditmetrics "govconsent/internal/audit/metrics"
	"govconsent/pkg/domain"
	"govconsent/pkg/requestcontext"
)

// ErrBufferFull is returned in async mode when the buffer cannot take the entry.
var ErrBufferFull = errors.New("audit buffer full")

type Store interface {
	Append(ctx context.Context, entry audit.Entry) error
}

// Sink receives entries after they are persisted.
type Sink interface {
	Publish(ctx context.Context, entry audit.Entry) error
}

type Publisher struct {
	store   Store
	sink    Sink
	logger  *slog.Logger
	metrics *auditmetrics.Metrics

	buffer chan queued
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

type queued struct {
	ctx   context.Context
	entry audit.Entry
}

type Option func(*Publisher)

func WithSink(sink Sink) Option {
	return func(p *Publisher) {
		p.sink = sink
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *auditmetrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithAsyncBuffer moves persistence onto a background goroutine with a
// bounded queue. Close drains the queue.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.buffer = make(chan queued, size)
		}
	}
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Emit fills in id, timestamp and request id when unset, then persists.
func (p *Publisher) Emit(ctx context.Context, entry audit.Entry) error {
	if entry.ID.IsNil() {
		entry.ID = domain.NewAuditEntryID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = requestcontext.Now(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}

	if p.buffer == nil {
		return p.persist(ctx, entry)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return p.persist(ctx, entry)
	}

	select {
	case p.buffer <- queued{ctx: context.WithoutCancel(ctx), entry: entry}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.metrics.IncDropped()
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "audit buffer full, entry dropped",
				"action", entry.Action,
				"actor_id", entry.ActorID,
			)
		}
		return ErrBufferFull
	}
}

func (p *Publisher) persist(ctx context.Context, entry audit.Entry) error {
	start := time.Now()
	if err := p.store.Append(ctx, entry); err != nil {
		p.metrics.IncWriteFailure(entry.Action.String())
		return err
	}
	p.metrics.ObservePersist(time.Since(start).Seconds())
	p.metrics.IncWritten(entry.Action.String())

	if p.sink != nil {
		if err := p.sink.Publish(ctx, entry); err != nil {
			p.metrics.IncStreamFailure()
			if p.logger != nil {
				p.logger.WarnContext(ctx, "audit stream publish failed",
					"action", entry.Action,
					"entry_id", entry.ID.String(),
					"error", err,
				)
			}
		}
	}
	return nil
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for q := range p.buffer {
		if err := p.persist(q.ctx, q.entry); err != nil && p.logger != nil {
			p.logger.ErrorContext(q.ctx, "async audit write failed",
				"action", q.entry.Action,
				"error", err,
			)
		}
	}
}

// Close stops accepting entries and waits for queued ones to persist.
// Entries emitted after Close are persisted synchronously.
func (p *Publisher) Close() {
	if p.buffer == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.buffer)
	p.mu.Unlock()
	p.wg.Wait()
}
