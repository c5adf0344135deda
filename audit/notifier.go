/*
Package audit persists the change events emitted by lifecycle operations.

PURPOSE:
  Notifier implements insurance.AuditSink. Record never blocks and never
  fails the caller: events are encoded, queued on a bounded channel and
  written by a single worker goroutine (Run). A full queue drops the event;
  a failed write is logged. Both are counted in metrics.

FLOW:
  manager ──Record──▶ queue (buffered chan) ──Run──▶ Store.AppendAudit

STORES:
  - store/sqlite: default, same database as the entities
  - store/postgres: dedicated audit database (lib/pq)

SEE ALSO:
  - insurance/audit.go: AuditEvent and AuditSink
*/
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/reinsurance-engine/insurance"
	"github.com/warp/reinsurance-engine/logging"
	"github.com/warp/reinsurance-engine/metrics"
)

// Record is the persisted form of an insurance.AuditEvent. Old and new
// values are JSON snapshots.
type Record struct {
	ID          string
	EntityType  insurance.EntityType
	EntityID    string
	Action      insurance.AuditAction
	OldValue    json.RawMessage
	NewValue    json.RawMessage
	PerformedBy insurance.UserID
	PerformedAt time.Time
	IPAddress   string
}

// Query selects audit records. Empty fields match everything.
type Query struct {
	EntityType insurance.EntityType
	EntityID   string
	Limit      int
}

// Store persists audit records.
type Store interface {
	AppendAudit(ctx context.Context, r Record) error
	// ListAudit returns matching records, newest first.
	ListAudit(ctx context.Context, q Query) ([]Record, error)
}

const defaultBufferSize = 1024

// Notifier is an asynchronous insurance.AuditSink.
type Notifier struct {
	store   Store
	queue   chan Record
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	pending int
	idle    chan struct{} // closed while pending == 0
}

var _ insurance.AuditSink = (*Notifier)(nil)

type Option func(*Notifier)

func WithBufferSize(size int) Option {
	return func(n *Notifier) {
		if size > 0 {
			n.queue = make(chan Record, size)
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(n *Notifier) { n.logger = logging.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

func NewNotifier(store Store, opts ...Option) *Notifier {
	n := &Notifier{
		store:  store,
		queue:  make(chan Record, defaultBufferSize),
		logger: zap.NewNop(),
		idle:   make(chan struct{}),
	}
	close(n.idle)
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// Record encodes and enqueues the event. It returns immediately.
func (n *Notifier) Record(_ context.Context, event insurance.AuditEvent) {
	rec, err := encode(event)
	if err != nil {
		n.logger.Error("audit event encode failed",
			zap.String("entity_type", string(event.EntityType)),
			zap.String("entity_id", event.EntityID),
			zap.Error(err))
		n.metrics.IncAudit("failed")
		return
	}

	n.track()
	select {
	case n.queue <- rec:
	default:
		n.untrack()
		n.logger.Warn("audit queue full, event dropped",
			zap.String("entity_type", string(event.EntityType)),
			zap.String("entity_id", event.EntityID),
			zap.String("action", string(event.Action)))
		n.metrics.IncAudit("dropped")
	}
}

// Run writes queued records until ctx is cancelled, then drains what is
// already queued using a fresh context.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-n.queue:
			n.persist(ctx, rec)
		case <-ctx.Done():
			n.drain()
			return nil
		}
	}
}

func (n *Notifier) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case rec := <-n.queue:
			n.persist(ctx, rec)
		default:
			return
		}
	}
}

// Flush blocks until the queue is idle, or ctx ends. Events recorded
// while Flush waits are waited for too. Run must be active.
func (n *Notifier) Flush(ctx context.Context) error {
	n.mu.Lock()
	idle := n.idle
	n.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) track() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pending == 0 {
		n.idle = make(chan struct{})
	}
	n.pending++
}

func (n *Notifier) untrack() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending--
	if n.pending == 0 {
		close(n.idle)
	}
}

// Query lists persisted records.
func (n *Notifier) Query(ctx context.Context, q Query) ([]Record, error) {
	return n.store.ListAudit(ctx, q)
}

func (n *Notifier) persist(ctx context.Context, rec Record) {
	defer n.untrack()

	if err := n.store.AppendAudit(ctx, rec); err != nil {
		n.logger.Error("audit event persist failed",
			zap.String("entity_type", string(rec.EntityType)),
			zap.String("entity_id", rec.EntityID),
			zap.String("action", string(rec.Action)),
			zap.Error(err))
		n.metrics.IncAudit("failed")
		return
	}
	n.metrics.IncAudit("persisted")
}

func encode(event insurance.AuditEvent) (Record, error) {
	rec := Record{
		ID:          event.ID,
		EntityType:  event.EntityType,
		EntityID:    event.EntityID,
		Action:      event.Action,
		PerformedBy: event.PerformedBy,
		PerformedAt: event.PerformedAt.UTC(),
		IPAddress:   event.IPAddress,
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.PerformedAt.IsZero() {
		rec.PerformedAt = time.Now().UTC()
	}

	var err error
	if event.OldValue != nil {
		if rec.OldValue, err = json.Marshal(event.OldValue); err != nil {
			return Record{}, err
		}
	}
	if event.NewValue != nil {
		if rec.NewValue, err = json.Marshal(event.NewValue); err != nil {
			return Record{}, err
		}
	}
	return rec, nil
}
