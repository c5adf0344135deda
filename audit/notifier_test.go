package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reinsurance-engine/audit"
	"github.com/warp/reinsurance-engine/insurance"
	"github.com/warp/reinsurance-engine/metrics"
)

type fakeStore struct {
	mu      sync.Mutex
	records []audit.Record
	err     error
}

func (f *fakeStore) AppendAudit(_ context.Context, r audit.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, r)
	return nil
}

func (f *fakeStore) ListAudit(_ context.Context, q audit.Query) ([]audit.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []audit.Record
	for _, r := range f.records {
		if q.EntityID == "" || r.EntityID == q.EntityID {
			out = append(out, r)
		}
	}
	return out, nil
}

func startNotifier(t *testing.T, n *audit.Notifier) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = n.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func policyEvent(id string) insurance.AuditEvent {
	actor := insurance.Actor{ID: "u1", IPAddress: "10.0.0.1"}
	return actor.Event(insurance.EntityPolicy, id, insurance.ActionCreate, nil,
		map[string]string{"status": "DRAFT"}, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
}

func TestNotifier_PersistsEncodedEvents(t *testing.T) {
	store := &fakeStore{}
	n := audit.NewNotifier(store)
	startNotifier(t, n)

	n.Record(context.Background(), policyEvent("p1"))
	require.NoError(t, n.Flush(context.Background()))

	records, err := n.Query(context.Background(), audit.Query{EntityID: "p1"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, insurance.EntityPolicy, rec.EntityType)
	assert.Equal(t, insurance.ActionCreate, rec.Action)
	assert.Equal(t, insurance.UserID("u1"), rec.PerformedBy)
	assert.Equal(t, "10.0.0.1", rec.IPAddress)
	assert.Nil(t, rec.OldValue)
	assert.JSONEq(t, `{"status":"DRAFT"}`, string(rec.NewValue))
}

func TestNotifier_StoreFailureIsSwallowed(t *testing.T) {
	// GIVEN: An audit store that is down
	store := &fakeStore{err: errors.New("connection refused")}
	m := metrics.New(prometheus.NewRegistry())
	n := audit.NewNotifier(store, audit.WithMetrics(m))
	startNotifier(t, n)

	// WHEN
	n.Record(context.Background(), policyEvent("p1"))

	// THEN: Caller is unaffected, failure is counted
	require.NoError(t, n.Flush(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditEvents.WithLabelValues("failed")))
}

func TestNotifier_FullQueueDrops(t *testing.T) {
	// GIVEN: A one-slot queue and no worker running
	m := metrics.New(prometheus.NewRegistry())
	n := audit.NewNotifier(&fakeStore{}, audit.WithBufferSize(1), audit.WithMetrics(m))

	// WHEN
	n.Record(context.Background(), policyEvent("p1"))
	n.Record(context.Background(), policyEvent("p2"))

	// THEN
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditEvents.WithLabelValues("dropped")))
}

func TestNotifier_RunDrainsOnShutdown(t *testing.T) {
	store := &fakeStore{}
	n := audit.NewNotifier(store)
	n.Record(context.Background(), policyEvent("p1"))
	n.Record(context.Background(), policyEvent("p2"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, n.Run(ctx))

	records, err := store.ListAudit(context.Background(), audit.Query{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestNotifier_FlushWhenIdleReturnsAtOnce(t *testing.T) {
	n := audit.NewNotifier(&fakeStore{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, n.Flush(ctx))
}

func TestNotifier_FlushConcurrentWithRecord(t *testing.T) {
	// GIVEN: Writers recording while other goroutines flush
	store := &fakeStore{}
	n := audit.NewNotifier(store)
	startNotifier(t, n)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				n.Record(context.Background(), policyEvent("p1"))
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, n.Flush(ctx))
			}
		}()
	}
	wg.Wait()

	// WHEN
	require.NoError(t, n.Flush(ctx))

	// THEN: Every event is persisted
	records, err := store.ListAudit(context.Background(), audit.Query{})
	require.NoError(t, err)
	assert.Len(t, records, 200)
}
