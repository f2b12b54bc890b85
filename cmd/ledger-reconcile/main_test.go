package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/petvida/petvida-service/internal/apperr"
	"github.com/petvida/petvida-service/internal/billing"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// Mock implementations for testing

type mockLedger struct {
	events []*billing.Event
	err    error
	cutoff time.Time
}

func (m *mockLedger) ListStalled(ctx context.Context, cutoff time.Time) ([]*billing.Event, error) {
	m.cutoff = cutoff
	return m.events, m.err
}

type mockRedriver struct {
	mu       sync.Mutex
	outcomes map[string]billing.RecordOutcome
	errs     map[string]error
	seen     []string
}

func (m *mockRedriver) Redrive(ctx context.Context, ev *billing.Event) (*billing.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, ev.ID)
	if err := m.errs[ev.ID]; err != nil {
		return nil, err
	}
	outcome, ok := m.outcomes[ev.ID]
	if !ok {
		outcome = billing.Reclaimed
	}
	return &billing.Receipt{Outcome: outcome}, nil
}

type mockMetricsPublisher struct {
	values map[string]float64
	err    error
}

func (m *mockMetricsPublisher) PublishMetrics(ctx context.Context, values map[string]float64) error {
	m.values = values
	return m.err
}

func stalledEvents(ids ...string) []*billing.Event {
	events := make([]*billing.Event, 0, len(ids))
	for _, id := range ids {
		events = append(events, &billing.Event{ID: id, Type: billing.TypeCheckoutSessionCompleted})
	}
	return events
}

func setupTestDeps(ledger *mockLedger, redriver *mockRedriver, metrics *mockMetricsPublisher) {
	deps = &Dependencies{
		Ledger:   ledger,
		Redriver: redriver,
		Metrics:  metrics,
		Config: Config{
			Buffer:   10 * time.Minute,
			PoolSize: 2,
		},
		Now: func() time.Time { return testNow },
	}
}

func TestReconcile_RecoversStalledEvents(t *testing.T) {
	ledger := &mockLedger{events: stalledEvents("evt_1", "evt_2", "evt_3")}
	redriver := &mockRedriver{}
	metrics := &mockMetricsPublisher{}
	setupTestDeps(ledger, redriver, metrics)

	if err := reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile returned error: %v", err)
	}

	if !ledger.cutoff.Equal(testNow.Add(-10 * time.Minute)) {
		t.Errorf("expected cutoff ten minutes back, got %s", ledger.cutoff)
	}
	if len(redriver.seen) != 3 {
		t.Errorf("expected 3 redrives, got %d", len(redriver.seen))
	}
	if metrics.values[metricStalled] != 3 || metrics.values[metricRecovered] != 3 || metrics.values[metricErrors] != 0 {
		t.Errorf("unexpected metrics %v", metrics.values)
	}
}

func TestReconcile_CountsErrorsAndSkips(t *testing.T) {
	ledger := &mockLedger{events: stalledEvents("evt_ok", "evt_busy", "evt_done", "evt_fail")}
	redriver := &mockRedriver{
		outcomes: map[string]billing.RecordOutcome{
			"evt_busy": billing.InFlight,
			"evt_done": billing.Duplicate,
		},
		errs: map[string]error{
			"evt_fail": apperr.Wrap(apperr.IdentityProviderUnavailable, "identity.create", errors.New("503")),
		},
	}
	metrics := &mockMetricsPublisher{}
	setupTestDeps(ledger, redriver, metrics)

	if err := reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile returned error: %v", err)
	}

	if metrics.values[metricStalled] != 4 {
		t.Errorf("expected 4 stalled, got %v", metrics.values[metricStalled])
	}
	if metrics.values[metricRecovered] != 1 {
		t.Errorf("expected 1 recovered, got %v", metrics.values[metricRecovered])
	}
	if metrics.values[metricErrors] != 1 {
		t.Errorf("expected 1 error, got %v", metrics.values[metricErrors])
	}
}

func TestReconcile_NothingStalled(t *testing.T) {
	metrics := &mockMetricsPublisher{}
	setupTestDeps(&mockLedger{}, &mockRedriver{}, metrics)

	if err := reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile returned error: %v", err)
	}
	if metrics.values[metricStalled] != 0 {
		t.Errorf("expected zero stalled, got %v", metrics.values[metricStalled])
	}
}

func TestReconcile_ListFailure(t *testing.T) {
	redriver := &mockRedriver{}
	metrics := &mockMetricsPublisher{}
	setupTestDeps(&mockLedger{err: errors.New("throttled")}, redriver, metrics)

	if err := reconcile(context.Background()); err == nil {
		t.Fatal("expected error when listing fails")
	}
	if len(redriver.seen) != 0 {
		t.Error("expected no redrives")
	}
	if metrics.values != nil {
		t.Error("expected no metrics")
	}
}

func TestReconcile_MetricsFailure(t *testing.T) {
	setupTestDeps(&mockLedger{events: stalledEvents("evt_1")}, &mockRedriver{}, &mockMetricsPublisher{err: errors.New("denied")})

	if err := reconcile(context.Background()); err == nil {
		t.Fatal("expected error when metrics fail")
	}
}

func TestReconcile_ManyEventsUseBoundedPool(t *testing.T) {
	ids := make([]string, 25)
	for i := range ids {
		ids[i] = fmt.Sprintf("evt_%d", i)
	}
	redriver := &mockRedriver{}
	metrics := &mockMetricsPublisher{}
	setupTestDeps(&mockLedger{events: stalledEvents(ids...)}, redriver, metrics)

	if err := handler(context.Background()); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if len(redriver.seen) != 25 || metrics.values[metricRecovered] != 25 {
		t.Errorf("expected every event redriven, got %d", len(redriver.seen))
	}
}
