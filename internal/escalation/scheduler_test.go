package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/carebridge/go-care-alerts/internal/models"
	"github.com/carebridge/go-care-alerts/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockAlertRepo implements repository.AlertRepository for testing
type mockAlertRepo struct {
	mu     sync.Mutex
	alerts map[string]*models.Alert
}

func newMockAlertRepo() *mockAlertRepo {
	return &mockAlertRepo{alerts: make(map[string]*models.Alert)}
}

func (m *mockAlertRepo) CreateAlert(ctx context.Context, a *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.alerts[a.ID] = &cp
	return nil
}

func (m *mockAlertRepo) GetAlertByID(ctx context.Context, id string) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.alerts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (m *mockAlertRepo) ListAlerts(ctx context.Context, opts repository.Filter) ([]models.Alert, error) {
	return nil, nil
}

func (m *mockAlertRepo) SetCallSID(ctx context.Context, alertID, callSID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[alertID].CallSID = callSID
	return nil
}

func (m *mockAlertRepo) ApplyStatusByCallSID(ctx context.Context, callSID string, status models.AlertStatus, now time.Time) (*models.Alert, bool, error) {
	return nil, false, nil
}

func (m *mockAlertRepo) FindOverdue(ctx context.Context, q repository.OverdueQuery) ([]models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Alert
	for _, a := range m.alerts {
		for _, st := range q.Statuses {
			if a.Status == st && a.InitiatedAt.Before(q.OlderThan) {
				out = append(out, *a)
			}
		}
	}
	return out, nil
}

func (m *mockAlertRepo) Escalate(ctx context.Context, alertID, newCallSID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok || a.Status != models.StatusNoAnswer {
		return false, nil
	}
	a.Status = models.StatusEscalated
	a.EscalatedAt = &now
	a.CallSID = newCallSID
	return true, nil
}

func (m *mockAlertRepo) CancelAlert(ctx context.Context, alertID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok || a.Status.Terminal() {
		return false, nil
	}
	a.Status = models.StatusCancelled
	return true, nil
}

func (m *mockAlertRepo) ResolveOutcome(ctx context.Context, alertID, outcome string) error {
	return nil
}

func (m *mockAlertRepo) SoftDeleteAlert(ctx context.Context, id string) error {
	return nil
}

// mockCoordRepo implements repository.CoordinatorRepository
type mockCoordRepo struct {
	primary *models.Coordinator
	backup  *models.Coordinator
}

func (m *mockCoordRepo) AddCoordinator(ctx context.Context, c *models.Coordinator) error { return nil }

func (m *mockCoordRepo) GetCoordinator(ctx context.Context, id string) (*models.Coordinator, error) {
	return nil, nil
}

func (m *mockCoordRepo) FindCoordinatorAndBackup(ctx context.Context, alertID string) (*models.Coordinator, *models.Coordinator, error) {
	return m.primary, m.backup, nil
}

// mockDialer counts placed calls and can fail the first N attempts.
type mockDialer struct {
	calls     atomic.Int64
	failFirst atomic.Int64

	mu        sync.Mutex
	callbacks []string
}

func (m *mockDialer) PlaceCall(ctx context.Context, to, callbackURL string) (string, error) {
	n := m.calls.Add(1)
	if m.failFirst.Load() >= n {
		return "", errors.New("vendor unavailable")
	}
	m.mu.Lock()
	m.callbacks = append(m.callbacks, callbackURL)
	m.mu.Unlock()
	return fmt.Sprintf("CA_backup_%d", n), nil
}

func (m *mockDialer) lastCallback() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.callbacks) == 0 {
		return ""
	}
	return m.callbacks[len(m.callbacks)-1]
}

func overdueAlert(id string) *models.Alert {
	return &models.Alert{
		ID:            id,
		ClientID:      "client_1",
		StaffID:       "staff_1",
		CoordinatorID: "c1",
		Type:          models.AlertTypeEmergency,
		Status:        models.StatusNoAnswer,
		CallSID:       "CA_primary",
		InitiatedAt:   time.Now().Add(-time.Hour),
		CreatedAt:     time.Now().Add(-time.Hour),
	}
}

func activeBackupCoords() *mockCoordRepo {
	return &mockCoordRepo{
		primary: &models.Coordinator{ID: "c1", Phone: "+15550000001", BackupID: "c2", Active: true},
		backup:  &models.Coordinator{ID: "c2", Phone: "+15550000002", Active: true},
	}
}

func testConfig() Config {
	return Config{
		Interval:    10 * time.Millisecond,
		SLA:         time.Minute,
		Reference:   repository.RefInitiated,
		CallbackURL: "https://example.com/webhooks/voice/status",
	}
}

func TestScheduler_EscalatesOverdueAlertOnce(t *testing.T) {
	alerts := newMockAlertRepo()
	alerts.CreateAlert(context.Background(), overdueAlert("a1"))
	dialer := &mockDialer{}

	s := NewScheduler(testConfig(), alerts, activeBackupCoords(), dialer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	// Several ticks elapse; the alert must still be escalated exactly once.
	time.Sleep(100 * time.Millisecond)

	cancel()
	s.Stop()

	if got := dialer.calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 backup call, got %d", got)
	}

	a, _ := alerts.GetAlertByID(context.Background(), "a1")
	if a.Status != models.StatusEscalated {
		t.Errorf("expected escalated, got %s", a.Status)
	}
	if a.CallSID != "CA_backup_1" {
		t.Errorf("expected call sid repointed, got %q", a.CallSID)
	}
	if a.EscalatedAt == nil {
		t.Error("escalated_at not stamped")
	}
	// The backup leg carries the same alert_id logging hint the initial
	// call does.
	if want := "https://example.com/webhooks/voice/status?alert_id=a1"; dialer.lastCallback() != want {
		t.Errorf("expected callback %q, got %q", want, dialer.lastCallback())
	}
}

func TestScheduler_SkipsFreshAlerts(t *testing.T) {
	alerts := newMockAlertRepo()
	fresh := overdueAlert("a1")
	fresh.InitiatedAt = time.Now()
	alerts.CreateAlert(context.Background(), fresh)
	dialer := &mockDialer{}

	s := NewScheduler(testConfig(), alerts, activeBackupCoords(), dialer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	s.Stop()

	if got := dialer.calls.Load(); got != 0 {
		t.Errorf("fresh alert should not be escalated, got %d calls", got)
	}
}

func TestScheduler_NoBackupLeavesAlertPending(t *testing.T) {
	alerts := newMockAlertRepo()
	alerts.CreateAlert(context.Background(), overdueAlert("a1"))
	dialer := &mockDialer{}
	coords := &mockCoordRepo{
		primary: &models.Coordinator{ID: "c1", Phone: "+15550000001", Active: true},
	}

	s := NewScheduler(testConfig(), alerts, coords, dialer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	s.Stop()

	if got := dialer.calls.Load(); got != 0 {
		t.Errorf("no backup: expected 0 calls, got %d", got)
	}
	a, _ := alerts.GetAlertByID(context.Background(), "a1")
	if a.Status != models.StatusNoAnswer {
		t.Errorf("alert should remain no_answer, got %s", a.Status)
	}
}

func TestScheduler_InactiveBackupLeavesAlertPending(t *testing.T) {
	alerts := newMockAlertRepo()
	alerts.CreateAlert(context.Background(), overdueAlert("a1"))
	dialer := &mockDialer{}
	coords := activeBackupCoords()
	coords.backup.Active = false

	s := NewScheduler(testConfig(), alerts, coords, dialer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	s.Stop()

	if got := dialer.calls.Load(); got != 0 {
		t.Errorf("inactive backup: expected 0 calls, got %d", got)
	}
}

func TestScheduler_RetriesAfterDialFailure(t *testing.T) {
	alerts := newMockAlertRepo()
	alerts.CreateAlert(context.Background(), overdueAlert("a1"))
	dialer := &mockDialer{}
	dialer.failFirst.Store(2)

	s := NewScheduler(testConfig(), alerts, activeBackupCoords(), dialer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		a, _ := alerts.GetAlertByID(context.Background(), "a1")
		if a.Status == models.StatusEscalated {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	s.Stop()

	a, _ := alerts.GetAlertByID(context.Background(), "a1")
	if a.Status != models.StatusEscalated {
		t.Fatalf("expected escalation after dial retries, got %s", a.Status)
	}
	if calls := dialer.calls.Load(); calls < 3 {
		t.Errorf("expected at least 3 dial attempts, got %d", calls)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	alerts := newMockAlertRepo()
	dialer := &mockDialer{}

	s := NewScheduler(testConfig(), alerts, activeBackupCoords(), dialer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
		// Good
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler.Stop() timed out")
	}
}
