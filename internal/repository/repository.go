package repository

import (
	"context"
	"time"

	"github.com/carebridge/go-care-alerts/internal/models"
)

// Reference selects which timestamp an overdue scan measures the SLA from.
type Reference string

const (
	RefInitiated Reference = "initiated" // initiated_at (default)
	RefAnswered  Reference = "answered"  // answered_at, falling back to initiated_at
)

type Filter struct {
	Limit  int
	Status *models.AlertStatus
	Since  *time.Time
}

type OverdueQuery struct {
	Statuses  []models.AlertStatus
	OlderThan time.Time
	Reference Reference
}

type AlertRepository interface {
	CreateAlert(ctx context.Context, a *models.Alert) error
	GetAlertByID(ctx context.Context, id string) (*models.Alert, error)
	ListAlerts(ctx context.Context, opts Filter) ([]models.Alert, error)

	// SetCallSID records the vendor call identifier for the initial call
	// leg. It may be set only once per alert.
	SetCallSID(ctx context.Context, alertID, callSID string) error

	// ApplyStatusByCallSID performs a single conditional update keyed by
	// the vendor call identifier. The write succeeds only when a
	// non-deleted alert matches the sid and its stored status still
	// permits the move. It returns the matched alert (nil when the sid is
	// unknown) and whether a row was updated; callers treat updated=false
	// as a benign no-op.
	ApplyStatusByCallSID(ctx context.Context, callSID string, status models.AlertStatus, now time.Time) (*models.Alert, bool, error)

	// FindOverdue returns alerts in the given statuses whose reference
	// timestamp is older than the threshold.
	FindOverdue(ctx context.Context, q OverdueQuery) ([]models.Alert, error)

	// Escalate promotes an alert to escalated and repoints its call sid at
	// the backup call leg in one conditional write. It returns false when
	// the alert is no longer in no_answer, which makes double escalation
	// impossible even with concurrent schedulers.
	Escalate(ctx context.Context, alertID, newCallSID string, now time.Time) (bool, error)

	// CancelAlert moves an alert to cancelled from any non-terminal
	// status. It returns false when the alert is unknown or already
	// terminal.
	CancelAlert(ctx context.Context, alertID string) (bool, error)

	ResolveOutcome(ctx context.Context, alertID, outcome string) error
	SoftDeleteAlert(ctx context.Context, id string) error
}

type CoordinatorRepository interface {
	AddCoordinator(ctx context.Context, c *models.Coordinator) error
	GetCoordinator(ctx context.Context, id string) (*models.Coordinator, error)

	// FindCoordinatorAndBackup resolves the alert's assigned coordinator
	// and their configured backup. The backup is nil when none is
	// configured; callers check Active before dialing.
	FindCoordinatorAndBackup(ctx context.Context, alertID string) (*models.Coordinator, *models.Coordinator, error)
}

type MessageRepository interface {
	AddMessageLog(ctx context.Context, m *models.MessageLog) error
}

// CounterStore is the shared fixed-window counter used by the rate
// limiter. IncrementWindow must be atomic across connections: increment
// the counter for (key, windowStart), creating it at 1 when absent, and
// return the post-increment count.
type CounterStore interface {
	IncrementWindow(ctx context.Context, key string, windowStart int64) (int64, error)
	PruneWindowsBefore(ctx context.Context, cutoff int64) error
}
