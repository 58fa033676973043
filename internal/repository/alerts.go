package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carebridge/go-care-alerts/internal/lifecycle"
	"github.com/carebridge/go-care-alerts/internal/models"
)

const alertColumns = `id, client_id, staff_id, coordinator_id, type, status, call_sid,
	initiated_at, answered_at, escalated_at, resolved_at, outcome, deleted_at, created_at`

func (s *SQLiteDB) CreateAlert(ctx context.Context, a *models.Alert) error {
	query := fmt.Sprintf(`INSERT INTO alerts (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, alertColumns)

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.ClientID, a.StaffID, a.CoordinatorID, a.Type, a.Status,
		nullString(a.CallSID), a.InitiatedAt.UTC(),
		nullTime(a.AnsweredAt), nullTime(a.EscalatedAt), nullTime(a.ResolvedAt),
		a.Outcome, nullTime(a.DeletedAt), a.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("error inserting alert: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetAlertByID(ctx context.Context, id string) (*models.Alert, error) {
	query := fmt.Sprintf(`SELECT %s FROM alerts WHERE id = ? AND deleted_at IS NULL`, alertColumns)

	a, err := scanAlert(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying alert %s: %w", id, err)
	}
	return a, nil
}

func (s *SQLiteDB) ListAlerts(ctx context.Context, opts Filter) ([]models.Alert, error) {
	query := fmt.Sprintf(`SELECT %s FROM alerts WHERE deleted_at IS NULL`, alertColumns)
	var args []any

	if opts.Status != nil {
		query += ` AND status = ?`
		args = append(args, *opts.Status)
	}
	if opts.Since != nil {
		query += ` AND initiated_at >= ?`
		args = append(args, opts.Since.UTC())
	}
	query += ` ORDER BY initiated_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func (s *SQLiteDB) SetCallSID(ctx context.Context, alertID, callSID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET call_sid = ? WHERE id = ? AND call_sid IS NULL AND deleted_at IS NULL`,
		callSID, alertID,
	)
	if err != nil {
		return fmt.Errorf("error setting call sid for alert %s: %w", alertID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("alert %s not found or call sid already set", alertID)
	}
	return nil
}

// ApplyStatusByCallSID conditions the write on call sid, non-deleted, and a
// stored status from which the requested status is legally reachable. Two
// deliveries for the same call can race; the condition makes the second
// write a no-op instead of a lost update, so no locking is needed.
func (s *SQLiteDB) ApplyStatusByCallSID(ctx context.Context, callSID string, status models.AlertStatus, now time.Time) (*models.Alert, bool, error) {
	from := lifecycle.FromStates(status)
	if len(from) == 0 {
		return nil, false, fmt.Errorf("status %s is not reachable by any transition", status)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	set := `status = ?`
	args := []any{status}

	// Milestone columns are stamped at most once: COALESCE keeps an
	// earlier stamp if a duplicate delivery slips past the status guard.
	if col := lifecycle.StampColumn(status); col != "" {
		set += fmt.Sprintf(`, %s = COALESCE(%s, ?)`, col, col)
		args = append(args, now.UTC())
	}

	query := fmt.Sprintf(`UPDATE alerts SET %s
		WHERE call_sid = ? AND deleted_at IS NULL AND status IN (%s)
		RETURNING %s`, set, placeholders, alertColumns)
	args = append(args, callSID)
	for _, f := range from {
		args = append(args, f)
	}

	a, err := scanAlert(s.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("error applying status %s for call %s: %w", status, callSID, err)
	}

	// Nothing matched: either the sid is unknown (benign, vendor replay or
	// misdirected callback) or the stored status forbids the move. Fetch
	// the current row so the caller can log which case it was.
	current, err := s.getAlertByCallSID(ctx, callSID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (s *SQLiteDB) getAlertByCallSID(ctx context.Context, callSID string) (*models.Alert, error) {
	query := fmt.Sprintf(`SELECT %s FROM alerts WHERE call_sid = ? AND deleted_at IS NULL`, alertColumns)

	a, err := scanAlert(s.db.QueryRowContext(ctx, query, callSID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying alert by call sid: %w", err)
	}
	return a, nil
}

func (s *SQLiteDB) FindOverdue(ctx context.Context, q OverdueQuery) ([]models.Alert, error) {
	if len(q.Statuses) == 0 {
		return nil, nil
	}

	ref := "initiated_at"
	if q.Reference == RefAnswered {
		ref = "COALESCE(answered_at, initiated_at)"
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(q.Statuses)), ", ")
	query := fmt.Sprintf(`SELECT %s FROM alerts
		WHERE deleted_at IS NULL AND status IN (%s) AND %s < ?
		ORDER BY initiated_at ASC`, alertColumns, placeholders, ref)

	args := make([]any, 0, len(q.Statuses)+1)
	for _, st := range q.Statuses {
		args = append(args, st)
	}
	args = append(args, q.OlderThan.UTC())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying overdue alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning overdue alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// Escalate is a compare-and-swap: only an alert still in no_answer can be
// promoted, and the status flip and call sid repoint happen in one
// statement. A racing scheduler instance gets zero rows, never a second
// recorded escalation.
func (s *SQLiteDB) Escalate(ctx context.Context, alertID, newCallSID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = ?, escalated_at = COALESCE(escalated_at, ?), call_sid = ?
		 WHERE id = ? AND status = ? AND deleted_at IS NULL`,
		models.StatusEscalated, now.UTC(), newCallSID, alertID, models.StatusNoAnswer,
	)
	if err != nil {
		return false, fmt.Errorf("error escalating alert %s: %w", alertID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteDB) CancelAlert(ctx context.Context, alertID string) (bool, error) {
	from := lifecycle.FromStates(models.StatusCancelled)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")

	query := fmt.Sprintf(`UPDATE alerts SET status = ?
		WHERE id = ? AND deleted_at IS NULL AND status IN (%s)`, placeholders)
	args := []any{models.StatusCancelled, alertID}
	for _, f := range from {
		args = append(args, f)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("error cancelling alert %s: %w", alertID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteDB) ResolveOutcome(ctx context.Context, alertID, outcome string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET outcome = ? WHERE id = ? AND status = ? AND deleted_at IS NULL`,
		outcome, alertID, models.StatusResolved,
	)
	if err != nil {
		return fmt.Errorf("error recording outcome for alert %s: %w", alertID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("alert %s is not resolved", alertID)
	}
	return nil
}

func (s *SQLiteDB) SoftDeleteAlert(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("error deleting alert %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a         models.Alert
		callSID   sql.NullString
		answered  sql.NullTime
		escalated sql.NullTime
		resolved  sql.NullTime
		deleted   sql.NullTime
	)

	err := row.Scan(
		&a.ID, &a.ClientID, &a.StaffID, &a.CoordinatorID, &a.Type, &a.Status,
		&callSID, &a.InitiatedAt, &answered, &escalated, &resolved,
		&a.Outcome, &deleted, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.CallSID = callSID.String
	if answered.Valid {
		a.AnsweredAt = &answered.Time
	}
	if escalated.Valid {
		a.EscalatedAt = &escalated.Time
	}
	if resolved.Valid {
		a.ResolvedAt = &resolved.Time
	}
	if deleted.Valid {
		a.DeletedAt = &deleted.Time
	}
	return &a, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
