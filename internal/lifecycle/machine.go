// Package lifecycle holds the alert status state machine: which status
// moves are legal and which milestone timestamp each move stamps. It is
// pure computation; persistence and webhooks live elsewhere.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/carebridge/go-care-alerts/internal/models"
)

type InvalidTransitionError struct {
	From models.AlertStatus
	To   models.AlertStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid alert transition: %s -> %s", e.From, e.To)
}

// transitions is the closed table of allowed moves. Escalation is only
// reachable from no_answer; terminal states allow nothing.
var transitions = map[models.AlertStatus][]models.AlertStatus{
	models.StatusInitiated: {models.StatusRinging, models.StatusCancelled},
	models.StatusRinging:   {models.StatusAnswered, models.StatusNoAnswer, models.StatusCancelled},
	models.StatusAnswered:  {models.StatusResolved, models.StatusCancelled},
	models.StatusNoAnswer:  {models.StatusEscalated, models.StatusCancelled},
	models.StatusEscalated: {models.StatusResolved, models.StatusCancelled},
	models.StatusResolved:  {},
	models.StatusCancelled: {},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to models.AlertStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// FromStates returns every status from which `to` is directly reachable.
// The repository uses this to build conditional updates that only succeed
// when the stored status still permits the move.
func FromStates(to models.AlertStatus) []models.AlertStatus {
	var from []models.AlertStatus
	for s, targets := range transitions {
		for _, t := range targets {
			if t == to {
				from = append(from, s)
			}
		}
	}
	return from
}

// Next validates a requested move. Re-requesting the status the alert is
// already in, once terminal, is an idempotent no-op (webhooks are
// delivered at least once); every other illegal pair fails.
func Next(current, requested models.AlertStatus) (models.AlertStatus, error) {
	if current.Terminal() && current == requested {
		return current, nil
	}
	if !CanTransition(current, requested) {
		return current, &InvalidTransitionError{From: current, To: requested}
	}
	return requested, nil
}

// Apply performs the transition on the alert, stamping the milestone
// timestamp that corresponds to the new status. Previously set timestamps
// are never overwritten. It returns false when the move was an idempotent
// terminal replay and nothing changed.
func Apply(a *models.Alert, requested models.AlertStatus, now time.Time) (bool, error) {
	next, err := Next(a.Status, requested)
	if err != nil {
		return false, err
	}
	if next == a.Status {
		return false, nil
	}

	a.Status = next
	switch next {
	case models.StatusAnswered:
		if a.AnsweredAt == nil {
			a.AnsweredAt = &now
		}
	case models.StatusEscalated:
		if a.EscalatedAt == nil {
			a.EscalatedAt = &now
		}
	case models.StatusResolved:
		if a.ResolvedAt == nil {
			a.ResolvedAt = &now
		}
	}
	return true, nil
}

// StampColumn maps a status to the milestone column it sets, or "" when
// the move stamps nothing.
func StampColumn(s models.AlertStatus) string {
	switch s {
	case models.StatusAnswered:
		return "answered_at"
	case models.StatusEscalated:
		return "escalated_at"
	case models.StatusResolved:
		return "resolved_at"
	}
	return ""
}
