package models

import "time"

type AlertType string

const (
	AlertTypeEmergency  AlertType = "emergency"
	AlertTypeFall       AlertType = "fall"
	AlertTypeMedication AlertType = "medication"
	AlertTypeAssistance AlertType = "assistance"
)

func (t AlertType) Valid() bool {
	switch t {
	case AlertTypeEmergency, AlertTypeFall, AlertTypeMedication, AlertTypeAssistance:
		return true
	}
	return false
}

type AlertStatus string

const (
	StatusInitiated AlertStatus = "initiated"
	StatusRinging   AlertStatus = "ringing"
	StatusAnswered  AlertStatus = "answered"
	StatusNoAnswer  AlertStatus = "no_answer"
	StatusEscalated AlertStatus = "escalated"
	StatusResolved  AlertStatus = "resolved"
	StatusCancelled AlertStatus = "cancelled"
)

// Terminal reports whether no further transition is permitted from s.
func (s AlertStatus) Terminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

type Alert struct {
	ID            string      `json:"id"`
	ClientID      string      `json:"client_id"` // care recipient
	StaffID       string      `json:"staff_id"`  // caregiver who triggered the alert
	CoordinatorID string      `json:"coordinator_id"`
	Type          AlertType   `json:"type"`
	Status        AlertStatus `json:"status"`
	CallSID       string      `json:"call_sid,omitempty"` // vendor call identifier, set once per call leg
	InitiatedAt   time.Time   `json:"initiated_at"`
	AnsweredAt    *time.Time  `json:"answered_at,omitempty"`
	EscalatedAt   *time.Time  `json:"escalated_at,omitempty"`
	ResolvedAt    *time.Time  `json:"resolved_at,omitempty"`
	Outcome       string      `json:"outcome,omitempty"`
	DeletedAt     *time.Time  `json:"-"`
	CreatedAt     time.Time   `json:"created_at"`
}
