package api

import "github.com/carebridge/go-care-alerts/internal/models"

// voiceStatusMap is the closed translation table from vendor call-status
// vocabulary to the alert lifecycle. Vendor states with no entry (queued,
// initiated, ...) are intermediate noise and map to "do nothing"; an
// unknown vendor status must never break the flow. Busy and no-answer
// collapse to no_answer, failed and canceled to cancelled.
var voiceStatusMap = map[string]models.AlertStatus{
	"ringing":     models.StatusRinging,
	"in-progress": models.StatusAnswered,
	"completed":   models.StatusResolved,
	"busy":        models.StatusNoAnswer,
	"no-answer":   models.StatusNoAnswer,
	"failed":      models.StatusCancelled,
	"canceled":    models.StatusCancelled,
}

func mapVoiceStatus(vendor string) (models.AlertStatus, bool) {
	s, ok := voiceStatusMap[vendor]
	return s, ok
}
