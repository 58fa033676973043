package models

import "time"

// MessageLog records one SMS delivery receipt from the vendor.
// Receipts are kept for audit and metrics only; they never drive the
// alert lifecycle.
type MessageLog struct {
	ID         int64
	MessageSID string
	Status     string
	ErrorCode  string
	To         string
	ReceivedAt time.Time
}
