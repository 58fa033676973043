package repository

import (
	"context"
	"fmt"

	"github.com/carebridge/go-care-alerts/internal/models"
)

func (s *SQLiteDB) AddMessageLog(ctx context.Context, m *models.MessageLog) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO message_log (message_sid, status, error_code, recipient, received_at)
		 VALUES (?, ?, ?, ?, ?)`,
		m.MessageSID, m.Status, m.ErrorCode, m.To, m.ReceivedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("error inserting message log: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		m.ID = id
	}
	return nil
}
