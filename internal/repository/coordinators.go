package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/carebridge/go-care-alerts/internal/models"
)

func (s *SQLiteDB) AddCoordinator(ctx context.Context, c *models.Coordinator) error {
	if !models.ValidPhone(c.Phone) {
		return fmt.Errorf("invalid coordinator phone %q", c.Phone)
	}
	if c.BackupID != "" && c.BackupID == c.ID {
		return fmt.Errorf("coordinator %s cannot be its own backup", c.ID)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO coordinators (id, name, zone, phone, backup_id, active)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, zone = excluded.zone, phone = excluded.phone,
			backup_id = excluded.backup_id, active = excluded.active`,
		c.ID, c.Name, c.Zone, c.Phone, c.BackupID, c.Active,
	)
	if err != nil {
		return fmt.Errorf("error upserting coordinator %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteDB) GetCoordinator(ctx context.Context, id string) (*models.Coordinator, error) {
	var c models.Coordinator
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, zone, phone, backup_id, active FROM coordinators WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Zone, &c.Phone, &c.BackupID, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying coordinator %s: %w", id, err)
	}
	return &c, nil
}

func (s *SQLiteDB) FindCoordinatorAndBackup(ctx context.Context, alertID string) (*models.Coordinator, *models.Coordinator, error) {
	var coordinatorID string
	err := s.db.QueryRowContext(ctx,
		`SELECT coordinator_id FROM alerts WHERE id = ? AND deleted_at IS NULL`, alertID,
	).Scan(&coordinatorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("alert %s not found", alertID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("error resolving coordinator for alert %s: %w", alertID, err)
	}

	primary, err := s.GetCoordinator(ctx, coordinatorID)
	if err != nil {
		return nil, nil, err
	}
	if primary == nil {
		return nil, nil, fmt.Errorf("coordinator %s not found", coordinatorID)
	}

	if primary.BackupID == "" || primary.BackupID == primary.ID {
		return primary, nil, nil
	}
	backup, err := s.GetCoordinator(ctx, primary.BackupID)
	if err != nil {
		return nil, nil, err
	}
	return primary, backup, nil
}
