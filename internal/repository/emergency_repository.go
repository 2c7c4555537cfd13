package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Kunalrpawar/crowd-management-sub001/internal/model"
)

const emergencyColumns = `
	id, severity, status,
	ST_Y(location) AS lat, ST_X(location) AS lon,
	description, assigned_facility,
	reported_at, dispatched_at, arrived_at, resolved_at`

func scanEmergency(row pgx.Row) (*model.MedicalEmergency, error) {
	e := &model.MedicalEmergency{}
	err := row.Scan(
		&e.ID, &e.Severity, &e.Status,
		&e.Location.Lat, &e.Location.Lon,
		&e.Description, &e.AssignedFacility,
		&e.Timestamps.Reported, &e.Timestamps.Dispatched, &e.Timestamps.Arrived, &e.Timestamps.Resolved,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// CreateEmergency inserts a new emergency.
func (s *PostgresStore) CreateEmergency(ctx context.Context, e *model.MedicalEmergency) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO medical_emergencies (
			id, severity, status, location, description, assigned_facility, reported_at
		)
		VALUES ($1, $2, $3, ST_SetSRID(ST_MakePoint($4, $5), 4326), $6, $7, $8)
	`,
		e.ID, e.Severity, e.Status,
		e.Location.Lon, e.Location.Lat, // ST_MakePoint takes (lon, lat)
		e.Description, e.AssignedFacility, e.Timestamps.Reported,
	)
	if err != nil {
		return fmt.Errorf("create emergency %s: %w", e.ID, err)
	}
	return nil
}

// GetEmergency fetches a single emergency by id.
func (s *PostgresStore) GetEmergency(ctx context.Context, id string) (*model.MedicalEmergency, error) {
	e, err := scanEmergency(s.pool.QueryRow(ctx,
		`SELECT `+emergencyColumns+` FROM medical_emergencies WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get emergency %s: %w", id, classifyPgError(err))
	}
	return e, nil
}

// UpdateEmergency locks the row, applies fn and writes back status,
// assignment and lifecycle timestamps.
func (s *PostgresStore) UpdateEmergency(
	ctx context.Context,
	id string,
	fn func(*model.MedicalEmergency) error,
) (*model.MedicalEmergency, error) {
	var updated *model.MedicalEmergency

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		e, err := scanEmergency(tx.QueryRow(ctx,
			`SELECT `+emergencyColumns+` FROM medical_emergencies WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return fmt.Errorf("lock emergency %s: %w", id, classifyPgError(err))
		}
		if err := fn(e); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE medical_emergencies
			SET status = $2, assigned_facility = $3,
			    dispatched_at = $4, arrived_at = $5, resolved_at = $6
			WHERE id = $1
		`, id, e.Status, e.AssignedFacility,
			e.Timestamps.Dispatched, e.Timestamps.Arrived, e.Timestamps.Resolved)
		if err != nil {
			return fmt.Errorf("update emergency %s: %w", id, classifyPgError(err))
		}
		updated = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
