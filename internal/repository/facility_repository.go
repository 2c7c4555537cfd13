package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Kunalrpawar/crowd-management-sub001/internal/model"
)

const facilityColumns = `
	id, name, type, status, is_active,
	ST_Y(coordinates) AS lat, ST_X(coordinates) AS lon,
	capacity_total, capacity_available, capacity_icu, capacity_general,
	updated_at`

func scanFacility(row pgx.Row) (*model.Facility, error) {
	f := &model.Facility{}
	err := row.Scan(
		&f.ID, &f.Name, &f.Type, &f.Status, &f.IsActive,
		&f.Coordinates.Lat, &f.Coordinates.Lon,
		&f.Capacity.Total, &f.Capacity.Available, &f.Capacity.ICU, &f.Capacity.General,
		&f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// CreateFacility inserts a new facility.
func (s *PostgresStore) CreateFacility(ctx context.Context, f *model.Facility) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO facilities (
			id, name, type, status, is_active, coordinates,
			capacity_total, capacity_available, capacity_icu, capacity_general
		)
		VALUES ($1, $2, $3, $4, $5, ST_SetSRID(ST_MakePoint($6, $7), 4326), $8, $9, $10, $11)
		RETURNING updated_at
	`,
		f.ID, f.Name, f.Type, f.Status, f.IsActive,
		f.Coordinates.Lon, f.Coordinates.Lat,
		f.Capacity.Total, f.Capacity.Available, f.Capacity.ICU, f.Capacity.General,
	).Scan(&f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create facility %s: %w", f.ID, err)
	}
	return nil
}

// GetFacility fetches a single facility by id.
func (s *PostgresStore) GetFacility(ctx context.Context, id string) (*model.Facility, error) {
	f, err := scanFacility(s.pool.QueryRow(ctx,
		`SELECT `+facilityColumns+` FROM facilities WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get facility %s: %w", id, classifyPgError(err))
	}
	return f, nil
}

// FindEligibleFacilitiesNear returns dispatchable facilities whose
// coordinates lie within radiusKm of point, closest first. The eligibility
// predicate matches model.Facility.Eligible and runs before LIMIT.
//
// Hits the GIST index idx_facilities_coordinates_gist via ST_DWithin on the
// geography cast, so the radius is in real meters.
//
// Complexity: O(log N) GIST scan + O(K) results.
func (s *PostgresStore) FindEligibleFacilitiesNear(
	ctx context.Context,
	point model.Location,
	radiusKm float64,
	limit int,
) ([]model.Facility, error) {
	query := `
		SELECT ` + facilityColumns + `
		FROM facilities
		WHERE ST_DWithin(
		        coordinates::geography,
		        ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography,
		        $3
		      )
		  AND is_active
		  AND status NOT IN ('full', 'closed')
		ORDER BY ST_Distance(
		    coordinates::geography,
		    ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography
		) ASC, id ASC
		LIMIT $4
	`
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, query, point.Lon, point.Lat, radiusKm*1000, limit)
	if err != nil {
		return nil, fmt.Errorf("find facilities near: %w", err)
	}
	defer rows.Close()

	var out []model.Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, fmt.Errorf("scan facility: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// UpdateFacility locks the row, applies fn and writes back status and capacity.
func (s *PostgresStore) UpdateFacility(
	ctx context.Context,
	id string,
	fn func(*model.Facility) error,
) (*model.Facility, error) {
	var updated *model.Facility

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		f, err := scanFacility(tx.QueryRow(ctx,
			`SELECT `+facilityColumns+` FROM facilities WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return fmt.Errorf("lock facility %s: %w", id, classifyPgError(err))
		}
		if err := fn(f); err != nil {
			return err
		}

		err = tx.QueryRow(ctx, `
			UPDATE facilities
			SET status = $2, is_active = $3,
			    capacity_total = $4, capacity_available = $5,
			    capacity_icu = $6, capacity_general = $7,
			    updated_at = now()
			WHERE id = $1
			RETURNING updated_at
		`, id, f.Status, f.IsActive,
			f.Capacity.Total, f.Capacity.Available, f.Capacity.ICU, f.Capacity.General,
		).Scan(&f.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update facility %s: %w", id, classifyPgError(err))
		}
		updated = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
