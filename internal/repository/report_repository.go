package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Kunalrpawar/crowd-management-sub001/internal/model"
)

const reportColumns = `
	id, kind, status, name, gender, age, approximate_age,
	clothing_description, location_text,
	ST_Y(coordinates) AS lat, ST_X(coordinates) AS lon,
	matched_with, reporter_contact, created_at, updated_at`

func scanReport(row pgx.Row) (*model.PersonReport, error) {
	r := &model.PersonReport{}
	var lat, lon *float64

	if err := row.Scan(
		&r.ID, &r.Kind, &r.Status, &r.Name, &r.Gender, &r.Age, &r.ApproximateAge,
		&r.ClothingDescription, &r.LocationText,
		&lat, &lon,
		&r.MatchedWith, &r.ReporterContact, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lat != nil && lon != nil {
		r.Coordinates = &model.Location{Lat: *lat, Lon: *lon}
	}
	return r, nil
}

// pointArgs returns (lon, lat) for ST_MakePoint, or (nil, nil) for no point.
func pointArgs(loc *model.Location) (any, any) {
	if loc == nil {
		return nil, nil
	}
	return loc.Lon, loc.Lat
}

// CreateReport inserts a report. created_at/updated_at are assigned by the server.
func (s *PostgresStore) CreateReport(ctx context.Context, r *model.PersonReport) error {
	lon, lat := pointArgs(r.Coordinates)

	query := `
		INSERT INTO person_reports (
			id, kind, status, name, gender, age, approximate_age,
			clothing_description, location_text, coordinates, reporter_contact
		)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			CASE WHEN $10::float8 IS NULL THEN NULL
			     ELSE ST_SetSRID(ST_MakePoint($10, $11), 4326) END,
			$12
		)
		RETURNING created_at, updated_at
	`
	err := s.pool.QueryRow(ctx, query,
		r.ID, r.Kind, r.Status, r.Name, r.Gender, r.Age, r.ApproximateAge,
		r.ClothingDescription, r.LocationText, lon, lat, r.ReporterContact,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create report %s: %w", r.ID, err)
	}
	return nil
}

// GetReport fetches a single report by id.
func (s *PostgresStore) GetReport(ctx context.Context, id string) (*model.PersonReport, error) {
	query := `SELECT ` + reportColumns + ` FROM person_reports WHERE id = $1`

	r, err := scanReport(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, classifyPgError(err))
	}
	return r, nil
}

// ListReports returns reports matching f, oldest first.
//
// Uses the composite index idx_person_reports_kind_status_gender.
func (s *PostgresStore) ListReports(ctx context.Context, f ReportFilter) ([]model.PersonReport, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Kind != "" {
		add("kind = $%d", f.Kind)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Gender != "" {
		add("gender = $%d", f.Gender)
	}

	query := `SELECT ` + reportColumns + ` FROM person_reports`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []model.PersonReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpdateReport locks the row, applies fn and writes back the mutable columns.
func (s *PostgresStore) UpdateReport(
	ctx context.Context,
	id string,
	fn func(*model.PersonReport) error,
) (*model.PersonReport, error) {
	var updated *model.PersonReport

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		r, err := scanReport(tx.QueryRow(ctx,
			`SELECT `+reportColumns+` FROM person_reports WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return fmt.Errorf("lock report %s: %w", id, classifyPgError(err))
		}
		if err := fn(r); err != nil {
			return err
		}

		err = tx.QueryRow(ctx, `
			UPDATE person_reports
			SET status = $2, matched_with = $3, updated_at = now()
			WHERE id = $1
			RETURNING updated_at
		`, id, r.Status, r.MatchedWith).Scan(&r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update report %s: %w", id, classifyPgError(err))
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ResolveMatch resolves a missing/found pair in one transaction.
//
// Both rows are locked in id order so two confirmations touching the same
// reports cannot deadlock on lock ordering:
//
//	T1: BEGIN → SELECT a,b FOR UPDATE → (rows LOCKED) → UPDATE both → COMMIT
//	T2: BEGIN → SELECT a,b FOR UPDATE → (BLOCKS) → re-reads → resolved → ROLLBACK
//
// A reader therefore never sees one side resolved without the other.
func (s *PostgresStore) ResolveMatch(
	ctx context.Context,
	missingID, foundID string,
) (*model.PersonReport, *model.PersonReport, error) {
	var missing, found *model.PersonReport

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+reportColumns+`
			FROM person_reports
			WHERE id = ANY($1)
			ORDER BY id
			FOR UPDATE
		`, []string{missingID, foundID})
		if err != nil {
			return fmt.Errorf("lock reports: %w", classifyPgError(err))
		}
		for rows.Next() {
			r, err := scanReport(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan report: %w", err)
			}
			switch r.ID {
			case missingID:
				missing = r
			case foundID:
				found = r
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("lock reports: %w", classifyPgError(err))
		}

		if missing == nil || found == nil {
			return ErrNotFound
		}
		if missing.Kind != model.ReportMissing || found.Kind != model.ReportFound {
			return ErrKindMismatch
		}
		if missing.Status == model.ReportResolved || found.Status == model.ReportResolved {
			return ErrAlreadyResolved
		}

		for _, pair := range [][2]*model.PersonReport{{missing, found}, {found, missing}} {
			self, other := pair[0], pair[1]
			self.Status = model.ReportResolved
			self.MatchedWith = &other.ID
			err := tx.QueryRow(ctx, `
				UPDATE person_reports
				SET status = 'resolved', matched_with = $2, updated_at = now()
				WHERE id = $1
				RETURNING updated_at
			`, self.ID, other.ID).Scan(&self.UpdatedAt)
			if err != nil {
				return fmt.Errorf("resolve report %s: %w", self.ID, classifyPgError(err))
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return missing, found, nil
}
