package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/toolhire/platform/shared/models"
)

// ErrDuplicateLookup is returned when a record with the same id exists.
var ErrDuplicateLookup = errors.New("lookup already recorded")

// LookupRepository persists the postcode lookup audit log in PostgreSQL.
type LookupRepository struct {
	db *sql.DB
}

func NewLookupRepository(db *sql.DB) *LookupRepository {
	return &LookupRepository{db: db}
}

func (r *LookupRepository) Create(ctx context.Context, rec *models.LookupRecord) error {
	query := `
		INSERT INTO postcode_lookups (id, postcode, formatted_postcode, outcome, area, region, cached, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.Postcode, rec.FormattedPostcode, rec.Outcome,
		nullString(rec.Area), nullString(rec.Region), rec.Cached, rec.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateLookup
		}
		return fmt.Errorf("failed to record lookup: %w", err)
	}
	return nil
}

// ListRecent returns up to limit records, newest first.
func (r *LookupRepository) ListRecent(ctx context.Context, limit int) ([]models.LookupRecord, error) {
	query := `
		SELECT id, postcode, formatted_postcode, outcome, area, region, cached, created_at
		FROM postcode_lookups
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list lookups: %w", err)
	}
	defer rows.Close()

	records := []models.LookupRecord{}
	for rows.Next() {
		var rec models.LookupRecord
		var area, region sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.Postcode, &rec.FormattedPostcode, &rec.Outcome,
			&area, &region, &rec.Cached, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan lookup: %w", err)
		}
		rec.Area = area.String
		rec.Region = region.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list lookups: %w", err)
	}
	return records, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
