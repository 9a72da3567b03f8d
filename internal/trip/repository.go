package trip

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]Trip, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, title, destination, start_date, end_date, notes, is_public, created_at, updated_at
		FROM trips
		WHERE owner_id = $1
		ORDER BY start_date DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	trips := make([]Trip, 0)
	for rows.Next() {
		var t Trip
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Destination, &t.StartDate, &t.EndDate, &t.Notes, &t.IsPublic, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trips: %w", err)
	}

	return trips, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (Trip, error) {
	var t Trip
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, destination, start_date, end_date, notes, is_public, created_at, updated_at
		FROM trips
		WHERE id = $1
	`, id).Scan(&t.ID, &t.OwnerID, &t.Title, &t.Destination, &t.StartDate, &t.EndDate, &t.Notes, &t.IsPublic, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Trip{}, err
		}
		return Trip{}, fmt.Errorf("query trip: %w", err)
	}

	return t, nil
}

func (r *Repository) Create(ctx context.Context, ownerID string, input TripInput) (Trip, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Trip{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	t := Trip{
		ID:          id.String(),
		OwnerID:     ownerID,
		Title:       input.Title,
		Destination: input.Destination,
		StartDate:   input.StartDate,
		EndDate:     input.EndDate,
		Notes:       input.Notes,
		IsPublic:    input.IsPublic,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO trips (id, owner_id, title, destination, start_date, end_date, notes, is_public, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, t.OwnerID, t.Title, t.Destination, t.StartDate, t.EndDate, t.Notes, t.IsPublic, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return Trip{}, fmt.Errorf("insert trip: %w", err)
	}

	return t, nil
}

func (r *Repository) Update(ctx context.Context, id, ownerID string, input TripInput) (Trip, error) {
	var t Trip
	err := r.db.QueryRowContext(ctx, `
		UPDATE trips
		SET title = $3, destination = $4, start_date = $5, end_date = $6, notes = $7, is_public = $8, updated_at = $9
		WHERE id = $1 AND owner_id = $2
		RETURNING id, owner_id, title, destination, start_date, end_date, notes, is_public, created_at, updated_at
	`, id, ownerID, input.Title, input.Destination, input.StartDate, input.EndDate, input.Notes, input.IsPublic, time.Now().UTC()).
		Scan(&t.ID, &t.OwnerID, &t.Title, &t.Destination, &t.StartDate, &t.EndDate, &t.Notes, &t.IsPublic, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Trip{}, err
		}
		return Trip{}, fmt.Errorf("update trip: %w", err)
	}

	return t, nil
}

func (r *Repository) Delete(ctx context.Context, id, ownerID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM trips WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete trip: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}
