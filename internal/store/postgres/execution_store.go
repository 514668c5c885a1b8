package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelin/cexarb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)

func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Create inserts one finished execution.
func (s *ExecutionStore) Create(ctx context.Context, rec domain.ExecutionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO executions (id, symbol, venue_a, venue_b, side_a, side_b, target_qty,
			leg_a_filled, leg_b_filled, delta_a, delta_b, action_taken, success, error,
			started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.ID, rec.Symbol, rec.VenueA, rec.VenueB, string(rec.SideA), string(rec.SideB),
		rec.TargetQty, rec.LegAFilled, rec.LegBFilled, rec.DeltaA, rec.DeltaB,
		string(rec.ActionTaken), rec.Success, rec.Err, rec.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution: %w", err)
	}
	return nil
}

// ListRecent returns the most recent executions, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, symbol, venue_a, venue_b, side_a, side_b, target_qty,
			leg_a_filled, leg_b_filled, delta_a, delta_b, action_taken, success, error,
			started_at, completed_at
		FROM executions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var list []domain.ExecutionRecord
	for rows.Next() {
		var rec domain.ExecutionRecord
		var sideA, sideB, action string
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.VenueA, &rec.VenueB, &sideA, &sideB,
			&rec.TargetQty, &rec.LegAFilled, &rec.LegBFilled, &rec.DeltaA, &rec.DeltaB,
			&action, &rec.Success, &rec.Err, &rec.StartedAt, &rec.CompletedAt); err != nil {
			return nil, err
		}
		rec.SideA = domain.Side(sideA)
		rec.SideB = domain.Side(sideB)
		rec.ActionTaken = domain.ExecutionAction(action)
		list = append(list, rec)
	}
	return list, rows.Err()
}
