package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stayloop/stayloop/libs/db"
	"github.com/stayloop/stayloop/services/booking-service/internal/model"
)

type BlockRepository struct {
	pool *db.Pool
}

func NewBlockRepository(pool *db.Pool) *BlockRepository {
	return &BlockRepository{pool: pool}
}

func (r *BlockRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// CreateMerged inserts a host block, absorbing any of the host's existing
// blocks that overlap or touch the new range. Re-blocking already-blocked
// dates is idempotent: the result is always one row covering the union.
func (r *BlockRepository) CreateMerged(ctx context.Context, tx pgx.Tx, blk *model.Block) (model.Block, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, start_date, end_date
		FROM property_blocks
		WHERE property_id = $1
			AND start_date <= $3 + interval '1 day'
			AND end_date >= $2 - interval '1 day'
		FOR UPDATE
	`, blk.PropertyID, blk.StartDate, blk.EndDate)
	if err != nil {
		return model.Block{}, err
	}

	start, end := blk.StartDate, blk.EndDate
	var absorbed []string
	for rows.Next() {
		var id string
		var s, e time.Time
		if err := rows.Scan(&id, &s, &e); err != nil {
			rows.Close()
			return model.Block{}, err
		}
		if s.Before(start) {
			start = s
		}
		if e.After(end) {
			end = e
		}
		absorbed = append(absorbed, id)
	}
	rows.Close()
	if rows.Err() != nil {
		return model.Block{}, rows.Err()
	}

	if len(absorbed) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM property_blocks WHERE id = ANY($1)`, absorbed); err != nil {
			return model.Block{}, err
		}
	}

	merged := model.Block{
		PropertyID: blk.PropertyID,
		HostID:     blk.HostID,
		StartDate:  start,
		EndDate:    end,
		Reason:     blk.Reason,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO property_blocks (property_id, host_id, start_date, end_date, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, merged.PropertyID, merged.HostID, merged.StartDate, merged.EndDate, merged.Reason).
		Scan(&merged.ID, &merged.CreatedAt)
	if err != nil {
		return model.Block{}, err
	}
	return merged, nil
}

// Delete removes a block, scoped to the owning host. Returns false when no
// such block exists for that host.
func (r *BlockRepository) Delete(ctx context.Context, propertyID, blockID, hostID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM property_blocks
		WHERE id = $1 AND property_id = $2 AND host_id = $3
	`, blockID, propertyID, hostID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListBlocks returns the host blocks on a property ending on or after the
// given day.
func (r *BlockRepository) ListBlocks(ctx context.Context, q Querier, propertyID string, from time.Time) ([]model.Block, error) {
	rows, err := q.Query(ctx, `
		SELECT id, property_id, host_id, start_date, end_date, reason, created_at
		FROM property_blocks
		WHERE property_id = $1 AND end_date >= $2
		ORDER BY start_date ASC
	`, propertyID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []model.Block
	for rows.Next() {
		var blk model.Block
		if err := rows.Scan(&blk.ID, &blk.PropertyID, &blk.HostID, &blk.StartDate, &blk.EndDate, &blk.Reason, &blk.CreatedAt); err != nil {
			return nil, err
		}
		blocks = append(blocks, blk)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return blocks, nil
}
