package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"payments-service/internal/model"
)

type OrphanRepository struct {
	pool *pgxpool.Pool
}

func NewOrphanRepository(pool *pgxpool.Pool) *OrphanRepository {
	return &OrphanRepository{pool: pool}
}

// Park keeps the first notification seen for a checkout id; later deliveries
// of the same id are dropped.
func (r *OrphanRepository) Park(ctx context.Context, orphan model.OrphanCallback) error {
	query := `INSERT INTO orphan_callback (checkout_id, payload, received_at)
	          VALUES ($1, $2, $3)
	          ON CONFLICT (checkout_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query, orphan.CheckoutID, string(orphan.Payload), orphan.ReceivedAt)
	return err
}

// Take removes and returns the parked notification for checkoutID.
func (r *OrphanRepository) Take(ctx context.Context, checkoutID string) (*model.OrphanCallback, error) {
	query := `DELETE FROM orphan_callback WHERE checkout_id = $1 RETURNING checkout_id, payload, received_at`

	var orphan model.OrphanCallback
	err := r.pool.QueryRow(ctx, query, checkoutID).Scan(&orphan.CheckoutID, &orphan.Payload, &orphan.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &orphan, nil
}

// Purge deletes notifications parked before cutoff and reports how many went.
func (r *OrphanRepository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM orphan_callback WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
