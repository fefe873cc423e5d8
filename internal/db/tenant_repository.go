package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"payments-service/internal/model"
)

const tenantColumns = `id, display_name, credential, active, created_at`

type TenantRepository struct {
	pool *pgxpool.Pool
}

func NewTenantRepository(pool *pgxpool.Pool) *TenantRepository {
	return &TenantRepository{pool: pool}
}

func (r *TenantRepository) Create(ctx context.Context, tenant *model.Tenant) error {
	query := `INSERT INTO tenant (id, display_name, credential, active, created_at)
	          VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, tenant.ID, tenant.DisplayName, tenant.Credential, tenant.Active, tenant.CreatedAt)
	return translateError(err)
}

// EnsureTenant inserts tenant unless a row with its id already exists, and
// returns the stored row either way.
func (r *TenantRepository) EnsureTenant(ctx context.Context, tenant *model.Tenant) (*model.Tenant, error) {
	query := `INSERT INTO tenant (id, display_name, credential, active, created_at)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (id) DO NOTHING`
	if _, err := r.pool.Exec(ctx, query, tenant.ID, tenant.DisplayName, tenant.Credential, tenant.Active, tenant.CreatedAt); err != nil {
		return nil, translateError(err)
	}

	return r.GetByID(ctx, tenant.ID)
}

func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenant WHERE id = $1`
	return scanTenant(r.pool.QueryRow(ctx, query, id))
}

func (r *TenantRepository) GetActiveByCredential(ctx context.Context, credential string) (*model.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenant WHERE credential = $1 AND active`
	return scanTenant(r.pool.QueryRow(ctx, query, credential))
}

func (r *TenantRepository) Deactivate(ctx context.Context, displayName string) (*model.Tenant, error) {
	query := `UPDATE tenant SET active = FALSE WHERE display_name = $1 RETURNING ` + tenantColumns
	return scanTenant(r.pool.QueryRow(ctx, query, displayName))
}

func scanTenant(row pgx.Row) (*model.Tenant, error) {
	var t model.Tenant
	err := row.Scan(&t.ID, &t.DisplayName, &t.Credential, &t.Active, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
