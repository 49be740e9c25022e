package repository

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/zapflow/zapflow-backend/internal/model"
)

type RestrictionRepositoryInterface interface {
	FindActive(tenantID int, phones []string, now time.Time) ([]*model.Restriction, error)
}

// RestrictionRepository is read-only from the engine's perspective; entries
// are written by a separate administrative flow.
type RestrictionRepository struct {
	DB *sql.DB
}

// FindActive returns the tenant's unexpired restrictions matching any of
// phones. Scoped by tenant only: a restriction against one channel blocks
// sending from every channel of the tenant.
func (r *RestrictionRepository) FindActive(tenantID int, phones []string, now time.Time) ([]*model.Restriction, error) {
	if len(phones) == 0 {
		return []*model.Restriction{}, nil
	}
	query := `
        SELECT id, tenant_id, phone, category, expires_at, created_at
        FROM restrictions
        WHERE tenant_id = $1
          AND phone = ANY($2)
          AND (expires_at IS NULL OR expires_at > $3)
    `
	rows, err := r.DB.Query(query, tenantID, pq.Array(phones), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*model.Restriction{}
	for rows.Next() {
		var e model.Restriction
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Phone, &e.Category, &e.ExpiresAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

var _ RestrictionRepositoryInterface = (*RestrictionRepository)(nil)
