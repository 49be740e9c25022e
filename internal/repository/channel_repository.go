package repository

import (
	"database/sql"

	"github.com/lib/pq"

	"github.com/zapflow/zapflow-backend/internal/model"
)

type ChannelRepositoryInterface interface {
	GetByID(id int) (*model.Channel, error)
	ListByIDs(tenantID int, ids []int) ([]*model.Channel, error)
}

type ChannelRepository struct {
	DB *sql.DB
}

func (r *ChannelRepository) GetByID(id int) (*model.Channel, error) {
	query := `SELECT id, tenant_id, name, identifier, created_at FROM channels WHERE id=$1`
	var c model.Channel
	err := r.DB.QueryRow(query, id).Scan(&c.ID, &c.TenantID, &c.Name, &c.Identifier, &c.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ListByIDs returns the tenant's channels among ids, preserving the order the
// ids were given in. Rotation order depends on it.
func (r *ChannelRepository) ListByIDs(tenantID int, ids []int) ([]*model.Channel, error) {
	query := `SELECT id, tenant_id, name, identifier, created_at
              FROM channels
              WHERE tenant_id=$1 AND id = ANY($2)`
	rows, err := r.DB.Query(query, tenantID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := map[int]*model.Channel{}
	for rows.Next() {
		var c model.Channel
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Identifier, &c.CreatedAt); err != nil {
			return nil, err
		}
		byID[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	channels := []*model.Channel{}
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			channels = append(channels, c)
		}
	}
	return channels, nil
}

var _ ChannelRepositoryInterface = (*ChannelRepository)(nil)
