package repository

import (
	"database/sql"
	"time"

	appErrors "github.com/zapflow/zapflow-backend/internal/errors"
	"github.com/zapflow/zapflow-backend/internal/model"
)

type BindingRepositoryInterface interface {
	CreateBatch(bindings []*model.ChannelBinding) error
	GetByID(id int) (*model.ChannelBinding, error)
	ListActive(campaignID int) ([]*model.ChannelBinding, error)
	ListByChannel(campaignID, channelID int) ([]*model.ChannelBinding, error)
	CountActive(campaignID int) (int, error)
	Update(b *model.ChannelBinding) error
}

type BindingRepository struct {
	DB *sql.DB
}

const bindingColumns = `id, campaign_id, channel_id, variant_id, order_index, state,
       consecutive_failures, last_error, removed_at, removal_count, removal_history, created_at, updated_at`

func scanBinding(row interface{ Scan(...any) error }) (*model.ChannelBinding, error) {
	var b model.ChannelBinding
	// last_error stays NULL until the first failure is recorded.
	var lastError sql.NullString
	err := row.Scan(
		&b.ID, &b.CampaignID, &b.ChannelID, &b.VariantID, &b.OrderIndex, &b.State,
		&b.ConsecutiveFailures, &lastError, &b.RemovedAt, &b.RemovalCount, &b.RemovalHistory,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.LastError = lastError.String
	return &b, nil
}

func (r *BindingRepository) CreateBatch(bindings []*model.ChannelBinding) error {
	query := `
        INSERT INTO channel_bindings (campaign_id, channel_id, variant_id, order_index, state,
                                      consecutive_failures, removal_count, removal_history, created_at)
        VALUES ($1, $2, $3, $4, $5, 0, 0, '[]', $6)
        RETURNING id
    `
	now := time.Now()
	for _, b := range bindings {
		b.State = model.BindingStateActive
		b.CreatedAt = now
		if err := r.DB.QueryRow(query, b.CampaignID, b.ChannelID, b.VariantID, b.OrderIndex, b.State, b.CreatedAt).Scan(&b.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *BindingRepository) GetByID(id int) (*model.ChannelBinding, error) {
	query := `SELECT ` + bindingColumns + ` FROM channel_bindings WHERE id=$1`
	b, err := scanBinding(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewBindingNotFound(id)
		}
		return nil, err
	}
	return b, nil
}

// ListActive returns selectable bindings in rotation order. Permanently
// removed bindings never come back from this query.
func (r *BindingRepository) ListActive(campaignID int) ([]*model.ChannelBinding, error) {
	query := `SELECT ` + bindingColumns + `
              FROM channel_bindings
              WHERE campaign_id=$1 AND state=$2
              ORDER BY order_index`
	rows, err := r.DB.Query(query, campaignID, model.BindingStateActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bindings := []*model.ChannelBinding{}
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

func (r *BindingRepository) ListByChannel(campaignID, channelID int) ([]*model.ChannelBinding, error) {
	query := `SELECT ` + bindingColumns + `
              FROM channel_bindings
              WHERE campaign_id=$1 AND channel_id=$2
              ORDER BY order_index`
	rows, err := r.DB.Query(query, campaignID, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bindings := []*model.ChannelBinding{}
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

func (r *BindingRepository) CountActive(campaignID int) (int, error) {
	var count int
	err := r.DB.QueryRow(
		`SELECT COUNT(*) FROM channel_bindings WHERE campaign_id=$1 AND state=$2`,
		campaignID, model.BindingStateActive,
	).Scan(&count)
	return count, err
}

func (r *BindingRepository) Update(b *model.ChannelBinding) error {
	query := `
        UPDATE channel_bindings
        SET state=$1, consecutive_failures=$2, last_error=$3, removed_at=$4,
            removal_count=$5, removal_history=$6, updated_at=NOW()
        WHERE id=$7
    `
	_, err := r.DB.Exec(query,
		b.State, b.ConsecutiveFailures, b.LastError, b.RemovedAt,
		b.RemovalCount, b.RemovalHistory, b.ID,
	)
	return err
}

var _ BindingRepositoryInterface = (*BindingRepository)(nil)
