package repository

import (
	"database/sql"
	"time"

	"github.com/zapflow/zapflow-backend/internal/model"
)

type VariantRepositoryInterface interface {
	CreateBatch(variants []*model.Variant) error
	GetByID(id int) (*model.Variant, error)
	ListByCampaign(campaignID int) ([]*model.Variant, error)
}

type VariantRepository struct {
	DB *sql.DB
}

func (r *VariantRepository) CreateBatch(variants []*model.Variant) error {
	query := `
        INSERT INTO variants (campaign_id, name, body, created_at)
        VALUES ($1, $2, $3, $4)
        RETURNING id
    `
	now := time.Now()
	for _, v := range variants {
		v.CreatedAt = now
		if err := r.DB.QueryRow(query, v.CampaignID, v.Name, v.Body, v.CreatedAt).Scan(&v.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *VariantRepository) GetByID(id int) (*model.Variant, error) {
	query := `SELECT id, campaign_id, name, body, created_at FROM variants WHERE id=$1`
	var v model.Variant
	err := r.DB.QueryRow(query, id).Scan(&v.ID, &v.CampaignID, &v.Name, &v.Body, &v.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

func (r *VariantRepository) ListByCampaign(campaignID int) ([]*model.Variant, error) {
	query := `SELECT id, campaign_id, name, body, created_at FROM variants WHERE campaign_id=$1 ORDER BY id`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	variants := []*model.Variant{}
	for rows.Next() {
		var v model.Variant
		if err := rows.Scan(&v.ID, &v.CampaignID, &v.Name, &v.Body, &v.CreatedAt); err != nil {
			return nil, err
		}
		variants = append(variants, &v)
	}
	return variants, rows.Err()
}

var _ VariantRepositoryInterface = (*VariantRepository)(nil)
