package repository

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/zapflow/zapflow-backend/internal/model"
)

type ContactRepositoryInterface interface {
	CreateBatch(contacts []*model.Contact) error
	GetByID(id int) (*model.Contact, error)
	ListByCampaign(campaignID int) ([]*model.Contact, error)
	NextEligible(campaignID, maxAttempts int) (*model.Contact, error)
	MarkRestricted(campaignID int, phones []string) (int, error)
}

type ContactRepository struct {
	DB *sql.DB
}

func (r *ContactRepository) CreateBatch(contacts []*model.Contact) error {
	query := `
        INSERT INTO contacts (campaign_id, phone, name, variables, restricted, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id
    `
	now := time.Now()
	for _, c := range contacts {
		c.CreatedAt = now
		if err := r.DB.QueryRow(query, c.CampaignID, c.Phone, c.Name, c.Variables, c.Restricted, c.CreatedAt).Scan(&c.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *ContactRepository) GetByID(id int) (*model.Contact, error) {
	query := `SELECT id, campaign_id, phone, name, variables, restricted, created_at FROM contacts WHERE id=$1`
	var c model.Contact
	err := r.DB.QueryRow(query, id).Scan(&c.ID, &c.CampaignID, &c.Phone, &c.Name, &c.Variables, &c.Restricted, &c.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *ContactRepository) ListByCampaign(campaignID int) ([]*model.Contact, error) {
	query := `SELECT id, campaign_id, phone, name, variables, restricted, created_at
              FROM contacts WHERE campaign_id=$1 ORDER BY id`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []*model.Contact{}
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.CampaignID, &c.Phone, &c.Name, &c.Variables, &c.Restricted, &c.CreatedAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, &c)
	}
	return contacts, rows.Err()
}

// NextEligible pops the next contact in original insertion order that is not
// restricted and has not been sent to or exhausted its attempts. Returns nil
// when the campaign has nothing left to do.
func (r *ContactRepository) NextEligible(campaignID, maxAttempts int) (*model.Contact, error) {
	query := `
        SELECT c.id, c.campaign_id, c.phone, c.name, c.variables, c.restricted, c.created_at
        FROM contacts c
        LEFT JOIN messages m ON m.contact_id = c.id AND m.campaign_id = c.campaign_id
        WHERE c.campaign_id = $1
          AND c.restricted = FALSE
          AND (m.id IS NULL OR (m.status = 'failed' AND m.attempt_count < $2))
        ORDER BY c.id
        LIMIT 1
    `
	var c model.Contact
	err := r.DB.QueryRow(query, campaignID, maxAttempts).Scan(
		&c.ID, &c.CampaignID, &c.Phone, &c.Name, &c.Variables, &c.Restricted, &c.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *ContactRepository) MarkRestricted(campaignID int, phones []string) (int, error) {
	if len(phones) == 0 {
		return 0, nil
	}
	res, err := r.DB.Exec(
		`UPDATE contacts SET restricted=TRUE WHERE campaign_id=$1 AND phone = ANY($2)`,
		campaignID, pq.Array(phones),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
