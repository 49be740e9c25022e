package repository

import (
	"database/sql"
	"time"

	"github.com/zapflow/zapflow-backend/internal/model"
)

type PauseStateRepositoryInterface interface {
	Get(campaignID int) (*model.PauseState, error)
	Create(campaignID int, source string, startedAt time.Time) error
	Delete(campaignID int) error
}

// PauseStateRepository persists the pause marker so it survives process
// restarts and is visible to read-only status endpoints.
type PauseStateRepository struct {
	DB *sql.DB
}

func (r *PauseStateRepository) Get(campaignID int) (*model.PauseState, error) {
	query := `SELECT id, campaign_id, source, started_at, created_at FROM pause_states WHERE campaign_id=$1`
	var p model.PauseState
	err := r.DB.QueryRow(query, campaignID).Scan(&p.ID, &p.CampaignID, &p.Source, &p.StartedAt, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// Create upserts: a campaign has at most one pause marker, and a new trigger
// restarts the clock.
func (r *PauseStateRepository) Create(campaignID int, source string, startedAt time.Time) error {
	query := `
        INSERT INTO pause_states (campaign_id, source, started_at, created_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (campaign_id)
        DO UPDATE SET source=EXCLUDED.source, started_at=EXCLUDED.started_at
    `
	_, err := r.DB.Exec(query, campaignID, source, startedAt)
	return err
}

func (r *PauseStateRepository) Delete(campaignID int) error {
	_, err := r.DB.Exec(`DELETE FROM pause_states WHERE campaign_id=$1`, campaignID)
	return err
}

var _ PauseStateRepositoryInterface = (*PauseStateRepository)(nil)
