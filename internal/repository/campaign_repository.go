package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"

	appErrors "github.com/zapflow/zapflow-backend/internal/errors"
	"github.com/zapflow/zapflow-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	GetByID(id int) (*model.Campaign, error)
	ListCampaigns(offset, limit int, tenantID int, status string) ([]*model.Campaign, int, error)
	ListByStatus(status string) ([]*model.Campaign, error)
	DueScheduled(now time.Time) ([]*model.Campaign, error)
	UpdateStatus(campaignID int, status string) error
	MarkCompleted(campaignID int, at time.Time) error
	MarkRestrictionChecked(campaignID int, at time.Time) error
	IncrementSent(campaignID int) (int, error)
	IncrementFailed(campaignID int) error
	IncrementDelivered(campaignID int) error
	IncrementRead(campaignID int) error
	RotationCursor(campaignID int) (int, error)
	SetRotationCursor(campaignID, orderIndex int) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, tenant_id, name, status, total_contacts, sent_count, delivered_count,
       read_count, failed_count, schedule_config, pause_config, auto_remove_account_failures,
       rotation_cursor, restriction_checked_at, scheduled_at, completed_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.Status, &c.TotalContacts, &c.SentCount, &c.DeliveredCount,
		&c.ReadCount, &c.FailedCount, &c.ScheduleConfig, &c.PauseConfig, &c.AutoRemoveAccountFailures,
		&c.RotationCursor, &c.RestrictionCheckedAt, &c.ScheduledAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) Create(c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignStatusPending
	}
	c.RotationCursor = -1
	query := `
        INSERT INTO campaigns (tenant_id, name, status, total_contacts, schedule_config, pause_config,
                               auto_remove_account_failures, rotation_cursor, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id
    `
	return r.DB.QueryRow(query,
		c.TenantID, c.Name, c.Status, c.TotalContacts, c.ScheduleConfig, c.PauseConfig,
		c.AutoRemoveAccountFailures, c.RotationCursor, c.ScheduledAt, c.CreatedAt,
	).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, errors.Wrap(err, "get campaign")
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(offset, limit int, tenantID int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if tenantID != 0 {
		query += fmt.Sprintf(" AND tenant_id=$%d", argPos)
		args = append(args, tenantID)
		argPos++
	}
	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	argsCount := []interface{}{}
	argPosCount := 1
	if tenantID != 0 {
		countQuery += fmt.Sprintf(" AND tenant_id=$%d", argPosCount)
		argsCount = append(argsCount, tenantID)
		argPosCount++
	}
	if status != "" {
		countQuery += fmt.Sprintf(" AND status=$%d", argPosCount)
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

func (r *CampaignRepository) ListByStatus(status string) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status=$1 ORDER BY id`
	rows, err := r.DB.Query(query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *CampaignRepository) DueScheduled(now time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
              FROM campaigns
              WHERE status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
              ORDER BY scheduled_at`
	rows, err := r.DB.Query(query, model.CampaignStatusScheduled, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *CampaignRepository) UpdateStatus(campaignID int, status string) error {
	query := `UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3`
	_, err := r.DB.Exec(query, status, time.Now(), campaignID)
	return err
}

func (r *CampaignRepository) MarkCompleted(campaignID int, at time.Time) error {
	query := `UPDATE campaigns SET status=$1, completed_at=$2, updated_at=$2 WHERE id=$3`
	_, err := r.DB.Exec(query, model.CampaignStatusCompleted, at, campaignID)
	return err
}

func (r *CampaignRepository) MarkRestrictionChecked(campaignID int, at time.Time) error {
	query := `UPDATE campaigns SET restriction_checked_at=$1, updated_at=$1 WHERE id=$2`
	_, err := r.DB.Exec(query, at, campaignID)
	return err
}

// IncrementSent bumps sent_count atomically and returns the new value so the
// caller can evaluate the programmed-pause trigger without a second read.
func (r *CampaignRepository) IncrementSent(campaignID int) (int, error) {
	var sent int
	query := `UPDATE campaigns SET sent_count = sent_count + 1, updated_at=NOW() WHERE id=$1 RETURNING sent_count`
	if err := r.DB.QueryRow(query, campaignID).Scan(&sent); err != nil {
		return 0, errors.Wrap(err, "increment sent_count")
	}
	return sent, nil
}

func (r *CampaignRepository) IncrementFailed(campaignID int) error {
	_, err := r.DB.Exec(`UPDATE campaigns SET failed_count = failed_count + 1, updated_at=NOW() WHERE id=$1`, campaignID)
	return err
}

func (r *CampaignRepository) IncrementDelivered(campaignID int) error {
	_, err := r.DB.Exec(`UPDATE campaigns SET delivered_count = delivered_count + 1, updated_at=NOW() WHERE id=$1`, campaignID)
	return err
}

func (r *CampaignRepository) IncrementRead(campaignID int) error {
	_, err := r.DB.Exec(`UPDATE campaigns SET read_count = read_count + 1, updated_at=NOW() WHERE id=$1`, campaignID)
	return err
}

func (r *CampaignRepository) RotationCursor(campaignID int) (int, error) {
	var cursor int
	err := r.DB.QueryRow(`SELECT rotation_cursor FROM campaigns WHERE id=$1`, campaignID).Scan(&cursor)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, appErrors.NewCampaignNotFound(campaignID)
		}
		return 0, err
	}
	return cursor, nil
}

func (r *CampaignRepository) SetRotationCursor(campaignID, orderIndex int) error {
	_, err := r.DB.Exec(`UPDATE campaigns SET rotation_cursor=$1, updated_at=NOW() WHERE id=$2`, orderIndex, campaignID)
	return err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
