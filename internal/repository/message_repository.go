package repository

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/zapflow/zapflow-backend/internal/model"
)

type MessageRepositoryInterface interface {
	GetOrCreate(campaignID, contactID int, phone string) (*model.Message, error)
	GetByID(id int) (*model.Message, error)
	GetByProviderMessageID(providerMessageID string) (*model.Message, error)
	MarkSent(id, bindingID int, content, providerMessageID string, at time.Time) error
	MarkFailed(id, bindingID int, content, errMsg string, at time.Time) (int, error)
	MarkDelivered(id int, at time.Time) error
	MarkRead(id int, at time.Time) error
	StatsByCampaign(campaignID int) (map[string]int, error)
}

type MessageRepository struct {
	DB *sql.DB
}

const messageColumns = `id, campaign_id, contact_id, binding_id, phone, status, rendered_content,
       provider_message_id, error_message, attempt_count, sent_at, delivered_at, read_at, failed_at,
       created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (*model.Message, error) {
	var m model.Message
	// These stay NULL on freshly created rows until the first send attempt.
	var content, providerID, errMsg sql.NullString
	err := row.Scan(
		&m.ID, &m.CampaignID, &m.ContactID, &m.BindingID, &m.Phone, &m.Status, &content,
		&providerID, &errMsg, &m.AttemptCount, &m.SentAt, &m.DeliveredAt, &m.ReadAt, &m.FailedAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.RenderedContent = content.String
	m.ProviderMessageID = providerID.String
	m.ErrorMessage = errMsg.String
	return &m, nil
}

// GetOrCreate is the idempotent insert: exactly one message row exists per
// (campaign, contact), no matter how many attempts it takes to send it.
func (r *MessageRepository) GetOrCreate(campaignID, contactID int, phone string) (*model.Message, error) {
	existing, err := r.get(campaignID, contactID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	query := `
        INSERT INTO messages (campaign_id, contact_id, phone, status, attempt_count, created_at, updated_at)
        VALUES ($1, $2, $3, 'pending', 0, NOW(), NOW())
        RETURNING ` + messageColumns
	m, err := scanMessage(r.DB.QueryRow(query, campaignID, contactID, phone))
	if err != nil {
		return nil, errors.Wrap(err, "create message")
	}
	return m, nil
}

func (r *MessageRepository) get(campaignID, contactID int) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE campaign_id=$1 AND contact_id=$2`
	m, err := scanMessage(r.DB.QueryRow(query, campaignID, contactID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func (r *MessageRepository) GetByID(id int) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id=$1`
	m, err := scanMessage(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func (r *MessageRepository) GetByProviderMessageID(providerMessageID string) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE provider_message_id=$1`
	m, err := scanMessage(r.DB.QueryRow(query, providerMessageID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func (r *MessageRepository) MarkSent(id, bindingID int, content, providerMessageID string, at time.Time) error {
	query := `
        UPDATE messages
        SET status='sent', binding_id=$1, rendered_content=$2, provider_message_id=$3,
            error_message='', attempt_count=attempt_count+1, sent_at=$4, updated_at=$4
        WHERE id=$5
    `
	_, err := r.DB.Exec(query, bindingID, content, providerMessageID, at, id)
	return err
}

// MarkFailed records one failed attempt and returns the new attempt count so
// the caller can tell a terminal failure from a retryable one.
func (r *MessageRepository) MarkFailed(id, bindingID int, content, errMsg string, at time.Time) (int, error) {
	var attempts int
	query := `
        UPDATE messages
        SET status='failed', binding_id=$1, rendered_content=$2, error_message=$3,
            attempt_count=attempt_count+1, failed_at=$4, updated_at=$4
        WHERE id=$5
        RETURNING attempt_count
    `
	if err := r.DB.QueryRow(query, bindingID, content, errMsg, at, id).Scan(&attempts); err != nil {
		return 0, errors.Wrap(err, "mark message failed")
	}
	return attempts, nil
}

// MarkDelivered and MarkRead guard against regression in SQL: a receipt can
// only move the status forward.

func (r *MessageRepository) MarkDelivered(id int, at time.Time) error {
	query := `UPDATE messages SET status='delivered', delivered_at=$1, updated_at=$1 WHERE id=$2 AND status='sent'`
	_, err := r.DB.Exec(query, at, id)
	return err
}

func (r *MessageRepository) MarkRead(id int, at time.Time) error {
	query := `
        UPDATE messages
        SET status='read', delivered_at=COALESCE(delivered_at, $1), read_at=$1, updated_at=$1
        WHERE id=$2 AND status IN ('sent', 'delivered')
    `
	_, err := r.DB.Exec(query, at, id)
	return err
}

func (r *MessageRepository) StatsByCampaign(campaignID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM messages WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"pending": 0, "sent": 0, "delivered": 0, "read": 0, "failed": 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
