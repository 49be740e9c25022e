// internal/model/message.go
package model

import "time"

// Message statuses. pending -> sent -> delivered -> read advances forward
// only; delivered and read are applied by the receipt worker, never here.
const (
	MessageStatusPending   = "pending"
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
)

// MaxSendAttempts bounds how many times the dispatch loop retries a contact
// through rotation before counting it as failed.
const MaxSendAttempts = 3

// Message is the append-only send record, created exactly once per contact by
// the dispatch loop.
type Message struct {
	ID                int    `db:"id" json:"id"`
	CampaignID        int    `db:"campaign_id" json:"campaign_id"`
	ContactID         int    `db:"contact_id" json:"contact_id"`
	BindingID         *int   `db:"binding_id" json:"binding_id,omitempty"`
	Phone             string `db:"phone" json:"phone"`
	Status            string `db:"status" json:"status"`
	RenderedContent   string `db:"rendered_content" json:"rendered_content"`
	ProviderMessageID string `db:"provider_message_id" json:"provider_message_id,omitempty"`
	ErrorMessage      string `db:"error_message" json:"error_message,omitempty"`
	AttemptCount      int    `db:"attempt_count" json:"attempt_count"`

	SentAt      *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt      *time.Time `db:"read_at" json:"read_at,omitempty"`
	FailedAt    *time.Time `db:"failed_at" json:"failed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}
