// internal/model/variant.go
package model

import "time"

// Variant is one message template of a campaign. Body carries {placeholder}
// tokens resolved against each contact's variables at send time.
type Variant struct {
	ID         int       `db:"id" json:"id"`
	CampaignID int       `db:"campaign_id" json:"campaign_id"`
	Name       string    `db:"name" json:"name"`
	Body       string    `db:"body" json:"body"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
