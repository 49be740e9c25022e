// internal/model/contact.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

type Variables map[string]string

func (v Variables) Value() (driver.Value, error) {
	if v == nil {
		v = Variables{}
	}
	return json.Marshal(v)
}

func (v *Variables) Scan(src any) error { return scanJSON(src, v) }

// Contact is one campaign recipient. Restricted is set once by the pre-send
// restriction check and excludes the contact for the life of the campaign.
type Contact struct {
	ID         int       `db:"id" json:"id"`
	CampaignID int       `db:"campaign_id" json:"campaign_id"`
	Phone      string    `db:"phone" json:"phone"`
	Name       string    `db:"name" json:"name"`
	Variables  Variables `db:"variables" json:"variables"`
	Restricted bool      `db:"restricted" json:"restricted"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
