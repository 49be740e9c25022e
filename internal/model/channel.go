// internal/model/channel.go
package model

import "time"

// Channel is a sending identity: a WhatsApp Business API account or a
// device-paired instance. Identifier is the provider-side credential handle.
type Channel struct {
	ID         int       `db:"id" json:"id"`
	TenantID   int       `db:"tenant_id" json:"tenant_id"`
	Name       string    `db:"name" json:"name"`
	Identifier string    `db:"identifier" json:"identifier"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
