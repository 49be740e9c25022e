// internal/model/restriction.go
package model

import "time"

// Restriction categories.
const (
	RestrictionDoNotDisturb  = "do_not_disturb"
	RestrictionBlocked       = "blocked"
	RestrictionNotInterested = "not_interested"
)

// Restriction is one tenant-scoped denylist entry. It blocks every channel in
// the tenant, and both spellings of a Brazilian mobile number.
type Restriction struct {
	ID        int        `db:"id" json:"id"`
	TenantID  int        `db:"tenant_id" json:"tenant_id"`
	Phone     string     `db:"phone" json:"phone"`
	Category  string     `db:"category" json:"category"`
	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}
