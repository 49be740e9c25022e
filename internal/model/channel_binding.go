// internal/model/channel_binding.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Binding states form a one-way ladder: active -> auto_removed is reversible
// through manual reactivation, permanently_removed is not.
const (
	BindingStateActive             = "active"
	BindingStateAutoRemoved        = "auto_removed"
	BindingStatePermanentlyRemoved = "permanently_removed"
)

// PermanentRemovalCap is the number of removals a binding survives; one more
// removal past the cap makes it permanent.
const PermanentRemovalCap = 3

// RemovalEntry is one audit record of a binding being taken out of rotation
// and, optionally, brought back.
type RemovalEntry struct {
	RemovedAt          time.Time  `json:"removed_at"`
	Reason             string     `json:"reason"`
	ReactivatedAt      *time.Time `json:"reactivated_at,omitempty"`
	ReactivationReason string     `json:"reactivation_reason,omitempty"`
}

type RemovalHistory []RemovalEntry

func (h RemovalHistory) Value() (driver.Value, error) {
	if h == nil {
		h = RemovalHistory{}
	}
	return json.Marshal(h)
}

func (h *RemovalHistory) Scan(src any) error { return scanJSON(src, h) }

// ChannelBinding is one (channel, variant) pair materialized for rotation.
// OrderIndex encodes the rotation order: channels cycle fastest, variants
// slowest.
type ChannelBinding struct {
	ID         int `db:"id" json:"id"`
	CampaignID int `db:"campaign_id" json:"campaign_id"`
	ChannelID  int `db:"channel_id" json:"channel_id"`
	VariantID  int `db:"variant_id" json:"variant_id"`
	OrderIndex int `db:"order_index" json:"order_index"`

	State               string         `db:"state" json:"state"`
	ConsecutiveFailures int            `db:"consecutive_failures" json:"consecutive_failures"`
	LastError           string         `db:"last_error" json:"last_error,omitempty"`
	RemovedAt           *time.Time     `db:"removed_at" json:"removed_at,omitempty"`
	RemovalCount        int            `db:"removal_count" json:"removal_count"`
	RemovalHistory      RemovalHistory `db:"removal_history" json:"removal_history"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Selectable reports whether the rotation planner may hand this binding out.
func (b *ChannelBinding) Selectable() bool {
	return b.State == BindingStateActive
}
