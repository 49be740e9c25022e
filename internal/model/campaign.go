// internal/model/campaign.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Campaign lifecycle statuses. These are the stored facts; the displayed
// status is derived separately by the gate projector.
const (
	CampaignStatusPending   = "pending"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusRunning   = "running"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
	CampaignStatusCancelled = "cancelled"
)

// ScheduleConfig controls the working-hours window and the dispatch tick
// interval. Times are zero-padded 24h "HH:MM" strings; empty means no window.
type ScheduleConfig struct {
	WorkStartTime   string `json:"work_start_time,omitempty"`
	WorkEndTime     string `json:"work_end_time,omitempty"`
	IntervalSeconds int    `json:"interval_seconds"`
}

// PauseConfig controls the programmed cooldown: after every PauseAfter
// successful sends the campaign rests for PauseDurationMinutes. Zero disables.
type PauseConfig struct {
	PauseAfter           int `json:"pause_after"`
	PauseDurationMinutes int `json:"pause_duration_minutes"`
}

func (c ScheduleConfig) Value() (driver.Value, error) { return json.Marshal(c) }

func (c *ScheduleConfig) Scan(src any) error { return scanJSON(src, c) }

func (c PauseConfig) Value() (driver.Value, error) { return json.Marshal(c) }

func (c *PauseConfig) Scan(src any) error { return scanJSON(src, c) }

func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	}
	return fmt.Errorf("unsupported jsonb source type %T", src)
}

type Campaign struct {
	ID             int    `db:"id" json:"id"`
	TenantID       int    `db:"tenant_id" json:"tenant_id"`
	Name           string `db:"name" json:"name"`
	Status         string `db:"status" json:"status"`
	TotalContacts  int    `db:"total_contacts" json:"total_contacts"`
	SentCount      int    `db:"sent_count" json:"sent_count"`
	DeliveredCount int    `db:"delivered_count" json:"delivered_count"`
	ReadCount      int    `db:"read_count" json:"read_count"`
	FailedCount    int    `db:"failed_count" json:"failed_count"`

	ScheduleConfig ScheduleConfig `db:"schedule_config" json:"schedule_config"`
	PauseConfig    PauseConfig    `db:"pause_config" json:"pause_config"`

	// Consecutive-failure threshold that auto-removes a channel binding.
	// Zero disables auto-removal.
	AutoRemoveAccountFailures int `db:"auto_remove_account_failures" json:"auto_remove_account_failures"`

	// RotationCursor is the order_index of the last binding handed out by the
	// rotation planner, -1 before the first assignment.
	RotationCursor int `db:"rotation_cursor" json:"-"`

	RestrictionCheckedAt *time.Time `db:"restriction_checked_at" json:"restriction_checked_at,omitempty"`
	ScheduledAt          *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CompletedAt          *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
