// internal/model/pause_state.go
package model

import "time"

// Pause sources. A programmed pause fires after a configured number of sends;
// a manual pause is an operator action.
const (
	PauseSourceManual     = "manual"
	PauseSourceProgrammed = "programmed"
)

// PauseState is the persisted pause marker for a campaign. Remaining time is
// always derived from StartedAt plus the campaign's pause duration, never
// stored, so it survives process restarts without going stale.
type PauseState struct {
	ID         int       `db:"id" json:"id"`
	CampaignID int       `db:"campaign_id" json:"campaign_id"`
	Source     string    `db:"source" json:"source"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
