// Package gate answers one question without side effects: is this campaign
// allowed to send right now? The scheduler and the read-only status endpoints
// call the same evaluator, so they can never disagree.
package gate

import (
	"time"

	"github.com/zapflow/zapflow-backend/internal/model"
)

// Gate states, in priority order.
const (
	StateSending         = "sending"
	StateOutsideHours    = "outside_hours"
	StatePauseProgrammed = "pause_programmed"
	StatePaused          = "paused"
)

// Result of one gate evaluation. PauseExpired flags a pause marker that has
// run its course; the dispatch loop clears it on its next tick, the gate
// itself never writes.
type Result struct {
	State            string
	RemainingSeconds int
	PauseExpired     bool
}

// PauseStateStore reads the persisted pause marker.
type PauseStateStore interface {
	Get(campaignID int) (*model.PauseState, error)
}

type Evaluator struct {
	PauseStates PauseStateStore
}

func NewEvaluator(store PauseStateStore) *Evaluator {
	return &Evaluator{PauseStates: store}
}

// Evaluate runs the transition rules in priority order. now must already be
// normalized to the campaign's timezone by the caller; no timezone arithmetic
// happens here.
func (e *Evaluator) Evaluate(c *model.Campaign, now time.Time) (Result, error) {
	if c.Status == model.CampaignStatusPaused || c.Status == model.CampaignStatusCancelled {
		return Result{State: StatePaused}, nil
	}

	if outsideWorkingHours(c.ScheduleConfig, now) {
		return Result{State: StateOutsideHours}, nil
	}

	ps, err := e.PauseStates.Get(c.ID)
	if err != nil {
		return Result{}, err
	}
	if ps != nil {
		until := ps.StartedAt.Add(time.Duration(c.PauseConfig.PauseDurationMinutes) * time.Minute)
		if now.Before(until) {
			return Result{
				State:            StatePauseProgrammed,
				RemainingSeconds: int(until.Sub(now).Seconds()),
			}, nil
		}
		return Result{State: StateSending, PauseExpired: true}, nil
	}

	return Result{State: StateSending}, nil
}

// outsideWorkingHours compares zero-padded 24h "HH:MM" strings
// lexicographically, which orders exactly like the times they encode. The
// window is inclusive on both ends.
func outsideWorkingHours(cfg model.ScheduleConfig, now time.Time) bool {
	if cfg.WorkStartTime == "" || cfg.WorkEndTime == "" {
		return false
	}
	hhmm := now.Format("15:04")
	return hhmm < cfg.WorkStartTime || hhmm > cfg.WorkEndTime
}
