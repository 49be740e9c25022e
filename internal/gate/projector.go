package gate

import "github.com/zapflow/zapflow-backend/internal/model"

// ProjectStatus derives the externally visible campaign status from the
// stored lifecycle status, the gate result, and the active-binding count.
// It is a pure view; the lifecycle status stays the stored fact.
func ProjectStatus(c *model.Campaign, res Result, activeBindings int) string {
	switch c.Status {
	case model.CampaignStatusPending, model.CampaignStatusScheduled,
		model.CampaignStatusCompleted, model.CampaignStatusCancelled:
		return c.Status
	case model.CampaignStatusPaused:
		return model.CampaignStatusPaused
	}

	// running
	if activeBindings == 0 {
		return model.CampaignStatusPaused
	}
	switch res.State {
	case StateOutsideHours:
		return StateOutsideHours
	case StatePauseProgrammed:
		return StatePauseProgrammed
	case StatePaused:
		return model.CampaignStatusPaused
	}
	return model.CampaignStatusRunning
}
