// Package rotation decides which (channel, variant) binding sends next.
//
// Bindings are materialized at campaign creation as the cartesian product of
// channels and variants, ordered so that channels rotate fastest and variants
// slowest: (c1,v1),(c2,v1),...,(cN,v1),(c1,v2),... Spreading consecutive
// sends across sending identities before cycling message content keeps the
// per-channel burst volume low.
package rotation

import (
	"time"

	appErrors "github.com/zapflow/zapflow-backend/internal/errors"
	"github.com/zapflow/zapflow-backend/internal/model"
)

// ActiveSet lists the bindings currently selectable, in order_index order.
type ActiveSet interface {
	ActiveBindings(campaignID int) ([]*model.ChannelBinding, error)
}

// CursorStore persists the order_index of the last assignment per campaign,
// -1 before the first one.
type CursorStore interface {
	RotationCursor(campaignID int) (int, error)
	SetRotationCursor(campaignID, orderIndex int) error
}

type Planner struct {
	Registry ActiveSet
	Cursors  CursorStore
}

func New(registry ActiveSet, cursors CursorStore) *Planner {
	return &Planner{Registry: registry, Cursors: cursors}
}

// OrderIndex is the rotation position of channel i paired with variant j when
// there are numChannels channels. Channels cycle fastest.
func OrderIndex(i, j, numChannels int) int {
	return j*numChannels + i
}

// BuildBindings materializes the rotation table for a new campaign.
func BuildBindings(campaignID int, channels []*model.Channel, variants []*model.Variant) []*model.ChannelBinding {
	bindings := make([]*model.ChannelBinding, 0, len(channels)*len(variants))
	for j, v := range variants {
		for i, c := range channels {
			bindings = append(bindings, &model.ChannelBinding{
				CampaignID: campaignID,
				ChannelID:  c.ID,
				VariantID:  v.ID,
				OrderIndex: OrderIndex(i, j, len(channels)),
				State:      model.BindingStateActive,
				CreatedAt:  time.Now(),
			})
		}
	}
	return bindings
}

// NextAssignment returns the next binding in rotation and advances the
// cursor. The wrap point is the current active set, recomputed on every call:
// as bindings are removed the effective rotation period shortens on its own.
// An empty active set returns appErrors.ErrNoChannelAvailable; the caller
// treats that the same as a pause.
func (p *Planner) NextAssignment(campaignID int) (*model.ChannelBinding, error) {
	active, err := p.Registry.ActiveBindings(campaignID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, appErrors.ErrNoChannelAvailable
	}

	cursor, err := p.Cursors.RotationCursor(campaignID)
	if err != nil {
		return nil, err
	}

	next := active[0]
	for _, b := range active {
		if b.OrderIndex > cursor {
			next = b
			break
		}
	}

	if err := p.Cursors.SetRotationCursor(campaignID, next.OrderIndex); err != nil {
		return nil, err
	}
	return next, nil
}
