// Package registry tracks the health of the channel bindings attached to a
// campaign: consecutive failures, automatic removal past the campaign
// threshold, and the one-way trip to permanent removal.
package registry

import (
	"fmt"
	"time"

	appErrors "github.com/zapflow/zapflow-backend/internal/errors"
	"github.com/zapflow/zapflow-backend/internal/model"
)

// BindingStore defines the persistence the registry needs.
type BindingStore interface {
	GetByID(id int) (*model.ChannelBinding, error)
	ListActive(campaignID int) ([]*model.ChannelBinding, error)
	ListByChannel(campaignID, channelID int) ([]*model.ChannelBinding, error)
	CountActive(campaignID int) (int, error)
	Update(b *model.ChannelBinding) error
}

type Registry struct {
	Bindings BindingStore
	Now      func() time.Time
}

func New(store BindingStore) *Registry {
	return &Registry{Bindings: store, Now: time.Now}
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// ActiveBindings returns the selectable bindings in rotation order.
func (r *Registry) ActiveBindings(campaignID int) ([]*model.ChannelBinding, error) {
	return r.Bindings.ListActive(campaignID)
}

// CountActive reports how many bindings are still selectable. Zero for a
// running campaign means the dispatch loop must auto-pause it.
func (r *Registry) CountActive(campaignID int) (int, error) {
	return r.Bindings.CountActive(campaignID)
}

// RecordFailure increments the binding's consecutive-failure count and, if
// the campaign threshold is reached, removes it from rotation. threshold 0
// disables auto-removal. Returns the new count and whether removal happened.
func (r *Registry) RecordFailure(bindingID, threshold int, sendErr string) (int, bool, error) {
	b, err := r.Bindings.GetByID(bindingID)
	if err != nil {
		return 0, false, err
	}

	b.ConsecutiveFailures++
	b.LastError = sendErr

	removed := false
	if threshold > 0 && b.ConsecutiveFailures >= threshold && b.State == model.BindingStateActive {
		reason := fmt.Sprintf("%d consecutive failures, last: %s", b.ConsecutiveFailures, sendErr)
		r.remove(b, reason)
		removed = true
	}

	if err := r.Bindings.Update(b); err != nil {
		return 0, false, err
	}
	return b.ConsecutiveFailures, removed, nil
}

// RecordSuccess resets the consecutive-failure counter. It never reactivates
// a removed binding.
func (r *Registry) RecordSuccess(bindingID int) error {
	b, err := r.Bindings.GetByID(bindingID)
	if err != nil {
		return err
	}
	if b.ConsecutiveFailures == 0 && b.LastError == "" {
		return nil
	}
	b.ConsecutiveFailures = 0
	b.LastError = ""
	return r.Bindings.Update(b)
}

// RemoveChannel takes every binding of the channel out of rotation, as an
// operator action. The same removal-count bookkeeping applies.
func (r *Registry) RemoveChannel(campaignID, channelID int, reason string) error {
	bindings, err := r.Bindings.ListByChannel(campaignID, channelID)
	if err != nil {
		return err
	}
	for _, b := range bindings {
		if b.State != model.BindingStateActive {
			continue
		}
		r.remove(b, reason)
		if err := r.Bindings.Update(b); err != nil {
			return err
		}
	}
	return nil
}

// ReactivateChannel brings the channel's removed bindings back into rotation
// and stamps the latest removal-history entry. Permanently removed bindings
// stay out; removal_count is preserved as the audit trail.
func (r *Registry) ReactivateChannel(campaignID, channelID int, reason string) error {
	bindings, err := r.Bindings.ListByChannel(campaignID, channelID)
	if err != nil {
		return err
	}
	for _, b := range bindings {
		if b.State == model.BindingStatePermanentlyRemoved {
			continue
		}
		if err := r.reactivate(b, reason); err != nil {
			return err
		}
	}
	return nil
}

// Reactivate restores a single removed binding.
func (r *Registry) Reactivate(bindingID int, reason string) error {
	b, err := r.Bindings.GetByID(bindingID)
	if err != nil {
		return err
	}
	return r.reactivate(b, reason)
}

func (r *Registry) reactivate(b *model.ChannelBinding, reason string) error {
	switch b.State {
	case model.BindingStatePermanentlyRemoved:
		return appErrors.NewPermanentlyRemoved(b.ID)
	case model.BindingStateActive:
		return nil
	}

	now := r.now()
	b.State = model.BindingStateActive
	b.ConsecutiveFailures = 0
	b.LastError = ""
	b.RemovedAt = nil
	if n := len(b.RemovalHistory); n > 0 {
		b.RemovalHistory[n-1].ReactivatedAt = &now
		b.RemovalHistory[n-1].ReactivationReason = reason
	}
	return r.Bindings.Update(b)
}

func (r *Registry) remove(b *model.ChannelBinding, reason string) {
	now := r.now()
	b.RemovedAt = &now
	b.RemovalCount++
	b.RemovalHistory = append(b.RemovalHistory, model.RemovalEntry{
		RemovedAt: now,
		Reason:    reason,
	})
	if b.RemovalCount > model.PermanentRemovalCap {
		b.State = model.BindingStatePermanentlyRemoved
	} else {
		b.State = model.BindingStateAutoRemoved
	}
}
