// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrNoChannelAvailable is the rotation planner's sentinel for an empty
// active set; the dispatch loop treats it the same as a pause.
var ErrNoChannelAvailable = errors.New("no active channel available")

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrBindingNotFound struct {
	BindingID int
}

func (e *ErrBindingNotFound) Error() string {
	return fmt.Sprintf("channel binding with ID %d not found", e.BindingID)
}

func NewBindingNotFound(id int) error {
	return &ErrBindingNotFound{BindingID: id}
}

// ErrPermanentlyRemoved rejects reactivation of a binding past the removal
// cap. There is deliberately no path back from that state.
type ErrPermanentlyRemoved struct {
	BindingID int
}

func (e *ErrPermanentlyRemoved) Error() string {
	return fmt.Sprintf("channel binding %d is permanently removed and cannot be reactivated", e.BindingID)
}

func NewPermanentlyRemoved(id int) error {
	return &ErrPermanentlyRemoved{BindingID: id}
}

// ErrInvalidTransition rejects a lifecycle change the state machine does not
// allow, e.g. resuming a cancelled campaign.
type ErrInvalidTransition struct {
	CampaignID int
	From       string
	To         string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("campaign %d cannot move from %s to %s", e.CampaignID, e.From, e.To)
}

func NewInvalidTransition(campaignID int, from, to string) error {
	return &ErrInvalidTransition{CampaignID: campaignID, From: from, To: to}
}

// ErrRestrictionLookup marks a failed restriction-list lookup. The caller
// must fail closed: treat every number as restricted and abort the batch.
type ErrRestrictionLookup struct {
	TenantID int
	Cause    error
}

func (e *ErrRestrictionLookup) Error() string {
	return fmt.Sprintf("restriction lookup failed for tenant %d: %v", e.TenantID, e.Cause)
}

func (e *ErrRestrictionLookup) Unwrap() error { return e.Cause }

func NewRestrictionLookup(tenantID int, cause error) error {
	return &ErrRestrictionLookup{TenantID: tenantID, Cause: cause}
}
