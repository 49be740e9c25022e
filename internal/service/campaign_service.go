// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	appErrors "github.com/zapflow/zapflow-backend/internal/errors"
	"github.com/zapflow/zapflow-backend/internal/gate"
	"github.com/zapflow/zapflow-backend/internal/model"
	"github.com/zapflow/zapflow-backend/internal/registry"
	"github.com/zapflow/zapflow-backend/internal/repository"
	"github.com/zapflow/zapflow-backend/internal/restriction"
	"github.com/zapflow/zapflow-backend/internal/rotation"
)

// Locker serializes operator actions with the dispatch loop, so a manual
// remove or reactivate cannot race an in-progress auto-removal decision.
type Locker interface {
	Acquire(ctx context.Context, campaignID int) (token string, ok bool, err error)
	Release(ctx context.Context, campaignID int, token string) error
}

type CampaignService struct {
	Campaigns   repository.CampaignRepositoryInterface
	Channels    repository.ChannelRepositoryInterface
	Variants    repository.VariantRepositoryInterface
	Contacts    repository.ContactRepositoryInterface
	Bindings    repository.BindingRepositoryInterface
	Messages    repository.MessageRepositoryInterface
	PauseStates repository.PauseStateRepositoryInterface

	Registry     *registry.Registry
	Gate         *gate.Evaluator
	Restrictions *restriction.Gate
	Lock         Locker

	Location *time.Location
	Now      func() time.Time
}

func (s *CampaignService) now() time.Time {
	t := time.Now()
	if s.Now != nil {
		t = s.Now()
	}
	if s.Location != nil {
		t = t.In(s.Location)
	}
	return t
}

type VariantInput struct {
	Name string `json:"name"`
	Body string `json:"body" validate:"required"`
}

type ContactInput struct {
	Phone     string            `json:"phone" validate:"required"`
	Name      string            `json:"name"`
	Variables map[string]string `json:"variables"`
}

type CreateCampaignInput struct {
	TenantID                  int                  `json:"tenant_id" validate:"required"`
	Name                      string               `json:"name" validate:"required"`
	ChannelIDs                []int                `json:"channel_ids" validate:"required,min=1"`
	Variants                  []VariantInput       `json:"variants" validate:"required,min=1,dive"`
	Contacts                  []ContactInput       `json:"contacts" validate:"required,min=1,dive"`
	ScheduleConfig            model.ScheduleConfig `json:"schedule_config"`
	PauseConfig               model.PauseConfig    `json:"pause_config"`
	AutoRemoveAccountFailures int                  `json:"auto_remove_account_failures"`
	ScheduledAt               *time.Time           `json:"scheduled_at"`
}

// CreateCampaign persists the campaign with its variants, contacts and the
// materialized rotation table. The restriction pre-check runs up front; a
// lookup failure cancels creation entirely rather than risking a send to a
// blocked contact later.
func (s *CampaignService) CreateCampaign(in CreateCampaignInput) (*model.Campaign, error) {
	if err := validateWorkWindow(in.ScheduleConfig); err != nil {
		return nil, err
	}

	channels, err := s.Channels.ListByIDs(in.TenantID, in.ChannelIDs)
	if err != nil {
		return nil, errors.Wrap(err, "load channels")
	}
	if len(channels) != len(in.ChannelIDs) {
		return nil, fmt.Errorf("one or more channels not found for tenant %d", in.TenantID)
	}

	now := s.now()
	phones := make([]string, 0, len(in.Contacts))
	for _, c := range in.Contacts {
		phones = append(phones, c.Phone)
	}
	restricted, err := s.Restrictions.CheckBatch(in.TenantID, phones, now)
	if err != nil {
		return nil, err
	}

	status := model.CampaignStatusPending
	if in.ScheduledAt != nil {
		status = model.CampaignStatusScheduled
	}
	campaign := &model.Campaign{
		TenantID:                  in.TenantID,
		Name:                      in.Name,
		Status:                    status,
		TotalContacts:             len(in.Contacts),
		ScheduleConfig:            in.ScheduleConfig,
		PauseConfig:               in.PauseConfig,
		AutoRemoveAccountFailures: in.AutoRemoveAccountFailures,
		ScheduledAt:               in.ScheduledAt,
	}
	if err := s.Campaigns.Create(campaign); err != nil {
		return nil, errors.Wrap(err, "create campaign")
	}

	variants := make([]*model.Variant, 0, len(in.Variants))
	for _, v := range in.Variants {
		variants = append(variants, &model.Variant{CampaignID: campaign.ID, Name: v.Name, Body: v.Body})
	}
	if err := s.Variants.CreateBatch(variants); err != nil {
		return nil, errors.Wrap(err, "create variants")
	}

	contacts := make([]*model.Contact, 0, len(in.Contacts))
	for _, c := range in.Contacts {
		contacts = append(contacts, &model.Contact{
			CampaignID: campaign.ID,
			Phone:      c.Phone,
			Name:       c.Name,
			Variables:  c.Variables,
			Restricted: restricted[c.Phone].Restricted,
		})
	}
	if err := s.Contacts.CreateBatch(contacts); err != nil {
		return nil, errors.Wrap(err, "create contacts")
	}

	bindings := rotation.BuildBindings(campaign.ID, channels, variants)
	if err := s.Bindings.CreateBatch(bindings); err != nil {
		return nil, errors.Wrap(err, "create channel bindings")
	}

	if err := s.Campaigns.MarkRestrictionChecked(campaign.ID, now); err != nil {
		return nil, err
	}
	campaign.RestrictionCheckedAt = &now

	log.WithFields(log.Fields{
		"campaign_id": campaign.ID,
		"channels":    len(channels),
		"variants":    len(variants),
		"contacts":    len(contacts),
	}).Info("campaign created")
	return campaign, nil
}

func validateWorkWindow(cfg model.ScheduleConfig) error {
	if (cfg.WorkStartTime == "") != (cfg.WorkEndTime == "") {
		return fmt.Errorf("work_start_time and work_end_time must be set together")
	}
	for _, v := range []string{cfg.WorkStartTime, cfg.WorkEndTime} {
		if v == "" {
			continue
		}
		if _, err := time.Parse("15:04", v); err != nil {
			return fmt.Errorf("invalid working-hours time %q, want HH:MM", v)
		}
	}
	if cfg.WorkStartTime != "" && cfg.WorkStartTime > cfg.WorkEndTime {
		return fmt.Errorf("work_start_time %q is after work_end_time %q", cfg.WorkStartTime, cfg.WorkEndTime)
	}
	return nil
}

// Lifecycle transitions the operator may request.
var allowedTransitions = map[string][]string{
	model.CampaignStatusRunning:   {model.CampaignStatusPending, model.CampaignStatusScheduled, model.CampaignStatusPaused},
	model.CampaignStatusPaused:    {model.CampaignStatusRunning},
	model.CampaignStatusCancelled: {model.CampaignStatusPending, model.CampaignStatusScheduled, model.CampaignStatusRunning, model.CampaignStatusPaused},
}

func (s *CampaignService) transition(campaignID int, to string) (*model.Campaign, error) {
	c, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	ok := false
	for _, from := range allowedTransitions[to] {
		if c.Status == from {
			ok = true
			break
		}
	}
	if !ok {
		return nil, appErrors.NewInvalidTransition(campaignID, c.Status, to)
	}
	if err := s.Campaigns.UpdateStatus(campaignID, to); err != nil {
		return nil, err
	}
	c.Status = to
	return c, nil
}

// Start moves a pending or scheduled campaign into running.
func (s *CampaignService) Start(campaignID int) error {
	c, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c.Status == model.CampaignStatusPaused {
		return appErrors.NewInvalidTransition(campaignID, c.Status, model.CampaignStatusRunning)
	}
	_, err = s.transition(campaignID, model.CampaignStatusRunning)
	return err
}

// Pause is the operator pause. It takes effect before the next tick; an
// in-flight send completes and records its outcome.
func (s *CampaignService) Pause(campaignID int) error {
	if _, err := s.transition(campaignID, model.CampaignStatusPaused); err != nil {
		return err
	}
	return s.PauseStates.Create(campaignID, model.PauseSourceManual, s.now())
}

func (s *CampaignService) Resume(campaignID int) error {
	if _, err := s.transition(campaignID, model.CampaignStatusRunning); err != nil {
		return err
	}
	return s.PauseStates.Delete(campaignID)
}

func (s *CampaignService) Cancel(campaignID int) error {
	if _, err := s.transition(campaignID, model.CampaignStatusCancelled); err != nil {
		return err
	}
	return s.PauseStates.Delete(campaignID)
}

// RemoveChannel and ReactivateChannel are operator actions on the rotation
// set. They take the campaign lock so they cannot interleave with a tick's
// read-modify-write on the same binding rows.

func (s *CampaignService) RemoveChannel(ctx context.Context, campaignID, channelID int, reason string) error {
	return s.withLock(ctx, campaignID, func() error {
		return s.Registry.RemoveChannel(campaignID, channelID, reason)
	})
}

func (s *CampaignService) ReactivateChannel(ctx context.Context, campaignID, channelID int, reason string) error {
	return s.withLock(ctx, campaignID, func() error {
		return s.Registry.ReactivateChannel(campaignID, channelID, reason)
	})
}

func (s *CampaignService) withLock(ctx context.Context, campaignID int, fn func() error) error {
	token, ok, err := s.Lock.Acquire(ctx, campaignID)
	if err != nil {
		return errors.Wrap(err, "acquire campaign lock")
	}
	if !ok {
		return fmt.Errorf("campaign %d is busy, try again", campaignID)
	}
	defer func() {
		if err := s.Lock.Release(ctx, campaignID, token); err != nil {
			log.WithField("campaign_id", campaignID).WithError(err).Warn("failed to release campaign lock")
		}
	}()
	return fn()
}

// ActivityStatus is the externally visible projection of a campaign.
type ActivityStatus struct {
	ID                    int    `json:"id"`
	Name                  string `json:"name"`
	Status                string `json:"status"`
	RealStatus            string `json:"real_status"`
	RemainingPauseSeconds int    `json:"remaining_pause_seconds"`
	ActiveChannels        int    `json:"active_channels"`
	TotalContacts         int    `json:"total_contacts"`
	SentCount             int    `json:"sent_count"`
	DeliveredCount        int    `json:"delivered_count"`
	ReadCount             int    `json:"read_count"`
	FailedCount           int    `json:"failed_count"`
}

// GetActivityStatus derives the projected status through the same gate
// evaluator the dispatch loop uses, so the two can never disagree.
func (s *CampaignService) GetActivityStatus(campaignID int) (*ActivityStatus, error) {
	c, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	res, err := s.Gate.Evaluate(c, s.now())
	if err != nil {
		return nil, err
	}
	active, err := s.Registry.CountActive(campaignID)
	if err != nil {
		return nil, err
	}

	return &ActivityStatus{
		ID:                    c.ID,
		Name:                  c.Name,
		Status:                c.Status,
		RealStatus:            gate.ProjectStatus(c, res, active),
		RemainingPauseSeconds: res.RemainingSeconds,
		ActiveChannels:        active,
		TotalContacts:         c.TotalContacts,
		SentCount:             c.SentCount,
		DeliveredCount:        c.DeliveredCount,
		ReadCount:             c.ReadCount,
		FailedCount:           c.FailedCount,
	}, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(page, pageSize, tenantID int, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.Campaigns.ListCampaigns(offset, pageSize, tenantID, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

type CampaignDetails struct {
	Campaign *model.Campaign `json:"campaign"`
	Stats    map[string]int  `json:"stats"`
}

func (s *CampaignService) GetCampaignDetailsWithStats(campaignID int) (*CampaignDetails, error) {
	campaign, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	stats, err := s.Messages.StatsByCampaign(campaignID)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range stats {
		total += n
	}
	stats["total"] = total
	return &CampaignDetails{Campaign: campaign, Stats: stats}, nil
}

// RenderPreview renders the campaign's first variant (or an override
// template) against one contact's variables.
func (s *CampaignService) RenderPreview(campaignID, contactID int, overrideTemplate *string) (string, error) {
	if _, err := s.Campaigns.GetByID(campaignID); err != nil {
		return "", err
	}
	contact, err := s.Contacts.GetByID(contactID)
	if err != nil {
		return "", err
	}
	if contact == nil || contact.CampaignID != campaignID {
		return "", fmt.Errorf("contact not found")
	}

	template := ""
	if overrideTemplate != nil && *overrideTemplate != "" {
		template = *overrideTemplate
	} else {
		variants, err := s.Variants.ListByCampaign(campaignID)
		if err != nil {
			return "", err
		}
		if len(variants) == 0 {
			return "", fmt.Errorf("campaign has no variants")
		}
		template = variants[0].Body
	}

	data := map[string]string{"name": contact.Name, "phone": contact.Phone}
	for k, v := range contact.Variables {
		data[k] = v
	}
	return RenderTemplate(template, data), nil
}
