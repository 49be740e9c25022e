// Package dispatch runs the per-campaign send loop: one contact per tick,
// routed through the rotation planner, gated by working hours and pauses,
// with outcomes fed back into channel health and campaign counters.
package dispatch

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	appErrors "github.com/zapflow/zapflow-backend/internal/errors"
	"github.com/zapflow/zapflow-backend/internal/gate"
	"github.com/zapflow/zapflow-backend/internal/locks"
	"github.com/zapflow/zapflow-backend/internal/metrics"
	"github.com/zapflow/zapflow-backend/internal/model"
	"github.com/zapflow/zapflow-backend/internal/registry"
	"github.com/zapflow/zapflow-backend/internal/repository"
	"github.com/zapflow/zapflow-backend/internal/restriction"
	"github.com/zapflow/zapflow-backend/internal/rotation"
	"github.com/zapflow/zapflow-backend/internal/service"
)

// DefaultSendTimeout bounds the external send call so a hung provider cannot
// stall the whole campaign.
const DefaultSendTimeout = 15 * time.Second

// Locker is the per-campaign mutual exclusion the loop runs under.
type Locker interface {
	Acquire(ctx context.Context, campaignID int) (token string, ok bool, err error)
	Release(ctx context.Context, campaignID int, token string) error
}

type Loop struct {
	Campaigns   repository.CampaignRepositoryInterface
	Contacts    repository.ContactRepositoryInterface
	Channels    repository.ChannelRepositoryInterface
	Variants    repository.VariantRepositoryInterface
	Messages    repository.MessageRepositoryInterface
	PauseStates repository.PauseStateRepositoryInterface

	Registry     *registry.Registry
	Planner      *rotation.Planner
	Gate         *gate.Evaluator
	Restrictions *restriction.Gate
	Lock         Locker
	Sender       Sender

	SendTimeout time.Duration
	// Location normalizes wall-clock time once per tick before the gate runs;
	// the gate itself never does timezone arithmetic.
	Location *time.Location
	Now      func() time.Time
}

var _ Locker = (*locks.CampaignLock)(nil)

func (l *Loop) now() time.Time {
	t := time.Now()
	if l.Now != nil {
		t = l.Now()
	}
	if l.Location != nil {
		t = t.In(l.Location)
	}
	return t
}

func (l *Loop) sendTimeout() time.Duration {
	if l.SendTimeout > 0 {
		return l.SendTimeout
	}
	return DefaultSendTimeout
}

// Tick processes at most one contact for the campaign. A tick that finds the
// gate closed, the lock held elsewhere, or nothing to do is a pure no-op.
func (l *Loop) Tick(ctx context.Context, campaignID int) error {
	token, ok, err := l.Lock.Acquire(ctx, campaignID)
	if err != nil {
		return errors.Wrap(err, "acquire dispatch lock")
	}
	if !ok {
		return nil
	}
	defer func() {
		if err := l.Lock.Release(ctx, campaignID, token); err != nil {
			log.WithField("campaign_id", campaignID).WithError(err).Warn("failed to release dispatch lock")
		}
	}()

	c, err := l.Campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignStatusRunning {
		return nil
	}

	now := l.now()

	res, err := l.Gate.Evaluate(c, now)
	if err != nil {
		return errors.Wrap(err, "gate evaluation")
	}
	if res.PauseExpired {
		if err := l.PauseStates.Delete(c.ID); err != nil {
			return errors.Wrap(err, "clear expired pause")
		}
	}
	if res.State != gate.StateSending {
		return nil
	}

	if c.RestrictionCheckedAt == nil {
		if err := l.precheck(c, now); err != nil {
			return err
		}
	}

	contact, err := l.Contacts.NextEligible(c.ID, model.MaxSendAttempts)
	if err != nil {
		return err
	}
	if contact == nil {
		if err := l.Campaigns.MarkCompleted(c.ID, now); err != nil {
			return err
		}
		log.WithField("campaign_id", c.ID).Info("✅ campaign completed")
		return nil
	}

	binding, err := l.Planner.NextAssignment(c.ID)
	if err != nil {
		if stderrors.Is(err, appErrors.ErrNoChannelAvailable) {
			metrics.CampaignPausesTotal.WithLabelValues("channel_exhaustion").Inc()
			log.WithField("campaign_id", c.ID).Warn("no active channels left, pausing campaign")
			return l.Campaigns.UpdateStatus(c.ID, model.CampaignStatusPaused)
		}
		return err
	}

	variant, err := l.Variants.GetByID(binding.VariantID)
	if err != nil {
		return err
	}
	channel, err := l.Channels.GetByID(binding.ChannelID)
	if err != nil {
		return err
	}
	if variant == nil || channel == nil {
		return errors.Errorf("binding %d references missing channel or variant", binding.ID)
	}

	data := map[string]string{"name": contact.Name, "phone": contact.Phone}
	for k, v := range contact.Variables {
		data[k] = v
	}
	content := service.RenderTemplate(variant.Body, data)

	msg, err := l.Messages.GetOrCreate(c.ID, contact.ID, contact.Phone)
	if err != nil {
		return err
	}

	sctx, cancel := context.WithTimeout(ctx, l.sendTimeout())
	start := time.Now()
	providerID, sendErr := l.Sender.Send(sctx, channel, contact.Phone, content)
	cancel()
	metrics.SendDuration.Observe(time.Since(start).Seconds())

	if sendErr != nil {
		return l.recordFailure(c, msg, binding, content, sendErr, now)
	}
	return l.recordSuccess(c, msg, binding, content, providerID, now)
}

func (l *Loop) recordSuccess(c *model.Campaign, msg *model.Message, binding *model.ChannelBinding, content, providerID string, now time.Time) error {
	if err := l.Messages.MarkSent(msg.ID, binding.ID, content, providerID, now); err != nil {
		return err
	}
	if err := l.Registry.RecordSuccess(binding.ID); err != nil {
		return err
	}
	sent, err := l.Campaigns.IncrementSent(c.ID)
	if err != nil {
		return err
	}
	metrics.SendsTotal.WithLabelValues("sent").Inc()

	if c.PauseConfig.PauseAfter > 0 && sent%c.PauseConfig.PauseAfter == 0 {
		if err := l.PauseStates.Create(c.ID, model.PauseSourceProgrammed, now); err != nil {
			return errors.Wrap(err, "create programmed pause")
		}
		metrics.CampaignPausesTotal.WithLabelValues("programmed").Inc()
		log.WithFields(log.Fields{"campaign_id": c.ID, "sent_count": sent}).Info("programmed pause started")
	}
	return nil
}

func (l *Loop) recordFailure(c *model.Campaign, msg *model.Message, binding *model.ChannelBinding, content string, sendErr error, now time.Time) error {
	attempts, err := l.Messages.MarkFailed(msg.ID, binding.ID, content, sendErr.Error(), now)
	if err != nil {
		return err
	}
	metrics.SendsTotal.WithLabelValues("failed").Inc()

	// failed_count moves only when the contact has exhausted rotation
	// retries, so sent_count + failed_count never exceeds total_contacts.
	if attempts >= model.MaxSendAttempts {
		if err := l.Campaigns.IncrementFailed(c.ID); err != nil {
			return err
		}
	}

	_, removed, err := l.Registry.RecordFailure(binding.ID, c.AutoRemoveAccountFailures, sendErr.Error())
	if err != nil {
		return err
	}
	if removed {
		metrics.ChannelAutoRemovalsTotal.Inc()
		log.WithFields(log.Fields{"campaign_id": c.ID, "binding_id": binding.ID}).Warn("channel binding auto-removed")

		active, err := l.Registry.CountActive(c.ID)
		if err != nil {
			return err
		}
		if active == 0 {
			metrics.CampaignPausesTotal.WithLabelValues("channel_exhaustion").Inc()
			return l.Campaigns.UpdateStatus(c.ID, model.CampaignStatusPaused)
		}
	}
	return nil
}

// precheck runs the restriction gate once over the campaign's contact set.
// Contacts found restricted are excluded permanently. A lookup failure fails
// closed: the campaign is paused instead of risking a send to a blocked
// contact.
func (l *Loop) precheck(c *model.Campaign, now time.Time) error {
	contacts, err := l.Contacts.ListByCampaign(c.ID)
	if err != nil {
		return err
	}
	phones := make([]string, 0, len(contacts))
	for _, ct := range contacts {
		phones = append(phones, ct.Phone)
	}

	results, err := l.Restrictions.CheckBatch(c.TenantID, phones, now)
	if err != nil {
		metrics.CampaignPausesTotal.WithLabelValues("restriction_lookup").Inc()
		if perr := l.Campaigns.UpdateStatus(c.ID, model.CampaignStatusPaused); perr != nil {
			log.WithField("campaign_id", c.ID).WithError(perr).Error("failed to pause campaign after restriction lookup error")
		}
		return errors.Wrap(err, "restriction pre-check")
	}

	restricted := []string{}
	for phone, res := range results {
		if res.Restricted {
			restricted = append(restricted, phone)
		}
	}
	n, err := l.Contacts.MarkRestricted(c.ID, restricted)
	if err != nil {
		return err
	}
	metrics.RestrictionBlockedTotal.Add(float64(n))
	if n > 0 {
		log.WithFields(log.Fields{"campaign_id": c.ID, "restricted": n}).Info("contacts excluded by restriction lists")
	}

	return l.Campaigns.MarkRestrictionChecked(c.ID, now)
}
