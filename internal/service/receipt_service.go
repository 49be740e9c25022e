// internal/service/receipt_service.go
package service

import (
	log "github.com/sirupsen/logrus"

	"github.com/zapflow/zapflow-backend/internal/metrics"
	"github.com/zapflow/zapflow-backend/internal/model"
	"github.com/zapflow/zapflow-backend/internal/queue"
	"github.com/zapflow/zapflow-backend/internal/repository"
)

// ReceiptService applies provider delivery receipts: sent -> delivered ->
// read, forward only. The dispatch loop never calls this; it only creates the
// records this service later advances.
type ReceiptService struct {
	Messages  repository.MessageRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
}

func (s *ReceiptService) Apply(r queue.Receipt) error {
	msg, err := s.Messages.GetByProviderMessageID(r.ProviderMessageID)
	if err != nil {
		return err
	}
	if msg == nil {
		log.WithField("provider_message_id", r.ProviderMessageID).Warn("receipt for unknown message")
		return nil // no retry
	}

	switch r.Status {
	case model.MessageStatusDelivered:
		if msg.Status != model.MessageStatusSent {
			return nil // already delivered or read, never regress
		}
		if err := s.Messages.MarkDelivered(msg.ID, r.Timestamp); err != nil {
			return err
		}
		if err := s.Campaigns.IncrementDelivered(msg.CampaignID); err != nil {
			return err
		}
		metrics.ReceiptsAppliedTotal.WithLabelValues(model.MessageStatusDelivered).Inc()

	case model.MessageStatusRead:
		if msg.Status != model.MessageStatusSent && msg.Status != model.MessageStatusDelivered {
			return nil
		}
		wasSent := msg.Status == model.MessageStatusSent
		// Message transition first, counters after: if MarkRead fails the
		// broker redelivers and the counters have not drifted.
		if err := s.Messages.MarkRead(msg.ID, r.Timestamp); err != nil {
			return err
		}
		if wasSent {
			// read implies delivered
			if err := s.Campaigns.IncrementDelivered(msg.CampaignID); err != nil {
				return err
			}
		}
		if err := s.Campaigns.IncrementRead(msg.CampaignID); err != nil {
			return err
		}
		metrics.ReceiptsAppliedTotal.WithLabelValues(model.MessageStatusRead).Inc()

	default:
		log.WithField("status", r.Status).Warn("unknown receipt status, dropping")
		return nil
	}
	return nil
}

var _ queue.ReceiptApplier = (*ReceiptService)(nil)
