// internal/handler/receipt_handler.go
package handler

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/zapflow/zapflow-backend/internal/queue"
)

// ReceiptHandler accepts provider delivery receipts over the webhook surface
// and forwards them to the receipt queue. Applying them happens in the
// worker, never inline with the provider's request.
type ReceiptHandler struct {
	Queue queue.Queue
}

func (h *ReceiptHandler) PostReceipt(w http.ResponseWriter, r *http.Request) {
	var receipt queue.Receipt
	if err := json.NewDecoder(r.Body).Decode(&receipt); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if receipt.ProviderMessageID == "" || receipt.Status == "" {
		http.Error(w, "provider_message_id and status are required", http.StatusBadRequest)
		return
	}

	if err := h.Queue.Publish(queue.TopicDeliveryReceipts, receipt); err != nil {
		log.WithError(err).Error("failed to enqueue delivery receipt")
		http.Error(w, "failed to enqueue receipt", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
