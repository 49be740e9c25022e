package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// TopicDeliveryReceipts carries provider receipts from the webhook surface to
// the receipt worker.
const TopicDeliveryReceipts = "delivery_receipts"

// Receipt is one provider delivery notification. Status is "delivered" or
// "read"; it only ever moves a message forward.
type Receipt struct {
	ProviderMessageID string    `json:"provider_message_id"`
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
}

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// InMemoryQueue is an in-process queue with retry, used for development and
// tests when no broker is configured.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any) error
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[string][]func(payload any) error),
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	job := JobPayload{
		Payload:    payload,
		RetryCount: 0,
		MaxRetries: 3,
	}

	for _, handler := range handlers {
		go q.processJob(handler, job)
	}

	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler func(payload any) error, job JobPayload) {
	for job.RetryCount <= job.MaxRetries {
		err := handler(job.Payload)
		if err == nil {
			return // ACK
		}

		job.RetryCount++
		log.WithError(err).Warnf("job failed (attempt %d/%d)", job.RetryCount, job.MaxRetries)

		if job.RetryCount > job.MaxRetries {
			log.Errorf("job permanently failed after %d attempts: %+v", job.MaxRetries, job.Payload)
			return // No requeue
		}

		// Exponential backoff before retry
		time.Sleep(time.Duration(job.RetryCount*500) * time.Millisecond)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// ReceiptApplier advances a message and its campaign counters from one
// receipt.
type ReceiptApplier interface {
	Apply(r Receipt) error
}

// StartReceiptSubscriber wires the delivery-receipt topic to the applier.
// Payloads arrive as Receipt values in process or JSON bytes from a broker.
func StartReceiptSubscriber(q Queue, applier ReceiptApplier) {
	go func() {
		err := q.Subscribe(TopicDeliveryReceipts, func(payload any) error {
			r, err := decodeReceipt(payload)
			if err != nil {
				log.WithError(err).Warn("invalid receipt payload")
				return nil // no retry
			}
			return applier.Apply(r)
		})
		if err != nil {
			log.WithError(err).Error("failed to start delivery receipt subscriber")
		}
	}()
}

func decodeReceipt(payload any) (Receipt, error) {
	switch v := payload.(type) {
	case Receipt:
		return v, nil
	case []byte:
		var r Receipt
		if err := json.Unmarshal(v, &r); err != nil {
			return Receipt{}, err
		}
		return r, nil
	}
	return Receipt{}, fmt.Errorf("unexpected receipt payload type %T", payload)
}
