// cmd/worker/main.go
package main

import (
	"encoding/json"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/zapflow/zapflow-backend/internal/db"
	"github.com/zapflow/zapflow-backend/internal/metrics"
	"github.com/zapflow/zapflow-backend/internal/queue"
	"github.com/zapflow/zapflow-backend/internal/repository"
	"github.com/zapflow/zapflow-backend/internal/service"
)

// The receipt worker drains the delivery_receipts queue and advances message
// statuses. It is the only consumer of that queue; the server only publishes.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn("⚠️ No .env file found, relying on OS environment variables")
	}

	db.Init()
	metrics.InitReceiptMetrics()

	receiptService := &service.ReceiptService{
		Messages:  &repository.MessageRepository{DB: db.DB},
		Campaigns: &repository.CampaignRepository{DB: db.DB},
	}

	conn, err := queue.DialAMQP()
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("Failed to open a channel: %v", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		queue.TopicDeliveryReceipts, // name
		true,                        // durable
		false,                       // delete when unused
		false,                       // exclusive
		false,                       // no-wait
		nil,                         // arguments
	)
	if err != nil {
		log.Fatalf("Failed to declare queue: %v", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		log.Fatalf("Failed to register consumer: %v", err)
	}

	forever := make(chan bool)

	go func() {
		for d := range msgs {
			var receipt queue.Receipt
			if err := json.Unmarshal(d.Body, &receipt); err != nil {
				log.WithError(err).Warn("Invalid receipt payload, dropping")
				d.Ack(false)
				continue
			}

			if err := receiptService.Apply(receipt); err != nil {
				log.WithError(err).WithField("provider_message_id", receipt.ProviderMessageID).
					Warn("Failed to apply receipt")
				// Retry logic: requeue up to 3 times
				var retryCount int32
				if v, ok := d.Headers["x-retry-count"].(int32); ok {
					retryCount = v
				}
				if retryCount < 3 {
					requeue(ch, d, retryCount+1)
				}
			}

			d.Ack(false)
		}
	}()

	log.Info("🚀 Receipt worker running, waiting for messages...")
	<-forever
}

// requeue republishes with a bumped retry header instead of Nack, so the
// counter survives the round trip.
func requeue(ch *amqp.Channel, d amqp.Delivery, retryCount int32) {
	err := ch.Publish(
		"",
		queue.TopicDeliveryReceipts,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        d.Body,
			Headers:     amqp.Table{"x-retry-count": retryCount},
		},
	)
	if err != nil {
		log.WithError(err).Error("Failed to requeue receipt")
	}
}
