// cmd/server/main.go
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/zapflow/zapflow-backend/internal/controller"
	"github.com/zapflow/zapflow-backend/internal/db"
	"github.com/zapflow/zapflow-backend/internal/dispatch"
	"github.com/zapflow/zapflow-backend/internal/gate"
	"github.com/zapflow/zapflow-backend/internal/handler"
	"github.com/zapflow/zapflow-backend/internal/locks"
	"github.com/zapflow/zapflow-backend/internal/metrics"
	"github.com/zapflow/zapflow-backend/internal/queue"
	"github.com/zapflow/zapflow-backend/internal/registry"
	"github.com/zapflow/zapflow-backend/internal/repository"
	"github.com/zapflow/zapflow-backend/internal/restriction"
	"github.com/zapflow/zapflow-backend/internal/rotation"
	"github.com/zapflow/zapflow-backend/internal/service"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Warn("⚠️ No .env file found, relying on OS environment variables")
	}

	location := time.Local
	if tz := os.Getenv("CAMPAIGN_TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			log.Fatalf("invalid CAMPAIGN_TIMEZONE %q: %v", tz, err)
		}
		location = loc
	}

	// Init DB + Redis
	db.Init()
	redisClient := locks.NewClient()
	campaignLock := locks.New(redisClient)

	metrics.InitDispatchMetrics()
	metrics.InitReceiptMetrics()

	campaignRepo := &repository.CampaignRepository{DB: db.DB}
	channelRepo := &repository.ChannelRepository{DB: db.DB}
	variantRepo := &repository.VariantRepository{DB: db.DB}
	contactRepo := &repository.ContactRepository{DB: db.DB}
	bindingRepo := &repository.BindingRepository{DB: db.DB}
	messageRepo := &repository.MessageRepository{DB: db.DB}
	pauseRepo := &repository.PauseStateRepository{DB: db.DB}
	restrictionRepo := &repository.RestrictionRepository{DB: db.DB}

	channelRegistry := registry.New(bindingRepo)
	planner := rotation.New(channelRegistry, campaignRepo)
	pauseGate := gate.NewEvaluator(pauseRepo)
	restrictionGate := restriction.NewGate(restrictionRepo)

	// Delivery receipts go through RabbitMQ when configured, otherwise an
	// in-process queue applied by this same binary.
	var receiptQueue queue.Queue
	receiptService := &service.ReceiptService{Messages: messageRepo, Campaigns: campaignRepo}
	if os.Getenv("RABBITMQ_URL") != "" {
		conn, err := queue.DialAMQP()
		if err != nil {
			log.Fatalf("failed to connect to RabbitMQ: %v", err)
		}
		defer conn.Close()
		amqpQueue, err := queue.NewAMQPQueue(conn)
		if err != nil {
			log.Fatalf("failed to open RabbitMQ channel: %v", err)
		}
		receiptQueue = amqpQueue
	} else {
		memQueue := queue.NewInMemoryQueue()
		queue.StartReceiptSubscriber(memQueue, receiptService)
		receiptQueue = memQueue
	}

	sender := dispatch.NewMockSender(0.9, time.Now().UnixNano())

	loop := &dispatch.Loop{
		Campaigns:    campaignRepo,
		Contacts:     contactRepo,
		Channels:     channelRepo,
		Variants:     variantRepo,
		Messages:     messageRepo,
		PauseStates:  pauseRepo,
		Registry:     channelRegistry,
		Planner:      planner,
		Gate:         pauseGate,
		Restrictions: restrictionGate,
		Lock:         campaignLock,
		Sender:       sender,
		Location:     location,
	}

	scheduler := dispatch.NewScheduler(campaignRepo, loop)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer scheduler.Stop()

	campaignService := &service.CampaignService{
		Campaigns:    campaignRepo,
		Channels:     channelRepo,
		Variants:     variantRepo,
		Contacts:     contactRepo,
		Bindings:     bindingRepo,
		Messages:     messageRepo,
		PauseStates:  pauseRepo,
		Registry:     channelRegistry,
		Gate:         pauseGate,
		Restrictions: restrictionGate,
		Lock:         campaignLock,
		Location:     location,
	}

	campaignController := &controller.CampaignController{
		CampaignService: campaignService,
	}
	statusHandler := &handler.StatusHandler{Service: campaignService}
	receiptHandler := &handler.ReceiptHandler{Queue: receiptQueue}

	r := chi.NewRouter()

	// Campaign routes
	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignController.GetCampaignDetails)
	r.Get("/campaigns/{id}/status", statusHandler.GetActivityStatus)
	r.Post("/campaigns/{id}/start", campaignController.StartCampaign)
	r.Post("/campaigns/{id}/pause", campaignController.PauseCampaign)
	r.Post("/campaigns/{id}/resume", campaignController.ResumeCampaign)
	r.Post("/campaigns/{id}/cancel", campaignController.CancelCampaign)
	r.Post("/campaigns/{id}/channels/{channelID}/remove", campaignController.RemoveChannel)
	r.Post("/campaigns/{id}/channels/{channelID}/reactivate", campaignController.ReactivateChannel)
	r.Post("/campaigns/{id}/personalized-preview", campaignController.PersonalizedPreview)

	// Webhooks + metrics
	r.Post("/webhooks/receipts", receiptHandler.PostReceipt)
	r.Handle("/metrics", promhttp.Handler())

	log.Info("🚀 Server running on :8080")
	log.Fatal(http.ListenAndServe(":8080", r))
}
