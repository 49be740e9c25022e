package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/zapflow/zapflow-backend/internal/locks"
	"github.com/zapflow/zapflow-backend/internal/model"
	"github.com/zapflow/zapflow-backend/internal/repository"
)

// Scheduler drives one tick entry per running campaign at that campaign's
// configured interval, and promotes scheduled campaigns whose time has come.
// Campaigns tick independently of each other; serialization within a campaign
// is the loop's lock, not the scheduler's.
type Scheduler struct {
	Campaigns repository.CampaignRepositoryInterface
	Loop      *Loop

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[int]tickEntry
}

type tickEntry struct {
	id       cron.EntryID
	interval time.Duration
}

func NewScheduler(campaigns repository.CampaignRepositoryInterface, loop *Loop) *Scheduler {
	return &Scheduler{
		Campaigns: campaigns,
		Loop:      loop,
		cron:      cron.New(),
		entries:   map[int]tickEntry{},
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("@every 15s", s.promoteScheduled); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@every 5s", s.reconcile); err != nil {
		return err
	}
	s.cron.Start()
	log.Info("🚀 Campaign scheduler started")
	return nil
}

// Stop halts scheduling and waits for in-flight ticks; an in-flight send
// always completes and records its outcome.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) promoteScheduled() {
	due, err := s.Campaigns.DueScheduled(time.Now())
	if err != nil {
		log.WithError(err).Error("failed to list due scheduled campaigns")
		return
	}
	for _, c := range due {
		if err := s.Campaigns.UpdateStatus(c.ID, model.CampaignStatusRunning); err != nil {
			log.WithField("campaign_id", c.ID).WithError(err).Error("failed to promote scheduled campaign")
			continue
		}
		log.WithField("campaign_id", c.ID).Info("scheduled campaign promoted to running")
	}
}

// reconcile keeps the tick entries in step with the set of running campaigns
// and their current intervals.
func (s *Scheduler) reconcile() {
	running, err := s.Campaigns.ListByStatus(model.CampaignStatusRunning)
	if err != nil {
		log.WithError(err).Error("failed to list running campaigns")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	want := map[int]time.Duration{}
	for _, c := range running {
		want[c.ID] = tickInterval(c)
	}

	for id, entry := range s.entries {
		interval, ok := want[id]
		if ok && interval == entry.interval {
			continue
		}
		s.cron.Remove(entry.id)
		delete(s.entries, id)
	}

	for id, interval := range want {
		if _, ok := s.entries[id]; ok {
			continue
		}
		campaignID := id
		entryID := s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
			s.tick(campaignID)
		}))
		s.entries[id] = tickEntry{id: entryID, interval: interval}
	}
}

// tickBudget bounds one tick and is derived from the lease TTL: the context
// must expire while the lock is still held, never the other way around.
const tickBudget = locks.DefaultLeaseTTL - 15*time.Second

func (s *Scheduler) tick(campaignID int) {
	ctx, cancel := context.WithTimeout(context.Background(), tickBudget)
	defer cancel()
	if err := s.Loop.Tick(ctx, campaignID); err != nil {
		// local recovery only: one campaign's failure must not stop the rest
		log.WithField("campaign_id", campaignID).WithError(err).Error("dispatch tick failed")
	}
}

// tickInterval floors at one second so the interval can be honored with
// reasonable granularity.
func tickInterval(c *model.Campaign) time.Duration {
	secs := c.ScheduleConfig.IntervalSeconds
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
