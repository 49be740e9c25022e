// Package locks provides the per-campaign dispatch lock. At most one
// dispatch loop may run per campaign at any time; a second one would
// double-send and corrupt rotation ordering. The lock is a Redis lease so the
// guarantee holds across processes.
package locks

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// DefaultLeaseTTL bounds how long a crashed holder can block a campaign. It
// must outlast a full dispatch tick, or a slow tick loses its lease mid-send
// and a second loop instance can enter.
const DefaultLeaseTTL = 90 * time.Second

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0
`)

type CampaignLock struct {
	Client *redis.Client
	TTL    time.Duration
}

// NewClient builds the Redis client from REDIS_URL.
func NewClient() *redis.Client {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("failed parsing redis URL: %v", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed connecting to redis: %v", err)
	}

	log.Info("✅ Redis connected")
	return client
}

func New(client *redis.Client) *CampaignLock {
	return &CampaignLock{Client: client, TTL: DefaultLeaseTTL}
}

func key(campaignID int) string {
	return fmt.Sprintf("campaign_dispatch_lock:%d", campaignID)
}

// Acquire takes the campaign lease. ok is false when another holder owns it;
// the caller skips its tick in that case. The returned token must be passed
// back to Release.
func (l *CampaignLock) Acquire(ctx context.Context, campaignID int) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.Client.SetNX(ctx, key(campaignID), token, l.TTL).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// Release frees the lease only if token still owns it, so a holder that
// outlived its TTL cannot release somebody else's lease.
func (l *CampaignLock) Release(ctx context.Context, campaignID int, token string) error {
	return releaseScript.Run(ctx, l.Client, []string{key(campaignID)}, token).Err()
}
