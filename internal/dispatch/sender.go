package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/zapflow/zapflow-backend/internal/model"
)

// Sender is the external messaging collaborator. Implementations must honor
// ctx; the dispatch loop bounds every send with a timeout and books a
// timed-out send as a failure.
type Sender interface {
	Send(ctx context.Context, channel *model.Channel, phone, content string) (providerMessageID string, err error)
}

// MockSender simulates a provider with a configurable success rate.
// TODO: wire the real WhatsApp provider client behind this interface.
type MockSender struct {
	SuccessRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewMockSender(successRate float64, seed int64) *MockSender {
	return &MockSender{
		SuccessRate: successRate,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (s *MockSender) Send(ctx context.Context, channel *model.Channel, phone, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	r := s.rng.Float64()
	s.mu.Unlock()
	if r < s.SuccessRate {
		return uuid.NewString(), nil
	}
	return "", fmt.Errorf("mock sending failed")
}
