package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/zapflow/zapflow-backend/internal/errors"
	"github.com/zapflow/zapflow-backend/internal/model"
	"github.com/zapflow/zapflow-backend/internal/registry"
)

// MockBindingStore keeps bindings in memory.
type MockBindingStore struct {
	bindings map[int]*model.ChannelBinding
}

func newMockStore(bindings ...*model.ChannelBinding) *MockBindingStore {
	m := &MockBindingStore{bindings: map[int]*model.ChannelBinding{}}
	for _, b := range bindings {
		m.bindings[b.ID] = b
	}
	return m
}

func (m *MockBindingStore) GetByID(id int) (*model.ChannelBinding, error) {
	b, ok := m.bindings[id]
	if !ok {
		return nil, appErrors.NewBindingNotFound(id)
	}
	copy := *b
	return &copy, nil
}

func (m *MockBindingStore) ListActive(campaignID int) ([]*model.ChannelBinding, error) {
	out := []*model.ChannelBinding{}
	for _, b := range m.bindings {
		if b.CampaignID == campaignID && b.Selectable() {
			copy := *b
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (m *MockBindingStore) ListByChannel(campaignID, channelID int) ([]*model.ChannelBinding, error) {
	out := []*model.ChannelBinding{}
	for _, b := range m.bindings {
		if b.CampaignID == campaignID && b.ChannelID == channelID {
			copy := *b
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (m *MockBindingStore) CountActive(campaignID int) (int, error) {
	n := 0
	for _, b := range m.bindings {
		if b.CampaignID == campaignID && b.Selectable() {
			n++
		}
	}
	return n, nil
}

func (m *MockBindingStore) Update(b *model.ChannelBinding) error {
	copy := *b
	m.bindings[b.ID] = &copy
	return nil
}

func activeBinding(id int) *model.ChannelBinding {
	return &model.ChannelBinding{ID: id, CampaignID: 1, ChannelID: 10, VariantID: 20, State: model.BindingStateActive}
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
}

func TestRecordFailureRemovesAtThreshold(t *testing.T) {
	store := newMockStore(activeBinding(1))
	reg := registry.New(store)
	reg.Now = fixedNow

	for i := 1; i < 3; i++ {
		count, removed, err := reg.RecordFailure(1, 3, "timeout")
		require.NoError(t, err)
		assert.Equal(t, i, count)
		assert.False(t, removed)
	}

	count, removed, err := reg.RecordFailure(1, 3, "timeout")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.True(t, removed)

	b, _ := store.GetByID(1)
	assert.Equal(t, model.BindingStateAutoRemoved, b.State)
	assert.Equal(t, 1, b.RemovalCount)
	require.Len(t, b.RemovalHistory, 1)
	assert.Contains(t, b.RemovalHistory[0].Reason, "3 consecutive failures")
	require.NotNil(t, b.RemovedAt)
	assert.Equal(t, fixedNow(), *b.RemovedAt)
}

func TestRecordFailureThresholdZeroDisablesRemoval(t *testing.T) {
	store := newMockStore(activeBinding(1))
	reg := registry.New(store)

	for i := 0; i < 10; i++ {
		_, removed, err := reg.RecordFailure(1, 0, "timeout")
		require.NoError(t, err)
		assert.False(t, removed)
	}
	b, _ := store.GetByID(1)
	assert.Equal(t, model.BindingStateActive, b.State)
	assert.Equal(t, 10, b.ConsecutiveFailures)
}

func TestRecordSuccessResetsFailureStreak(t *testing.T) {
	store := newMockStore(activeBinding(1))
	reg := registry.New(store)

	_, _, err := reg.RecordFailure(1, 3, "timeout")
	require.NoError(t, err)
	_, _, err = reg.RecordFailure(1, 3, "timeout")
	require.NoError(t, err)

	require.NoError(t, reg.RecordSuccess(1))

	b, _ := store.GetByID(1)
	assert.Equal(t, 0, b.ConsecutiveFailures)
	assert.Empty(t, b.LastError)

	// The streak starts over: two more failures still do not remove.
	_, removed, err := reg.RecordFailure(1, 3, "timeout")
	require.NoError(t, err)
	assert.False(t, removed)
	_, removed, err = reg.RecordFailure(1, 3, "timeout")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRecordSuccessNeverReactivates(t *testing.T) {
	b := activeBinding(1)
	b.State = model.BindingStateAutoRemoved
	b.ConsecutiveFailures = 3
	store := newMockStore(b)
	reg := registry.New(store)

	require.NoError(t, reg.RecordSuccess(1))

	got, _ := store.GetByID(1)
	assert.Equal(t, model.BindingStateAutoRemoved, got.State)
}

func TestReactivateRestoresBinding(t *testing.T) {
	store := newMockStore(activeBinding(1))
	reg := registry.New(store)
	reg.Now = fixedNow

	for i := 0; i < 3; i++ {
		_, _, err := reg.RecordFailure(1, 3, "timeout")
		require.NoError(t, err)
	}
	require.NoError(t, reg.Reactivate(1, "carrier issue resolved"))

	b, _ := store.GetByID(1)
	assert.Equal(t, model.BindingStateActive, b.State)
	assert.Equal(t, 0, b.ConsecutiveFailures)
	assert.Nil(t, b.RemovedAt)
	assert.Equal(t, 1, b.RemovalCount, "removal count is the audit trail and survives reactivation")
	require.Len(t, b.RemovalHistory, 1)
	require.NotNil(t, b.RemovalHistory[0].ReactivatedAt)
	assert.Equal(t, "carrier issue resolved", b.RemovalHistory[0].ReactivationReason)
}

func TestFourthRemovalIsPermanent(t *testing.T) {
	store := newMockStore(activeBinding(1))
	reg := registry.New(store)

	for cycle := 1; cycle <= 3; cycle++ {
		for i := 0; i < 3; i++ {
			_, _, err := reg.RecordFailure(1, 3, "timeout")
			require.NoError(t, err)
		}
		b, _ := store.GetByID(1)
		assert.Equal(t, model.BindingStateAutoRemoved, b.State, "removal %d", cycle)
		require.NoError(t, reg.Reactivate(1, "retry"))
	}

	for i := 0; i < 3; i++ {
		_, _, err := reg.RecordFailure(1, 3, "timeout")
		require.NoError(t, err)
	}

	b, _ := store.GetByID(1)
	assert.Equal(t, model.BindingStatePermanentlyRemoved, b.State)
	assert.Equal(t, 4, b.RemovalCount)

	err := reg.Reactivate(1, "please")
	var perm *appErrors.ErrPermanentlyRemoved
	assert.ErrorAs(t, err, &perm)
}

func TestRemoveChannelIsManualRemoval(t *testing.T) {
	b1 := activeBinding(1)
	b2 := activeBinding(2)
	b2.VariantID = 21
	other := activeBinding(3)
	other.ChannelID = 11
	store := newMockStore(b1, b2, other)
	reg := registry.New(store)

	require.NoError(t, reg.RemoveChannel(1, 10, "operator request"))

	for _, id := range []int{1, 2} {
		b, _ := store.GetByID(id)
		assert.Equal(t, model.BindingStateAutoRemoved, b.State)
		assert.Equal(t, 1, b.RemovalCount)
		require.Len(t, b.RemovalHistory, 1)
		assert.Equal(t, "operator request", b.RemovalHistory[0].Reason)
	}

	got, _ := store.GetByID(3)
	assert.Equal(t, model.BindingStateActive, got.State, "other channel untouched")

	n, _ := reg.CountActive(1)
	assert.Equal(t, 1, n)
}

func TestReactivateChannelSkipsPermanent(t *testing.T) {
	b1 := activeBinding(1)
	b1.State = model.BindingStateAutoRemoved
	b1.RemovalCount = 1
	b1.RemovalHistory = model.RemovalHistory{{RemovedAt: fixedNow(), Reason: "failures"}}
	b2 := activeBinding(2)
	b2.VariantID = 21
	b2.State = model.BindingStatePermanentlyRemoved
	b2.RemovalCount = 4
	store := newMockStore(b1, b2)
	reg := registry.New(store)

	err := reg.ReactivateChannel(1, 10, "back online")
	assert.NoError(t, err)

	restored, _ := store.GetByID(1)
	assert.Equal(t, model.BindingStateActive, restored.State)
	assert.Equal(t, "back online", restored.RemovalHistory[0].ReactivationReason)

	got, _ := store.GetByID(2)
	assert.Equal(t, model.BindingStatePermanentlyRemoved, got.State)
	assert.Equal(t, 4, got.RemovalCount)
}
