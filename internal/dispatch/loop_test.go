package dispatch_test

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapflow/zapflow-backend/internal/dispatch"
	appErrors "github.com/zapflow/zapflow-backend/internal/errors"
	"github.com/zapflow/zapflow-backend/internal/gate"
	"github.com/zapflow/zapflow-backend/internal/model"
	"github.com/zapflow/zapflow-backend/internal/registry"
	"github.com/zapflow/zapflow-backend/internal/restriction"
	"github.com/zapflow/zapflow-backend/internal/rotation"
)

// The fixture wires the real registry, planner, gate and restriction gate
// over in-memory stores, so a tick exercises the same decision chain the
// production loop runs.

type memStore struct {
	campaign     *model.Campaign
	channels     map[int]*model.Channel
	variants     map[int]*model.Variant
	contacts     []*model.Contact
	bindings     map[int]*model.ChannelBinding
	messages     map[int]*model.Message // by contact ID
	pause        *model.PauseState
	restrictions []*model.Restriction
	nextMsgID    int
}

// campaigns

func (s *memStore) Create(c *model.Campaign) error { return nil }
func (s *memStore) GetByID(id int) (*model.Campaign, error) {
	if s.campaign == nil || s.campaign.ID != id {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	copy := *s.campaign
	return &copy, nil
}
func (s *memStore) ListCampaigns(offset, limit, tenantID int, status string) ([]*model.Campaign, int, error) {
	return nil, 0, nil
}
func (s *memStore) ListByStatus(status string) ([]*model.Campaign, error) { return nil, nil }
func (s *memStore) DueScheduled(now time.Time) ([]*model.Campaign, error) { return nil, nil }
func (s *memStore) UpdateStatus(campaignID int, status string) error {
	s.campaign.Status = status
	return nil
}
func (s *memStore) MarkCompleted(campaignID int, at time.Time) error {
	s.campaign.Status = model.CampaignStatusCompleted
	s.campaign.CompletedAt = &at
	return nil
}
func (s *memStore) MarkRestrictionChecked(campaignID int, at time.Time) error {
	s.campaign.RestrictionCheckedAt = &at
	return nil
}
func (s *memStore) IncrementSent(campaignID int) (int, error) {
	s.campaign.SentCount++
	return s.campaign.SentCount, nil
}
func (s *memStore) IncrementFailed(campaignID int) error {
	s.campaign.FailedCount++
	return nil
}
func (s *memStore) IncrementDelivered(campaignID int) error {
	s.campaign.DeliveredCount++
	return nil
}
func (s *memStore) IncrementRead(campaignID int) error {
	s.campaign.ReadCount++
	return nil
}
func (s *memStore) RotationCursor(campaignID int) (int, error) {
	return s.campaign.RotationCursor, nil
}
func (s *memStore) SetRotationCursor(campaignID, orderIndex int) error {
	s.campaign.RotationCursor = orderIndex
	return nil
}

// contacts

func (s *memStore) CreateBatchContacts(contacts []*model.Contact) error { return nil }
func (s *memStore) GetContactByID(id int) (*model.Contact, error)       { return nil, nil }
func (s *memStore) ListByCampaign(campaignID int) ([]*model.Contact, error) {
	return s.contacts, nil
}
func (s *memStore) NextEligible(campaignID, maxAttempts int) (*model.Contact, error) {
	for _, c := range s.contacts {
		if c.Restricted {
			continue
		}
		m := s.messages[c.ID]
		if m == nil {
			return c, nil
		}
		if m.Status == model.MessageStatusFailed && m.AttemptCount < maxAttempts {
			return c, nil
		}
	}
	return nil, nil
}
func (s *memStore) MarkRestricted(campaignID int, phones []string) (int, error) {
	set := map[string]bool{}
	for _, p := range phones {
		set[p] = true
	}
	n := 0
	for _, c := range s.contacts {
		if set[c.Phone] && !c.Restricted {
			c.Restricted = true
			n++
		}
	}
	return n, nil
}

// channels, variants

func (s *memStore) GetChannelByID(id int) (*model.Channel, error) { return s.channels[id], nil }
func (s *memStore) ListByIDs(tenantID int, ids []int) ([]*model.Channel, error) {
	out := []*model.Channel{}
	for _, id := range ids {
		if c, ok := s.channels[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
func (s *memStore) CreateBatchVariants(variants []*model.Variant) error { return nil }
func (s *memStore) GetVariantByID(id int) (*model.Variant, error)       { return s.variants[id], nil }
func (s *memStore) ListVariantsByCampaign(campaignID int) ([]*model.Variant, error) {
	return nil, nil
}

// messages

func (s *memStore) GetOrCreate(campaignID, contactID int, phone string) (*model.Message, error) {
	if m, ok := s.messages[contactID]; ok {
		return m, nil
	}
	s.nextMsgID++
	m := &model.Message{
		ID: s.nextMsgID, CampaignID: campaignID, ContactID: contactID,
		Phone: phone, Status: model.MessageStatusPending,
	}
	s.messages[contactID] = m
	return m, nil
}
func (s *memStore) GetMessageByID(id int) (*model.Message, error) { return nil, nil }
func (s *memStore) GetByProviderMessageID(pid string) (*model.Message, error) {
	for _, m := range s.messages {
		if m.ProviderMessageID == pid {
			return m, nil
		}
	}
	return nil, nil
}
func (s *memStore) MarkSent(id, bindingID int, content, providerMessageID string, at time.Time) error {
	m := s.messageByID(id)
	m.Status = model.MessageStatusSent
	m.BindingID = &bindingID
	m.RenderedContent = content
	m.ProviderMessageID = providerMessageID
	m.SentAt = &at
	return nil
}
func (s *memStore) MarkFailed(id, bindingID int, content, errMsg string, at time.Time) (int, error) {
	m := s.messageByID(id)
	m.Status = model.MessageStatusFailed
	m.BindingID = &bindingID
	m.RenderedContent = content
	m.ErrorMessage = errMsg
	m.AttemptCount++
	m.FailedAt = &at
	return m.AttemptCount, nil
}
func (s *memStore) MarkDelivered(id int, at time.Time) error { return nil }
func (s *memStore) MarkRead(id int, at time.Time) error      { return nil }
func (s *memStore) StatsByCampaign(campaignID int) (map[string]int, error) {
	return map[string]int{}, nil
}
func (s *memStore) messageByID(id int) *model.Message {
	for _, m := range s.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// pause states

func (s *memStore) Get(campaignID int) (*model.PauseState, error) { return s.pause, nil }
func (s *memStore) CreatePause(campaignID int, source string, startedAt time.Time) error {
	s.pause = &model.PauseState{CampaignID: campaignID, Source: source, StartedAt: startedAt}
	return nil
}
func (s *memStore) Delete(campaignID int) error {
	s.pause = nil
	return nil
}

// bindings (registry.BindingStore)

func (s *memStore) GetBindingByID(id int) (*model.ChannelBinding, error) {
	b, ok := s.bindings[id]
	if !ok {
		return nil, appErrors.NewBindingNotFound(id)
	}
	return b, nil
}
func (s *memStore) ListActive(campaignID int) ([]*model.ChannelBinding, error) {
	out := []*model.ChannelBinding{}
	for _, b := range s.bindings {
		if b.Selectable() {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}
func (s *memStore) ListByChannel(campaignID, channelID int) ([]*model.ChannelBinding, error) {
	out := []*model.ChannelBinding{}
	for _, b := range s.bindings {
		if b.ChannelID == channelID {
			out = append(out, b)
		}
	}
	return out, nil
}
func (s *memStore) CountActive(campaignID int) (int, error) {
	n := 0
	for _, b := range s.bindings {
		if b.Selectable() {
			n++
		}
	}
	return n, nil
}
func (s *memStore) Update(b *model.ChannelBinding) error {
	s.bindings[b.ID] = b
	return nil
}

// restrictions

func (s *memStore) FindActive(tenantID int, phones []string, now time.Time) ([]*model.Restriction, error) {
	in := map[string]bool{}
	for _, p := range phones {
		in[p] = true
	}
	out := []*model.Restriction{}
	for _, e := range s.restrictions {
		if e.TenantID == tenantID && in[e.Phone] {
			out = append(out, e)
		}
	}
	return out, nil
}

// Interface adapters: the store is one struct, the loop wants distinct
// repository shapes with clashing method names.

type contactStore struct{ *memStore }

func (c contactStore) CreateBatch(contacts []*model.Contact) error { return nil }
func (c contactStore) GetByID(id int) (*model.Contact, error)      { return c.GetContactByID(id) }

type channelStore struct{ *memStore }

func (c channelStore) GetByID(id int) (*model.Channel, error) { return c.GetChannelByID(id) }

type variantStore struct{ *memStore }

func (v variantStore) CreateBatch(variants []*model.Variant) error { return nil }
func (v variantStore) GetByID(id int) (*model.Variant, error)      { return v.GetVariantByID(id) }
func (v variantStore) ListByCampaign(campaignID int) ([]*model.Variant, error) {
	return v.ListVariantsByCampaign(campaignID)
}

type messageStore struct{ *memStore }

func (m messageStore) GetByID(id int) (*model.Message, error) { return m.GetMessageByID(id) }

type pauseStore struct{ *memStore }

func (p pauseStore) Create(campaignID int, source string, startedAt time.Time) error {
	return p.CreatePause(campaignID, source, startedAt)
}

type bindingStore struct{ *memStore }

func (b bindingStore) GetByID(id int) (*model.ChannelBinding, error) { return b.GetBindingByID(id) }
func (b bindingStore) CreateBatch(bindings []*model.ChannelBinding) error {
	return nil
}

// openLock always grants; busyLock never does.

type openLock struct{ acquired int }

func (l *openLock) Acquire(ctx context.Context, campaignID int) (string, bool, error) {
	l.acquired++
	return "token", true, nil
}
func (l *openLock) Release(ctx context.Context, campaignID int, token string) error { return nil }

type busyLock struct{}

func (busyLock) Acquire(ctx context.Context, campaignID int) (string, bool, error) {
	return "", false, nil
}
func (busyLock) Release(ctx context.Context, campaignID int, token string) error { return nil }

// scriptedSender replays a fixed outcome sequence, then succeeds.
type scriptedSender struct {
	outcomes []error
	calls    int
}

func (s *scriptedSender) Send(ctx context.Context, channel *model.Channel, phone, content string) (string, error) {
	i := s.calls
	s.calls++
	if i < len(s.outcomes) && s.outcomes[i] != nil {
		return "", s.outcomes[i]
	}
	return fmt.Sprintf("provider-%d", i), nil
}

var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memStore
	loop   *dispatch.Loop
	sender *scriptedSender
	lock   *openLock
	now    time.Time
}

// newFixture builds a running campaign with the given channels x variants
// rotation table and contacts, restriction check already done.
func newFixture(t *testing.T, numChannels, numVariants, numContacts int) *fixture {
	t.Helper()

	checked := noon.Add(-time.Hour)
	store := &memStore{
		campaign: &model.Campaign{
			ID: 1, TenantID: 7, Name: "promo",
			Status:                    model.CampaignStatusRunning,
			TotalContacts:             numContacts,
			RotationCursor:            -1,
			AutoRemoveAccountFailures: 3,
			RestrictionCheckedAt:      &checked,
		},
		channels: map[int]*model.Channel{},
		variants: map[int]*model.Variant{},
		bindings: map[int]*model.ChannelBinding{},
		messages: map[int]*model.Message{},
	}

	channels := []*model.Channel{}
	for i := 0; i < numChannels; i++ {
		c := &model.Channel{ID: 100 + i, TenantID: 7, Identifier: fmt.Sprintf("55119999000%d", i)}
		store.channels[c.ID] = c
		channels = append(channels, c)
	}
	variants := []*model.Variant{}
	for j := 0; j < numVariants; j++ {
		v := &model.Variant{ID: 200 + j, CampaignID: 1, Body: fmt.Sprintf("variant %d for {name}", j)}
		store.variants[v.ID] = v
		variants = append(variants, v)
	}
	for i, b := range rotation.BuildBindings(1, channels, variants) {
		b.ID = i + 1
		store.bindings[b.ID] = b
	}
	for i := 0; i < numContacts; i++ {
		store.contacts = append(store.contacts, &model.Contact{
			ID: i + 1, CampaignID: 1,
			Phone: fmt.Sprintf("5511988880%03d", i), Name: fmt.Sprintf("contact%d", i),
		})
	}

	reg := registry.New(bindingStore{store})
	reg.Now = func() time.Time { return noon }
	sender := &scriptedSender{}
	lock := &openLock{}

	f := &fixture{store: store, sender: sender, lock: lock, now: noon}
	f.loop = &dispatch.Loop{
		Campaigns:    store,
		Contacts:     contactStore{store},
		Channels:     channelStore{store},
		Variants:     variantStore{store},
		Messages:     messageStore{store},
		PauseStates:  pauseStore{store},
		Registry:     reg,
		Planner:      rotation.New(reg, store),
		Gate:         gate.NewEvaluator(store),
		Restrictions: restriction.NewGate(store),
		Lock:         lock,
		Sender:       sender,
		Now:          func() time.Time { return f.now },
	}
	return f
}

func (f *fixture) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, f.loop.Tick(context.Background(), 1))
}

func TestTickSendsOneContactAndAdvancesRotation(t *testing.T) {
	f := newFixture(t, 2, 2, 8)

	wantBindings := []int{0, 1, 2, 3, 0, 1, 2, 3}
	for i, want := range wantBindings {
		f.tick(t)
		msg := f.store.messages[i+1]
		require.NotNil(t, msg, "contact %d should have a message", i+1)
		assert.Equal(t, model.MessageStatusSent, msg.Status)
		require.NotNil(t, msg.BindingID)
		assert.Equal(t, want, f.store.bindings[*msg.BindingID].OrderIndex)
		assert.NotEmpty(t, msg.ProviderMessageID)
	}
	assert.Equal(t, 8, f.store.campaign.SentCount)
	assert.Equal(t, 0, f.store.campaign.FailedCount)
}

func TestTickRendersVariantWithContactVariables(t *testing.T) {
	f := newFixture(t, 1, 1, 1)
	f.store.variants[200].Body = "Hi {name}, your code is {code}"
	f.store.contacts[0].Variables = model.Variables{"code": "X42"}

	f.tick(t)

	assert.Equal(t, "Hi contact0, your code is X42", f.store.messages[1].RenderedContent)
}

func TestTickCompletesWhenNoEligibleContacts(t *testing.T) {
	f := newFixture(t, 1, 1, 1)

	f.tick(t) // sends the only contact
	f.tick(t) // finds nothing left and completes

	assert.Equal(t, model.CampaignStatusCompleted, f.store.campaign.Status)
	require.NotNil(t, f.store.campaign.CompletedAt)
	assert.Equal(t, noon, *f.store.campaign.CompletedAt)

	// Further ticks are no-ops on a completed campaign.
	f.tick(t)
	assert.Equal(t, 1, f.store.campaign.SentCount)
}

func TestTickSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t, 1, 1, 2)
	f.loop.Lock = busyLock{}

	f.tick(t)

	assert.Empty(t, f.store.messages)
	assert.Equal(t, 0, f.store.campaign.SentCount)
}

func TestTickSkipsOutsideWorkingHours(t *testing.T) {
	f := newFixture(t, 1, 1, 2)
	f.store.campaign.ScheduleConfig = model.ScheduleConfig{WorkStartTime: "08:00", WorkEndTime: "18:00"}
	f.now = time.Date(2026, 3, 10, 19, 30, 0, 0, time.UTC)

	f.tick(t)

	assert.Empty(t, f.store.messages)
	assert.Equal(t, -1, f.store.campaign.RotationCursor, "rotation must not advance on a gated tick")
}

func TestProgrammedPauseAfterEveryNSends(t *testing.T) {
	f := newFixture(t, 2, 1, 20)
	f.store.campaign.PauseConfig = model.PauseConfig{PauseAfter: 5, PauseDurationMinutes: 10}

	for i := 0; i < 5; i++ {
		f.tick(t)
	}
	require.NotNil(t, f.store.pause, "pause marker after the 5th send")
	assert.Equal(t, model.PauseSourceProgrammed, f.store.pause.Source)
	assert.Equal(t, noon, f.store.pause.StartedAt)

	// While the pause runs, ticks are no-ops.
	f.now = noon.Add(5 * time.Minute)
	f.tick(t)
	assert.Equal(t, 5, f.store.campaign.SentCount)

	// After it expires the loop clears the marker and resumes.
	f.now = noon.Add(11 * time.Minute)
	f.tick(t)
	assert.Nil(t, f.store.pause)
	assert.Equal(t, 6, f.store.campaign.SentCount)
}

func TestFailedContactRetriesThenCountsOnce(t *testing.T) {
	f := newFixture(t, 2, 1, 2)
	f.sender.outcomes = []error{
		fmt.Errorf("timeout"), fmt.Errorf("timeout"), fmt.Errorf("timeout"),
	}
	// Raise the removal threshold so channel health stays out of the way.
	f.store.campaign.AutoRemoveAccountFailures = 10

	// Contact 1 stays the next eligible until its attempts run out; each
	// retry goes through the next binding in rotation.
	for i := 0; i < 3; i++ {
		f.tick(t)
	}
	msg := f.store.messages[1]
	assert.Equal(t, model.MessageStatusFailed, msg.Status)
	assert.Equal(t, 3, msg.AttemptCount)
	assert.Equal(t, 1, f.store.campaign.FailedCount, "failed_count moves once, at terminal failure")

	// The loop moves on to contact 2 and the invariant holds.
	f.tick(t)
	assert.Equal(t, model.MessageStatusSent, f.store.messages[2].Status)
	total := f.store.campaign.SentCount + f.store.campaign.FailedCount
	assert.LessOrEqual(t, total, f.store.campaign.TotalContacts)
}

func TestChannelExhaustionPausesCampaign(t *testing.T) {
	f := newFixture(t, 1, 1, 5)
	f.store.campaign.AutoRemoveAccountFailures = 3

	// Three consecutive failures remove the only binding; the removal leaves
	// zero active channels, so the campaign pauses on the spot.
	f.sender.outcomes = []error{
		fmt.Errorf("blocked"), fmt.Errorf("blocked"), fmt.Errorf("blocked"),
	}
	for i := 0; i < 3; i++ {
		f.tick(t)
	}

	assert.Equal(t, model.BindingStateAutoRemoved, f.store.bindings[1].State)
	assert.Equal(t, model.CampaignStatusPaused, f.store.campaign.Status)

	// Paused means later ticks do nothing.
	f.tick(t)
	assert.Equal(t, 0, f.store.campaign.SentCount)
}

func TestTwoChannelsSurviveOneRemoval(t *testing.T) {
	f := newFixture(t, 2, 1, 10)

	// Binding order_index 0 fails every time, order_index 1 always works.
	// Rotation alternates, so after 0 accrues three failures it drops out
	// and 1 carries the rest alone.
	f.sender.outcomes = []error{
		fmt.Errorf("blocked"), nil, fmt.Errorf("blocked"), nil, fmt.Errorf("blocked"),
	}
	for i := 0; i < 6; i++ {
		f.tick(t)
	}

	assert.Equal(t, model.BindingStateAutoRemoved, f.store.bindings[1].State)
	assert.Equal(t, model.CampaignStatusRunning, f.store.campaign.Status)

	// All later sends ride the surviving binding.
	before := f.store.campaign.SentCount
	for i := 0; i < 3; i++ {
		f.tick(t)
		assert.Equal(t, 1, f.store.campaign.RotationCursor, "cursor stays on the surviving binding")
	}
	assert.Equal(t, before+3, f.store.campaign.SentCount)
}

func TestRestrictionPrecheckExcludesContacts(t *testing.T) {
	f := newFixture(t, 1, 1, 3)
	f.store.campaign.RestrictionCheckedAt = nil
	f.store.restrictions = []*model.Restriction{
		{TenantID: 7, Phone: f.store.contacts[1].Phone, Category: model.RestrictionBlocked},
	}

	// First tick runs the pre-check and then sends contact 1.
	f.tick(t)
	require.NotNil(t, f.store.campaign.RestrictionCheckedAt)
	assert.True(t, f.store.contacts[1].Restricted)

	f.tick(t) // contact 3, skipping the restricted one
	f.tick(t) // nothing left: complete

	assert.Equal(t, model.CampaignStatusCompleted, f.store.campaign.Status)
	assert.Equal(t, 2, f.store.campaign.SentCount)
	assert.Nil(t, f.store.messages[2], "restricted contact never gets a message")
}

func TestRestrictionLookupFailureFailsClosed(t *testing.T) {
	f := newFixture(t, 1, 1, 2)
	f.store.campaign.RestrictionCheckedAt = nil
	f.loop.Restrictions = restriction.NewGate(failingRestrictionStore{})

	err := f.loop.Tick(context.Background(), 1)
	require.Error(t, err)

	assert.Equal(t, model.CampaignStatusPaused, f.store.campaign.Status)
	assert.Empty(t, f.store.messages, "nothing may be sent past a failed restriction check")
}

type failingRestrictionStore struct{}

func (failingRestrictionStore) FindActive(tenantID int, phones []string, now time.Time) ([]*model.Restriction, error) {
	return nil, fmt.Errorf("connection refused")
}
