package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inbox-hub/internal/logger"
	"inbox-hub/internal/model"
	"inbox-hub/internal/storage"
)

type memStore struct {
	mu    sync.Mutex
	convs map[uuid.UUID]model.Conversation
}

func (s *memStore) update(tenantID, id uuid.UUID, fn func(*model.Conversation)) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok || c.TenantID != tenantID {
		return model.Conversation{}, storage.ErrNotFound
	}
	fn(&c)
	c.UpdatedAt = time.Now()
	s.convs[id] = c
	return c, nil
}

func (s *memStore) SetConversationMode(_ context.Context, tenantID, id uuid.UUID, mode model.Mode) (model.Conversation, error) {
	return s.update(tenantID, id, func(c *model.Conversation) { c.Mode = mode })
}

func (s *memStore) SetConversationStatus(_ context.Context, tenantID, id uuid.UUID, status model.Status) (model.Conversation, error) {
	return s.update(tenantID, id, func(c *model.Conversation) { c.Status = status })
}

func (s *memStore) SetAssignedUser(_ context.Context, tenantID, id uuid.UUID, userID *uuid.UUID) (model.Conversation, error) {
	return s.update(tenantID, id, func(c *model.Conversation) { c.AssignedUserID = userID })
}

type event struct {
	tenant  uuid.UUID
	name    string
	payload any
}

// recorder also checks that the store is already updated when an event fires.
type recorder struct {
	store  *memStore
	events []event
	seen   []model.Conversation
}

func (r *recorder) Publish(tenantID uuid.UUID, name string, payload any) {
	r.events = append(r.events, event{tenant: tenantID, name: name, payload: payload})
	if p, ok := payload.(model.ConversationUpdated); ok {
		r.store.mu.Lock()
		r.seen = append(r.seen, r.store.convs[p.ConversationID])
		r.store.mu.Unlock()
	}
}

func setup(t *testing.T) (*Machine, *memStore, *recorder, model.Conversation) {
	t.Helper()
	conv := model.Conversation{
		ID: uuid.New(), TenantID: uuid.New(), Channel: model.ChannelWhatsApp,
		ExternalThreadID: "thread-1", Mode: model.ModeBotOn, Status: model.StatusOpen,
	}
	store := &memStore{convs: map[uuid.UUID]model.Conversation{conv.ID: conv}}
	rec := &recorder{store: store}
	return NewMachine(store, rec, logger.Discard()), store, rec, conv
}

func TestTakeoverAndReturnToBot(t *testing.T) {
	m, _, rec, conv := setup(t)
	ctx := context.Background()

	got, err := m.Takeover(ctx, conv.TenantID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ModeHuman, got.Mode)

	got, err = m.ReturnToBot(ctx, conv.TenantID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ModeBotOn, got.Mode)

	require.Len(t, rec.events, 2)
	for _, e := range rec.events {
		assert.Equal(t, model.EventConversationUpdated, e.name)
		assert.Equal(t, conv.TenantID, e.tenant)
	}
	require.Len(t, rec.seen, 2)
	assert.Equal(t, model.ModeHuman, rec.seen[0].Mode)
	assert.Equal(t, model.ModeBotOn, rec.seen[1].Mode)
}

func TestAssignDoesNotTouchMode(t *testing.T) {
	m, _, rec, conv := setup(t)
	ctx := context.Background()
	user := uuid.New()

	got, err := m.Assign(ctx, conv.TenantID, conv.ID, &user)
	require.NoError(t, err)
	require.NotNil(t, got.AssignedUserID)
	assert.Equal(t, user, *got.AssignedUserID)
	assert.Equal(t, model.ModeBotOn, got.Mode)

	got, err = m.Assign(ctx, conv.TenantID, conv.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, got.AssignedUserID)
	assert.Len(t, rec.events, 2)
}

func TestCloseAndReopen(t *testing.T) {
	m, _, _, conv := setup(t)
	ctx := context.Background()

	got, err := m.Close(ctx, conv.TenantID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusClosed, got.Status)

	got, err = m.Reopen(ctx, conv.TenantID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, got.Status)
}

func TestOtherTenantSeesNotFoundAndNoEvent(t *testing.T) {
	m, store, rec, conv := setup(t)

	_, err := m.Takeover(context.Background(), uuid.New(), conv.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, rec.events)
	assert.Equal(t, model.ModeBotOn, store.convs[conv.ID].Mode)
}
