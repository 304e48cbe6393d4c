package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inbox-hub/internal/auth"
	"inbox-hub/internal/autoreply"
	"inbox-hub/internal/config"
	"inbox-hub/internal/conversation"
	"inbox-hub/internal/inbox"
	"inbox-hub/internal/ingest"
	"inbox-hub/internal/logger"
	"inbox-hub/internal/manager"
	"inbox-hub/internal/model"
	"inbox-hub/internal/normalize"
	"inbox-hub/internal/outbound"
	"inbox-hub/internal/realtime"
	"inbox-hub/internal/storage"
)

const serviceToken = "svc-token"

// fakeStore backs every store interface the API stack depends on.
type fakeStore struct {
	mu       sync.Mutex
	tenants  map[uuid.UUID]model.Tenant
	convs    map[uuid.UUID]model.Conversation
	threads  map[string]uuid.UUID
	messages map[string]uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tenants:  map[uuid.UUID]model.Tenant{},
		convs:    map[uuid.UUID]model.Conversation{},
		threads:  map[string]uuid.UUID{},
		messages: map[string]uuid.UUID{},
	}
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) CreateTenant(_ context.Context, t model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
	return nil
}

func (s *fakeStore) GetTenant(_ context.Context, id uuid.UUID) (model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return model.Tenant{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *fakeStore) ListTenants(context.Context) ([]model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	return out, nil
}

func (s *fakeStore) TenantExists(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tenants[id]
	return ok, nil
}

func (s *fakeStore) SetTenantBotEnabled(_ context.Context, id uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return storage.ErrNotFound
	}
	t.BotEnabled = enabled
	s.tenants[id] = t
	return nil
}

func (s *fakeStore) EnsurePartition(context.Context, uuid.UUID) error { return nil }

func (s *fakeStore) UpdateTenantConcurrency(_ context.Context, id uuid.UUID, workers int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return storage.ErrNotFound
	}
	t.Concurrency = workers
	s.tenants[id] = t
	return nil
}

func (s *fakeStore) IngestMessage(_ context.Context, msg model.InboundMessage) (storage.IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread := fmt.Sprintf("%s/%s/%s", msg.TenantID, msg.Channel, msg.ExternalThreadID)
	mk := fmt.Sprintf("%s/%s/%s", msg.TenantID, msg.Channel, msg.ExternalMessageID)
	if _, ok := s.messages[mk]; ok {
		return storage.IngestResult{ConversationID: s.threads[thread], Deduped: true}, nil
	}
	convID, ok := s.threads[thread]
	if !ok {
		convID = uuid.New()
		s.threads[thread] = convID
		s.convs[convID] = model.Conversation{
			ID:               convID,
			TenantID:         msg.TenantID,
			Channel:          msg.Channel,
			ExternalThreadID: msg.ExternalThreadID,
			Mode:             model.ModeBotOn,
			Status:           model.StatusOpen,
		}
	}
	id := uuid.New()
	s.messages[mk] = id
	return storage.IngestResult{ConversationID: convID, MessageID: id}, nil
}

func (s *fakeStore) ListConversations(_ context.Context, tenantID uuid.UUID, status model.Status, _ int) ([]model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Conversation{}
	for _, c := range s.convs {
		if c.TenantID == tenantID && (status == "" || c.Status == status) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) GetConversation(_ context.Context, tenantID, id uuid.UUID) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationLocked(tenantID, id)
}

func (s *fakeStore) conversationLocked(tenantID, id uuid.UUID) (model.Conversation, error) {
	c, ok := s.convs[id]
	if !ok || c.TenantID != tenantID {
		return model.Conversation{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *fakeStore) ListMessagesPaginated(context.Context, uuid.UUID, uuid.UUID, string, int) ([]model.Message, string, error) {
	return []model.Message{}, "", nil
}

func (s *fakeStore) update(tenantID, id uuid.UUID, fn func(*model.Conversation)) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.conversationLocked(tenantID, id)
	if err != nil {
		return c, err
	}
	fn(&c)
	s.convs[id] = c
	return c, nil
}

func (s *fakeStore) SetConversationMode(_ context.Context, tenantID, id uuid.UUID, mode model.Mode) (model.Conversation, error) {
	return s.update(tenantID, id, func(c *model.Conversation) { c.Mode = mode })
}

func (s *fakeStore) SetConversationStatus(_ context.Context, tenantID, id uuid.UUID, status model.Status) (model.Conversation, error) {
	return s.update(tenantID, id, func(c *model.Conversation) { c.Status = status })
}

func (s *fakeStore) SetAssignedUser(_ context.Context, tenantID, id uuid.UUID, user *uuid.UUID) (model.Conversation, error) {
	return s.update(tenantID, id, func(c *model.Conversation) { c.AssignedUserID = user })
}

type fakeSender struct {
	err  error
	sent []outbound.Message
}

func (f *fakeSender) Send(_ context.Context, m outbound.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

type testEnv struct {
	server *httptest.Server
	store  *fakeStore
	sender *fakeSender
	tenant uuid.UUID
	token  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	auth.SetSecret("test-secret")

	log := logger.Discard()
	store := newFakeStore()
	sender := &fakeSender{}
	hub := realtime.NewHub(log)
	t.Cleanup(hub.Close)

	cfg := config.Default()
	cfg.Server.IngestToken = serviceToken
	cfg.Auth.JWTSecret = "test-secret"

	ingestSvc := ingest.NewService(normalize.New(store), store, hub, log)
	machine := conversation.NewMachine(store, hub, log)
	inboxSvc := inbox.NewService(store, machine, sender, ingestSvc, log)
	tm := manager.NewTenantManager(nil, store, func(context.Context, autoreply.Task) error { return nil }, 2, log)
	t.Cleanup(tm.ShutdownAll)

	tenantID := uuid.New()
	require.NoError(t, tm.AddTenant(context.Background(), model.Tenant{ID: tenantID, Name: "acme", BotEnabled: true}))
	token, err := auth.GenerateToken(tenantID.String(), time.Hour)
	require.NoError(t, err)

	srv := httptest.NewServer(NewAPI(tm, store, ingestSvc, inboxSvc, hub, cfg, log).Router())
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, store: store, sender: sender, tenant: tenantID, token: token}
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (e *testEnv) listInbox(t *testing.T, status string) []model.Conversation {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.server.URL+"/api/inbox?status="+status, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var convs []model.Conversation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&convs))
	return convs
}

func (e *testEnv) inbound(tenantID uuid.UUID, thread, msgID string) map[string]any {
	return map[string]any{
		"type": "inbound_message",
		"payload": map[string]any{
			"tenantId":          tenantID.String(),
			"channel":           "whatsapp",
			"externalThreadId":  thread,
			"externalMessageId": msgID,
			"fromMe":            false,
			"type":              "text",
			"text":              "hola",
			"ts":                1700000000000,
		},
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
}

func TestInboundRequiresServiceToken(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/inbound/events", "", env.inbound(env.tenant, "thread-1", "wamid-1"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInboundEventStoresAndDedupes(t *testing.T) {
	env := newTestEnv(t)
	event := env.inbound(env.tenant, "thread-1", "wamid-1")

	resp, first := env.do(t, http.MethodPost, "/inbound/events", serviceToken, event)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, first["deduped"])
	assert.NotNil(t, first["messageId"])

	resp, second := env.do(t, http.MethodPost, "/inbound/events", serviceToken, event)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, second["deduped"])
	assert.Equal(t, first["conversationId"], second["conversationId"])
	assert.Nil(t, second["messageId"])
}

func TestInboundEventValidation(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/inbound/events", serviceToken, map[string]any{
		"type":    "inbound_message",
		"payload": map[string]any{"channel": "telegram"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["issues"])

	resp, _ = env.do(t, http.MethodPost, "/inbound/events", serviceToken, env.inbound(uuid.New(), "thread-1", "wamid-1"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAgentRoutesRequireJWT(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/api/inbox", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConversationTransitions(t *testing.T) {
	env := newTestEnv(t)
	_, created := env.do(t, http.MethodPost, "/inbound/events", serviceToken, env.inbound(env.tenant, "thread-1", "wamid-1"))
	convID := uuid.MustParse(created["conversationId"].(string))
	base := "/api/conversations/" + convID.String()

	resp, _ := env.do(t, http.MethodPost, base+"/takeover", env.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c, err := env.store.GetConversation(context.Background(), env.tenant, convID)
	require.NoError(t, err)
	assert.Equal(t, model.ModeHuman, c.Mode)

	resp, _ = env.do(t, http.MethodPost, base+"/close", env.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Empty(t, env.listInbox(t, "open"))
	assert.Len(t, env.listInbox(t, "closed"), 1)
	resp, _ = env.do(t, http.MethodGet, "/api/inbox?status=pending", env.token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	agent := uuid.New()
	resp, _ = env.do(t, http.MethodPost, base+"/assign", env.token, map[string]any{"user_id": agent})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c, err = env.store.GetConversation(context.Background(), env.tenant, convID)
	require.NoError(t, err)
	require.NotNil(t, c.AssignedUserID)
	assert.Equal(t, agent, *c.AssignedUserID)

	resp, _ = env.do(t, http.MethodPost, "/api/conversations/"+uuid.NewString()+"/reopen", env.token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInboxDefaultsToOpen(t *testing.T) {
	env := newTestEnv(t)
	_, closed := env.do(t, http.MethodPost, "/inbound/events", serviceToken, env.inbound(env.tenant, "thread-1", "wamid-1"))
	_, open := env.do(t, http.MethodPost, "/inbound/events", serviceToken, env.inbound(env.tenant, "thread-2", "wamid-2"))

	resp, _ := env.do(t, http.MethodPost, "/api/conversations/"+closed["conversationId"].(string)+"/close", env.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	convs := env.listInbox(t, "")
	require.Len(t, convs, 1)
	assert.Equal(t, open["conversationId"], convs[0].ID.String())
	assert.Equal(t, model.StatusOpen, convs[0].Status)
}

func TestConversationOfOtherTenantIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, created := env.do(t, http.MethodPost, "/inbound/events", serviceToken, env.inbound(env.tenant, "thread-1", "wamid-1"))

	other := uuid.New()
	require.NoError(t, env.store.CreateTenant(context.Background(), model.Tenant{ID: other}))
	otherToken, err := auth.GenerateToken(other.String(), time.Hour)
	require.NoError(t, err)

	resp, _ := env.do(t, http.MethodPost, "/api/conversations/"+created["conversationId"].(string)+"/takeover", otherToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReply(t *testing.T) {
	env := newTestEnv(t)
	_, created := env.do(t, http.MethodPost, "/inbound/events", serviceToken, env.inbound(env.tenant, "thread-1", "wamid-1"))
	path := "/api/conversations/" + created["conversationId"].(string) + "/reply"

	resp, _ := env.do(t, http.MethodPost, path, env.token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, path, env.token, map[string]any{"imageUrl": "https://cdn.example/a.png", "caption": "mirá"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, body["messageId"])
	require.Len(t, env.sender.sent, 1)
	assert.Equal(t, "thread-1", env.sender.sent[0].To)
	assert.Equal(t, "https://cdn.example/a.png", env.sender.sent[0].ImageURL)

	env.sender.err = fmt.Errorf("%w: connection refused", outbound.ErrDispatch)
	resp, _ = env.do(t, http.MethodPost, path, env.token, map[string]any{"text": "hola"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestTenantAdmin(t *testing.T) {
	env := newTestEnv(t)

	resp, created := env.do(t, http.MethodPost, "/tenants", serviceToken, map[string]any{"name": "beta", "bot_enabled": false})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := uuid.MustParse(created["tenant_id"].(string))

	tenant, err := env.store.GetTenant(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, tenant.BotEnabled)
	assert.Equal(t, 2, tenant.Concurrency)

	resp, _ = env.do(t, http.MethodPut, "/tenants/"+id.String()+"/bot", serviceToken, map[string]any{"enabled": true})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	tenant, err = env.store.GetTenant(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, tenant.BotEnabled)

	resp, issued := env.do(t, http.MethodPost, "/tenants/"+id.String()+"/token", serviceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	claims, err := auth.ValidateToken(issued["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, id.String(), claims.TenantID)

	resp, _ = env.do(t, http.MethodPost, "/tenants/"+uuid.NewString()+"/token", serviceToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/tenants/"+id.String(), serviceToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestUpdateConcurrency(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPut, "/api/config/concurrency", env.token, map[string]any{"workers": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPut, "/api/config/concurrency", env.token, map[string]any{"workers": 5})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	tenant, err := env.store.GetTenant(context.Background(), env.tenant)
	require.NoError(t, err)
	assert.Equal(t, 5, tenant.Concurrency)
}
