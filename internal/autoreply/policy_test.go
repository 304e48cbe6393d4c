package autoreply

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inbox-hub/internal/logger"
	"inbox-hub/internal/model"
	"inbox-hub/internal/outbound"
	"inbox-hub/internal/storage"
)

type fakeStore struct {
	mu         sync.Mutex
	botEnabled bool
	convs      map[uuid.UUID]model.Conversation
	fromMeTS   []int64
}

func (s *fakeStore) TenantBotEnabled(context.Context, uuid.UUID) (bool, error) {
	return s.botEnabled, nil
}

func (s *fakeStore) GetConversation(_ context.Context, tenantID, id uuid.UUID) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok || c.TenantID != tenantID {
		return model.Conversation{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *fakeStore) CountFromMeSince(_ context.Context, _, _ uuid.UUID, since int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ts := range s.fromMeTS {
		if ts >= since {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Takeover(_ context.Context, tenantID, id uuid.UUID) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.convs[id]
	c.Mode = model.ModeHuman
	s.convs[id] = c
	return c, nil
}

func (s *fakeStore) Ingest(_ context.Context, msg model.InboundMessage) (storage.IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fromMeTS = append(s.fromMeTS, msg.TS)
	return storage.IngestResult{ConversationID: uuid.New(), MessageID: uuid.New()}, nil
}

type fakeGenerator struct {
	reply  string
	err    error
	block  bool
	calls  int
	system string
}

func (g *fakeGenerator) Generate(ctx context.Context, system, _ string) (string, error) {
	g.calls++
	g.system = system
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.reply, g.err
}

type fakeSender struct {
	sent []outbound.Message
	err  error
}

func (s *fakeSender) Send(_ context.Context, m outbound.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, m)
	return nil
}

type recordingIngester struct {
	store *fakeStore
	msgs  []model.InboundMessage
}

func (r *recordingIngester) Ingest(ctx context.Context, msg model.InboundMessage) (storage.IngestResult, error) {
	r.msgs = append(r.msgs, msg)
	return r.store.Ingest(ctx, msg)
}

type harness struct {
	policy   *Policy
	store    *fakeStore
	gen      *fakeGenerator
	sender   *fakeSender
	ingester *recordingIngester
	conv     model.Conversation
	now      time.Time
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	conv := model.Conversation{
		ID: uuid.New(), TenantID: uuid.New(), Channel: model.ChannelWhatsApp,
		ExternalThreadID: "5491100000000", Mode: model.ModeBotOn, Status: model.StatusOpen,
	}
	store := &fakeStore{botEnabled: true, convs: map[uuid.UUID]model.Conversation{conv.ID: conv}}
	h := &harness{
		store:    store,
		gen:      &fakeGenerator{reply: "¡Hola! ¿Qué modelo te interesa?"},
		sender:   &fakeSender{},
		ingester: &recordingIngester{store: store},
		conv:     conv,
		now:      now,
	}
	h.policy = NewPolicy(store, store, h.gen, h.sender, h.ingester, opts, logger.Discard()).
		WithClock(func() time.Time { return h.now })
	return h
}

func defaultOptions() Options {
	return Options{Enabled: true, MaxRepliesPerHour: 6, Timeout: time.Second, SystemPrompt: "prompt"}
}

func (h *harness) task(text string) Task {
	return Task{
		TenantID: h.conv.TenantID, ConversationID: h.conv.ID, MessageID: uuid.New(),
		Channel: h.conv.Channel, ExternalThreadID: h.conv.ExternalThreadID, Text: text,
	}
}

func TestRunRepliesAndPersists(t *testing.T) {
	h := newHarness(t, defaultOptions())

	outcome, err := h.policy.Run(context.Background(), h.task("Hola, precio?"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, outcome)
	assert.Equal(t, "prompt", h.gen.system)

	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, h.conv.ExternalThreadID, h.sender.sent[0].To)
	assert.Equal(t, model.ChannelWhatsApp, h.sender.sent[0].Channel)

	require.Len(t, h.ingester.msgs, 1)
	saved := h.ingester.msgs[0]
	assert.True(t, saved.FromMe)
	assert.Equal(t, model.MessageText, saved.Type)
	assert.True(t, strings.HasPrefix(saved.ExternalMessageID, LocalIDPrefix))
	assert.Equal(t, h.now.UnixMilli(), saved.TS)
	require.NotNil(t, saved.Text)
	assert.Equal(t, "¡Hola! ¿Qué modelo te interesa?", *saved.Text)
}

func TestRunHandoffSuppressesReply(t *testing.T) {
	h := newHarness(t, defaultOptions())

	outcome, err := h.policy.Run(context.Background(), h.task("Quiero hablar con un vendedor"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeHandoff, outcome)
	assert.Equal(t, model.ModeHuman, h.store.convs[h.conv.ID].Mode)
	assert.Zero(t, h.gen.calls)
	assert.Empty(t, h.sender.sent)
	assert.Empty(t, h.ingester.msgs)

	outcome, err = h.policy.Run(context.Background(), h.task("hola?"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotBotMode, outcome)
}

func TestRunDisabled(t *testing.T) {
	opts := defaultOptions()
	opts.Enabled = false
	h := newHarness(t, opts)
	outcome, err := h.policy.Run(context.Background(), h.task("hola"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeBotDisabled, outcome)

	h = newHarness(t, defaultOptions())
	h.store.botEnabled = false
	outcome, err = h.policy.Run(context.Background(), h.task("hola"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeBotDisabled, outcome)
	assert.Zero(t, h.gen.calls)
}

func TestRunMissingConversation(t *testing.T) {
	h := newHarness(t, defaultOptions())
	task := h.task("hola")
	task.ConversationID = uuid.New()

	outcome, err := h.policy.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConversationMissing, outcome)
}

func TestRunRateLimitRollsOver(t *testing.T) {
	h := newHarness(t, defaultOptions())
	start := h.now
	for i := 0; i < 6; i++ {
		outcome, err := h.policy.Run(context.Background(), h.task("hola"))
		require.NoError(t, err)
		require.Equal(t, OutcomeReplied, outcome)
		h.now = h.now.Add(time.Minute)
	}

	outcome, err := h.policy.Run(context.Background(), h.task("hola"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRateLimited, outcome)
	assert.Len(t, h.sender.sent, 6)

	// The oldest counted reply leaves the window.
	h.now = start.Add(time.Hour + time.Millisecond)
	outcome, err = h.policy.Run(context.Background(), h.task("hola"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, outcome)
}

func TestRunEmptyReplyIsSilent(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.gen.reply = "   "

	outcome, err := h.policy.Run(context.Background(), h.task("hola"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmptyReply, outcome)
	assert.Empty(t, h.sender.sent)
	assert.Empty(t, h.ingester.msgs)
}

func TestRunSendFailureDoesNotPersist(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.sender.err = outbound.ErrDispatch

	outcome, err := h.policy.Run(context.Background(), h.task("hola"))
	require.Error(t, err)
	assert.ErrorIs(t, err, outbound.ErrDispatch)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Empty(t, h.ingester.msgs)
}

func TestRunGeneratorTimeout(t *testing.T) {
	opts := defaultOptions()
	opts.Timeout = 20 * time.Millisecond
	h := newHarness(t, opts)
	h.gen.block = true

	outcome, err := h.policy.Run(context.Background(), h.task("hola"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Empty(t, h.sender.sent)
	assert.Empty(t, h.ingester.msgs)
}

func TestHandleReturnsRunError(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.gen.err = errors.New("boom")

	err := h.policy.Handle(context.Background(), h.task("hola"))
	assert.Error(t, err)
	assert.NoError(t, h.policy.Handle(context.Background(), h.task("hola de nuevo")))
}
