// Package autoreply decides whether an inbound message gets an automated
// reply, and if so generates, sends and persists it.
package autoreply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"inbox-hub/internal/metrics"
	"inbox-hub/internal/model"
	"inbox-hub/internal/outbound"
	"inbox-hub/internal/storage"
)

const (
	rateWindow     = time.Hour
	defaultTimeout = 30 * time.Second
)

type Outcome string

const (
	OutcomeBotDisabled         Outcome = "bot_disabled"
	OutcomeConversationMissing Outcome = "conversation_missing"
	OutcomeNotBotMode          Outcome = "not_bot_mode"
	OutcomeHandoff             Outcome = "handoff"
	OutcomeRateLimited         Outcome = "rate_limited"
	OutcomeEmptyReply          Outcome = "empty_reply"
	OutcomeReplied             Outcome = "replied"
	OutcomeFailed              Outcome = "failed"
)

type Store interface {
	TenantBotEnabled(ctx context.Context, tenantID uuid.UUID) (bool, error)
	GetConversation(ctx context.Context, tenantID, conversationID uuid.UUID) (model.Conversation, error)
	CountFromMeSince(ctx context.Context, tenantID, conversationID uuid.UUID, sinceMillis int64) (int, error)
}

type ModeSwitcher interface {
	Takeover(ctx context.Context, tenantID, conversationID uuid.UUID) (model.Conversation, error)
}

type Generator interface {
	Generate(ctx context.Context, system, userText string) (string, error)
}

type Sender interface {
	Send(ctx context.Context, m outbound.Message) error
}

// Ingester persists the bot's own message through the normal pipeline.
type Ingester interface {
	Ingest(ctx context.Context, msg model.InboundMessage) (storage.IngestResult, error)
}

type Options struct {
	Enabled           bool
	MaxRepliesPerHour int
	// Timeout bounds reply generation plus dispatch.
	Timeout      time.Duration
	SystemPrompt string
}

type Policy struct {
	store     Store
	modes     ModeSwitcher
	generator Generator
	sender    Sender
	ingester  Ingester
	opts      Options
	now       func() time.Time
	logger    *slog.Logger
}

func NewPolicy(store Store, modes ModeSwitcher, generator Generator, sender Sender, ingester Ingester, opts Options, logger *slog.Logger) *Policy {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Policy{
		store:     store,
		modes:     modes,
		generator: generator,
		sender:    sender,
		ingester:  ingester,
		opts:      opts,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "autoreply")),
	}
}

func (p *Policy) WithClock(now func() time.Time) *Policy {
	p.now = now
	return p
}

// Handle runs the policy for task, then logs and counts the outcome.
// It is the function the worker pools execute.
func (p *Policy) Handle(ctx context.Context, task Task) error {
	start := p.now()
	outcome, err := p.Run(ctx, task)
	metrics.AutoReplyTotal.WithLabelValues(task.TenantID.String(), string(outcome)).Inc()

	log := p.logger.With(
		slog.String("tenant_id", task.TenantID.String()),
		slog.String("conversation_id", task.ConversationID.String()),
		slog.String("outcome", string(outcome)),
		slog.Duration("took", p.now().Sub(start)),
	)
	if err != nil {
		log.WarnContext(ctx, "auto-reply aborted", slog.Any("error", err))
		return err
	}
	log.DebugContext(ctx, "auto-reply finished")
	return nil
}

// Run walks the policy steps, stopping at the first negative result. Only
// real failures are returned as errors; the silent aborts are outcomes.
func (p *Policy) Run(ctx context.Context, task Task) (Outcome, error) {
	if !p.opts.Enabled {
		return OutcomeBotDisabled, nil
	}
	enabled, err := p.store.TenantBotEnabled(ctx, task.TenantID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load tenant: %w", err)
	}
	if !enabled {
		return OutcomeBotDisabled, nil
	}

	conv, err := p.store.GetConversation(ctx, task.TenantID, task.ConversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return OutcomeConversationMissing, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load conversation: %w", err)
	}
	if conv.Mode != model.ModeBotOn {
		return OutcomeNotBotMode, nil
	}

	if ShouldHandoff(task.Text) {
		if _, err := p.modes.Takeover(ctx, task.TenantID, task.ConversationID); err != nil {
			return OutcomeFailed, fmt.Errorf("handoff: %w", err)
		}
		return OutcomeHandoff, nil
	}

	since := p.now().Add(-rateWindow).UnixMilli()
	sent, err := p.store.CountFromMeSince(ctx, task.TenantID, task.ConversationID, since)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("count replies: %w", err)
	}
	if sent >= p.opts.MaxRepliesPerHour {
		return OutcomeRateLimited, nil
	}

	reply, err := p.generateAndSend(ctx, conv, task)
	if err != nil {
		return OutcomeFailed, err
	}
	if reply == "" {
		return OutcomeEmptyReply, nil
	}

	// Sent already; persist even if the caller's context has been cancelled meanwhile.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.Timeout)
	defer cancel()
	_, err = p.ingester.Ingest(persistCtx, model.InboundMessage{
		TenantID:          task.TenantID,
		Channel:           conv.Channel,
		ExternalThreadID:  conv.ExternalThreadID,
		ExternalMessageID: LocalMessageID(),
		FromMe:            true,
		Type:              model.MessageText,
		Text:              &reply,
		TS:                p.now().UnixMilli(),
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("persist reply: %w", err)
	}
	return OutcomeReplied, nil
}

func (p *Policy) generateAndSend(ctx context.Context, conv model.Conversation, task Task) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	reply, err := p.generator.Generate(ctx, p.opts.SystemPrompt, task.Text)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", nil
	}

	err = p.sender.Send(ctx, outbound.Message{
		TenantID: task.TenantID,
		Channel:  conv.Channel,
		To:       conv.ExternalThreadID,
		Text:     reply,
	})
	if err != nil {
		return "", fmt.Errorf("send reply: %w", err)
	}
	return reply, nil
}
