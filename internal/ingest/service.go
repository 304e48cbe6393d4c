// Package ingest stores normalized inbound messages and fires the
// downstream actions for the ones that are new.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"inbox-hub/internal/autoreply"
	"inbox-hub/internal/metrics"
	"inbox-hub/internal/model"
	"inbox-hub/internal/normalize"
	"inbox-hub/internal/storage"
)

// ErrStorage marks failures the caller may retry; dedupe makes retries safe.
var ErrStorage = errors.New("storage failure")

type Result = storage.IngestResult

type Store interface {
	IngestMessage(ctx context.Context, msg model.InboundMessage) (storage.IngestResult, error)
}

type Notifier interface {
	Publish(tenantID uuid.UUID, event string, payload any)
}

// Dispatcher hands auto-reply work off the request path.
type Dispatcher interface {
	Dispatch(ctx context.Context, task autoreply.Task) error
}

type Service struct {
	normalizer *normalize.Normalizer
	store      Store
	notifier   Notifier
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewService(normalizer *normalize.Normalizer, store Store, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		normalizer: normalizer,
		store:      store,
		notifier:   notifier,
		logger:     logger.With(slog.String("component", "ingest")),
	}
}

// SetDispatcher wires the auto-reply dispatcher. The policy re-enters
// Ingest, so the two are built in separate steps.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Accept validates a raw {type, payload} envelope and ingests it.
func (s *Service) Accept(ctx context.Context, body []byte) (Result, error) {
	msg, err := s.normalizer.NormalizeEnvelope(ctx, body)
	if err != nil {
		if errors.Is(err, normalize.ErrInvalidPayload) || errors.Is(err, normalize.ErrInvalidTenant) {
			metrics.IngestTotal.WithLabelValues("", "invalid").Inc()
			return Result{}, err
		}
		metrics.IngestTotal.WithLabelValues("", "error").Inc()
		return Result{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return s.Ingest(ctx, msg)
}

// Ingest persists msg atomically. A duplicate delivery returns the owning
// conversation with Deduped set and triggers nothing.
func (s *Service) Ingest(ctx context.Context, msg model.InboundMessage) (Result, error) {
	tenant := msg.TenantID.String()
	log := s.logger.With(
		slog.String("tenant_id", tenant),
		slog.String("channel", string(msg.Channel)),
		slog.String("external_message_id", msg.ExternalMessageID),
	)

	res, err := s.store.IngestMessage(ctx, msg)
	if err != nil {
		metrics.IngestTotal.WithLabelValues(tenant, "error").Inc()
		log.ErrorContext(ctx, "ingest failed", slog.Any("error", err))
		return Result{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	log = log.With(slog.String("conversation_id", res.ConversationID.String()))

	if res.Deduped {
		metrics.IngestTotal.WithLabelValues(tenant, "deduped").Inc()
		log.DebugContext(ctx, "duplicate delivery ignored")
		return res, nil
	}
	metrics.IngestTotal.WithLabelValues(tenant, "created").Inc()
	log.InfoContext(ctx, "message stored", slog.Bool("from_me", msg.FromMe), slog.String("type", string(msg.Type)))

	s.notifier.Publish(msg.TenantID, model.EventMessageCreated, model.MessageCreated{
		TenantID:       msg.TenantID,
		ConversationID: res.ConversationID,
		MessageID:      res.MessageID,
	})
	s.notifier.Publish(msg.TenantID, model.EventConversationUpdated, model.ConversationUpdated{
		TenantID:       msg.TenantID,
		ConversationID: res.ConversationID,
	})

	if s.dispatcher != nil && autoreply.Qualifies(msg) {
		task := autoreply.NewTask(res.ConversationID, res.MessageID, msg)
		if err := s.dispatcher.Dispatch(ctx, task); err != nil {
			log.WarnContext(ctx, "auto-reply dispatch failed", slog.Any("error", err))
		}
	}
	return res, nil
}
