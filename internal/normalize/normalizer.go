package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"inbox-hub/internal/model"
)

const EventTypeInboundMessage = "inbound_message"

// Envelope is the body channel adapters POST to the ingestion endpoint.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Payload is the wire shape of an inbound message before validation.
type Payload struct {
	TenantID          string          `json:"tenantId" validate:"required,uuid"`
	Channel           string          `json:"channel" validate:"required,oneof=whatsapp instagram messenger"`
	ExternalThreadID  string          `json:"externalThreadId" validate:"required,min=3,nonul"`
	ExternalMessageID string          `json:"externalMessageId" validate:"required,min=3,nonul"`
	FromMe            *bool           `json:"fromMe" validate:"required"`
	Type              string          `json:"type" validate:"required,oneof=text image audio doc"`
	Text              *string         `json:"text,omitempty" validate:"omitempty,nonul"`
	MediaURL          *string         `json:"mediaUrl,omitempty" validate:"omitempty,mediaurl,nonul"`
	MimeType          *string         `json:"mimeType,omitempty" validate:"omitempty,nonul"`
	TS                json.RawMessage `json:"ts,omitempty"`
	Raw               json.RawMessage `json:"raw,omitempty" validate:"omitempty,nonuljson"`
}

// TenantChecker reports whether a tenant has been provisioned.
type TenantChecker interface {
	TenantExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Normalizer validates raw adapter payloads and canonicalizes them into
// model.InboundMessage. It has no side effects.
type Normalizer struct {
	tenants  TenantChecker
	validate *validator.Validate
	now      func() time.Time
}

func New(tenants TenantChecker) *Normalizer {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("mediaurl", func(fl validator.FieldLevel) bool {
		return IsMediaURL(fl.Field().String())
	})
	// Postgres text and jsonb columns reject NUL characters.
	_ = v.RegisterValidation("nonul", func(fl validator.FieldLevel) bool {
		return !strings.ContainsRune(fl.Field().String(), 0)
	})
	_ = v.RegisterValidation("nonuljson", func(fl validator.FieldLevel) bool {
		var doc any
		if err := json.Unmarshal(fl.Field().Bytes(), &doc); err != nil {
			return false
		}
		return !containsNUL(doc)
	})
	return &Normalizer{tenants: tenants, validate: v, now: time.Now}
}

// WithClock swaps the time source used for timestamp substitution.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// IsMediaURL accepts http(s) and embedded data URLs. Empty means absent.
func IsMediaURL(v string) bool {
	return v == "" || strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") || strings.HasPrefix(v, "data:")
}

// NormalizeEnvelope decodes an ingestion request body and normalizes its payload.
func (n *Normalizer) NormalizeEnvelope(ctx context.Context, body []byte) (model.InboundMessage, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		ve := &ValidationError{}
		ve.add("body", "malformed json")
		return model.InboundMessage{}, ve
	}

	ve := &ValidationError{}
	if env.Type != EventTypeInboundMessage {
		ve.add("type", "must be "+EventTypeInboundMessage)
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		ve.add("payload", "required")
		return model.InboundMessage{}, ve
	}

	var p Payload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			ve.add(typeErr.Field, "must be "+typeErr.Type.String())
		} else {
			ve.add("payload", "malformed json")
		}
		return model.InboundMessage{}, ve
	}
	if len(ve.Issues) > 0 {
		// still report payload issues alongside the envelope issue
		ve.Issues = append(ve.Issues, n.check(p)...)
		return model.InboundMessage{}, ve
	}
	return n.Normalize(ctx, p)
}

// Normalize validates p, confirms the tenant exists and returns the canonical event.
func (n *Normalizer) Normalize(ctx context.Context, p Payload) (model.InboundMessage, error) {
	ve := &ValidationError{Issues: n.check(p)}
	if err := ve.orNil(); err != nil {
		return model.InboundMessage{}, err
	}

	tenantID := uuid.MustParse(p.TenantID)
	if n.tenants != nil {
		ok, err := n.tenants.TenantExists(ctx, tenantID)
		if err != nil {
			return model.InboundMessage{}, fmt.Errorf("check tenant: %w", err)
		}
		if !ok {
			return model.InboundMessage{}, ErrInvalidTenant
		}
	}

	ts, _ := parseTimestamp(p.TS)

	msg := model.InboundMessage{
		TenantID:          tenantID,
		Channel:           model.Channel(p.Channel),
		ExternalThreadID:  p.ExternalThreadID,
		ExternalMessageID: p.ExternalMessageID,
		FromMe:            *p.FromMe,
		Type:              model.MessageType(p.Type),
		Text:              p.Text,
		MediaURL:          emptyToNil(p.MediaURL),
		MimeType:          emptyToNil(p.MimeType),
		TS:                NormalizeTimestamp(ts, n.now()),
	}
	if len(p.Raw) > 0 && string(p.Raw) != "null" {
		msg.Raw = p.Raw
	}
	return msg, nil
}

func (n *Normalizer) check(p Payload) []Issue {
	err := n.validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Issue{{Field: "payload", Reason: err.Error()}}
	}
	issues := make([]Issue, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, Issue{Field: fe.Field(), Reason: reason(fe)})
	}
	return issues
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "uuid":
		return "must be a uuid"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "mediaurl":
		return "must be http(s) URL or data URL"
	case "nonul", "nonuljson":
		return "must not contain NUL characters"
	default:
		return "failed " + fe.Tag()
	}
}

func containsNUL(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.ContainsRune(t, 0)
	case []any:
		for _, e := range t {
			if containsNUL(e) {
				return true
			}
		}
	case map[string]any:
		for k, e := range t {
			if strings.ContainsRune(k, 0) || containsNUL(e) {
				return true
			}
		}
	}
	return false
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
