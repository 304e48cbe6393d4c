package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"inbox-hub/internal/auth"
	"inbox-hub/internal/model"
)

type IngestResponse struct {
	OK             bool       `json:"ok"`
	Deduped        bool       `json:"deduped"`
	ConversationID uuid.UUID  `json:"conversationId"`
	MessageID      *uuid.UUID `json:"messageId"`
}

type CreateTenantRequest struct {
	Name        string `json:"name"`
	BotEnabled  *bool  `json:"bot_enabled"`
	Concurrency int    `json:"concurrency"`
}

type BotConfig struct {
	Enabled bool `json:"enabled"`
}

type ConcurrencyConfig struct {
	Workers int `json:"workers"`
}

// @Summary Health check
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]bool
// @Router /health [get]
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// @Summary Database connectivity check
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]bool
// @Failure 503 {object} errorResponse
// @Router /dbping [get]
func (a *API) DBPing(w http.ResponseWriter, r *http.Request) {
	if err := a.Storage.Ping(r.Context()); err != nil {
		a.logger.WarnContext(r.Context(), "db ping failed", slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// @Summary Ingest a normalized inbound channel event
// @Tags Inbound
// @Accept json
// @Produce json
// @Param body body normalize.Envelope true "inbound_message envelope"
// @Success 200 {object} IngestResponse
// @Failure 400 {object} errorResponse
// @Failure 500 {object} errorResponse
// @Router /inbound/events [post]
func (a *API) InboundEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	res, err := a.Ingest.Accept(r.Context(), body)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, IngestResponse{
		OK:             true,
		Deduped:        res.Deduped,
		ConversationID: res.ConversationID,
		MessageID:      nilIfZero(res.MessageID),
	})
}

// @Summary List tenants
// @Tags Tenants
// @Produce json
// @Success 200 {array} model.Tenant
// @Router /tenants [get]
func (a *API) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := a.Storage.ListTenants(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if tenants == nil {
		tenants = []model.Tenant{}
	}
	writeJSON(w, http.StatusOK, tenants)
}

// @Summary Create a tenant
// @Tags Tenants
// @Accept json
// @Produce json
// @Param body body CreateTenantRequest false "Tenant settings"
// @Success 201 {object} map[string]string
// @Router /tenants [post]
func (a *API) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	t := model.Tenant{
		ID:          uuid.New(),
		Name:        req.Name,
		BotEnabled:  true,
		Concurrency: req.Concurrency,
	}
	if req.BotEnabled != nil {
		t.BotEnabled = *req.BotEnabled
	}

	if err := a.TenantMgr.AddTenant(r.Context(), t); err != nil {
		a.fail(w, r, err)
		return
	}

	a.logger.InfoContext(r.Context(), "created tenant", slog.String("tenant_id", t.ID.String()))
	writeJSON(w, http.StatusCreated, map[string]string{"tenant_id": t.ID.String()})
}

// @Summary Stop a tenant's auto-reply runtime and remove its queue
// @Tags Tenants
// @Param id path string true "Tenant UUID"
// @Success 204
// @Router /tenants/{id} [delete]
func (a *API) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := a.TenantMgr.RemoveTenant(id); err != nil {
		a.fail(w, r, err)
		return
	}

	a.logger.InfoContext(r.Context(), "deleted tenant", slog.String("tenant_id", id.String()))
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Enable or disable the tenant-wide auto-reply bot
// @Tags Tenants
// @Accept json
// @Param id path string true "Tenant UUID"
// @Param body body BotConfig true "Bot switch"
// @Success 204
// @Failure 404 {object} errorResponse
// @Router /tenants/{id}/bot [put]
func (a *API) SetTenantBot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var body BotConfig
	if !decodeBody(w, r, &body) {
		return
	}
	if err := a.Storage.SetTenantBotEnabled(r.Context(), id, body.Enabled); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Issue an agent token for a tenant
// @Tags Tenants
// @Produce json
// @Param id path string true "Tenant UUID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} errorResponse
// @Router /tenants/{id}/token [post]
func (a *API) IssueToken(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, err := a.Storage.GetTenant(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	token, err := auth.GenerateToken(id.String(), a.Cfg.Auth.TokenTTL)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// @Summary Update worker pool concurrency
// @Tags Tenants
// @Security ApiKeyAuth
// @Accept json
// @Param body body ConcurrencyConfig true "Concurrency config"
// @Success 204
// @Router /api/config/concurrency [put]
func (a *API) UpdateConcurrency(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantFrom(w, r)
	if !ok {
		return
	}

	var body ConcurrencyConfig
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Workers <= 0 {
		writeError(w, http.StatusBadRequest, "workers must be positive")
		return
	}

	if err := a.TenantMgr.SetWorkerCount(r.Context(), id, body.Workers); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
