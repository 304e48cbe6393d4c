package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"inbox-hub/internal/auth"
	"inbox-hub/internal/inbox"
	"inbox-hub/internal/manager"
	"inbox-hub/internal/normalize"
	"inbox-hub/internal/outbound"
	"inbox-hub/internal/storage"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	OK     bool              `json:"ok"`
	Error  string            `json:"error"`
	Issues []normalize.Issue `json:"issues,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// fail maps domain errors to status codes. Internal details are logged, never returned.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *normalize.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: normalize.ErrInvalidPayload.Error(), Issues: ve.Issues})
	case errors.Is(err, normalize.ErrInvalidTenant):
		writeError(w, http.StatusBadRequest, normalize.ErrInvalidTenant.Error())
	case errors.Is(err, inbox.ErrEmptyReply), errors.Is(err, inbox.ErrInvalidImageURL), errors.Is(err, storage.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, manager.ErrTenantNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, outbound.ErrDispatch):
		a.logger.WarnContext(r.Context(), "gateway dispatch failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "gateway unavailable, retry")
	default:
		a.logger.ErrorContext(r.Context(), "request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func tenantFrom(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := auth.TenantUUID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized tenant")
	}
	return id, ok
}

func nilIfZero(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
