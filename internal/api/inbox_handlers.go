package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"inbox-hub/internal/inbox"
	"inbox-hub/internal/model"
)

type ReplyRequest struct {
	Text       string `json:"text"`
	ImageURL   string `json:"image_url"`
	ImageURLCC string `json:"imageUrl"`
	Caption    string `json:"caption"`
}

type AssignRequest struct {
	UserID *uuid.UUID `json:"user_id"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// @Summary List the tenant's inbox
// @Tags Inbox
// @Security ApiKeyAuth
// @Produce json
// @Param status query string false "open or closed, defaults to open"
// @Success 200 {array} model.Conversation
// @Router /api/inbox [get]
func (a *API) ListInbox(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	status := model.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = model.StatusOpen
	}
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, "status must be open or closed")
		return
	}

	convs, err := a.Inbox.Inbox(r.Context(), tenantID, status)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

// @Summary List a conversation's messages, oldest first
// @Tags Inbox
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "Conversation UUID"
// @Param cursor query string false "Pagination cursor"
// @Param limit query int false "Page size (max 500)"
// @Success 200 {object} map[string]interface{}
// @Router /api/conversations/{id}/messages [get]
func (a *API) ListMessages(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	convID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	messages, nextCursor, err := a.Inbox.Messages(r.Context(), tenantID, convID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":        messages,
		"next_cursor": nextCursor,
	})
}

// @Summary Send a manual reply
// @Tags Inbox
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param id path string true "Conversation UUID"
// @Param body body ReplyRequest true "text and/or image_url"
// @Success 200 {object} map[string]interface{}
// @Failure 502 {object} errorResponse
// @Router /api/conversations/{id}/reply [post]
func (a *API) Reply(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	convID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req ReplyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	imageURL := req.ImageURL
	if imageURL == "" {
		imageURL = req.ImageURLCC
	}

	res, err := a.Inbox.Reply(r.Context(), tenantID, convID, inbox.ReplyInput{
		Text:     req.Text,
		ImageURL: imageURL,
		Caption:  req.Caption,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "messageId": nilIfZero(res.MessageID)})
}

// @Summary Hand the conversation to a human
// @Tags Inbox
// @Security ApiKeyAuth
// @Param id path string true "Conversation UUID"
// @Success 200 {object} okResponse
// @Router /api/conversations/{id}/takeover [post]
func (a *API) Takeover(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.Inbox.Takeover)
}

// @Summary Give the conversation back to the bot
// @Tags Inbox
// @Security ApiKeyAuth
// @Param id path string true "Conversation UUID"
// @Success 200 {object} okResponse
// @Router /api/conversations/{id}/return-to-bot [post]
func (a *API) ReturnToBot(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.Inbox.ReturnToBot)
}

// @Summary Close the conversation
// @Tags Inbox
// @Security ApiKeyAuth
// @Param id path string true "Conversation UUID"
// @Success 200 {object} okResponse
// @Router /api/conversations/{id}/close [post]
func (a *API) Close(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.Inbox.Close)
}

// @Summary Reopen the conversation
// @Tags Inbox
// @Security ApiKeyAuth
// @Param id path string true "Conversation UUID"
// @Success 200 {object} okResponse
// @Router /api/conversations/{id}/reopen [post]
func (a *API) Reopen(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.Inbox.Reopen)
}

// @Summary Assign or unassign an agent
// @Tags Inbox
// @Security ApiKeyAuth
// @Accept json
// @Param id path string true "Conversation UUID"
// @Param body body AssignRequest true "user_id or null"
// @Success 200 {object} okResponse
// @Router /api/conversations/{id}/assign [post]
func (a *API) Assign(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	convID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req AssignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := a.Inbox.Assign(r.Context(), tenantID, convID, req.UserID); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// @Summary Subscribe to the tenant's realtime events
// @Tags Realtime
// @Security ApiKeyAuth
// @Param token query string false "JWT, for clients that cannot set headers"
// @Success 101
// @Router /api/ws [get]
func (a *API) Subscribe(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	a.Hub.ServeWS(w, r, tenantID)
}

func (a *API) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tenantID, conversationID uuid.UUID) (model.Conversation, error)) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	convID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, err := op(r.Context(), tenantID, convID); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}
