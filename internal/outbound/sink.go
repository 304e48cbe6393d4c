// Package outbound delivers replies to the channel gateways.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"inbox-hub/internal/model"
)

var ErrDispatch = errors.New("outbound dispatch failed")

// Message is one send toward a channel gateway. To is the external thread id.
type Message struct {
	TenantID uuid.UUID
	Channel  model.Channel
	To       string
	Text     string
	ImageURL string
	Caption  string
}

type HTTPSink struct {
	client      *http.Client
	whatsappURL string
	metaURL     string
}

func NewHTTPSink(whatsappURL, metaURL string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{
		client:      &http.Client{Timeout: timeout},
		whatsappURL: strings.TrimRight(whatsappURL, "/"),
		metaURL:     strings.TrimRight(metaURL, "/"),
	}
}

type waTextRequest struct {
	TenantID string `json:"tenant_id"`
	To       string `json:"to"`
	Text     string `json:"text"`
}

type waImageRequest struct {
	TenantID string `json:"tenant_id"`
	To       string `json:"to"`
	ImageURL string `json:"image_url"`
	Caption  string `json:"caption"`
}

type metaSendRequest struct {
	TenantID string `json:"tenant_id"`
	Channel  string `json:"channel"`
	To       string `json:"to"`
	Text     string `json:"text"`
	ImageURL string `json:"image_url,omitempty"`
}

// Send routes WhatsApp to the session gateway and Instagram/Messenger to the Meta gateway.
func (s *HTTPSink) Send(ctx context.Context, m Message) error {
	if m.Text == "" && m.ImageURL == "" {
		return fmt.Errorf("%w: nothing to send", ErrDispatch)
	}
	tenant := m.TenantID.String()

	if m.Channel == model.ChannelWhatsApp {
		if m.ImageURL != "" {
			caption := m.Caption
			if caption == "" {
				caption = m.Text
			}
			return s.post(ctx, s.whatsappURL+"/send/image", waImageRequest{
				TenantID: tenant, To: m.To, ImageURL: m.ImageURL, Caption: caption,
			})
		}
		return s.post(ctx, s.whatsappURL+"/send/text", waTextRequest{TenantID: tenant, To: m.To, Text: m.Text})
	}

	text := m.Text
	if text == "" {
		text = m.Caption
	}
	return s.post(ctx, s.metaURL+"/send", metaSendRequest{
		TenantID: tenant, Channel: string(m.Channel), To: m.To, Text: text, ImageURL: m.ImageURL,
	})
}

func (s *HTTPSink) post(ctx context.Context, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned %d: %s", ErrDispatch, url, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
