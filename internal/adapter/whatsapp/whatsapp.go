// Package whatsapp implements the channel adapter port for the WhatsApp
// Business Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/expertloop/expertloop/internal/domain"
	"github.com/expertloop/expertloop/internal/domain/delivery"
	"github.com/expertloop/expertloop/internal/port/channel"
)

const providerName = "whatsapp"

// The Cloud API only accepts free-form messages inside this window
// after the user's last inbound message; outside it, only pre-approved
// templates go through.
const defaultWindow = 24 * time.Hour

const sendAttempts = 3

// Adapter sends messages through the WhatsApp Business Cloud API and
// tracks the free-form window per conversation from inbound traffic.
type Adapter struct {
	apiURL     string
	token      string
	window     time.Duration
	httpClient *http.Client

	mu          sync.RWMutex
	lastInbound map[string]time.Time
}

// NewAdapter creates an adapter from provider settings. Recognized
// keys: api_url, token, window (Go duration).
func NewAdapter(settings map[string]string) (*Adapter, error) {
	apiURL := settings["api_url"]
	if apiURL == "" {
		return nil, fmt.Errorf("whatsapp: api_url is required")
	}

	window := defaultWindow
	if raw := settings["window"]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("whatsapp: parse window: %w", err)
		}
		window = d
	}

	return &Adapter{
		apiURL:      apiURL,
		token:       settings["token"],
		window:      window,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		lastInbound: make(map[string]time.Time),
	}, nil
}

func (a *Adapter) Name() string { return providerName }

// NoteInbound records an inbound message, reopening the free-form window.
func (a *Adapter) NoteInbound(conversationID string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if at.After(a.lastInbound[conversationID]) {
		a.lastInbound[conversationID] = at
	}
}

// IsFreeFormWindowOpen reports whether the conversation saw inbound
// traffic within the provider window. Unknown conversations count as
// closed; templates are always legal to send.
func (a *Adapter) IsFreeFormWindowOpen(_ context.Context, conversationID string) (bool, error) {
	a.mu.RLock()
	last, ok := a.lastInbound[conversationID]
	a.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return time.Since(last) < a.window, nil
}

// outboundMessage mirrors the Cloud API send payload, reduced to the
// text and template shapes the engine produces.
type outboundMessage struct {
	To       string            `json:"to"`
	Type     string            `json:"type"`
	Text     *textBody         `json:"text,omitempty"`
	Template *templateBody     `json:"template,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type textBody struct {
	Body string `json:"body"`
}

type templateBody struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send transports the decision. Transient failures retry with a short
// backoff; exhaustion surfaces domain.ErrDeliveryFailed.
func (a *Adapter) Send(ctx context.Context, conversationID string, d delivery.Decision) (channel.Receipt, error) {
	msg := outboundMessage{To: conversationID}
	if d.FreeForm {
		msg.Type = "text"
		msg.Text = &textBody{Body: d.Payload}
	} else {
		msg.Type = "template"
		msg.Template = &templateBody{Name: d.TemplateName, Body: d.Payload}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return channel.Receipt{}, fmt.Errorf("whatsapp marshal: %w", err)
	}

	var lastErr error
	for attempt := range sendAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return channel.Receipt{}, fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, ctx.Err())
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		receipt, err := a.post(ctx, body)
		if err == nil {
			return receipt, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return channel.Receipt{}, fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, lastErr)
}

func (a *Adapter) post(ctx context.Context, body []byte) (channel.Receipt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return channel.Receipt{}, fmt.Errorf("whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return channel.Receipt{}, fmt.Errorf("whatsapp send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return channel.Receipt{}, &apiError{status: resp.StatusCode, body: string(respBody)}
	}

	var parsed sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return channel.Receipt{}, fmt.Errorf("whatsapp decode response: %w", err)
	}

	receipt := channel.Receipt{SentAt: time.Now()}
	if len(parsed.Messages) > 0 {
		receipt.MessageID = parsed.Messages[0].ID
	}
	return receipt, nil
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return "whatsapp API " + strconv.Itoa(e.status) + ": " + e.body
}

// retryable treats server-side and rate-limit failures as transient;
// 4xx rejections never succeed on replay.
func retryable(err error) bool {
	var ae *apiError
	if !errors.As(err, &ae) {
		return true // network error
	}
	return ae.status >= 500 || ae.status == http.StatusTooManyRequests
}
