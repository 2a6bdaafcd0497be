package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/eduanalytics/notify-relay/internal/domain"
)

// WebhookSender delivers by POSTing to an aggregator gateway. SMS and push
// both ride this path, each with its own gateway URL.
// The base URL is injected from config so tests can point to a local mock.
type WebhookSender struct {
	channel    domain.Channel
	baseURL    string
	httpClient *http.Client
}

var _ Sender = (*WebhookSender)(nil)

func NewWebhookSender(channel domain.Channel, baseURL string, timeout time.Duration) *WebhookSender {
	return &WebhookSender{
		channel: channel,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// webhookRequest is the JSON body posted to the gateway.
type webhookRequest struct {
	To        string `json:"to"`
	Channel   string `json:"channel"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
	MessageID string `json:"message_id"`
}

// webhookResponse maps the gateway's acceptance body.
type webhookResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

func (s *WebhookSender) Channel() domain.Channel { return s.channel }

// Send posts the message to the gateway and expects a 2xx response.
// Client errors other than timeout and rate limiting are permanent.
func (s *WebhookSender) Send(ctx context.Context, msg *domain.Message) (*Receipt, error) {
	body, err := json.Marshal(webhookRequest{
		To:        msg.RecipientAddress,
		Channel:   string(s.channel),
		Subject:   msg.Subject,
		Body:      bodyOf(msg),
		MessageID: msg.ID,
	})
	if err != nil {
		return nil, Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("gateway status %d", resp.StatusCode)
		if permanentHTTPStatus(resp.StatusCode) {
			return nil, Permanent(err)
		}
		return nil, err
	}

	var out webhookResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&out); decodeErr != nil {
		// Acceptance without a parseable body still counts as delivered.
		return &Receipt{Code: resp.StatusCode}, nil
	}
	return &Receipt{Code: resp.StatusCode, Detail: out.MessageID}, nil
}
