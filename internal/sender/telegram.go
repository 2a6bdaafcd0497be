package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/eduanalytics/notify-relay/internal/domain"
)

// TelegramSender delivers through the Telegram Bot API. The recipient
// address is the chat id. The base URL is injected so tests can point at a
// local mock instead of api.telegram.org.
type TelegramSender struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

var _ Sender = (*TelegramSender)(nil)

func NewTelegramSender(token, baseURL string, timeout time.Duration) *TelegramSender {
	return &TelegramSender{
		token:   token,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type telegramRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type telegramResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (s *TelegramSender) Channel() domain.Channel { return domain.ChannelTelegram }

// Send posts a sendMessage call. A 4xx other than rate limiting means the
// chat id is bad or the bot was blocked, which no retry fixes.
func (s *TelegramSender) Send(ctx context.Context, msg *domain.Message) (*Receipt, error) {
	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)

	body, err := json.Marshal(telegramRequest{
		ChatID: msg.RecipientAddress,
		Text:   bodyOf(msg),
	})
	if err != nil {
		return nil, Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("telegram API status %d", resp.StatusCode)
		if permanentHTTPStatus(resp.StatusCode) {
			return nil, Permanent(err)
		}
		return nil, err
	}

	var out telegramResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&out); decodeErr != nil {
		return &Receipt{Code: resp.StatusCode}, nil
	}
	return &Receipt{Code: resp.StatusCode, Detail: strconv.FormatInt(out.Result.MessageID, 10)}, nil
}
