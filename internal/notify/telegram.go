package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTelegramAPI is the public Bot API endpoint.
const DefaultTelegramAPI = "https://api.telegram.org"

// Telegram talks to the Telegram Bot API. Sends are throttled to stay
// under the bot's global message limit.
type Telegram struct {
	botToken string
	apiURL   string
	client   *http.Client
	limiter  *rate.Limiter
}

// TelegramOption customises a Telegram client.
type TelegramOption func(*Telegram)

// WithAPIURL overrides the Bot API base URL.
func WithAPIURL(u string) TelegramOption {
	return func(t *Telegram) {
		if u != "" {
			t.apiURL = strings.TrimRight(u, "/")
		}
	}
}

// WithSendRate limits outgoing messages to perSecond with the given burst.
func WithSendRate(perSecond float64, burst int) TelegramOption {
	return func(t *Telegram) {
		t.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) TelegramOption {
	return func(t *Telegram) { t.client = c }
}

// NewTelegram creates a client for the bot identified by botToken.
func NewTelegram(botToken string, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		botToken: botToken,
		apiURL:   DefaultTelegramAPI,
		client:   &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(25), 5),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Telegram) Validate() error {
	if t.botToken == "" {
		return errors.New("telegram: bot_token is required")
	}
	return nil
}

// Send posts an HTML message to chatID.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram: rate limit wait: %w", err)
	}
	payload := map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	return t.call(ctx, "sendMessage", payload)
}

// SetWebhook registers hookURL as the bot's update endpoint. Telegram echoes
// secret back in the X-Telegram-Bot-Api-Secret-Token header.
func (t *Telegram) SetWebhook(ctx context.Context, hookURL, secret string) error {
	payload := map[string]interface{}{
		"url":             hookURL,
		"allowed_updates": []string{"message"},
	}
	if secret != "" {
		payload["secret_token"] = secret
	}
	return t.call(ctx, "setWebhook", payload)
}

// apiResponse is the envelope every Bot API method returns.
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

func (t *Telegram) call(ctx context.Context, method string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", t.apiURL, t.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL embeds the token; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("telegram: %s request: %w", method, err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil && resp.StatusCode == http.StatusOK {
		return fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK || !out.OK {
		if out.Description != "" {
			return fmt.Errorf("telegram: %s failed with status %d: %s", method, resp.StatusCode, out.Description)
		}
		return fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
	}
	return nil
}
