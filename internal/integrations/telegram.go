package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTelegramAPI is the Telegram Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramTransport sends HTML messages through the Telegram Bot API.
type TelegramTransport struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewTelegramTransport creates a transport for the bot token. An empty
// baseURL uses DefaultTelegramAPI.
func NewTelegramTransport(token, baseURL string, client *http.Client) *TelegramTransport {
	if baseURL == "" {
		baseURL = DefaultTelegramAPI
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TelegramTransport{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (t *TelegramTransport) Name() string { return "telegram" }

func (t *TelegramTransport) Accepts(r Recipient) bool {
	return t.token != "" && r.TelegramChatID != ""
}

type telegramRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *TelegramTransport) Notify(ctx context.Context, r Recipient, m Message) error {
	payload, err := json.Marshal(telegramRequest{
		ChatID:    r.TelegramChatID,
		Text:      formatTelegram(m),
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("encoding telegram message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram send failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out telegramResponse
	if err := json.Unmarshal(body, &out); err == nil && !out.OK {
		return fmt.Errorf("telegram send failed: %s", out.Description)
	}
	return nil
}

func formatTelegram(m Message) string {
	return "<b>" + html.EscapeString(m.Subject) + "</b>\n\n" + html.EscapeString(m.Body)
}
