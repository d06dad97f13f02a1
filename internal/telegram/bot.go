package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const defaultAPIBase = "https://api.telegram.org"

var (
	ErrDisabled = errors.New("telegram bot is disabled")
	// ErrCooldown is returned when an alert arrives inside the cooldown window.
	ErrCooldown = errors.New("alert cooldown period not yet elapsed")
)

// Config holds Telegram bot configuration
type Config struct {
	BotToken string
	ChatID   string
	Enabled  bool
	// CooldownSeconds is the minimum gap between alerts. Zero disables it.
	CooldownSeconds int
	// APIBase overrides the Bot API host.
	APIBase string
	Timeout time.Duration
}

// apiResponse is the envelope of every Bot API reply.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Bot talks to the Telegram Bot API.
type Bot struct {
	botToken   string
	chatID     string
	enabled    bool
	apiBase    string
	httpClient *http.Client
	cooldown   time.Duration

	mu        sync.Mutex
	lastAlert time.Time
}

// NewBot creates a new Telegram bot instance
func NewBot(config Config) *Bot {
	base := config.APIBase
	if base == "" {
		base = defaultAPIBase
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Bot{
		botToken:   config.BotToken,
		chatID:     config.ChatID,
		enabled:    config.Enabled,
		apiBase:    base,
		httpClient: &http.Client{Timeout: timeout},
		cooldown:   time.Duration(config.CooldownSeconds) * time.Second,
	}
}

// ValidateConfig validates the Telegram bot configuration
func ValidateConfig(config Config) error {
	if config.Enabled {
		if config.BotToken == "" {
			return fmt.Errorf("telegram bot token is required when enabled")
		}
		if config.ChatID == "" {
			return fmt.Errorf("telegram chat ID is required when enabled")
		}
		if _, err := strconv.ParseInt(config.ChatID, 10, 64); err != nil {
			return fmt.Errorf("telegram chat ID must be numeric: %w", err)
		}
	}
	if config.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown seconds cannot be negative")
	}
	return nil
}

// IsEnabled returns whether the bot is enabled
func (b *Bot) IsEnabled() bool {
	return b.enabled && b.botToken != ""
}

// ChatID returns the authorized chat.
func (b *Bot) ChatID() string { return b.chatID }

// SendAlert delivers an alert to the configured chat, as a photo with the
// message as caption when image is non-empty.
func (b *Bot) SendAlert(ctx context.Context, message string, image []byte) error {
	if !b.IsEnabled() {
		return ErrDisabled
	}
	if b.chatID == "" {
		return fmt.Errorf("telegram chat ID not configured")
	}

	b.mu.Lock()
	if b.cooldown > 0 && !b.lastAlert.IsZero() && time.Since(b.lastAlert) < b.cooldown {
		b.mu.Unlock()
		return ErrCooldown
	}
	b.mu.Unlock()

	var err error
	if len(image) > 0 {
		err = b.SendPhoto(ctx, b.chatID, image, message)
	} else {
		err = b.SendMessage(ctx, b.chatID, message)
	}
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.lastAlert = time.Now()
	b.mu.Unlock()
	return nil
}

// SendMessage sends a text message to a chat.
func (b *Bot) SendMessage(ctx context.Context, chatID, text string) error {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	_, err := b.call(ctx, "sendMessage", payload)
	return err
}

// SendPhoto sends a JPEG with an optional caption using multipart form data.
func (b *Bot) SendPhoto(ctx context.Context, chatID string, photo []byte, caption string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
		if err := writer.WriteField("parse_mode", "HTML"); err != nil {
			return fmt.Errorf("failed to write parse_mode field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "frame.jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photo); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL("sendPhoto"), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	_, err = b.do(req)
	return err
}

// GetUpdates long-polls for updates after offset.
func (b *Bot) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	payload := map[string]interface{}{
		"offset":          offset,
		"timeout":         int(timeout / time.Second),
		"allowed_updates": []string{"message"},
	}
	result, err := b.call(ctx, "getUpdates", payload)
	if err != nil {
		return nil, err
	}

	var updates []Update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, fmt.Errorf("failed to parse updates: %w", err)
	}
	return updates, nil
}

func (b *Bot) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", b.apiBase, b.botToken, method)
}

// call sends a JSON request to a Bot API method.
func (b *Bot) call(ctx context.Context, method string, payload map[string]interface{}) (json.RawMessage, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL(method), bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return b.do(req)
}

// do executes the request and unwraps the API envelope.
func (b *Bot) do(req *http.Request) (json.RawMessage, error) {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response (status %d): %w", resp.StatusCode, err)
	}
	if !apiResp.OK {
		return nil, fmt.Errorf("telegram API error %d: %s", apiResp.ErrorCode, apiResp.Description)
	}
	return apiResp.Result, nil
}
