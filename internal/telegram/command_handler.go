package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"sitewatch/internal/services"
	"sitewatch/internal/storage"
)

// Control is the capture control surface the bot commands drive.
type Control interface {
	StartCapture(ctx context.Context) (*services.ActionResult, error)
	StopCapture(ctx context.Context) (*services.ActionResult, error)
	Status(ctx context.Context) (*services.CaptureStatus, error)
	SetInterval(ctx context.Context, seconds int) (*services.ActionResult, error)
	Arm(ctx context.Context) (*services.ActionResult, error)
	Disarm(ctx context.Context) (*services.ActionResult, error)
	LatestImages(ctx context.Context) ([]*services.Image, error)
	DiskSpace(ctx context.Context) (*storage.DiskUsage, error)
}

// Update represents a Telegram update
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents an incoming Telegram message
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      *Chat  `json:"chat,omitempty"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

// User represents a Telegram user
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// Chat represents a Telegram chat
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// CommandHandler handles Telegram bot commands
type CommandHandler struct {
	bot          *Bot
	control      Control
	pollInterval time.Duration
	lastUpdateID int64
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(bot *Bot, control Control) *CommandHandler {
	return &CommandHandler{
		bot:          bot,
		control:      control,
		pollInterval: 2 * time.Second,
	}
}

// StartPolling polls for updates until ctx is cancelled.
func (ch *CommandHandler) StartPolling(ctx context.Context) error {
	if !ch.bot.IsEnabled() {
		return ErrDisabled
	}

	log.Info().Str("component", "telegram").Msg("command polling started")

	ticker := time.NewTicker(ch.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("component", "telegram").Msg("command polling stopped")
			return nil
		case <-ticker.C:
			if err := ch.Poll(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Str("component", "telegram").Msg("failed to poll updates")
			}
		}
	}
}

// Poll fetches one batch of updates and handles each message.
func (ch *CommandHandler) Poll(ctx context.Context) error {
	updates, err := ch.bot.GetUpdates(ctx, ch.lastUpdateID+1, time.Second)
	if err != nil {
		return err
	}

	for _, update := range updates {
		if update.UpdateID > ch.lastUpdateID {
			ch.lastUpdateID = update.UpdateID
		}
		if update.Message != nil {
			ch.handleMessage(ctx, update.Message)
		}
	}
	return nil
}

// handleMessage processes an incoming message
func (ch *CommandHandler) handleMessage(ctx context.Context, msg *Message) {
	if msg.Chat == nil || !strings.HasPrefix(msg.Text, "/") {
		return
	}

	parts := strings.Fields(msg.Text)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	// Remove bot username suffix if present (e.g., /status@mybot)
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	authorized := chatID == ch.bot.ChatID()

	switch command {
	case "/myid":
		ch.reply(ctx, chatID, fmt.Sprintf("Your Chat ID is: %s", chatID))
		return
	case "/help":
		ch.reply(ctx, chatID, helpText)
		return
	}

	if !authorized {
		log.Warn().Str("chat", chatID).Str("command", command).Msg("ignoring command from unauthorized chat")
		return
	}

	log.Info().Str("command", command).Msg("processing telegram command")

	var response string
	switch command {
	case "/start":
		response = "I'm the site camera bot. Use /help to see available commands."
	case "/start_capture":
		response = ch.action(ch.control.StartCapture(ctx))
	case "/stop_capture":
		response = ch.action(ch.control.StopCapture(ctx))
	case "/status_capture":
		response = ch.handleStatus(ctx)
	case "/set_interval":
		response = ch.handleSetInterval(ctx, args)
	case "/arm":
		response = ch.action(ch.control.Arm(ctx))
	case "/disarm":
		response = ch.action(ch.control.Disarm(ctx))
	case "/get_image":
		response = ch.handleGetImage(ctx, chatID)
	case "/get_disk":
		response = ch.handleDiskSpace(ctx)
	default:
		response = fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", html.EscapeString(command))
	}

	if response != "" {
		ch.reply(ctx, chatID, response)
	}
}

const helpText = "<b>Available Commands</b>\n\n" +
	"/start_capture - Start image capturing\n" +
	"/stop_capture - Stop image capturing\n" +
	"/status_capture - Capture status and interval\n" +
	"/set_interval &lt;seconds&gt; - Set the capture interval\n" +
	"/get_image - Latest image of every camera\n" +
	"/get_disk - Disk space\n" +
	"/arm - Arm the cameras\n" +
	"/disarm - Disarm the cameras\n" +
	"/myid - Your chat ID\n" +
	"/help - Show this help"

func (ch *CommandHandler) reply(ctx context.Context, chatID, text string) {
	if err := ch.bot.SendMessage(ctx, chatID, text); err != nil {
		log.Error().Err(err).Str("chat", chatID).Msg("failed to send reply")
	}
}

func (ch *CommandHandler) action(res *services.ActionResult, err error) string {
	if err != nil {
		return "Failed: " + html.EscapeString(err.Error())
	}
	return res.Message
}

func (ch *CommandHandler) handleStatus(ctx context.Context) string {
	status, err := ch.control.Status(ctx)
	if err != nil {
		return "Failed: " + html.EscapeString(err.Error())
	}

	armed := "disarmed"
	if status.Armed {
		armed = "armed"
	}
	return fmt.Sprintf("Capture status: %s\nCapture interval: %d seconds.\nCameras: %d (%s)",
		status.Status, status.SaveInterval, status.Cameras, armed)
}

func (ch *CommandHandler) handleSetInterval(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "Please provide an interval."
	}
	seconds, err := strconv.Atoi(args[0])
	if err != nil {
		return "Please provide an interval."
	}

	if _, err := ch.control.SetInterval(ctx, seconds); err != nil {
		if errors.Is(err, services.ErrBadRequest) {
			return "Interval must be a positive integer."
		}
		return "Failed: " + html.EscapeString(err.Error())
	}
	return fmt.Sprintf("New interval set: %d seconds.", seconds)
}

// handleGetImage sends photos directly and only returns text when there is
// nothing to send.
func (ch *CommandHandler) handleGetImage(ctx context.Context, chatID string) string {
	images, err := ch.control.LatestImages(ctx)
	if err != nil {
		return "Failed: " + html.EscapeString(err.Error())
	}
	if len(images) == 0 {
		return "No images saved yet."
	}

	for _, img := range images {
		caption := fmt.Sprintf("Camera %d\n%s", img.Camera, img.Timestamp.Format("2006-01-02 15:04:05"))
		if err := ch.bot.SendPhoto(ctx, chatID, img.Data, caption); err != nil {
			log.Error().Err(err).Int("camera", img.Camera).Msg("failed to send image")
		}
	}
	return ""
}

func (ch *CommandHandler) handleDiskSpace(ctx context.Context) string {
	usage, err := ch.control.DiskSpace(ctx)
	if err != nil {
		return "Failed: " + html.EscapeString(err.Error())
	}
	return fmt.Sprintf("Total: %.2f GB\nUsed: %.2f GB\nFree: %.2f GB",
		storage.GiB(usage.Total), storage.GiB(usage.Used), storage.GiB(usage.Free))
}
