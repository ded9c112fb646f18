// Package telegram sends critical rhythm alerts and monitoring status messages
// to a Telegram chat via the Bot API.
//
// Messages use MarkdownV2, so all dynamic text goes through escapeMarkdownV2.
// Delivery is retried with a linear backoff.
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/guardian/internal/models"
)

// sender is the part of tgbotapi.BotAPI the client uses
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// Send notifies the chat about critical rhythm alerts. An empty slice sends nothing.
func (c *Client) Send(alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	return c.send(formatAlerts(alerts))
}

// SendError reports a failed monitoring cycle
func (c *Client) SendError(err error) error {
	text := fmt.Sprintf("⚠️ *Monitoring cycle failed*\n\n%s\n\nAlerts are paused until the next successful cycle\\.",
		escapeMarkdownV2(err.Error()))
	return c.send(text)
}

// SendRecovery reports that monitoring recovered after failedCycles failures
func (c *Client) SendRecovery(failedCycles int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d failed %s\\.",
		failedCycles, plural(failedCycles, "cycle", "cycles"))
	return c.send(text)
}

func (c *Client) send(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatAlerts renders alerts as a numbered MarkdownV2 list
func formatAlerts(alerts []models.Alert) string {
	var b strings.Builder
	b.WriteString("🚨 *Critical Heart Rhythm Detected*\n\n")

	dateStr := escapeMarkdownV2(alerts[0].DetectedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "📅 Detected: %s\n\n", dateStr)

	for i, a := range alerts {
		fmt.Fprintf(&b, "%d\\. %s *%s*\n", i+1, rhythmEmoji(a.Rhythm), escapeMarkdownV2(string(a.Rhythm)))
		fmt.Fprintf(&b, "   👤 Patient: `%s`\n", escapeCode(a.PatientID))
		fmt.Fprintf(&b, "   ❤️ Heart rate: *%d bpm*\n", a.HeartRate)
		if a.Variability > 0 {
			fmt.Fprintf(&b, "   〰️ R\\-R variability: %s\n", escapeMarkdownV2(fmt.Sprintf("%.1f ms", a.Variability)))
		}
		fmt.Fprintf(&b, "   🎯 Confidence: %s\n\n", escapeMarkdownV2(fmt.Sprintf("%.0f%%", a.Confidence*100)))
	}

	return b.String()
}

func rhythmEmoji(r models.Rhythm) string {
	switch r {
	case models.RhythmSinusTachycardia:
		return "📈"
	case models.RhythmSinusBradycardia:
		return "📉"
	default:
		return "💓"
	}
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// _ * [ ] ( ) ~ ` > # + - = | { } . ! and the escape character itself
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '\\', '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteRune('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeCode escapes text placed inside an inline code entity
func escapeCode(text string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(text)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
