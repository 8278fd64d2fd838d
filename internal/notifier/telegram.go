package notifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/surveil/smartmoney/internal/models"
)

// Telegram delivers alert notifications via the Telegram Bot API, formatting
// MarkdownV2 messages per anomaly variant (spec §4.6 templates) with
// linear-backoff retry, adapted from the teacher's event-group formatter.
type Telegram struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	startedAt      time.Time
	alertsThisHour func() int
}

// NewTelegram creates a Telegram notifier bound to a bot token and chat id.
func NewTelegram(botToken, chatID string, maxRetries int, retryDelayBase time.Duration, alertsThisHour func() int) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id: %w", err)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Telegram{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		startedAt:      time.Now(),
		alertsThisHour: alertsThisHour,
	}, nil
}

// ListenForCommands starts a goroutine handling /ping with uptime and
// alerts-this-hour context (SPEC_FULL §5 supplement over the teacher's bare "Pong").
func (c *Telegram) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Telegram) handleCommand(msg *tgbotapi.Message) {
	if msg.Command() != "ping" {
		return
	}
	uptime := time.Since(c.startedAt).Round(time.Second)
	alerts := 0
	if c.alertsThisHour != nil {
		alerts = c.alertsThisHour()
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf("Pong — up %v, %d alerts this hour", uptime, alerts))
	_, _ = c.bot.Send(reply)
}

func (c *Telegram) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// Send delivers a pre-formatted message. It satisfies the Notifier interface
// consumed by the Alert Manager.
func (c *Telegram) Send(text string) error {
	return c.sendMarkdownV2(text)
}

// FormatAnomaly renders one Anomaly per its variant template (spec §4.6:
// "Formatting never throws; missing fields render as '?' or 0").
func FormatAnomaly(a models.Anomaly) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🚨 *%s* \\- %s\n", escapeMarkdownV2(string(a.Type)), escapeMarkdownV2(string(a.Severity))))
	b.WriteString(fmt.Sprintf("Market: %s\n", escapeMarkdownV2(orQuestionMark(a.Question))))
	b.WriteString(fmt.Sprintf("Price: %s  Direction: %s\n",
		escapeMarkdownV2(fmt.Sprintf("%.3f", a.CurrentPrice)), escapeMarkdownV2(string(a.ImpliedDirection))))

	switch a.Type {
	case models.AnomalyUnusualLowPriceBuy:
		b.WriteString(fmt.Sprintf("Size: $%s  Percentile: %s  Rank: %d/%d  Median: $%s\n",
			escapeMarkdownV2(fmt.Sprintf("%.0f", a.TradeSizeUSD)),
			escapeMarkdownV2(fmt.Sprintf("%.3f", a.Percentile)),
			a.Rank, a.TotalTrades,
			escapeMarkdownV2(fmt.Sprintf("%.2f", a.MedianSize))))
	case models.AnomalyLargeTrade:
		z := "?"
		if a.Debug.ZScore != nil {
			z = fmt.Sprintf("%.2f", *a.Debug.ZScore)
		}
		b.WriteString(fmt.Sprintf("Size: $%s  Z: %s\n",
			escapeMarkdownV2(fmt.Sprintf("%.0f", a.TradeSizeUSD)), escapeMarkdownV2(z)))
	case models.AnomalyVolumeSpike:
		b.WriteString(fmt.Sprintf("Window volume: $%s  Multiple: %sx\n",
			escapeMarkdownV2(fmt.Sprintf("%.0f", a.WindowVolume)),
			escapeMarkdownV2(fmt.Sprintf("%.1f", a.VolumeMultiple))))
	case models.AnomalyRapidPriceMove:
		b.WriteString(fmt.Sprintf("Delta: %s \\(%s%%\\)\n",
			escapeMarkdownV2(fmt.Sprintf("%.3f", a.PriceDelta)),
			escapeMarkdownV2(fmt.Sprintf("%.1f", a.PriceDeltaPct*100))))
	}
	return b.String()
}

func orQuestionMark(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
