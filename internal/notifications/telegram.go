package notifications

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/quantfeed/announcements-bot/internal/forex"
	"github.com/quantfeed/announcements-bot/internal/storage"
)

const correctionPrefix = "correct"

// correctionLabels are the choices offered on an alert's inline
// keyboard. They mirror the classifier's label set but nothing breaks
// if the classifier grows labels beyond these.
var correctionLabels = []string{"trading", "engineering", "irrelevant"}

// TelegramNotifier delivers alerts to per-label chats and runs the
// interactive side of the bot: correction buttons, /news and /forex.
type TelegramNotifier struct {
	bot           *tgbotapi.BotAPI
	store         storage.Store
	forexClient   *forex.Client
	chats         map[string]int64
	defaultChatID int64
	ignoredLabels []string
}

// Ensure TelegramNotifier implements Interface
var _ Interface = (*TelegramNotifier)(nil)

// NewTelegramNotifier creates the bot client. The engineering chat may
// be zero, in which case everything lands in the trading chat.
func NewTelegramNotifier(token string, tradingChatID, engineeringChatID int64, store storage.Store, forexClient *forex.Client, ignoredLabels []string) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	logrus.Infof("Telegram bot authorized as %s", bot.Self.UserName)

	return &TelegramNotifier{
		bot:         bot,
		store:       store,
		forexClient: forexClient,
		chats: map[string]int64{
			"trading":     tradingChatID,
			"engineering": engineeringChatID,
		},
		defaultChatID: tradingChatID,
		ignoredLabels: ignoredLabels,
	}, nil
}

// SendAlert delivers one alert to the chat selected by label, with
// correction buttons attached.
func (t *TelegramNotifier) SendAlert(_ context.Context, message, label, fp string) error {
	msg := tgbotapi.NewMessage(t.chatFor(label), message)
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = correctionKeyboard(fp)

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	return nil
}

// SendDigest delivers a periodic digest to the default chat.
func (t *TelegramNotifier) SendDigest(_ context.Context, message string) error {
	msg := tgbotapi.NewMessage(t.defaultChatID, message)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send digest: %w", err)
	}
	return nil
}

// Start begins consuming bot updates (commands and button presses)
// until the context is cancelled.
func (t *TelegramNotifier) Start(ctx context.Context) {
	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updates := t.bot.GetUpdatesChan(updateCfg)

	go func() {
		for {
			select {
			case <-ctx.Done():
				t.bot.StopReceivingUpdates()
				logrus.Info("Telegram update loop stopped")
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(ctx, update)
			}
		}
	}()

	logrus.Info("Telegram update loop started")
}

func (t *TelegramNotifier) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		t.handleCorrection(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		t.handleCommand(ctx, update.Message)
	}
}

func (t *TelegramNotifier) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	var reply string

	switch message.Command() {
	case "start", "help":
		reply = "📈 Announcements Bot\n\n" +
			"Available commands:\n" +
			"/news - Latest classified announcements\n" +
			"/forex - Today's economic calendar"
	case "news":
		reply = t.latestNews(ctx)
	case "forex":
		reply = t.todayCalendar(ctx)
	default:
		reply = "Unknown command. Try /help."
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, reply)
	msg.DisableWebPagePreview = true
	if message.Command() == "forex" {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}

	if _, err := t.bot.Send(msg); err != nil {
		logrus.Errorf("Failed to reply to /%s: %v", message.Command(), err)
	}
}

func (t *TelegramNotifier) latestNews(ctx context.Context) string {
	items, err := t.store.LatestAnnouncements(ctx, 10, t.ignoredLabels)
	if err != nil {
		logrus.Errorf("Failed to fetch latest announcements: %v", err)
		return "❌ Error fetching news"
	}

	if len(items) == 0 {
		return "No recent announcements found."
	}

	var b strings.Builder
	b.WriteString("📰 Latest Announcements:\n")
	for _, item := range items {
		fmt.Fprintf(&b, "\n• [%s] %s\n  %s\n  %s\n",
			strings.ToUpper(item.Source), item.Title,
			item.PublishTime.Format("2006-01-02 15:04"), item.URL)
	}
	return b.String()
}

func (t *TelegramNotifier) todayCalendar(ctx context.Context) string {
	if t.forexClient == nil || !t.forexClient.IsEnabled() {
		return "Forex Factory data is not configured."
	}

	events, err := t.forexClient.TodayEvents(ctx)
	if err != nil {
		logrus.Errorf("Failed to fetch calendar: %v", err)
		return "Failed to fetch Forex Factory data."
	}

	return forex.FormatEvents(events, 3)
}

// handleCorrection records a human label correction coming from an
// alert's inline keyboard.
func (t *TelegramNotifier) handleCorrection(ctx context.Context, query *tgbotapi.CallbackQuery) {
	t.answerCallback(query.ID, t.applyCorrection(ctx, query.Data))
}

// applyCorrection decodes callback data and records the correction in
// the store, returning the acknowledgement shown to the presser.
func (t *TelegramNotifier) applyCorrection(ctx context.Context, data string) string {
	fp, label, err := parseCorrection(data)
	if err != nil {
		logrus.Warnf("Ignoring malformed callback %q: %v", data, err)
		return "Unknown action"
	}

	if err := t.store.RecordHumanCorrection(ctx, fp, label); err != nil {
		logrus.Errorf("Failed to record correction for %s: %v", fp, err)
		return "Failed to record correction"
	}

	return fmt.Sprintf("Recorded as %s", label)
}

func (t *TelegramNotifier) answerCallback(id, text string) {
	if _, err := t.bot.Request(tgbotapi.NewCallback(id, text)); err != nil {
		logrus.Debugf("Failed to answer callback: %v", err)
	}
}

// chatFor selects the destination chat for a label. Unmapped labels
// fall back to the default chat.
func (t *TelegramNotifier) chatFor(label string) int64 {
	if id, ok := t.chats[label]; ok && id != 0 {
		return id
	}
	return t.defaultChatID
}

// correctionKeyboard builds the inline keyboard that lets a human
// re-label an announcement directly from the alert.
func correctionKeyboard(fp string) tgbotapi.InlineKeyboardMarkup {
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(correctionLabels))
	for _, label := range correctionLabels {
		data := fmt.Sprintf("%s|%s|%s", correctionPrefix, fp, label)
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(label, data))
	}
	return tgbotapi.NewInlineKeyboardMarkup(buttons)
}

// parseCorrection decodes callback data produced by correctionKeyboard.
func parseCorrection(data string) (fp, label string, err error) {
	parts := strings.Split(data, "|")
	if len(parts) != 3 || parts[0] != correctionPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("not a correction callback")
	}
	return parts[1], parts[2], nil
}
