// Package telegram delivers caregiver escalations over a Telegram bot and
// answers a small set of status commands.
package telegram

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	apperrors "github.com/pillpal/pillpald/internal/errors"
	"github.com/pillpal/pillpald/internal/notify"
)

// StatusFunc renders the current adherence summary for the /status command.
type StatusFunc func() string

// Bot represents the Telegram caregiver channel
type Bot struct {
	api     *tgbotapi.BotAPI
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	enabled bool
	chatID  int64
	status  StatusFunc
}

// Config holds Telegram bot configuration
type Config struct {
	Token   string
	Enabled bool
	ChatID  int64
}

// NewBot creates a new Telegram bot. A disabled config yields an inert bot so
// callers never need nil checks.
func NewBot(cfg Config, status StatusFunc, logger *zap.Logger) (*Bot, error) {
	if !cfg.Enabled || cfg.Token == "" {
		return &Bot{enabled: false}, nil
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = false

	ctx, cancel := context.WithCancel(context.Background())

	return &Bot{
		api:     api,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		enabled: true,
		chatID:  cfg.ChatID,
		status:  status,
	}, nil
}

// Start starts the command loop
func (b *Bot) Start() error {
	if !b.enabled {
		return nil
	}

	b.wg.Add(1)
	go b.run()

	return nil
}

// Stop stops the bot
func (b *Bot) Stop() {
	if !b.enabled {
		return
	}
	b.cancel()
	b.api.StopReceivingUpdates()
	b.wg.Wait()
}

func (b *Bot) run() {
	defer b.wg.Done()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if b.chatID != 0 && update.Message.Chat.ID != b.chatID {
				continue
			}
			b.handleCommand(update.Message)
		}
	}
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	var text string
	switch msg.Command() {
	case "status":
		if b.status != nil {
			text = b.status()
		} else {
			text = "Status unavailable."
		}
	case "start", "help":
		text = "PillPal caregiver channel. Commands: /status"
	default:
		return
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	if _, err := b.api.Send(reply); err != nil {
		b.logger.Warn("failed to send telegram reply", zap.Error(err))
	}
}

// Name implements notify.Sink.
func (b *Bot) Name() string { return "telegram" }

// Send implements notify.Sink, delivering an escalation to the caregiver chat.
func (b *Bot) Send(_ context.Context, n notify.Notification) error {
	if !b.enabled {
		return apperrors.ErrChannelNotConfigured
	}
	if b.chatID == 0 {
		return apperrors.ErrChannelNotConfigured
	}

	msg := tgbotapi.NewMessage(b.chatID, fmt.Sprintf("*%s*\n%s", n.Title, n.Body))
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := b.api.Send(msg); err != nil {
		return apperrors.Wrap(err, "NOTIFY_002", "telegram send failed")
	}
	return nil
}
