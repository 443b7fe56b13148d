// Package discord delivers caregiver escalations to a Discord channel.
package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	apperrors "github.com/pillpal/pillpald/internal/errors"
	"github.com/pillpal/pillpald/internal/notify"
)

// StatusFunc renders the current adherence summary for the !status command.
type StatusFunc func() string

// Config holds Discord bot configuration
type Config struct {
	Token     string
	Enabled   bool
	ChannelID string
}

// Bot represents a Discord bot instance
type Bot struct {
	session *discordgo.Session
	config  Config
	status  StatusFunc
	logger  *zap.Logger
	enabled bool
}

// NewBot creates a new Discord bot. A disabled config yields an inert bot.
func NewBot(cfg Config, status StatusFunc, logger *zap.Logger) (*Bot, error) {
	if !cfg.Enabled || cfg.Token == "" {
		return &Bot{enabled: false}, nil
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	bot := &Bot{
		session: session,
		config:  cfg,
		status:  status,
		logger:  logger,
		enabled: true,
	}

	session.AddHandler(bot.messageCreate)
	session.AddHandler(bot.ready)
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages

	return bot, nil
}

// Start starts the Discord bot
func (b *Bot) Start() error {
	if !b.enabled {
		return nil
	}
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord connection: %w", err)
	}
	return nil
}

// Stop stops the Discord bot
func (b *Bot) Stop() error {
	if !b.enabled {
		return nil
	}
	return b.session.Close()
}

func (b *Bot) ready(s *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("Discord bot ready",
		zap.String("username", event.User.Username),
	)
}

func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID {
		return
	}
	if b.config.ChannelID != "" && m.ChannelID != b.config.ChannelID {
		return
	}

	switch strings.TrimSpace(m.Content) {
	case "!status":
		text := "Status unavailable."
		if b.status != nil {
			text = b.status()
		}
		if _, err := s.ChannelMessageSend(m.ChannelID, text); err != nil {
			b.logger.Warn("failed to send discord reply", zap.Error(err))
		}
	case "!help":
		s.ChannelMessageSend(m.ChannelID, "PillPal caregiver channel. Commands: !status")
	}
}

// Name implements notify.Sink.
func (b *Bot) Name() string { return "discord" }

// Send implements notify.Sink, delivering an escalation to the caregiver
// channel.
func (b *Bot) Send(_ context.Context, n notify.Notification) error {
	if !b.enabled || b.config.ChannelID == "" {
		return apperrors.ErrChannelNotConfigured
	}

	msg := fmt.Sprintf("**%s**\n%s", n.Title, n.Body)
	if _, err := b.session.ChannelMessageSend(b.config.ChannelID, msg); err != nil {
		return apperrors.Wrap(err, "NOTIFY_002", "discord send failed")
	}
	return nil
}
