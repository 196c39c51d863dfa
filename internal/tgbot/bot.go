// Package tgbot relays the /link command: a chat user asks the bot for a
// login link and receives a URL carrying a fresh auth token.
package tgbot

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/infoscape/internal/metrics"
)

const (
	CommandLink = "link"

	unknownCommandReply = "Unknown command, maybe you need /link?"
	defaultLifetime     = 12 * time.Hour
	defaultPollTimeout  = 25 * time.Second
	defaultPollInterval = 2 * time.Second
)

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type Message struct {
	MessageID int64    `json:"message_id"`
	Chat      Chat     `json:"chat"`
	Text      string   `json:"text"`
	Entities  []Entity `json:"entities,omitempty"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// Command is a bot command addressed to us.
type Command struct {
	UpdateID int64
	ChatID   int64
	Name     string
}

// ParseCommand extracts a command from an update. The update must carry an
// id, a chat id, non-empty text and a bot_command entity. Slashes around the
// text and an @botname suffix are dropped.
func ParseCommand(u Update) (Command, bool) {
	if u.UpdateID == 0 || u.Message == nil || u.Message.Chat.ID == 0 {
		return Command{}, false
	}

	isCommand := false
	for _, e := range u.Message.Entities {
		if e.Type == "bot_command" {
			isCommand = true
			break
		}
	}
	if !isCommand {
		return Command{}, false
	}

	name := strings.Trim(strings.TrimSpace(u.Message.Text), "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return Command{}, false
	}

	return Command{UpdateID: u.UpdateID, ChatID: u.Message.Chat.ID, Name: name}, true
}

// TokenIssuer mints auth tokens for the link reply.
type TokenIssuer interface {
	Issue(lifetime time.Duration) (string, error)
}

type Options struct {
	Client   *Client
	Issuer   TokenIssuer
	SiteHost string
	Lifetime time.Duration
	Webhook  bool

	// WebhookSecret is registered as the webhook secret_token.
	WebhookSecret string

	// PollTimeout is the long-poll wait passed to getUpdates.
	PollTimeout time.Duration
	// PollInterval is the pause after a failed getUpdates call.
	PollInterval time.Duration

	Logger *slog.Logger
}

type Bot struct {
	client       *Client
	issuer       TokenIssuer
	siteHost     string
	lifetime     time.Duration
	webhook      bool
	hookSecret   string
	pollTimeout  time.Duration
	pollInterval time.Duration
	logger       *slog.Logger

	offset int64
}

func NewBot(opts Options) *Bot {
	b := &Bot{
		client:       opts.Client,
		issuer:       opts.Issuer,
		siteHost:     opts.SiteHost,
		lifetime:     opts.Lifetime,
		webhook:      opts.Webhook,
		hookSecret:   opts.WebhookSecret,
		pollTimeout:  opts.PollTimeout,
		pollInterval: opts.PollInterval,
		logger:       opts.Logger,
	}
	if b.lifetime <= 0 {
		b.lifetime = defaultLifetime
	}
	if b.pollTimeout < 0 {
		b.pollTimeout = 0
	} else if b.pollTimeout == 0 {
		b.pollTimeout = defaultPollTimeout
	}
	if b.pollInterval <= 0 {
		b.pollInterval = defaultPollInterval
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Init registers the command menu and configures update delivery: the
// webhook in webhook mode, getUpdates otherwise.
func (b *Bot) Init(ctx context.Context) error {
	commands := []BotCommand{{Command: CommandLink, Description: "Return link with token"}}
	if err := b.client.SetMyCommands(ctx, commands); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}

	if b.webhook {
		if err := b.client.SetWebhook(ctx, b.WebhookURL(), b.hookSecret); err != nil {
			return fmt.Errorf("set webhook: %w", err)
		}
		return nil
	}

	if err := b.client.DeleteWebhook(ctx); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

func (b *Bot) WebhookURL() string {
	return "https://" + b.siteHost + "/tg-webhook"
}

// LinkURL builds the login URL carrying token.
func (b *Bot) LinkURL(token string) string {
	return "https://" + b.siteHost + "/set-token?value=" + url.QueryEscape(token)
}

// ProcessUpdate answers a command update. Updates that are not commands are
// ignored.
func (b *Bot) ProcessUpdate(ctx context.Context, u Update) error {
	cmd, ok := ParseCommand(u)
	if !ok {
		return nil
	}

	var reply string
	switch cmd.Name {
	case CommandLink:
		token, err := b.issuer.Issue(b.lifetime)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		reply = b.LinkURL(token)
		metrics.RecordBotUpdate(CommandLink)
	default:
		reply = unknownCommandReply
		metrics.RecordBotUpdate("unknown")
	}

	if err := b.client.SendMessage(ctx, cmd.ChatID, reply); err != nil {
		return fmt.Errorf("reply to chat %d: %w", cmd.ChatID, err)
	}
	b.logger.Info("bot command handled", "command", cmd.Name, "chat_id", cmd.ChatID)
	return nil
}

// Poll fetches and processes updates until ctx is cancelled. The offset only
// moves forward, so each update is acknowledged once.
func (b *Bot) Poll(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, err := b.client.GetUpdates(ctx, b.offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("get updates failed", "error", err)
			if !sleep(ctx, b.pollInterval) {
				return nil
			}
			continue
		}

		for _, u := range updates {
			if err := b.ProcessUpdate(ctx, u); err != nil {
				b.logger.Warn("process update failed", "update_id", u.UpdateID, "error", err)
			}
			b.offset = max(b.offset, u.UpdateID+1)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
