package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/infoscape/internal/auth"
	"github.com/ppiankov/infoscape/internal/config"
	"github.com/ppiankov/infoscape/internal/tgbot"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the login bot",
	Long: "bot registers the command menu and, in polling mode, answers commands until " +
		"interrupted. In webhook mode it only registers the webhook; updates are then handled by serve.",
	RunE: botAction,
}

func init() {
	rootCmd.AddCommand(botCmd)
}

func botAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	authn, err := auth.New(cfg.Auth.Secret)
	if err != nil {
		return fmt.Errorf("%w (set %s)", err, cfg.Auth.SecretEnv)
	}

	bot, err := newBot(cfg, authn)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bot.Init(ctx); err != nil {
		return fmt.Errorf("init bot: %w", err)
	}

	if cfg.Bot.Mode == config.BotModeWebhook {
		fmt.Printf("Webhook registered at %s. Run 'infoscape serve' to receive updates.\n", bot.WebhookURL())
		return nil
	}

	slog.Info("bot polling started")
	return bot.Poll(ctx)
}

// newBot builds the bot from config. The bot token and site host are
// required, and webhook mode also requires the webhook secret.
func newBot(cfg *config.Config, issuer tgbot.TokenIssuer) (*tgbot.Bot, error) {
	if cfg.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is not configured (set %s)", cfg.Bot.TokenEnv)
	}
	if cfg.Bot.SiteHost == "" {
		return nil, errors.New("bot.site_host is required")
	}
	webhook := cfg.Bot.Mode == config.BotModeWebhook
	if webhook && cfg.Bot.WebhookSecret == "" {
		return nil, fmt.Errorf("webhook secret is not configured (set %s)", cfg.Bot.WebhookSecretEnv)
	}

	return tgbot.NewBot(tgbot.Options{
		Client:        tgbot.NewClient(cfg.Bot.APIURL, cfg.Bot.Token, nil),
		Issuer:        issuer,
		SiteHost:      cfg.Bot.SiteHost,
		Lifetime:      cfg.Auth.Lifetime.Duration,
		Webhook:       webhook,
		WebhookSecret: cfg.Bot.WebhookSecret,
		PollInterval:  cfg.Bot.PollInterval.Duration,
		Logger:        slog.Default(),
	}), nil
}
