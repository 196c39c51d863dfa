package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/infoscape/internal/auth"
	"github.com/ppiankov/infoscape/internal/config"
	"github.com/ppiankov/infoscape/internal/render"
	"github.com/ppiankov/infoscape/internal/store"
	"github.com/ppiankov/infoscape/internal/web"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pages over HTTP",
	RunE:  serveAction,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func serveAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	opts := web.Options{
		Config:   cfg,
		Store:    db,
		Renderer: render.New(cfg.Location()),
		Logger:   slog.Default(),
	}

	authn, err := auth.New(cfg.Auth.Secret)
	if err != nil {
		slog.Warn("hidden sources disabled", "reason", err, "env", cfg.Auth.SecretEnv)
	} else {
		opts.Auth = authn
	}

	if authn != nil && cfg.Bot.Mode == config.BotModeWebhook {
		bot, err := newBot(cfg, authn)
		if err != nil {
			slog.Warn("bot webhook disabled", "reason", err)
		} else {
			opts.Bot = bot
			opts.WebhookSecret = cfg.Bot.WebhookSecret
		}
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return web.New(opts).Run(ctx, addr)
}
