package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/infoscape/internal/auth"
	"github.com/ppiankov/infoscape/internal/config"
)

var tokenLifetime time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an auth token without the bot",
	RunE:  tokenAction,
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenLifetime, "lifetime", 0, "token lifetime (default from config)")
	rootCmd.AddCommand(tokenCmd)
}

func tokenAction(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	authn, err := auth.New(cfg.Auth.Secret)
	if err != nil {
		return fmt.Errorf("%w (set %s)", err, cfg.Auth.SecretEnv)
	}

	lifetime := cfg.Auth.Lifetime.Duration
	if tokenLifetime > 0 {
		lifetime = tokenLifetime
	}

	token, err := authn.Issue(lifetime)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Println(token)
	if cfg.Bot.SiteHost != "" {
		fmt.Printf("https://%s/set-token?value=%s\n", cfg.Bot.SiteHost, token)
	}
	return nil
}
