package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/infoscape/internal/config"
)

type fixedIssuer struct{}

func (fixedIssuer) Issue(time.Duration) (string, error) { return "tok", nil }

func TestNewBot_Requirements(t *testing.T) {
	tests := []struct {
		name string
		bot  config.BotConfig
		want string
	}{
		{"no token", config.BotConfig{TokenEnv: "TG_TOKEN", SiteHost: "example.org", Mode: config.BotModePolling}, "TG_TOKEN"},
		{"no site host", config.BotConfig{Token: "1:a", Mode: config.BotModePolling}, "site_host"},
		{"webhook without secret", config.BotConfig{Token: "1:a", SiteHost: "example.org", Mode: config.BotModeWebhook, WebhookSecretEnv: "TG_WEBHOOK_SECRET"}, "TG_WEBHOOK_SECRET"},
		{"polling", config.BotConfig{Token: "1:a", SiteHost: "example.org", Mode: config.BotModePolling}, ""},
		{"webhook with secret", config.BotConfig{Token: "1:a", SiteHost: "example.org", Mode: config.BotModeWebhook, WebhookSecret: "s3cret"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot, err := newBot(&config.Config{Bot: tt.bot}, fixedIssuer{})
			if tt.want == "" {
				if err != nil || bot == nil {
					t.Fatalf("newBot: bot=%v err=%v", bot, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}
