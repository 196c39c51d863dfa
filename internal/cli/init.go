package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/infoscape/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with an example config",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	wrote, err := writeIfNotExists(configPath, []byte(exampleConfig))
	if err != nil {
		return err
	}

	if wrote {
		fmt.Printf("Initialized %s. Edit sources in %s, then run 'infoscape fetch'.\n", configDir, configPath)
	} else {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# infoscape configuration

title: infoscape

sources:
  - id: durov
    title: Durov's Channel
    link: "https://t.me/s/durov"
    parser: telegram
    pages: [news]
  - id: telegram
    title: Telegram News
    link: "https://t.me/s/telegram"
    parser: telegram
    pages: [news]
  # - id: private
  #   title: Private feed
  #   link: "https://t.me/s/your_channel"
  #   parser: telegram
  #   hidden: true

pages:
  - slug: news
    title: News

storage:
  path: .infoscape/infoscape.db
  retain_days: 0

fetch:
  daemonize: 0s
  timeout: 30s
  workers: 1
  host_interval: 1s

render:
  timezone: Europe/Moscow
  limit: 10
  keywords: []

auth:
  secret_env: AUTH_SECRET
  lifetime: 12h

bot:
  token_env: TG_TOKEN
  site_host: ""
  mode: polling
  poll_interval: 2s
  webhook_secret_env: TG_WEBHOOK_SECRET

server:
  addr: ":8000"

privacy:
  redact:
    enabled: false
    patterns: []
`
