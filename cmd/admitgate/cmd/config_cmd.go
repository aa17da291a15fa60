package cmd

import (
	"fmt"
	"io"
	"net/url"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/admitgate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration admitgate would start with, after merging the
config file, environment variables and defaults. Credentials in the Redis
URL are redacted.

Examples:
  admitgate config
  ADMITGATE_RATE_LIMIT_DEFAULT_TIER=auth admitgate config`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if used := config.ConfigFileUsed(); used != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "# config file: %s\n", used)
	}
	return writeConfig(cmd.OutOrStdout(), cfg)
}

// writeConfig renders cfg as YAML with secrets redacted.
func writeConfig(w io.Writer, cfg *config.Config) error {
	out := *cfg
	out.Store.RedisURL = redactURL(cfg.Store.RedisURL)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

// redactURL masks the password of a connection string. Unparseable input is
// replaced entirely.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "<redacted>"
	}
	return u.Redacted()
}
