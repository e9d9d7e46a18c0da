package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configShowRaw bool

func init() {
	configShowCmd.Flags().BoolVar(&configShowRaw, "raw", false, "Print the config file as stored")
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage SocialHub configuration",
	Long:  "View or modify the SocialHub CLI configuration stored in ~/.socialhub/config.toml.\nSOCIALHUB_* environment variables override the file.",
}

// settingLine is one row of `config show`.
type settingLine struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Source string `json:"source"`
}

// effectiveSettings resolves cfg the way a hub would see it and reports where
// each value came from: env, file or default. Secrets are masked.
func effectiveSettings(cfg *Config) ([]settingLine, error) {
	s, err := cfg.settings()
	if err != nil {
		return nil, err
	}
	cachePath := s.CachePath
	if cachePath == "" {
		cachePath = "~/.socialhub/cache.db"
	}
	rows := []struct {
		key, env, file, value string
		secret                bool
	}{
		{"default.base_url", "SOCIALHUB_BASE_URL", cfg.Default.BaseURL, s.BaseURL, false},
		{"default.token", "SOCIALHUB_TOKEN", cfg.Default.Token, s.Token, true},
		{"default.timeout", "SOCIALHUB_TIMEOUT", cfg.Default.Timeout, s.Timeout.String(), false},
		{"cache.path", "SOCIALHUB_CACHE_PATH", cfg.Cache.Path, cachePath, false},
		{"cache.freshness_window", "SOCIALHUB_FRESHNESS_WINDOW", cfg.Cache.FreshnessWindow, s.FreshnessWindow.String(), false},
		{"cache.grace_period", "SOCIALHUB_GRACE_PERIOD", cfg.Cache.GracePeriod, s.GracePeriod.String(), false},
		{"cache.sync_interval", "SOCIALHUB_SYNC_INTERVAL", cfg.Cache.SyncInterval, s.SyncInterval.String(), false},
		{"hook.secret", "SOCIALHUB_HOOK_SECRET", cfg.Hook.Secret, s.HookSecret, true},
		{"hook.addr", "", cfg.Hook.Addr, cfg.Hook.Addr, false},
	}

	lines := make([]settingLine, 0, len(rows))
	for _, r := range rows {
		source := "default"
		if _, ok := os.LookupEnv(r.env); ok && r.env != "" {
			source = "env"
		} else if r.file != "" {
			source = "file"
		}
		value := r.value
		switch {
		case value == "":
			value = "(not set)"
		case r.secret:
			value = maskKey(value)
		}
		lines = append(lines, settingLine{Key: r.key, Value: value, Source: source})
	}
	return lines, nil
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  "Print every setting after SOCIALHUB_* overrides, with where it came from.\nUse --raw to print the config file itself.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if configShowRaw {
			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("No configuration file found. Run 'socialhub init <base-url>' to create one.")
					return nil
				}
				return fmt.Errorf("cannot read config file: %w", err)
			}
			fmt.Print(string(data))
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		lines, err := effectiveSettings(cfg)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(lines)
		}

		fmt.Printf("Config file: %s\n\n", path)
		for _, l := range lines {
			fmt.Printf("%-24s %-32s (%s)\n", l.Key, l.Value, l.Source)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: socialhub config set cache.grace_period 20s",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		// Reject values the hub would fail on later.
		if _, err := cfg.settings(); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		value = valueOrDefault(value, "(empty)")
		if key == "default.token" || key == "hook.secret" {
			value = maskKey(value)
		}
		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}
