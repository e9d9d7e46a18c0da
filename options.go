package socialhub

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings is the flat, environment-loadable configuration of a client and
// hub. The CLI fills it from its TOML file and then overlays the environment.
type Settings struct {
	BaseURL         string        `env:"SOCIALHUB_BASE_URL"`
	Token           string        `env:"SOCIALHUB_TOKEN"`
	Timeout         time.Duration `env:"SOCIALHUB_TIMEOUT"`
	CachePath       string        `env:"SOCIALHUB_CACHE_PATH"`
	FreshnessWindow time.Duration `env:"SOCIALHUB_FRESHNESS_WINDOW"`
	GracePeriod     time.Duration `env:"SOCIALHUB_GRACE_PERIOD"`
	SyncInterval    time.Duration `env:"SOCIALHUB_SYNC_INTERVAL"`
	HookSecret      string        `env:"SOCIALHUB_HOOK_SECRET"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		BaseURL:         DefaultBaseURL,
		Timeout:         DefaultTimeout,
		FreshnessWindow: DefaultFreshnessWindow,
		GracePeriod:     DefaultGracePeriod,
		SyncInterval:    DefaultSyncInterval,
	}
}

// ApplyEnv overlays every SOCIALHUB_* variable that is set onto s. Unset
// variables leave the current value alone.
func (s *Settings) ApplyEnv() error {
	if err := env.Parse(s); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// OptionsFromEnv returns the defaults overlaid with the environment.
func OptionsFromEnv() (Settings, error) {
	s := DefaultSettings()
	if err := s.ApplyEnv(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// ClientOptions converts s into options for NewClient.
func (s Settings) ClientOptions() []ClientOption {
	var opts []ClientOption
	if s.Timeout > 0 {
		opts = append(opts, WithTimeout(s.Timeout))
	}
	if s.Token != "" {
		opts = append(opts, WithToken(s.Token))
	}
	return opts
}

// NewClient builds a gateway from s.
func (s Settings) NewClient() *Client {
	return NewClient(s.BaseURL, s.ClientOptions()...)
}

// HubOptions converts s into hub options logging to logger.
func (s Settings) HubOptions(logger *slog.Logger) *HubOptions {
	return &HubOptions{
		FreshnessWindow: s.FreshnessWindow,
		GracePeriod:     s.GracePeriod,
		SyncInterval:    s.SyncInterval,
		Logger:          logger,
	}
}
