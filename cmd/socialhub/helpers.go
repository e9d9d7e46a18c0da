package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	socialhub "github.com/socialhub/socialhub"
)

func defaultCachePath(dir string) string {
	return filepath.Join(dir, "cache.db")
}

// settings converts the file config into SDK settings and overlays the
// environment.
func (c *Config) settings() (socialhub.Settings, error) {
	s := socialhub.DefaultSettings()
	if c.Default.BaseURL != "" {
		s.BaseURL = c.Default.BaseURL
	}
	s.Token = c.Default.Token
	s.CachePath = c.Cache.Path
	s.HookSecret = c.Hook.Secret

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"default.timeout", c.Default.Timeout, &s.Timeout},
		{"cache.freshness_window", c.Cache.FreshnessWindow, &s.FreshnessWindow},
		{"cache.grace_period", c.Cache.GracePeriod, &s.GracePeriod},
		{"cache.sync_interval", c.Cache.SyncInterval, &s.SyncInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil || v <= 0 {
			return socialhub.Settings{}, fmt.Errorf("invalid duration for %s: %q", d.key, d.raw)
		}
		*d.dst = v
	}

	if err := s.ApplyEnv(); err != nil {
		return socialhub.Settings{}, err
	}
	return s, nil
}

// session bundles a hub with the store it owns.
type session struct {
	hub      *socialhub.Hub
	store    socialhub.Store
	config   *Config
	settings socialhub.Settings
}

func (s *session) Close() {
	s.hub.Close()
	s.store.Close()
}

// openSession loads the config and opens the persistent cache and a hub over
// it. The caller must Close the result.
func openSession() *session {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	settings, err := cfg.settings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger()
	path := settings.CachePath
	if path == "" {
		dir, err := configDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		path = defaultCachePath(dir)
	}
	store, err := socialhub.OpenSQLiteStorage(path, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open cache: %v\n", err)
		os.Exit(1)
	}

	hub := socialhub.NewHub(settings.NewClient(), store, settings.HubOptions(logger))
	return &session{hub: hub, store: store, config: cfg, settings: settings}
}

// requireUser returns the logged-in user or exits.
func requireUser(hub *socialhub.Hub) *socialhub.User {
	me := hub.CurrentUser()
	if me == nil {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'socialhub login <user-id>' first.")
		os.Exit(1)
	}
	return me
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// warnSoft reports a degraded read: the command still prints what the cache
// could serve.
func warnSoft(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: showing cached data: %v\n", err)
	}
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
