// Package config loads daemon configuration with the teacher's layering:
// defaults, then an optional TOML file, then environment overrides.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultPort       = 7878
	EnvPort           = "CODEX_NOTIFY_DAEMON_PORT"
	EnvDB             = "CODEX_NOTIFY_DAEMON_DB"
	configFileName    = "daemon.toml"
	defaultConfigSub  = ".codex"
)

// Config is the subset of settings a running daemon needs. Fields map
// 1:1 onto daemon.toml keys.
type Config struct {
	Port            int    `toml:"port"`
	DBPath          string `toml:"db_path"`
	PollIntervalSec int    `toml:"poll_interval_seconds"`
	DefaultAgent    string `toml:"default_agent"`
}

// Dir returns the daemon's config/data directory, defaulting to ~/.codex.
func Dir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, defaultConfigSub)
	}
	return defaultConfigSub
}

// Load reads daemon.toml from dir (if present), then applies the
// CODEX_NOTIFY_DAEMON_PORT / CODEX_NOTIFY_DAEMON_DB environment overrides
// documented for meshd. A missing or unparsable file yields defaults, not
// an error — matching LoadLocalConfig's "never block startup on a bad
// config file" behavior.
func Load(dir string) *Config {
	cfg := &Config{
		Port:            DefaultPort,
		DBPath:          filepath.Join(dir, "daemon.db"),
		PollIntervalSec: 30,
		DefaultAgent:    "claude",
	}

	path := filepath.Join(dir, configFileName)
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg Config
		if _, err := toml.Decode(string(data), &fileCfg); err == nil {
			if fileCfg.Port != 0 {
				cfg.Port = fileCfg.Port
			}
			if fileCfg.DBPath != "" {
				cfg.DBPath = fileCfg.DBPath
			}
			if fileCfg.PollIntervalSec != 0 {
				cfg.PollIntervalSec = fileCfg.PollIntervalSec
			}
			if fileCfg.DefaultAgent != "" {
				cfg.DefaultAgent = fileCfg.DefaultAgent
			}
		}
	}

	v := viper.New()
	v.SetDefault("port", cfg.Port)
	_ = v.BindEnv("port", EnvPort)
	cfg.Port = v.GetInt("port")

	if db := os.Getenv(EnvDB); db != "" {
		cfg.DBPath = db
	}

	return cfg
}

// Watch starts an fsnotify watcher on dir's daemon.toml and invokes onChange
// (with the freshly reloaded Config) whenever the file is written. The
// watcher runs until ctx-independent stop is requested by closing the
// returned io.Closer-like stop func; callers that don't need hot-reload can
// ignore the returned function entirely.
func Watch(dir string, onChange func(*Config)) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, configFileName)
	_ = w.Add(dir)

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name == path && (ev.Op&fsnotify.Write == fsnotify.Write || ev.Op&fsnotify.Create == fsnotify.Create) {
					onChange(Load(dir))
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return func() { _ = w.Close() }, nil
}
