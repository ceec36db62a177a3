// Package config loads and hot-reloads h2muxd's daemon configuration.
// Layering follows mutagen's compose environment loader: a YAML file on
// disk, overlaid with a .env file for local dev, overlaid with whatever
// flags the cobra command line supplied (flags always win).
package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is h2muxd's daemon configuration.
type Config struct {
	Listen             string `yaml:"listen"`
	InitialWindow      int64  `yaml:"initial_window"`
	MaxMessagesPerRead  int    `yaml:"max_messages_per_read"`
	LogLevel           string `yaml:"log_level"`
	LogFile            string `yaml:"log_file"`
	IntrospectAddr     string `yaml:"introspect_addr"`
}

// Default returns the configuration h2muxd starts from before any file or
// flag overlay is applied.
func Default() Config {
	return Config{
		Listen:             "0.0.0.0:8080",
		InitialWindow:      65535,
		MaxMessagesPerRead: 16,
		LogLevel:           "info",
		IntrospectAddr:     "127.0.0.1:8090",
	}
}

// Load reads path (if it exists) as YAML over Default, then overlays any
// sibling ".env" file in the same directory (mirroring mutagen's
// loadEnvironment) for H2MUXD_LOG_LEVEL/H2MUXD_LISTEN overrides during
// local dev.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		bs, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, errors.Wrapf(err, "reading config file %s", path)
			}
		} else if err := yaml.Unmarshal(bs, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parsing config file %s", path)
		}

		envPath := filepath.Join(filepath.Dir(path), ".env")
		env, err := godotenv.Read(envPath)
		if err != nil && !os.IsNotExist(err) {
			return cfg, errors.Wrapf(err, "reading %s", envPath)
		}
		if v, ok := env["H2MUXD_LOG_LEVEL"]; ok {
			cfg.LogLevel = v
		}
		if v, ok := env["H2MUXD_LISTEN"]; ok {
			cfg.Listen = v
		}
	}

	return cfg, nil
}

// Watcher hot-reloads a config file's log level, the one field safe to
// change on a running daemon without disturbing live stream channels
// (grounded on devagent's ProxyLogReader: fsnotify watch on the parent
// directory, since the file may be replaced rather than edited in place).
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	log     *zap.Logger

	mu      sync.Mutex
	onLevel func(level string)
}

// NewWatcher starts watching path's parent directory for changes.
func NewWatcher(path string, log *zap.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating file watcher")
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "watching %s", dir)
	}
	return &Watcher{path: path, watcher: w, log: log}, nil
}

// OnLevelChange registers the callback invoked with the new log level
// whenever the watched file changes and still parses.
func (w *Watcher) OnLevelChange(fn func(level string)) {
	w.mu.Lock()
	w.onLevel = fn
	w.mu.Unlock()
}

// Run processes filesystem events until stop is closed.
func (w *Watcher) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			w.watcher.Close()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn("config reload failed", zap.Error(err))
				continue
			}
			w.mu.Lock()
			cb := w.onLevel
			w.mu.Unlock()
			if cb != nil {
				cb(cfg.LogLevel)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}
