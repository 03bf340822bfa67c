package config

import (
	"fmt"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Watcher holds the current validated Config and swaps it atomically when
// the backing file changes, via viper's WatchConfig. Grounded on
// MrWong99-glyphoxa's internal/config.Watcher semantics (load-validate-swap,
// invalid reloads are logged and discarded rather than applied): new calls
// admitted after a swap see the new Config; calls already in progress keep
// the pointer they captured at admission (Current is called once per call,
// at StasisStart).
type Watcher struct {
	v       *viper.Viper
	current atomic.Pointer[Config]
	onError func(error)
}

// NewWatcher loads path, validates it, and starts watching it for changes.
// onError, if non-nil, is invoked with any reload error; the watcher keeps
// serving the last good Config in that case.
func NewWatcher(path string, onError func(error)) (*Watcher, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix("AI_AGENT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	w := &Watcher{v: v, onError: onError}
	cfg, err := w.decode()
	if err != nil {
		return nil, err
	}
	w.current.Store(cfg)

	v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := w.decode()
		if err != nil {
			if w.onError != nil {
				w.onError(fmt.Errorf("config: reload rejected: %w", err))
			}
			return
		}
		w.current.Store(cfg)
	})
	v.WatchConfig()

	return w, nil
}

func (w *Watcher) decode() (*Config, error) {
	var cfg Config
	if err := w.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Current returns the most recently loaded valid Config. Call once per
// call admission and hold the result for that call's lifetime.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}
