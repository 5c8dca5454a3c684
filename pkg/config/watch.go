package config

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/knadh/koanf/providers/file"
)

// Watch reloads path whenever it changes and calls fn with each config
// that loads and validates. Broken edits are logged and skipped so the
// last good config stays in effect. Watching stops when ctx is done.
func Watch(ctx context.Context, path string, logger *log.Logger, fn func(*Config)) error {
	if logger == nil {
		logger = log.Default()
	}
	f := file.Provider(path)
	err := f.Watch(func(_ any, err error) {
		if err != nil {
			logger.Warn("config watch", "path", path, "err", err)
			return
		}
		cfg, err := Load(path)
		if err != nil {
			logger.Warn("config reload failed", "path", path, "err", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			logger.Warn("config reload rejected", "path", path, "err", err)
			return
		}
		logger.Info("config reloaded", "path", path)
		fn(cfg)
	})
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = f.Unwatch()
	}()
	return nil
}
