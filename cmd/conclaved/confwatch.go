package main

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watchConfig logs when configPath changes on disk. conclaved does not hot-
// swap its wired providers/registry mid-process — picking up a changed
// worker lease TTL or LLM model requires a restart — but an operator should
// see the change was noticed rather than silently ignored until the next
// deploy.
func watchConfig(ctx context.Context, configPath string, logger *slog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config watcher unavailable", "error", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(configPath)
	if err := watcher.Add(dir); err != nil {
		logger.Warn("config watcher failed to watch directory", "dir", dir, "error", err)
		return
	}

	base := filepath.Base(configPath)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				logger.Info("config file changed on disk, restart to apply", "path", configPath, "op", event.Op.String())
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}
