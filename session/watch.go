package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// WatchSecretFile replaces the session secret whenever the file at path is
// written. The file holds the secret alone; surrounding whitespace is
// ignored. The watch is set up before WatchSecretFile returns and runs
// until ctx ends.
func (m *Manager) WatchSecretFile(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create secret watcher: %w", err)
	}

	// Watch the directory; editors and secret managers often replace the
	// file rather than write it in place.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	go m.watchLoop(ctx, watcher, path)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer watcher.Close()
	baseName := filepath.Base(path)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != baseName {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			m.reloadSecret(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.cfg.logger.Warn("secret watcher error",
				slog.String("path", path),
				slog.Any("error", err))
		}
	}
}

func (m *Manager) reloadSecret(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		m.cfg.logger.Debug("read secret file",
			slog.String("path", path),
			slog.Any("error", err))
		return
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		// Truncate-then-write shows up as an empty write first.
		return
	}
	m.SetSecret(secret)
}
