package prompts

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"dublaj/internal/logging"
)

// Watcher registers new prompt versions as template files change on disk, so
// edited bodies are versioned before the next pipeline run picks them up.
type Watcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
}

// NewWatcher creates a watcher over the registry's templates directory.
func NewWatcher(registry *Registry, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(registry.dir); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}
	return &Watcher{registry: registry, watcher: fsWatcher, logger: logger}, nil
}

// Run processes filesystem events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		_ = w.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name := templateName(event.Name)
			if name == "" {
				continue
			}
			if _, err := w.registry.RegisterVersion(ctx, name); err != nil {
				w.logger.Warn("prompt re-registration failed",
					logging.String("prompt", name),
					logging.Error(err))
				continue
			}
			w.logger.Info("prompt template changed",
				logging.String("prompt", name),
				logging.String("path", event.Name))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("template watch error", logging.Error(err))
		}
	}
}

func templateName(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	for _, known := range templateExtensions {
		if ext == known {
			return strings.TrimSuffix(base, ext)
		}
	}
	return ""
}
