package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file on change and pushes the guardian
// tunables to a callback. Only the Guardian section is hot-reloadable;
// connection settings require a restart.
type Watcher struct {
	path     string
	onChange func(GuardianConfig)
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a config file watcher. onChange is invoked with
// the new tunables after each successful reload.
func NewWatcher(path string, onChange func(GuardianConfig)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files on save,
	// which drops a file-level watch.
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Watcher{path: path, onChange: onChange, watcher: fw}, nil
}

// Run processes file events until the context is cancelled. Reloads are
// debounced so that a burst of writes triggers a single reload.
func (w *Watcher) Run(ctx context.Context) {
	var debounce *time.Timer
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
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
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[Config] Watch error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.Printf("[Config] Reload of %s failed, keeping previous settings: %v", w.path, err)
		return
	}
	log.Printf("[Config] Reloaded %s (run_interval=%s, concurrency_limit=%d, batch_size=%d)",
		w.path, cfg.Guardian.RunInterval, cfg.Guardian.ConcurrencyLimit, cfg.Guardian.BatchSize)
	w.onChange(cfg.Guardian)
}
