package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Settings is the on-disk shape of user skill preferences.
type Settings struct {
	Reset   bool            `json:"reset,omitempty"`
	Enabled map[string]bool `json:"enabled"`
}

// LoadSettings reads a settings file. A missing file yields empty settings.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("read skill settings %s: %w", path, err)
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse skill settings %s: %w", path, err)
	}
	return &s, nil
}

// Apply writes the settings into the registry and returns the ids that were
// not registered.
func (s *Settings) Apply(r *Registry) []string {
	if s.Reset {
		r.ResetToDefaults()
	}
	var unknown []string
	for id, enabled := range s.Enabled {
		if !r.SetEnabled(id, enabled) {
			unknown = append(unknown, id)
		}
	}
	return unknown
}

// SettingsWatcher re-applies a settings file whenever it changes on disk.
type SettingsWatcher struct {
	path     string
	registry *Registry
	debounce time.Duration
	logger   *zap.Logger
}

// NewSettingsWatcher creates a watcher for path.
func NewSettingsWatcher(path string, registry *Registry, logger *zap.Logger) *SettingsWatcher {
	return &SettingsWatcher{
		path:     path,
		registry: registry,
		debounce: 200 * time.Millisecond,
		logger:   logger,
	}
}

// Reload reads and applies the settings file once.
func (w *SettingsWatcher) Reload() error {
	s, err := LoadSettings(w.path)
	if err != nil {
		return err
	}
	if unknown := s.Apply(w.registry); len(unknown) > 0 {
		w.logger.Warn("skill settings reference unknown skills", zap.Strings("ids", unknown))
	}
	w.logger.Info("skill settings applied", zap.String("path", w.path), zap.Int("entries", len(s.Enabled)))
	return nil
}

// Run watches the settings file's directory until ctx is cancelled. Editors
// often replace files rather than write them, so the directory is watched and
// events are filtered by name.
func (w *SettingsWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(w.path)

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			if err := w.Reload(); err != nil {
				w.logger.Warn("reload skill settings failed", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("settings watcher error", zap.Error(err))
		}
	}
}
