package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk settings layout:
//
//	installed: true
//	settings:
//	  db-version: "3.4.1"
type Document struct {
	Installed bool              `yaml:"installed"`
	Settings  map[string]string `yaml:"settings"`
}

// File is a Store backed by a YAML document. A file missing at startup reads
// as a fresh, uninstalled instance. Once loaded, the last good document stays
// in effect if the file disappears.
type File struct {
	path   string
	logger *slog.Logger

	mu  sync.RWMutex
	doc Document
}

// NewFile loads path.
func NewFile(path string) (*File, error) {
	f := &File{
		path:   path,
		logger: slog.With("component", "settings", "path", path),
	}
	if err := f.load(true); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload re-reads the document from disk. A missing or unparsable file
// returns an error and leaves the previous values in place.
func (f *File) Reload() error {
	return f.load(false)
}

func (f *File) load(allowMissing bool) error {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		if allowMissing {
			f.set(Document{})
			return nil
		}
		return fmt.Errorf("settings file disappeared, keeping previous values: %w", err)
	}
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse settings %s: %w", f.path, err)
	}
	f.set(doc)
	return nil
}

func (f *File) set(doc Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc = doc
}

// IsInstalled reports the installed flag of the current document.
func (f *File) IsInstalled(context.Context) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.doc.Installed, nil
}

// Get returns a key from the settings map of the current document.
func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.doc.Settings[key]
	return v, ok, nil
}

// Watch reloads the document whenever it changes until ctx is done. The
// parent directory is watched so editors that replace the file atomically
// are picked up too. A document that fails to parse, or a file that is
// removed, keeps the previous values in effect.
func (f *File) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(f.path), err)
	}

	name := filepath.Clean(f.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := f.Reload(); err != nil {
				f.logger.Warn("Failed to reload settings", "error", err)
				continue
			}
			f.logger.Info("Settings reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("Settings watcher error", "error", err)
		}
	}
}

var (
	_ Store = (*File)(nil)
	_ Store = Static{}
)
