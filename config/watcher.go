package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reports changes to taskagent config files in a set of directories.
type Watcher struct {
	watcher      *fsnotify.Watcher
	debounce     time.Duration
	logger       *logrus.Entry
	onChange     func(file string)
	targetToLink map[string]string

	mu      sync.Mutex
	pending *time.Timer
	last    string
}

// NewWatcher watches dirs for writes to taskagent.{yml,yaml,toml}. Symlinked
// config files also have their target directory watched, since fsnotify does
// not follow links. onChange runs once per burst of writes, after debounce.
func NewWatcher(dirs []string, debounce time.Duration, logger *logrus.Entry, onChange func(file string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	w := &Watcher{
		watcher:      fw,
		debounce:     debounce,
		logger:       logger,
		onChange:     onChange,
		targetToLink: make(map[string]string),
	}

	watched := make(map[string]bool)
	add := func(dir string) {
		if dir == "" || watched[dir] {
			return
		}
		if err := fw.Add(dir); err != nil {
			logger.WithError(err).WithField("dir", dir).Debug("Cannot watch config directory")
			return
		}
		watched[dir] = true
	}

	for _, dir := range dirs {
		add(dir)
		for _, name := range configNames {
			link := filepath.Join(dir, name)
			info, err := os.Lstat(link)
			if err != nil || info.Mode()&os.ModeSymlink == 0 {
				continue
			}
			target, err := filepath.EvalSymlinks(link)
			if err != nil {
				logger.WithError(err).Warnf("Failed to resolve symlink %s", link)
				continue
			}
			w.targetToLink[target] = link
			add(filepath.Dir(target))
		}
	}

	if len(watched) == 0 {
		_ = fw.Close()
		return nil, os.ErrNotExist
	}
	return w, nil
}

// Run delivers change notifications until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			file := event.Name
			if link, ok := w.targetToLink[file]; ok {
				file = link
			}
			if !isConfigName(filepath.Base(file)) {
				continue
			}
			w.schedule(file)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Config watcher error")
		}
	}
}

func (w *Watcher) schedule(file string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = file
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		changed := w.last
		w.pending = nil
		w.mu.Unlock()

		w.logger.WithField("file", changed).Info("Config changed")
		if w.onChange != nil {
			w.onChange(changed)
		}
	})
}

func (w *Watcher) stop() {
	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()
	_ = w.watcher.Close()
}

func isConfigName(name string) bool {
	for _, n := range configNames {
		if n == name {
			return true
		}
	}
	return false
}
