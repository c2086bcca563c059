package site

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/marksite/internal/logfields"
)

// ChangeFunc receives the relative paths touched during one debounce window.
type ChangeFunc func(paths []string)

// Watch starts an fsnotify watcher on root and reports changes until ctx is
// cancelled. Events are coalesced for debounce before onChange runs, so a
// burst of saves triggers a single rescan.
//
// New directories created at runtime are automatically added to the watch
// list. Paths matched by ignore are neither watched nor reported.
func Watch(ctx context.Context, root string, ignore *Ignore, debounce time.Duration, logger *slog.Logger, onChange ChangeFunc) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root, root, ignore); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			onChange(paths)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if ignored(ignore, rel) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, root, ev.Name, ignore); addErr != nil {
						logger.Warn("watcher: add new dir failed", logfields.Path(rel), logfields.Error(addErr))
					} else {
						logger.Debug("watcher: watching new dir", logfields.Path(rel))
					}
				}
			}

			pending[rel] = struct{}{}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", logfields.Error(watchErr))
		}
	}
}

// ignored reports whether rel or any of its parent directories is ignored.
func ignored(ig *Ignore, rel string) bool {
	if ig.SkipFile(rel) {
		return true
	}
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if ig.SkipDir(dir) {
			return true
		}
	}
	return false
}

// addDirsRecursive adds dir and its non-ignored subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root, dir string, ig *Ignore) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(root, p); relErr == nil && rel != "." {
			if ig.SkipDir(filepath.ToSlash(rel)) {
				return filepath.SkipDir
			}
		}
		return w.Add(p)
	})
}
