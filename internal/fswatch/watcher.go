// Package fswatch turns raw filesystem notifications into fsreg.Diff
// events, debounced and filtered through an ignore.Matcher.
package fswatch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/collab-daemon/collabd/internal/fsreg"
	"github.com/collab-daemon/collabd/internal/ignore"
	"github.com/collab-daemon/collabd/internal/logger"
)

const debounceWindow = 100 * time.Millisecond

// RegistryAccess lets the watcher register the initial scan's diffs
// directly into the shared registry without going through the router's
// normal dispatch (which would otherwise read them back as if a peer had
// just made the same change).
type RegistryAccess interface {
	WithRegistry(func(fsreg.Registry))
}

// Watcher is the FS-watching producer. One Watcher owns one root.
type Watcher struct {
	root   string
	ignore *ignore.Matcher
	reg    RegistryAccess
	events chan fsreg.Diff

	fsw *fsnotify.Watcher
	ctx context.Context

	mu                sync.Mutex
	debounce          map[string]*time.Timer
	pendingRenameFrom string
	renameTimer       *time.Timer
	rescanCh          chan struct{}
}

// New opens an fsnotify watcher for root. Call Run to start the event loop.
func New(root string, matcher *ignore.Matcher, reg RegistryAccess) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:     root,
		ignore:   matcher,
		reg:      reg,
		events:   make(chan fsreg.Diff, 256),
		fsw:      fsw,
		debounce: make(map[string]*time.Timer),
		rescanCh: make(chan struct{}, 1),
	}, nil
}

// Events returns the channel the router drains FsDiff-bound events from.
func (w *Watcher) Events() <-chan fsreg.Diff { return w.events }

// Run performs the initial scan, establishes a recursive watch, and blocks
// processing filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.ctx = ctx
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	if err := w.initialScan(); err != nil {
		return err
	}
	go w.rescanWorker(ctx)

	for {
		select {
		case <-ctx.Done():
			w.fsw.Close()
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logger.Error("fswatch error", "err", err)
		}
	}
}

func (w *Watcher) relPath(fullPath string) (fsreg.RelPath, bool) {
	rel, err := filepath.Rel(w.root, fullPath)
	if err != nil {
		return "", false
	}
	rp, err := fsreg.NewRelPath(filepath.ToSlash(rel))
	if err != nil {
		return "", false
	}
	return rp, true
}

// addRecursive walks dir, registering an fsnotify watch on every
// non-ignored subdirectory (fsnotify itself does not recurse).
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root {
			if rp, ok := w.relPath(path); ok && w.ignore.IsIgnored(rp.String()) {
				return filepath.SkipDir
			}
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) initialScan() error {
	diffs, err := fsreg.LoadDir(w.root, func(p fsreg.RelPath) bool { return w.ignore.IsIgnored(p.String()) })
	if err != nil {
		return err
	}
	w.reg.WithRegistry(func(reg fsreg.Registry) {
		for _, d := range diffs {
			d.Register(reg)
		}
	})
	return nil
}

func (w *Watcher) scheduleRescan() {
	select {
	case w.rescanCh <- struct{}{}:
	default:
	}
}

func (w *Watcher) rescanWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.rescanCh:
			diffs, err := fsreg.LoadDir(w.root, func(p fsreg.RelPath) bool { return w.ignore.IsIgnored(p.String()) })
			if err != nil {
				logger.Error("fswatch rescan failed", "err", err)
				continue
			}
			for _, d := range diffs {
				w.emit(d)
			}
		}
	}
}

func (w *Watcher) emit(d fsreg.Diff) {
	select {
	case w.events <- d:
	case <-w.ctx.Done():
	}
}

func (w *Watcher) debounced(key string, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounce[key]; ok {
		t.Stop()
	}
	w.debounce[key] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.debounce, key)
		w.mu.Unlock()
		fn()
	})
}

// handleEvent dispatches a single fsnotify.Event per the per-event rules:
// Create(dir) -> NewDir, Create(file)/Write -> Write+Chmod, Remove -> Del,
// Chmod -> Chmod, and Rename correlated against the Create that follows it
// (fsnotify reports a rename as a Rename event for the old name and a
// separate Create for the new one, never a single paired event) to
// approximate Move(from,to); an unmatched Rename within the debounce
// window is treated as a Del of the old path.
func (w *Watcher) handleEvent(ev fsnotify.Event) {
	rp, ok := w.relPath(ev.Name)
	if !ok {
		return
	}

	switch {
	case ev.Op&fsnotify.Rename != 0:
		w.recordRenameFrom(rp.String())
	case ev.Op&fsnotify.Create != 0:
		if w.consumeRenameTo(rp.String()) {
			return
		}
		w.debounced(rp.String(), func() { w.handleCreate(rp, ev.Name) })
	case ev.Op&fsnotify.Remove != 0:
		w.debounced(rp.String(), func() { w.handleRemove(rp) })
	case ev.Op&fsnotify.Write != 0:
		w.debounced(rp.String(), func() { w.handleWrite(rp, ev.Name) })
	case ev.Op&fsnotify.Chmod != 0:
		w.debounced(rp.String(), func() { w.handleChmod(rp, ev.Name) })
	}
}

func (w *Watcher) recordRenameFrom(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pendingRenameFrom = path
	if w.renameTimer != nil {
		w.renameTimer.Stop()
	}
	w.renameTimer = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		from := w.pendingRenameFrom
		w.pendingRenameFrom = ""
		w.mu.Unlock()
		if from == "" {
			return
		}
		w.resolveUnmatchedRename(from)
	})
}

func (w *Watcher) consumeRenameTo(toPath string) bool {
	w.mu.Lock()
	from := w.pendingRenameFrom
	if from == "" {
		w.mu.Unlock()
		return false
	}
	w.pendingRenameFrom = ""
	if w.renameTimer != nil {
		w.renameTimer.Stop()
	}
	w.mu.Unlock()
	w.resolveRename(from, toPath)
	return true
}

func (w *Watcher) resolveUnmatchedRename(fromPath string) {
	fromP, err := fsreg.NewRelPath(fromPath)
	if err != nil {
		return
	}
	if !w.ignore.IsIgnored(fromP.String()) {
		w.emit(fsreg.DelDiff(fromP))
	}
	if ignore.IsIgnoreFile(fromPath) {
		w.ignore.RemoveSource(fromPath)
		w.scheduleRescan()
	}
}

func (w *Watcher) resolveRename(fromPath, toPath string) {
	fromP, err := fsreg.NewRelPath(fromPath)
	if err != nil {
		return
	}
	toP, err := fsreg.NewRelPath(toPath)
	if err != nil {
		return
	}
	fromIgnored := w.ignore.IsIgnored(fromP.String())
	toIgnored := w.ignore.IsIgnored(toP.String())

	switch {
	case !fromIgnored && !toIgnored:
		w.emit(fsreg.MoveDiff(fromP, toP))
	case !fromIgnored && toIgnored:
		w.emit(fsreg.DelDiff(fromP))
	case fromIgnored && !toIgnored:
		w.handleCreate(toP, filepath.Join(w.root, filepath.FromSlash(toP.String())))
	}

	if ignore.IsIgnoreFile(fromPath) || ignore.IsIgnoreFile(toPath) {
		w.ignore.RemoveSource(fromPath)
		w.scheduleRescan()
	}
}

func (w *Watcher) handleCreate(rp fsreg.RelPath, fullPath string) {
	info, err := os.Stat(fullPath)
	if err != nil {
		return
	}
	if info.IsDir() {
		if w.ignore.IsIgnored(rp.String()) {
			return
		}
		w.emit(fsreg.NewDirDiff(rp))
		if err := w.addRecursive(fullPath); err != nil {
			logger.Error("fswatch watch new directory failed", "path", rp.String(), "err", err)
		}
		return
	}
	w.handleWrite(rp, fullPath)
}

func (w *Watcher) handleWrite(rp fsreg.RelPath, fullPath string) {
	isIgnoreFile := ignore.IsIgnoreFile(rp.String())
	if isIgnoreFile {
		if data, err := os.ReadFile(fullPath); err == nil {
			w.ignore.SetSource(rp.String(), string(data))
		}
	}
	if !w.ignore.IsIgnored(rp.String()) {
		if data, err := os.ReadFile(fullPath); err == nil {
			w.emit(fsreg.WriteDiff(rp, data))
			if perm, err := fsreg.GetPerm(fullPath); err == nil {
				w.emit(fsreg.ChmodDiff(rp, perm))
			}
		}
	}
	if isIgnoreFile {
		w.scheduleRescan()
	}
}

func (w *Watcher) handleRemove(rp fsreg.RelPath) {
	isIgnoreFile := ignore.IsIgnoreFile(rp.String())
	if !w.ignore.IsIgnored(rp.String()) {
		w.emit(fsreg.DelDiff(rp))
	}
	if isIgnoreFile {
		w.ignore.RemoveSource(rp.String())
		w.scheduleRescan()
	}
}

func (w *Watcher) handleChmod(rp fsreg.RelPath, fullPath string) {
	if w.ignore.IsIgnored(rp.String()) {
		return
	}
	perm, err := fsreg.GetPerm(fullPath)
	if err != nil {
		return
	}
	w.emit(fsreg.ChmodDiff(rp, perm))
}
