package viewer

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/banshee-data/cellglm/internal/axona"
	"github.com/banshee-data/cellglm/internal/fsutil"
	"github.com/banshee-data/cellglm/internal/monitoring"
)

// refreshDelay coalesces bursts of file events into one rescan.
const refreshDelay = 250 * time.Millisecond

// SessionEntry is one recording found under the data root.
type SessionEntry struct {
	Name     string `json:"name"`
	Dir      string `json:"dir"`
	Tetrodes []int  `json:"tetrodes"`
}

// SessionIndex lists the sessions in the data root and its immediate
// subdirectories.
type SessionIndex struct {
	fsys fsutil.FileSystem
	root string

	mu       sync.RWMutex
	sessions []SessionEntry
}

// NewSessionIndex creates an index and scans root once.
func NewSessionIndex(fsys fsutil.FileSystem, root string) *SessionIndex {
	idx := &SessionIndex{fsys: fsys, root: root}
	idx.Refresh()
	return idx
}

// Sessions returns the indexed sessions sorted by directory.
func (idx *SessionIndex) Sessions() []SessionEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]SessionEntry(nil), idx.sessions...)
}

// Refresh rescans the data root.
func (idx *SessionIndex) Refresh() {
	dirs := []string{idx.root}
	entries, err := idx.fsys.ReadDir(idx.root)
	if err != nil {
		monitoring.Logf("session index: %v", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(idx.root, e.Name()))
		}
	}

	var found []SessionEntry
	for _, dir := range dirs {
		files, err := axona.DiscoverSession(idx.fsys, []string{dir})
		if err != nil {
			continue
		}
		entry := SessionEntry{Name: files.Name(), Dir: dir}
		for _, t := range files.Tetrodes {
			entry.Tetrodes = append(entry.Tetrodes, t.Number)
		}
		found = append(found, entry)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Dir < found[j].Dir })

	idx.mu.Lock()
	idx.sessions = found
	idx.mu.Unlock()
	sessionsIndexed.Set(float64(len(found)))
}

// Watch rescans whenever files under the data root change, until ctx is
// done.
func (idx *SessionIndex) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(idx.root); err != nil {
		return err
	}
	for _, s := range idx.Sessions() {
		if s.Dir != idx.root {
			_ = watcher.Add(s.Dir)
		}
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := idx.fsys.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(refreshDelay)
				fire = timer.C
			}
		case <-fire:
			timer, fire = nil, nil
			idx.Refresh()
			monitoring.Logf("session index: %d sessions under %s", len(idx.Sessions()), idx.root)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			monitoring.Logf("session index watcher: %v", err)
		}
	}
}
