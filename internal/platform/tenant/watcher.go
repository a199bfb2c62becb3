package tenant

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Reloader rebuilds one tenant's search parameters.
type Reloader interface {
	Reload(ctx context.Context, tenantID string) error
}

// Watcher reloads tenants whose configuration directory changes. A tenant
// is reloaded once its directory has seen no events for the debounce
// interval, so a burst of writes produces one reload after it ends.
type Watcher struct {
	dir      string
	reloader Reloader
	debounce time.Duration
	logger   zerolog.Logger
	fsw      *fsnotify.Watcher
	now      func() time.Time

	pendingMu sync.Mutex
	pending   map[string]time.Time // tenant -> last event
}

// NewWatcher creates a Watcher over a FileSource directory.
func NewWatcher(dir string, reloader Reloader, debounce time.Duration, logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{
		dir:      dir,
		reloader: reloader,
		debounce: debounce,
		logger:   logger,
		fsw:      fsw,
		now:      time.Now,
		pending:  make(map[string]time.Time),
	}, nil
}

// Run watches until ctx is cancelled, then closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	if err := w.fsw.Add(w.dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() && ValidID(e.Name()) {
			w.watchTenantDir(filepath.Join(w.dir, e.Name()))
		}
	}
	w.logger.Info().Str("dir", w.dir).Dur("debounce", w.debounce).Msg("watching tenant configuration")

	ticker := time.NewTicker(max(w.debounce/4, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("tenant watcher error")
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) watchTenantDir(path string) {
	if err := w.fsw.Add(path); err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("failed to watch tenant directory")
	}
}

// handle maps an event to the tenant whose directory it falls under.
func (w *Watcher) handle(event fsnotify.Event) {
	tenantID := w.tenantOf(event.Name)
	if tenantID == "" {
		return
	}
	if event.Op.Has(fsnotify.Create) && filepath.Dir(event.Name) == filepath.Clean(w.dir) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.watchTenantDir(event.Name)
		}
	}
	w.pendingMu.Lock()
	w.pending[tenantID] = w.now()
	w.pendingMu.Unlock()
}

func (w *Watcher) tenantOf(path string) string {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	first := strings.Split(filepath.ToSlash(rel), "/")[0]
	if !ValidID(first) {
		return ""
	}
	return first
}

// flush reloads the pending tenants that have been quiet for the debounce
// interval. Tenants still receiving events stay pending.
func (w *Watcher) flush(ctx context.Context) {
	now := w.now()
	w.pendingMu.Lock()
	var tenants []string
	for t, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			tenants = append(tenants, t)
			delete(w.pending, t)
		}
	}
	w.pendingMu.Unlock()

	sort.Strings(tenants)
	for _, t := range tenants {
		if err := w.reloader.Reload(ctx, t); err != nil {
			w.logger.Error().Err(err).Str("tenant", t).Msg("tenant reload failed")
			continue
		}
		w.logger.Info().Str("tenant", t).Msg("tenant configuration reloaded")
	}
}
