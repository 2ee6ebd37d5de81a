package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/twistedxcom/muxbridge/internal/logging"
	"github.com/twistedxcom/muxbridge/internal/shell"
)

const (
	fileDebounce      = 100 * time.Millisecond
	paneCacheLifetime = 5 * time.Second
)

// PaneLister resolves the live tmux pane inventory, used to map client ttys
// in the state file to pane targets.
type PaneLister interface {
	ListPanes(ctx context.Context) ([]shell.Pane, error)
}

// stateFile is the on-disk session-state document written by agent hooks.
type stateFile struct {
	Sessions map[string]stateFileSession `json:"sessions"`
}

type stateFileSession struct {
	Status        string `json:"status"`
	TTY           string `json:"tty"`
	CWD           string `json:"cwd"`
	TermProgram   string `json:"term_program"`
	WaitingReason string `json:"waiting_reason"`
	SessionID     string `json:"session_id"`
}

// fileWatcher feeds the registry from a local state file. It is the
// corroborating channel: every observation goes through the same table and
// transition logic as push messages, tagged SourceFile so consumers can
// tell the origins apart. Duplicate transitions from both channels are
// expected and suppressed downstream.
type fileWatcher struct {
	path   string
	lister PaneLister
	reg    *Registry
	log    *slog.Logger

	paneMu      sync.Mutex
	paneByTTY   map[string]string
	paneFetched time.Time
}

func newFileWatcher(path string, lister PaneLister, reg *Registry) *fileWatcher {
	return &fileWatcher{
		path:   path,
		lister: lister,
		reg:    reg,
		log:    logging.ForComponent(logging.CompRegistry),
	}
}

// start begins watching. The parent directory is watched rather than the
// file itself so atomic rename-over-replace writers keep being observed.
func (w *fileWatcher) start(ctx context.Context, wg *sync.WaitGroup) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	wg.Add(1)
	go w.run(ctx, wg, watcher)

	// Pick up whatever is on disk already.
	w.reload(ctx)
	return nil
}

func (w *fileWatcher) run(ctx context.Context, wg *sync.WaitGroup, watcher *fsnotify.Watcher) {
	defer wg.Done()
	defer watcher.Close()

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Editors and hook scripts write in bursts.
			if debounce == nil {
				debounce = time.NewTimer(fileDebounce)
				debounceC = debounce.C
			} else {
				debounce.Reset(fileDebounce)
			}
		case <-debounceC:
			w.reload(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("state file watch error", "error", err)
		}
	}
}

// reload parses the state file and feeds every entry through the registry
// as a single-session update.
func (w *fileWatcher) reload(ctx context.Context) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.log.Warn("state file unreadable", "path", w.path, "error", err)
		}
		return
	}
	var doc stateFile
	if err := json.Unmarshal(data, &doc); err != nil {
		w.log.Warn("state file malformed", "path", w.path, "error", err)
		return
	}

	for key, entry := range doc.Sessions {
		// The document's session_id names the same session the push channel
		// reports; the map key is only a fallback for writers that omit it.
		// Sharing the id keeps both sources on one table row.
		id := entry.SessionID
		if id == "" {
			id = key
		}
		target := w.resolveTTY(ctx, entry.TTY)
		w.reg.applyUpdate(pushSession{
			ID:            id,
			Project:       filepath.Base(entry.CWD),
			Type:          entry.TermProgram,
			Status:        entry.Status,
			WaitingReason: entry.WaitingReason,
			Tmux:          targetToTmux(target),
		}, SourceFile)
	}
}

// resolveTTY maps a client tty path to a tmux pane target using a cached
// pane inventory. Cache misses within the cache lifetime stay unresolved
// rather than hammering tmux on every file write.
func (w *fileWatcher) resolveTTY(ctx context.Context, tty string) string {
	if tty == "" || w.lister == nil {
		return ""
	}

	w.paneMu.Lock()
	defer w.paneMu.Unlock()

	if time.Since(w.paneFetched) > paneCacheLifetime {
		panes, err := w.lister.ListPanes(ctx)
		if err != nil {
			w.log.Warn("pane inventory refresh failed", "error", err)
		} else {
			m := make(map[string]string, len(panes))
			for _, p := range panes {
				m[p.TTY] = p.Target
			}
			w.paneByTTY = m
			w.paneFetched = time.Now()
		}
	}
	return w.paneByTTY[tty]
}

// targetToTmux splits "session:window.pane" back into wire components so the
// file channel and the push channel share one conversion path.
func targetToTmux(target string) *pushTmux {
	if target == "" {
		return nil
	}
	sess, rest, found := strings.Cut(target, ":")
	t := &pushTmux{Session: sess}
	if !found {
		return t
	}
	winStr, paneStr, hasPane := strings.Cut(rest, ".")
	win, err := strconv.Atoi(winStr)
	if err != nil {
		return t
	}
	t.Window = &win
	if hasPane {
		if pane, err := strconv.Atoi(paneStr); err == nil {
			t.Pane = &pane
		}
	}
	return t
}
