package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/twistedxcom/muxbridge/internal/logging"
)

const notifyBuffer = 64

// Registry holds the session table and fans out state-change and progress
// notifications. Connect starts the push client (and the optional state-file
// watcher); Disconnect tears everything down and guarantees no notification
// is delivered afterwards.
type Registry struct {
	serverURL string
	authToken string

	mu       sync.Mutex
	sessions map[string]*Session // by session id

	changes  chan StateChange
	progress chan ProgressUpdate

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed sync.Once

	dial      dialFunc
	fileWatch *fileWatcher

	log *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithStateFile enables the local state-file fallback channel. The lister
// resolves client ttys to tmux pane targets.
func WithStateFile(path string, lister PaneLister) Option {
	return func(r *Registry) {
		if path == "" {
			return
		}
		r.fileWatch = newFileWatcher(path, lister, r)
	}
}

func withDialFunc(d dialFunc) Option {
	return func(r *Registry) { r.dial = d }
}

// New builds a Registry for the given push endpoint.
func New(serverURL, authToken string, opts ...Option) *Registry {
	r := &Registry{
		serverURL: serverURL,
		authToken: authToken,
		sessions:  make(map[string]*Session),
		changes:   make(chan StateChange, notifyBuffer),
		progress:  make(chan ProgressUpdate, notifyBuffer),
		dial:      wsDial,
		log:       logging.ForComponent(logging.CompRegistry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect starts the push-client goroutine and the state-file watcher. It
// returns immediately; connection establishment and retries happen in the
// background.
func (r *Registry) Connect(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	if r.serverURL != "" {
		r.wg.Add(1)
		go r.runPushClient()
	}
	if r.fileWatch != nil {
		if err := r.fileWatch.start(r.ctx, &r.wg); err != nil {
			r.log.Warn("state file watcher unavailable", "error", err)
		}
	}
	return nil
}

// Disconnect stops all observation channels. When it returns, the Changes
// and Progress channels are closed and no further notification will fire.
func (r *Registry) Disconnect() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.closed.Do(func() {
		close(r.changes)
		close(r.progress)
	})
}

// Changes delivers observed status transitions. The channel is closed by
// Disconnect.
func (r *Registry) Changes() <-chan StateChange { return r.changes }

// Progress delivers periodic pane snapshots for running sessions.
func (r *Registry) Progress() <-chan ProgressUpdate { return r.progress }

// AllSessions returns a snapshot of every known session, ordered by project
// then id for stable output.
func (r *Registry) AllSessions() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Project != out[j].Project {
			return out[i].Project < out[j].Project
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SessionsForProject returns snapshots of the sessions attached to the named
// project.
func (r *Registry) SessionsForProject(project string) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Session
	for _, s := range r.sessions {
		if s.Project == project {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Projects returns the distinct project names currently known, sorted.
func (r *Registry) Projects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{})
	for _, s := range r.sessions {
		seen[s.Project] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// applySnapshot replaces the table with a full session list. Divergence is
// computed per project name rather than per id, since session ids rotate
// across server restarts while the project is the stable identity. When
// bootstrap is set (first snapshot after a connect), sessions already
// waiting for input synthesize a transition from the bootstrap sentinel so
// downstream handling can pick them up without trusting stale context.
func (r *Registry) applySnapshot(list []pushSession, bootstrap bool, src Source) {
	now := time.Now()

	r.mu.Lock()
	oldByProject := r.projectStatusLocked()

	next := make(map[string]*Session, len(list))
	for i := range list {
		s := list[i].toSession(now)
		if s.ID == "" {
			continue
		}
		next[s.ID] = &s
	}
	r.sessions = next

	newByProject := r.projectStatusLocked()

	var pending []StateChange
	for project, st := range newByProject {
		old, known := oldByProject[project]
		rep := r.representativeLocked(project)
		if rep == nil {
			continue
		}
		switch {
		case bootstrap && st == StatusWaiting:
			pending = append(pending, StateChange{
				Session: *rep, OldStatus: StatusBootstrap, NewStatus: st, Source: src,
			})
		case known && old != st:
			pending = append(pending, StateChange{
				Session: *rep, OldStatus: old, NewStatus: st, Source: src,
			})
		}
	}
	r.mu.Unlock()

	for _, c := range pending {
		r.emitChange(c)
	}
}

// applyUpdate upserts a single session and emits a transition when its
// status moved.
func (r *Registry) applyUpdate(p pushSession, src Source) {
	if p.ID == "" {
		return
	}
	now := time.Now()

	r.mu.Lock()
	s := p.toSession(now)
	old := StatusUnknown
	if prev, ok := r.sessions[s.ID]; ok {
		old = prev.Status
	} else if st, ok := r.projectStatusLocked()[s.Project]; ok {
		old = st
	}
	r.sessions[s.ID] = &s
	snap := s
	r.mu.Unlock()

	if old == snap.Status {
		return
	}
	r.emitChange(StateChange{Session: snap, OldStatus: old, NewStatus: snap.Status, Source: src})
}

// applyRemoved drops a session from the table.
func (r *Registry) applyRemoved(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// applyProgress records a fresh pane capture and notifies listeners.
func (r *Registry) applyProgress(p pushSession, src Source) {
	if p.ID == "" {
		return
	}
	r.mu.Lock()
	s, ok := r.sessions[p.ID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if p.PaneCapture != "" {
		s.PaneCapture = p.PaneCapture
	}
	s.UpdatedAt = time.Now()
	snap := *s
	r.mu.Unlock()

	select {
	case r.progress <- ProgressUpdate{Session: snap, Capture: snap.PaneCapture}:
	default:
		r.log.Warn("progress channel full, dropping update", "session", snap.ID)
	}
}

func (r *Registry) emitChange(c StateChange) {
	select {
	case r.changes <- c:
	default:
		r.log.Warn("change channel full, dropping transition",
			"project", c.Session.Project, "old", c.OldStatus, "new", c.NewStatus)
	}
}

// projectStatusLocked reduces the table to a per-project status using
// activity priority, so a project with one running and one stopped session
// reads as running. Caller holds mu.
func (r *Registry) projectStatusLocked() map[string]Status {
	out := make(map[string]Status)
	for _, s := range r.sessions {
		cur, ok := out[s.Project]
		if !ok || activityPriority(s.Status) > activityPriority(cur) {
			out[s.Project] = s.Status
		}
	}
	return out
}

// representativeLocked picks the most active session of a project, breaking
// ties by most recent update. Caller holds mu.
func (r *Registry) representativeLocked(project string) *Session {
	var best *Session
	for _, s := range r.sessions {
		if s.Project != project {
			continue
		}
		if best == nil ||
			activityPriority(s.Status) > activityPriority(best.Status) ||
			(activityPriority(s.Status) == activityPriority(best.Status) && s.UpdatedAt.After(best.UpdatedAt)) {
			best = s
		}
	}
	return best
}

// handleMessage dispatches one decoded push-channel message.
func (r *Registry) handleMessage(msg pushMessage, bootstrap bool) {
	switch msg.Type {
	case "sessions.list":
		r.applySnapshot(msg.Sessions, bootstrap, SourcePush)
	case "session.updated", "session.added":
		if msg.Session != nil {
			r.applyUpdate(*msg.Session, SourcePush)
		}
	case "session.removed":
		r.applyRemoved(msg.SessionID)
	case "session.progress":
		if msg.Session != nil {
			r.applyProgress(*msg.Session, SourcePush)
		}
	default:
		r.log.Debug("unknown push message type", "type", msg.Type)
	}
}
