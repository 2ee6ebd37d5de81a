package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twistedxcom/muxbridge/internal/shell"
)

type fakeLister struct {
	mu    sync.Mutex
	panes []shell.Pane
	calls int
}

func (f *fakeLister) ListPanes(ctx context.Context) ([]shell.Pane, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.panes, nil
}

func writeStateFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestFileWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	lister := &fakeLister{panes: []shell.Pane{
		{Target: "dev:1.0", TTY: "/dev/ttys004", Command: "claude"},
	}}

	writeStateFile(t, path, `{
		"sessions": {
			"s-1": {
				"status": "waiting_input",
				"tty": "/dev/ttys004",
				"cwd": "/home/u/projects/api",
				"term_program": "claude",
				"waiting_reason": "permission_prompt"
			}
		}
	}`)

	r := New("", "")
	w := newFileWatcher(path, lister, r)
	w.reload(context.Background())

	changes := drainChanges(r)
	require.Len(t, changes, 1)
	c := changes[0]
	assert.Equal(t, SourceFile, c.Source)
	assert.Equal(t, "api", c.Session.Project)
	assert.Equal(t, "dev:1.0", c.Session.Target)
	assert.Equal(t, StatusWaiting, c.NewStatus)
	assert.Equal(t, ReasonPermission, c.Session.WaitingReason)
}

func TestFileWatcherPaneCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	lister := &fakeLister{}

	writeStateFile(t, path, `{"sessions": {"s-1": {"status": "running", "tty": "/dev/ttys004", "cwd": "/p/api"}}}`)

	r := New("", "")
	w := newFileWatcher(path, lister, r)
	w.reload(context.Background())
	w.reload(context.Background())

	// Second reload inside the cache lifetime must not hit tmux again.
	assert.Equal(t, 1, lister.calls)
}

func TestFileWatcherConvergesOnPushSessionID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")

	r := New("", "")
	r.applySnapshot([]pushSession{wireSession("push-1", "api", "running")}, false, SourcePush)
	drainChanges(r)

	// The document key differs from the session id the push channel uses;
	// the entry's session_id must win so no second row appears.
	writeStateFile(t, path, `{
		"sessions": {
			"hook-abc": {
				"status": "waiting_input",
				"cwd": "/p/api",
				"session_id": "push-1"
			}
		}
	}`)

	w := newFileWatcher(path, nil, r)
	w.reload(context.Background())

	sessions := r.AllSessions()
	require.Len(t, sessions, 1, "file and push observations must share one table row")
	assert.Equal(t, "push-1", sessions[0].ID)
	assert.Equal(t, StatusWaiting, sessions[0].Status)

	changes := drainChanges(r)
	require.Len(t, changes, 1)
	assert.Equal(t, StatusRunning, changes[0].OldStatus)
	assert.Equal(t, StatusWaiting, changes[0].NewStatus)
	assert.Equal(t, SourceFile, changes[0].Source)
}

func TestFileWatcherFallsBackToMapKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	writeStateFile(t, path, `{"sessions": {"hook-abc": {"status": "running", "cwd": "/p/api"}}}`)

	r := New("", "")
	w := newFileWatcher(path, nil, r)
	w.reload(context.Background())

	sessions := r.AllSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "hook-abc", sessions[0].ID)
}

func TestFileWatcherIgnoresMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	r := New("", "")
	w := newFileWatcher(path, nil, r)
	w.reload(context.Background())

	assert.Empty(t, drainChanges(r))
	assert.Empty(t, r.AllSessions())
}

func TestFileWatcherObservesRenameReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")

	r := New("", "", WithStateFile(path, nil))
	require.NoError(t, r.Connect(context.Background()))
	defer r.Disconnect()

	writeStateFile(t, path, `{"sessions": {"s-1": {"status": "waiting_input", "cwd": "/p/api"}}}`)

	require.Eventually(t, func() bool {
		select {
		case c := <-r.Changes():
			return c.Source == SourceFile && c.NewStatus == StatusWaiting
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)
}
