package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func wireSession(id, project, status string) pushSession {
	return pushSession{
		ID:      id,
		Project: project,
		Type:    "claude",
		Status:  status,
		Tmux:    &pushTmux{Session: "dev", Window: intPtr(0), Pane: intPtr(1)},
	}
}

func drainChanges(r *Registry) []StateChange {
	var out []StateChange
	for {
		select {
		case c := <-r.Changes():
			out = append(out, c)
		default:
			return out
		}
	}
}

func TestSnapshotDiffsByProject(t *testing.T) {
	r := New("", "")

	r.applySnapshot([]pushSession{wireSession("a1", "api", "running")}, false, SourcePush)
	drainChanges(r)

	// Same project, new session id, new status: one transition keyed by project.
	r.applySnapshot([]pushSession{wireSession("a2", "api", "waiting_input")}, false, SourcePush)

	changes := drainChanges(r)
	require.Len(t, changes, 1)
	assert.Equal(t, "api", changes[0].Session.Project)
	assert.Equal(t, StatusRunning, changes[0].OldStatus)
	assert.Equal(t, StatusWaiting, changes[0].NewStatus)
	assert.Equal(t, SourcePush, changes[0].Source)
}

func TestSnapshotNoChangeNoNotification(t *testing.T) {
	r := New("", "")

	r.applySnapshot([]pushSession{wireSession("a1", "api", "running")}, false, SourcePush)
	drainChanges(r)

	r.applySnapshot([]pushSession{wireSession("a1", "api", "running")}, false, SourcePush)
	assert.Empty(t, drainChanges(r))
}

func TestBootstrapSnapshotSynthesizesSentinel(t *testing.T) {
	r := New("", "")

	r.applySnapshot([]pushSession{
		wireSession("a1", "api", "waiting_input"),
		wireSession("b1", "web", "running"),
	}, true, SourcePush)

	changes := drainChanges(r)
	require.Len(t, changes, 1)
	assert.Equal(t, "api", changes[0].Session.Project)
	assert.Equal(t, StatusBootstrap, changes[0].OldStatus)
	assert.Equal(t, StatusWaiting, changes[0].NewStatus)
}

func TestProjectStatusUsesActivityPriority(t *testing.T) {
	r := New("", "")

	// One running and one stopped session: project reads running, so a later
	// snapshot where only the stopped one remains is a real transition.
	r.applySnapshot([]pushSession{
		wireSession("a1", "api", "running"),
		wireSession("a2", "api", "stopped"),
	}, false, SourcePush)
	drainChanges(r)

	r.applySnapshot([]pushSession{wireSession("a2", "api", "stopped")}, false, SourcePush)
	changes := drainChanges(r)
	require.Len(t, changes, 1)
	assert.Equal(t, StatusRunning, changes[0].OldStatus)
	assert.Equal(t, StatusStopped, changes[0].NewStatus)
}

func TestUpdateEmitsTransition(t *testing.T) {
	r := New("", "")
	r.applySnapshot([]pushSession{wireSession("a1", "api", "running")}, false, SourcePush)
	drainChanges(r)

	r.applyUpdate(wireSession("a1", "api", "waiting_input"), SourceFile)

	changes := drainChanges(r)
	require.Len(t, changes, 1)
	assert.Equal(t, StatusRunning, changes[0].OldStatus)
	assert.Equal(t, StatusWaiting, changes[0].NewStatus)
	assert.Equal(t, SourceFile, changes[0].Source)
}

func TestUpdateUnknownSessionFallsBackToProjectStatus(t *testing.T) {
	r := New("", "")
	r.applySnapshot([]pushSession{wireSession("a1", "api", "running")}, false, SourcePush)
	drainChanges(r)

	// New id, same project: old status comes from the project, not Unknown.
	r.applyUpdate(wireSession("a2", "api", "waiting_input"), SourcePush)

	changes := drainChanges(r)
	require.Len(t, changes, 1)
	assert.Equal(t, StatusRunning, changes[0].OldStatus)
}

func TestRemovedDropsSession(t *testing.T) {
	r := New("", "")
	r.applySnapshot([]pushSession{wireSession("a1", "api", "running")}, false, SourcePush)
	drainChanges(r)

	r.applyRemoved("a1")
	assert.Empty(t, r.AllSessions())
}

func TestProgressUpdatesCapture(t *testing.T) {
	r := New("", "")
	r.applySnapshot([]pushSession{wireSession("a1", "api", "running")}, false, SourcePush)
	drainChanges(r)

	s := wireSession("a1", "api", "running")
	s.PaneCapture = "building target..."
	r.applyProgress(s, SourcePush)

	select {
	case p := <-r.Progress():
		assert.Equal(t, "a1", p.Session.ID)
		assert.Equal(t, "building target...", p.Capture)
	default:
		t.Fatal("expected a progress update")
	}

	sessions := r.SessionsForProject("api")
	require.Len(t, sessions, 1)
	assert.Equal(t, "building target...", sessions[0].PaneCapture)
}

func TestProgressIgnoresUnknownSession(t *testing.T) {
	r := New("", "")
	r.applyProgress(wireSession("ghost", "api", "running"), SourcePush)
	select {
	case <-r.Progress():
		t.Fatal("unexpected progress update")
	default:
	}
}

func TestTargetDegradation(t *testing.T) {
	tests := []struct {
		name string
		tmux *pushTmux
		want string
	}{
		{"full", &pushTmux{Session: "dev", Window: intPtr(2), Pane: intPtr(1)}, "dev:2.1"},
		{"no pane", &pushTmux{Session: "dev", Window: intPtr(2)}, "dev:2"},
		{"session only", &pushTmux{Session: "dev"}, "dev"},
		{"nil", nil, ""},
		{"empty session", &pushTmux{Window: intPtr(0)}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tmux.target())
		})
	}
}

func TestTargetToTmuxRoundTrip(t *testing.T) {
	for _, target := range []string{"dev:2.1", "dev:2", "dev"} {
		got := targetToTmux(target)
		require.NotNil(t, got)
		assert.Equal(t, target, got.target())
	}
	assert.Nil(t, targetToTmux(""))
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusRunning, parseStatus("running"))
	assert.Equal(t, StatusWaiting, parseStatus("waiting_input"))
	assert.Equal(t, StatusWaiting, parseStatus("WAITING"))
	assert.Equal(t, StatusStopped, parseStatus("dead"))
	assert.Equal(t, StatusUnknown, parseStatus("surprise"))
}

func TestAllSessionsSorted(t *testing.T) {
	r := New("", "")
	r.applySnapshot([]pushSession{
		wireSession("b1", "web", "running"),
		wireSession("a1", "api", "running"),
	}, false, SourcePush)

	sessions := r.AllSessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "api", sessions[0].Project)
	assert.Equal(t, "web", sessions[1].Project)
	assert.Equal(t, []string{"api", "web"}, r.Projects())
}

// fakeConn replays scripted frames, then fails the read.
type fakeConn struct {
	frames [][]byte
	closed chan struct{}
}

func newFakeConn(msgs ...any) *fakeConn {
	c := &fakeConn{closed: make(chan struct{})}
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			panic(err)
		}
		c.frames = append(c.frames, data)
	}
	return c
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	if len(c.frames) == 0 {
		<-c.closed
		return 0, nil, errors.New("connection closed")
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	return 1, f, nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetPongHandler(func(string) error)         {}

func (c *fakeConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func TestPushClientProcessesFrames(t *testing.T) {
	conn := newFakeConn(
		pushMessage{Type: "sessions.list", Sessions: []pushSession{
			wireSession("a1", "api", "waiting_input"),
		}},
		pushMessage{Type: "session.updated", Session: func() *pushSession {
			s := wireSession("a1", "api", "running")
			return &s
		}()},
	)

	dials := 0
	r := New("ws://localhost/push", "tok", withDialFunc(
		func(ctx context.Context, url, token string) (wsConn, error) {
			dials++
			if dials > 1 {
				return nil, errors.New("no more connections")
			}
			return conn, nil
		}))

	require.NoError(t, r.Connect(context.Background()))

	// Bootstrap sentinel from the initial list, then the real transition.
	first := <-r.Changes()
	assert.Equal(t, StatusBootstrap, first.OldStatus)
	assert.Equal(t, StatusWaiting, first.NewStatus)

	second := <-r.Changes()
	assert.Equal(t, StatusWaiting, second.OldStatus)
	assert.Equal(t, StatusRunning, second.NewStatus)

	conn.Close()
	r.Disconnect()

	// Closed after Disconnect: no further deliveries possible.
	_, open := <-r.Changes()
	assert.False(t, open)
}
