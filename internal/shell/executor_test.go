package shell

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twistedxcom/muxbridge/internal/errs"
)

// fakeRunner records invocations and plays back canned responses.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string

	stdout string
	stderr string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))
	return []byte(f.stdout), []byte(f.stderr), f.err
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestExecutor(t *testing.T, r Runner) *Executor {
	t.Helper()
	q := NewQueue()
	t.Cleanup(q.Close)
	return NewExecutorWithRunner(q, r)
}

func TestSendKeyForbiddenNeverInvokesShell(t *testing.T) {
	runner := &fakeRunner{}
	e := newTestExecutor(t, runner)

	for _, key := range []string{"C-c", "C-d", "C-z", `C-\`, "C-q"} {
		err := e.SendKey(context.Background(), "agent:1.0", key)
		require.Error(t, err, key)
		assert.Equal(t, errs.CodeForbiddenKey, errs.CodeOf(err), key)
		assert.False(t, errs.IsRetriable(err), key)
	}
	assert.Equal(t, 0, runner.callCount(), "forbidden keys must produce zero shell invocations")
}

func TestSendKeySequenceForbiddenRejectsWholeSequence(t *testing.T) {
	runner := &fakeRunner{}
	e := newTestExecutor(t, runner)

	err := e.SendKeySequence(context.Background(), "agent:1.0", []string{"Up", "C-c", "Enter"}, 0)
	require.Error(t, err)
	assert.Equal(t, errs.CodeForbiddenKey, errs.CodeOf(err))
	assert.Equal(t, 0, runner.callCount(), "no partial side effects on denylist hit")
}

func TestSendKeyAllowed(t *testing.T) {
	runner := &fakeRunner{}
	e := newTestExecutor(t, runner)

	require.NoError(t, e.SendKey(context.Background(), "agent:1.0", "Up"))
	require.Equal(t, 1, runner.callCount())
	assert.Equal(t, []string{"tmux", "send-keys", "-t", "agent:1.0", "Up"}, runner.calls[0])
}

func TestSendTextWithEnter(t *testing.T) {
	runner := &fakeRunner{}
	e := newTestExecutor(t, runner)

	require.NoError(t, e.SendText(context.Background(), "agent:1.0", "hello world", true))
	require.Equal(t, 2, runner.callCount())
	assert.Equal(t, []string{"tmux", "send-keys", "-l", "-t", "agent:1.0", "--", "hello world"}, runner.calls[0])
	assert.Equal(t, []string{"tmux", "send-keys", "-t", "agent:1.0", "Enter"}, runner.calls[1])
}

func TestCommandFailureCarriesStderr(t *testing.T) {
	runner := &fakeRunner{stderr: "server exited unexpectedly\n", err: errors.New("exit status 1")}
	e := newTestExecutor(t, runner)

	err := e.SendKey(context.Background(), "agent:1.0", "Enter")
	require.Error(t, err)
	assert.Equal(t, errs.CodeCommandFailed, errs.CodeOf(err))
	assert.True(t, errs.IsRetriable(err))
	assert.Contains(t, err.Error(), "server exited unexpectedly")
}

func TestMissingTargetIsTyped(t *testing.T) {
	runner := &fakeRunner{stderr: "can't find pane: %7", err: errors.New("exit status 1")}
	e := newTestExecutor(t, runner)

	_, err := e.CapturePane(context.Background(), "gone:0.0", 200)
	require.Error(t, err)
	assert.Equal(t, errs.CodeTargetMissing, errs.CodeOf(err))
}

func TestCapturePane(t *testing.T) {
	runner := &fakeRunner{stdout: "line one\nline two\n"}
	e := newTestExecutor(t, runner)

	out, err := e.CapturePane(context.Background(), "agent:1.0", 200)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", out)
	assert.Equal(t, []string{"tmux", "capture-pane", "-p", "-J", "-t", "agent:1.0", "-S", "-200"}, runner.calls[0])
}

func TestListPanes(t *testing.T) {
	runner := &fakeRunner{stdout: "agent:1.0\t/dev/ttys003\tnode\nagent:1.1\t/dev/ttys004\tzsh\n"}
	e := newTestExecutor(t, runner)

	panes, err := e.ListPanes(context.Background())
	require.NoError(t, err)
	require.Len(t, panes, 2)
	assert.Equal(t, Pane{Target: "agent:1.0", TTY: "/dev/ttys003", Command: "node"}, panes[0])
	assert.Equal(t, Pane{Target: "agent:1.1", TTY: "/dev/ttys004", Command: "zsh"}, panes[1])
}

func TestSplitIntoChunks(t *testing.T) {
	t.Run("small passthrough", func(t *testing.T) {
		assert.Equal(t, []string{"abc"}, splitIntoChunks("abc", 10))
	})
	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, splitIntoChunks("", 10))
	})
	t.Run("splits at newline", func(t *testing.T) {
		content := strings.Repeat("aaaa\n", 4) // 20 bytes
		chunks := splitIntoChunks(content, 12)
		require.Len(t, chunks, 2)
		assert.Equal(t, content, strings.Join(chunks, ""))
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 12)
		}
	})
	t.Run("hard split without newline", func(t *testing.T) {
		content := strings.Repeat("x", 25)
		chunks := splitIntoChunks(content, 10)
		require.Len(t, chunks, 3)
		assert.Equal(t, content, strings.Join(chunks, ""))
	})
}

func TestQueueSerializesJobs(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	var mu sync.Mutex
	active := 0
	maxActive := 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(context.Background(), func() error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "queue must never run two jobs concurrently")
}

func TestQueueClosedRejectsJobs(t *testing.T) {
	q := NewQueue()
	q.Close()
	err := q.Do(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueCloseReleasesParkedSenders(t *testing.T) {
	q := NewQueue()

	// Hold the worker so the buffer fills and later senders park on the
	// channel send.
	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Do(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var mu sync.Mutex
	var errs []error
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Do(context.Background(), func() error { return nil })
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	// Let the senders saturate the buffer and park.
	time.Sleep(50 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()
	close(release)

	wg.Wait()
	<-closed

	// Every submission either ran or was rejected cleanly; none may panic.
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrQueueClosed)
		}
	}
}
