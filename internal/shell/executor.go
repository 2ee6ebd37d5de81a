// Package shell wraps the tmux CLI behind a typed, serialized command surface.
// Every invocation goes through a single worker queue; no other path in the
// process may spawn tmux.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/twistedxcom/muxbridge/internal/errs"
	"github.com/twistedxcom/muxbridge/internal/logging"
)

var shellLog = logging.ForComponent(logging.CompShell)

// Runner executes an external command and returns stdout and stderr
// separately. Tests inject fakes; production uses OSRunner.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// OSRunner runs commands via os/exec.
type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return out.Bytes(), errBuf.Bytes(), err
}

// forbiddenKeys is the fixed denylist of control sequences that would drop the
// agent process back to a raw shell. Hard safety invariant, not configurable.
var forbiddenKeys = map[string]bool{
	"C-c":  true,
	"C-d":  true,
	"C-z":  true,
	"C-\\": true,
	"C-q":  true,
}

const (
	commandTimeout = 3 * time.Second
	chunkSize      = 4096
	chunkDelay     = 50 * time.Millisecond
	// enterDelay lets TUI frameworks finish processing the bracketed-paste
	// sequence tmux 3.2+ wraps around literal sends. Without it the Enter
	// arrives in the same PTY buffer as the paste-end marker and is swallowed.
	enterDelay = 100 * time.Millisecond
)

// Pane is one row of a full pane listing.
type Pane struct {
	Target  string // session:window.pane
	TTY     string
	Command string
}

// Executor issues tmux commands through the shared queue.
type Executor struct {
	runner    Runner
	queue     *Queue
	captureSf singleflight.Group
}

// NewExecutor creates an executor backed by the OS runner.
func NewExecutor(q *Queue) *Executor {
	return &Executor{runner: OSRunner{}, queue: q}
}

// NewExecutorWithRunner creates an executor with an injected runner (tests).
func NewExecutorWithRunner(q *Queue, r Runner) *Executor {
	return &Executor{runner: r, queue: q}
}

// SendText injects literal text into the target pane, optionally followed by
// Enter. Large text is chunked at newline boundaries to stay under tmux buffer
// limits. The whole sequence runs as one queue job so nothing interleaves.
func (e *Executor) SendText(ctx context.Context, target, text string, withEnter bool) error {
	return e.queue.Do(ctx, func() error {
		chunks := splitIntoChunks(text, chunkSize)
		for i, chunk := range chunks {
			if err := e.run(ctx, "send-keys", "-l", "-t", target, "--", chunk); err != nil {
				return fmt.Errorf("send chunk %d: %w", i+1, err)
			}
			if i < len(chunks)-1 {
				time.Sleep(chunkDelay)
			}
		}
		if withEnter {
			time.Sleep(enterDelay)
			if err := e.run(ctx, "send-keys", "-t", target, "Enter"); err != nil {
				return err
			}
		}
		shellLog.Debug("text_sent",
			slog.String("target", target),
			slog.Int("bytes", len(text)),
			slog.Bool("enter", withEnter))
		return nil
	})
}

// SendKey injects a single special key (Up, Down, Enter, Tab, ...).
// Denylisted control sequences are rejected before any shell invocation.
func (e *Executor) SendKey(ctx context.Context, target, key string) error {
	if forbiddenKeys[key] {
		return errs.Newf(errs.CodeForbiddenKey, "key %q is denylisted", key)
	}
	return e.queue.Do(ctx, func() error {
		return e.run(ctx, "send-keys", "-t", target, key)
	})
}

// SendKeySequence injects several special keys with a delay between each,
// as one atomic queue job. Used for menu navigation where interleaving a
// capture between moves would corrupt the detected cursor position.
func (e *Executor) SendKeySequence(ctx context.Context, target string, keys []string, delay time.Duration) error {
	for _, key := range keys {
		if forbiddenKeys[key] {
			return errs.Newf(errs.CodeForbiddenKey, "key %q is denylisted", key)
		}
	}
	return e.queue.Do(ctx, func() error {
		for i, key := range keys {
			if err := e.run(ctx, "send-keys", "-t", target, key); err != nil {
				return fmt.Errorf("send key %d/%d: %w", i+1, len(keys), err)
			}
			if i < len(keys)-1 {
				time.Sleep(delay)
			}
		}
		return nil
	})
}

// CapturePane returns the target pane's visible content plus up to lines of
// scrollback. -J joins wrapped lines so hashes stay stable across resizes.
// Concurrent captures of the same target are deduplicated via singleflight.
func (e *Executor) CapturePane(ctx context.Context, target string, lines int) (string, error) {
	v, err, _ := e.captureSf.Do(target, func() (interface{}, error) {
		var content string
		err := e.queue.Do(ctx, func() error {
			out, runErr := e.output(ctx, "capture-pane", "-p", "-J", "-t", target, "-S", fmt.Sprintf("-%d", lines))
			if runErr != nil {
				return runErr
			}
			content = out
			return nil
		})
		return content, err
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ListPanes lists every pane on the server with its tty and foreground command.
func (e *Executor) ListPanes(ctx context.Context) ([]Pane, error) {
	var panes []Pane
	err := e.queue.Do(ctx, func() error {
		out, runErr := e.output(ctx, "list-panes", "-a", "-F",
			"#{session_name}:#{window_index}.#{pane_index}\t#{pane_tty}\t#{pane_current_command}")
		if runErr != nil {
			return runErr
		}
		for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
			if line == "" {
				continue
			}
			parts := strings.SplitN(line, "\t", 3)
			if len(parts) != 3 {
				continue
			}
			panes = append(panes, Pane{Target: parts[0], TTY: parts[1], Command: parts[2]})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return panes, nil
}

// run executes a tmux command, discarding stdout.
func (e *Executor) run(ctx context.Context, args ...string) error {
	_, err := e.output(ctx, args...)
	return err
}

// output executes a tmux command and returns stdout, mapping non-zero exits
// to typed failures carrying the captured stderr.
func (e *Executor) output(ctx context.Context, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	stdout, stderr, err := e.runner.Run(runCtx, "tmux", args...)
	if err == nil {
		return string(stdout), nil
	}

	errText := strings.TrimSpace(string(stderr))
	shellLog.Debug("tmux_command_failed",
		slog.String("args", strings.Join(args, " ")),
		slog.String("stderr", errText))

	if strings.Contains(errText, "can't find") {
		return "", errs.Wrap(errs.CodeTargetMissing, fmt.Sprintf("tmux %s", args[0]), err)
	}
	return "", errs.CommandFailed(fmt.Sprintf("tmux %s failed", args[0]), errText, err)
}

// splitIntoChunks splits content into chunks of at most maxSize bytes,
// preferring newline boundaries. A single line longer than maxSize is split
// at the byte boundary as a fallback.
func splitIntoChunks(content string, maxSize int) []string {
	if content == "" {
		return nil
	}
	if len(content) <= maxSize {
		return []string{content}
	}

	var chunks []string
	remaining := content
	for len(remaining) > 0 {
		if len(remaining) <= maxSize {
			chunks = append(chunks, remaining)
			break
		}
		cutPoint := strings.LastIndex(remaining[:maxSize], "\n")
		if cutPoint > 0 {
			chunks = append(chunks, remaining[:cutPoint+1])
			remaining = remaining[cutPoint+1:]
		} else {
			chunks = append(chunks, remaining[:maxSize])
			remaining = remaining[maxSize:]
		}
	}
	return chunks
}
