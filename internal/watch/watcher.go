// Package watch is the orchestrator: it consumes the registry's transition
// and progress streams, classifies pane content, drives automated answers
// where the mode allows, and appends everything downstream cares about to
// the event log.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/twistedxcom/muxbridge/internal/config"
	"github.com/twistedxcom/muxbridge/internal/eventlog"
	"github.com/twistedxcom/muxbridge/internal/logging"
	"github.com/twistedxcom/muxbridge/internal/registry"
	"github.com/twistedxcom/muxbridge/internal/term"
)

// EventTypeInbound is the event-log type for everything this watcher emits.
// Downstream consumers switch on the payload's source field.
const EventTypeInbound = "inbound_message"

// Capture provenance tags attached to completion events.
const (
	CapturePane             = "pane"
	CaptureProgressFallback = "progress_fallback"
	CaptureIdleBootstrap    = "idle_bootstrap"
)

// idlePlaceholder stands in for a completion summary when no capture is
// available at all. Only substituted in auto mode so that loop is never
// starved; other modes skip the emission instead.
const idlePlaceholder = "Session is idle and ready for input."

// Shell is the slice of the executor the watcher drives.
type Shell interface {
	SendText(ctx context.Context, target, text string, withEnter bool) error
	SendKeySequence(ctx context.Context, target string, keys []string, delay time.Duration) error
	CapturePane(ctx context.Context, target string, lines int) (string, error)
}

// Sessions is the slice of the registry the watcher consumes.
type Sessions interface {
	Changes() <-chan registry.StateChange
	Progress() <-chan registry.ProgressUpdate
	AllSessions() []registry.Session
}

// ModeSource resolves the authorization mode for a session.
type ModeSource interface {
	Mode(kind registry.Kind, project string) config.Mode
}

// EventSink is where emissions land. *eventlog.Log satisfies it.
type EventSink interface {
	Append(eventType, adapter string, payload any) (eventlog.Event, error)
}

// progressSnapshot is the retained last progress report for one project.
type progressSnapshot struct {
	hash    string
	summary string
}

// Watcher runs the per-transition state machine described in the package
// comment. One goroutine owns all handling, so transitions for the same
// project can never interleave their keystroke sequences.
type Watcher struct {
	sessions Sessions
	modes    ModeSource
	shell    Shell
	events   EventSink
	cfg      *config.Config

	transitions *window
	completions *window

	mu           sync.Mutex
	lastProgress map[string]progressSnapshot

	// limiter paces scan captures so a large session count cannot
	// monopolize the shell queue within one tick.
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	log *slog.Logger
}

// New builds a Watcher. Call Start to begin processing.
func New(sessions Sessions, modes ModeSource, shell Shell, events EventSink, cfg *config.Config) *Watcher {
	return &Watcher{
		sessions:     sessions,
		modes:        modes,
		shell:        shell,
		events:       events,
		cfg:          cfg,
		transitions:  newWindow(time.Duration(cfg.Tuning.TransitionDedup) * time.Second),
		completions:  newWindow(time.Duration(cfg.Tuning.CompletionDedup) * time.Second),
		lastProgress: make(map[string]progressSnapshot),
		limiter:      rate.NewLimiter(rate.Every(time.Second), 5),
		done:         make(chan struct{}),
		log:          logging.ForComponent(logging.CompWatch),
	}
}

// Start launches the processing goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.ctx, w.cancel = context.WithCancel(ctx)
	go w.run()
}

// Stop shuts the watcher down. It returns only after the processing
// goroutine has exited, so nothing fires afterwards.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

func (w *Watcher) run() {
	defer close(w.done)

	interval := time.Duration(w.cfg.Tuning.ProgressInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case c, ok := <-w.sessions.Changes():
			if !ok {
				return
			}
			w.handleChange(c)
		case p, ok := <-w.sessions.Progress():
			if !ok {
				return
			}
			w.handlePushProgress(p)
		case <-ticker.C:
			w.scanRunning()
		}
	}
}

// handleChange dispatches one transition: dedup gate first, then the
// bootstrap / question / permission / completion branches.
func (w *Watcher) handleChange(c registry.StateChange) {
	project := c.Session.Project

	key := fmt.Sprintf("%s|%s>%s", project, c.OldStatus, c.NewStatus)
	if !w.transitions.Allow(key) {
		w.log.Debug("transition suppressed by dedup", "key", key, "source", c.Source)
		return
	}

	mode := w.modes.Mode(c.Session.Kind, project)
	if mode == config.ModeIgnore || mode == config.ModeUnknown {
		return
	}

	if c.NewStatus == registry.StatusStopped {
		w.clearProgress(project)
		return
	}
	if c.NewStatus != registry.StatusWaiting {
		return
	}

	bootstrap := c.OldStatus == registry.StatusBootstrap

	// Menus render incrementally; give the pane a moment to finish drawing.
	if !w.sleep(w.cfg.SettleDelay()) {
		return
	}

	capture, err := w.capture(c.Session.Target)
	if err != nil {
		w.log.Warn("pane capture failed", "project", project, "target", c.Session.Target, "error", err)
	}
	question := term.DetectQuestion(capture)

	switch {
	case question != nil || c.Session.WaitingReason == registry.ReasonQuestion:
		if question == nil {
			question = questionFromSession(c.Session)
		}
		w.handleQuestion(c, mode, question, capture)

	case c.Session.WaitingReason == registry.ReasonPermission:
		// A fresh classify already ran above, so reaching here means this is
		// a genuine permission prompt, not a misreported question.
		w.handlePermission(c, mode, capture, bootstrap)

	case c.OldStatus == registry.StatusRunning || bootstrap:
		w.handleCompletion(c, mode, capture, bootstrap)
	}

	if c.OldStatus == registry.StatusRunning {
		w.clearProgress(project)
	}
}

// handleQuestion answers automatically where the mode allows it, otherwise
// emits the question downstream for a human.
func (w *Watcher) handleQuestion(c registry.StateChange, mode config.Mode, q *term.Question, capture string) {
	if mode == config.ModeAuto || mode == config.ModeAutonomous {
		w.autoAnswer(c.Session, q)
		return
	}

	payload := w.basePayload(c.Session, mode, "question")
	payload["text"] = term.ExtractSummary(capture, w.cfg.Tuning.SummaryMaxLines, w.cfg.Tuning.SummaryMaxChars)
	payload["question_id"] = q.ID
	payload["question_text"] = q.Text
	payload["question_options"] = strings.Join(q.Options, "\n")
	payload["question_selected"] = q.SelectedIndex
	w.append(c.Session, payload)
}

// handlePermission approves when authorized. Bootstrap transitions never
// auto-approve: the waiting state may predate this process and the consent
// context is unknown, so they are forwarded like completions instead.
func (w *Watcher) handlePermission(c registry.StateChange, mode config.Mode, capture string, bootstrap bool) {
	canApprove := (mode == config.ModeAuto || mode == config.ModeAutonomous) && !bootstrap
	if !canApprove {
		w.handleCompletion(c, mode, capture, bootstrap)
		return
	}

	// Numeric approval of the first choice; works for both prompt formats.
	if err := w.shell.SendText(w.ctx, c.Session.Target, "1", true); err != nil {
		w.log.Warn("permission approval failed", "project", c.Session.Project, "error", err)
		return
	}
	w.log.Info("permission approved", "project", c.Session.Project, "target", c.Session.Target)
}

// handleCompletion emits a summary of what the agent finished with,
// degrading from live capture to the retained progress snapshot to (auto
// mode only) a fixed placeholder.
func (w *Watcher) handleCompletion(c registry.StateChange, mode config.Mode, capture string, bootstrap bool) {
	project := c.Session.Project

	text := term.ExtractSummary(capture, w.cfg.Tuning.SummaryMaxLines, w.cfg.Tuning.SummaryMaxChars)
	provenance := CapturePane

	if text == "" {
		if snap, ok := w.retainedProgress(project); ok && snap.summary != "" {
			text = snap.summary
			provenance = CaptureProgressFallback
		} else if mode == config.ModeAuto || mode == config.ModeAutonomous {
			text = idlePlaceholder
			provenance = CaptureIdleBootstrap
		} else {
			w.log.Debug("completion without content, skipping", "project", project)
			return
		}
	}

	if !w.completions.Allow(project + "|" + term.Hash(text)) {
		w.log.Debug("completion suppressed by content dedup", "project", project)
		return
	}

	payload := w.basePayload(c.Session, mode, "completion")
	payload["text"] = text
	payload["capture_source"] = provenance
	w.append(c.Session, payload)
}

// handlePushProgress folds a server-pushed pane snapshot into the retained
// progress state, emitting an event when the content actually moved.
func (w *Watcher) handlePushProgress(p registry.ProgressUpdate) {
	mode := w.modes.Mode(p.Session.Kind, p.Session.Project)
	if mode == config.ModeIgnore || mode == config.ModeUnknown {
		return
	}
	w.reportProgress(p.Session, mode, p.Capture)
}

// scanRunning is the timer-driven side of progress reporting: capture every
// running non-ignored session, hash-gated.
func (w *Watcher) scanRunning() {
	for _, s := range w.sessions.AllSessions() {
		if s.Status != registry.StatusRunning || s.Target == "" {
			continue
		}
		mode := w.modes.Mode(s.Kind, s.Project)
		if mode == config.ModeIgnore || mode == config.ModeUnknown {
			continue
		}
		if !w.limiter.Allow() {
			return
		}
		capture, err := w.capture(s.Target)
		if err != nil {
			w.log.Warn("progress capture failed", "project", s.Project, "error", err)
			continue
		}
		w.reportProgress(s, mode, capture)
	}
}

func (w *Watcher) reportProgress(s registry.Session, mode config.Mode, capture string) {
	if capture == "" {
		return
	}
	hash := term.Hash(capture)

	w.mu.Lock()
	prev := w.lastProgress[s.Project]
	if prev.hash == hash {
		w.mu.Unlock()
		return
	}
	summary := term.ExtractSummary(capture, w.cfg.Tuning.SummaryMaxLines, w.cfg.Tuning.SummaryMaxChars)
	w.lastProgress[s.Project] = progressSnapshot{hash: hash, summary: summary}
	w.mu.Unlock()

	payload := w.basePayload(s, mode, "progress")
	payload["text"] = summary
	w.append(s, payload)
}

func (w *Watcher) retainedProgress(project string) (progressSnapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap, ok := w.lastProgress[project]
	return snap, ok
}

func (w *Watcher) clearProgress(project string) {
	w.mu.Lock()
	delete(w.lastProgress, project)
	w.mu.Unlock()
}

func (w *Watcher) basePayload(s registry.Session, mode config.Mode, source string) map[string]any {
	return map[string]any{
		"conversation": s.ID,
		"source":       source,
		"project":      s.Project,
		"target":       s.Target,
		"mode":         string(mode),
	}
}

func (w *Watcher) append(s registry.Session, payload map[string]any) {
	if _, err := w.events.Append(EventTypeInbound, string(s.Kind), payload); err != nil {
		w.log.Error("event append failed", "project", s.Project, "error", err)
	}
}

func (w *Watcher) capture(target string) (string, error) {
	if target == "" {
		return "", nil
	}
	return w.shell.CapturePane(w.ctx, target, w.cfg.Tuning.CaptureLines)
}

// sleep waits unless the watcher is stopping. Reports whether the wait ran
// to completion.
func (w *Watcher) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-w.ctx.Done():
		return false
	}
}

// questionFromSession rebuilds a Question from the structured push fields
// when the classifier cannot see the menu in the capture.
func questionFromSession(s registry.Session) *term.Question {
	return &term.Question{
		ID:            s.ID,
		Text:          s.QuestionText,
		Options:       s.QuestionOptions,
		SelectedIndex: s.QuestionSelected,
		Format:        term.FormatMarker,
	}
}
