// Package registry maintains the canonical in-memory table of known agent
// sessions, fed by the push channel and optionally corroborated by a local
// session-state file. It is the only owner of session state; consumers get
// copied-out snapshots and channel notifications.
package registry

import (
	"fmt"
	"strings"
	"time"
)

// Status is a session's activity state.
type Status string

const (
	StatusRunning Status = "running"
	StatusWaiting Status = "waiting_input"
	StatusStopped Status = "stopped"
	StatusUnknown Status = "unknown"

	// StatusBootstrap is a sentinel old-status used only in synthesized
	// transitions at connect time. It is distinct from every real status so
	// downstream logic can skip side-effects (like permission auto-approval)
	// that would be unsafe against possibly-stale state.
	StatusBootstrap Status = "bootstrap"
)

// WaitingReason refines StatusWaiting.
type WaitingReason string

const (
	ReasonNone       WaitingReason = ""
	ReasonPermission WaitingReason = "permission_prompt"
	ReasonQuestion   WaitingReason = "question"
)

// Kind is the agent family running in a session.
type Kind string

const (
	KindClaude Kind = "claude"
	KindCodex  Kind = "codex"
)

// ParseKind normalizes an agent kind string.
func ParseKind(s string) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(s)))
}

// Session is one monitored agent session. Value copies are handed to
// consumers; only the registry mutates the canonical instance.
type Session struct {
	ID      string
	Project string
	Kind    Kind

	Status        Status
	WaitingReason WaitingReason

	// Target is the tmux pane coordinate ("session:window.pane"), possibly
	// degraded to "session:window" or "session" when finer parts are absent,
	// or empty when unknown.
	Target   string
	Attached bool

	AttentionLevel int

	// PaneCapture is the last capture text embedded in a push message.
	PaneCapture string

	QuestionText     string
	QuestionOptions  []string
	QuestionSelected int

	UpdatedAt time.Time
}

// activityPriority orders statuses for representative-session selection.
func activityPriority(s Status) int {
	switch s {
	case StatusRunning:
		return 2
	case StatusWaiting:
		return 1
	default:
		return 0
	}
}

// Source tags which observation channel produced a notification.
type Source string

const (
	SourcePush Source = "push"
	SourceFile Source = "file"
)

// StateChange is one observed status transition.
type StateChange struct {
	Session   Session
	OldStatus Status
	NewStatus Status
	Source    Source
}

// ProgressUpdate carries a periodic pane snapshot for a running session.
type ProgressUpdate struct {
	Session Session
	Capture string
}

// Push-channel wire types. The channel delivers JSON messages
// {type, ...} with per-type payload fields.
type pushMessage struct {
	Type      string        `json:"type"`
	Sessions  []pushSession `json:"sessions,omitempty"`
	Session   *pushSession  `json:"session,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
}

type pushTmux struct {
	Session    string `json:"session"`
	Window     *int   `json:"window"`
	Pane       *int   `json:"pane"`
	IsAttached bool   `json:"is_attached"`
}

type pushSession struct {
	ID               string    `json:"id"`
	Project          string    `json:"project"`
	Type             string    `json:"type"`
	Status           string    `json:"status"`
	Tmux             *pushTmux `json:"tmux"`
	AttentionLevel   int       `json:"attention_level"`
	WaitingReason    string    `json:"waiting_reason"`
	QuestionText     string    `json:"question_text"`
	QuestionOptions  []string  `json:"question_options"`
	QuestionSelected int       `json:"question_selected"`
	PaneCapture      string    `json:"pane_capture"`
}

// target builds the pane coordinate from whatever components are present,
// degrading gracefully: session:window.pane, session:window, session.
func (t *pushTmux) target() string {
	if t == nil || t.Session == "" {
		return ""
	}
	if t.Window == nil {
		return t.Session
	}
	if t.Pane == nil {
		return fmt.Sprintf("%s:%d", t.Session, *t.Window)
	}
	return fmt.Sprintf("%s:%d.%d", t.Session, *t.Window, *t.Pane)
}

// toSession converts a wire session into the canonical model.
func (p *pushSession) toSession(now time.Time) Session {
	return Session{
		ID:               p.ID,
		Project:          p.Project,
		Kind:             ParseKind(p.Type),
		Status:           parseStatus(p.Status),
		WaitingReason:    parseWaitingReason(p.WaitingReason),
		Target:           p.Tmux.target(),
		Attached:         p.Tmux != nil && p.Tmux.IsAttached,
		AttentionLevel:   p.AttentionLevel,
		PaneCapture:      p.PaneCapture,
		QuestionText:     p.QuestionText,
		QuestionOptions:  p.QuestionOptions,
		QuestionSelected: p.QuestionSelected,
		UpdatedAt:        now,
	}
}

func parseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "running":
		return StatusRunning
	case "waiting_input", "waiting":
		return StatusWaiting
	case "stopped", "dead":
		return StatusStopped
	default:
		return StatusUnknown
	}
}

func parseWaitingReason(s string) WaitingReason {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "permission_prompt", "permission":
		return ReasonPermission
	case "question":
		return ReasonQuestion
	default:
		return ReasonNone
	}
}
