// Package resolve turns a (kind, project) pair into a concrete tmux dispatch
// target, applying the operator-configured authorization mode before any
// keystroke can be attempted.
package resolve

import (
	"github.com/twistedxcom/muxbridge/internal/config"
	"github.com/twistedxcom/muxbridge/internal/errs"
	"github.com/twistedxcom/muxbridge/internal/registry"
)

// ModeSource supplies the authorization mode for a session. *config.Config
// satisfies it.
type ModeSource interface {
	ModeFor(kind, project string) config.Mode
}

// SessionSource supplies the current sessions of a project. *registry.Registry
// satisfies it.
type SessionSource interface {
	SessionsForProject(project string) []registry.Session
}

// Resolver gates every dispatch decision. It holds no state of its own;
// sessions come from the registry and policy from config.
type Resolver struct {
	modes    ModeSource
	sessions SessionSource
	tiebreak string
}

// New builds a Resolver. tiebreak selects the representative-session
// tiebreaker, "recent" or "attached".
func New(modes ModeSource, sessions SessionSource, tiebreak string) *Resolver {
	if tiebreak != "attached" {
		tiebreak = "recent"
	}
	return &Resolver{modes: modes, sessions: sessions, tiebreak: tiebreak}
}

// Mode returns the configured authorization mode for a (kind, project) pair.
func (r *Resolver) Mode(kind registry.Kind, project string) config.Mode {
	return r.modes.ModeFor(string(kind), project)
}

// Resolve returns the session keystrokes for (kind, project) should go to.
//
// The authorization mode is checked before any session lookup so that an
// ignored project leaks nothing about whether sessions exist. Observe mode
// permits reads but never dispatch, which Resolve reports as read-only.
func (r *Resolver) Resolve(kind registry.Kind, project string) (registry.Session, error) {
	switch r.Mode(kind, project) {
	case config.ModeIgnore, config.ModeUnknown:
		return registry.Session{}, errs.Newf(errs.CodeSessionNotAuthoritative,
			"project %q is not managed for %s sessions", project, kind)
	case config.ModeObserve:
		return registry.Session{}, errs.Newf(errs.CodeSessionReadOnly,
			"project %q is observe-only, refusing to dispatch", project)
	}
	return r.Lookup(kind, project)
}

// Lookup returns the representative session for (kind, project) without the
// dispatch gate. Observe-mode callers use it for read paths.
func (r *Resolver) Lookup(kind registry.Kind, project string) (registry.Session, error) {
	candidates := r.sessions.SessionsForProject(project)
	if kind != "" {
		filtered := candidates[:0]
		for _, s := range candidates {
			if s.Kind == kind {
				filtered = append(filtered, s)
			}
		}
		candidates = filtered
	}
	if len(candidates) == 0 {
		return registry.Session{}, errs.Newf(errs.CodeSessionNotFound,
			"no %s session for project %q", kind, project)
	}

	best := Representative(candidates, r.tiebreak)
	if best.Target == "" {
		return registry.Session{}, errs.Newf(errs.CodeTargetMissing,
			"session %s has no tmux coordinates", best.ID)
	}
	return *best, nil
}

// Representative picks the session that best stands for a project: a running
// session over a waiting one, a waiting one over anything else. Ties break on
// the configured policy, most recently updated or currently attached.
func Representative(sessions []registry.Session, tiebreak string) *registry.Session {
	var best *registry.Session
	for i := range sessions {
		s := &sessions[i]
		if best == nil {
			best = s
			continue
		}
		bp, sp := priority(best.Status), priority(s.Status)
		switch {
		case sp > bp:
			best = s
		case sp == bp && wins(s, best, tiebreak):
			best = s
		}
	}
	return best
}

func priority(s registry.Status) int {
	switch s {
	case registry.StatusRunning:
		return 2
	case registry.StatusWaiting:
		return 1
	default:
		return 0
	}
}

func wins(a, b *registry.Session, tiebreak string) bool {
	if tiebreak == "attached" && a.Attached != b.Attached {
		return a.Attached
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}
