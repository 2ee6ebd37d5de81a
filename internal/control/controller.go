// Package control is the command surface: the operations a remote caller or
// the CLI may invoke against a live session. Everything funnels through the
// resolver's authorization gate and the shared shell queue.
package control

import (
	"context"
	"log/slog"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/twistedxcom/muxbridge/internal/errs"
	"github.com/twistedxcom/muxbridge/internal/logging"
	"github.com/twistedxcom/muxbridge/internal/registry"
	"github.com/twistedxcom/muxbridge/internal/term"
)

// Shell is the slice of the executor the controller drives.
type Shell interface {
	SendText(ctx context.Context, target, text string, withEnter bool) error
	SendKeySequence(ctx context.Context, target string, keys []string, delay time.Duration) error
	CapturePane(ctx context.Context, target string, lines int) (string, error)
}

// Resolver authorizes and locates the dispatch target.
type Resolver interface {
	Resolve(kind registry.Kind, project string) (registry.Session, error)
}

// ProjectSource lists known project names for fuzzy lookup.
type ProjectSource interface {
	Projects() []string
}

// Controller implements the command surface.
type Controller struct {
	resolver Resolver
	shell    Shell
	projects ProjectSource

	captureLines int
	keyDelay     time.Duration

	log *slog.Logger
}

// New builds a Controller. captureLines bounds pane reads; keyDelay paces
// menu navigation keystrokes.
func New(resolver Resolver, shell Shell, projects ProjectSource, captureLines int, keyDelay time.Duration) *Controller {
	return &Controller{
		resolver:     resolver,
		shell:        shell,
		projects:     projects,
		captureLines: captureLines,
		keyDelay:     keyDelay,
		log:          logging.ForComponent(logging.CompControl),
	}
}

// SendMessage types text into the project's representative session. The
// prompt is inspected immediately before sending, never from cached state: a
// human draft at the prompt blocks the send, and an unreadable prompt is
// treated the same way rather than risking an overwrite.
func (c *Controller) SendMessage(ctx context.Context, kind registry.Kind, project, text string, enterToSend bool) error {
	sess, err := c.resolver.Resolve(kind, project)
	if err != nil {
		return err
	}

	capture, err := c.shell.CapturePane(ctx, sess.Target, c.captureLines)
	if err != nil {
		return err
	}

	switch term.DetectDraftState(capture) {
	case term.DraftTyping:
		return errs.Newf(errs.CodeSessionTypingBusy,
			"unsent text at the prompt of %s, refusing to overwrite", sess.Target)
	case term.DraftUnknown:
		return errs.Newf(errs.CodeUnknownPromptState,
			"cannot locate the input prompt of %s", sess.Target)
	}

	c.log.Info("sending message", "project", project, "target", sess.Target, "enter", enterToSend)
	return c.shell.SendText(ctx, sess.Target, text, enterToSend)
}

// SelectMenuOption moves the cursor of the currently displayed menu to the
// given index and confirms. Without a detectable menu on screen there is
// nothing to select and the session is reported busy.
func (c *Controller) SelectMenuOption(ctx context.Context, kind registry.Kind, project string, index int) error {
	sess, err := c.resolver.Resolve(kind, project)
	if err != nil {
		return err
	}

	capture, err := c.shell.CapturePane(ctx, sess.Target, c.captureLines)
	if err != nil {
		return err
	}
	q := term.DetectQuestion(capture)
	if q == nil {
		return errs.Newf(errs.CodeSessionBusy,
			"no menu on screen in %s", sess.Target)
	}
	if index < 0 || index >= len(q.Options) {
		return errs.Newf(errs.CodeSessionBusy,
			"menu in %s has %d options, index %d out of range", sess.Target, len(q.Options), index)
	}

	var keys []string
	for i := q.SelectedIndex; i > index; i-- {
		keys = append(keys, "Up")
	}
	for i := q.SelectedIndex; i < index; i++ {
		keys = append(keys, "Down")
	}
	keys = append(keys, "Enter")

	c.log.Info("selecting menu option",
		"project", project, "target", sess.Target, "selected", q.SelectedIndex, "index", index)
	return c.shell.SendKeySequence(ctx, sess.Target, keys, c.keyDelay)
}

// LookupProject resolves a possibly partial or misspelled project name to a
// known one: exact match first, then the best fuzzy candidate.
func (c *Controller) LookupProject(query string) (string, error) {
	known := c.projects.Projects()
	for _, p := range known {
		if p == query {
			return p, nil
		}
	}
	matches := fuzzy.Find(query, known)
	if len(matches) == 0 {
		return "", errs.Newf(errs.CodeSessionNotFound, "no project matching %q", query)
	}
	return matches[0].Str, nil
}
