package watch

import (
	"strings"
	"time"

	"github.com/twistedxcom/muxbridge/internal/registry"
	"github.com/twistedxcom/muxbridge/internal/term"
)

// affirmativeKeywords pick the option an unattended agent should take.
// Order matters: the first option containing any keyword wins.
var affirmativeKeywords = []string{
	"recommended",
	"default",
	"yes",
	"ok",
	"proceed",
	"approve",
	"allow",
	"don't ask",
}

// chooseOption returns the index of the first affirmative option, falling
// back to option 0.
func chooseOption(options []string) int {
	for i, opt := range options {
		lower := strings.ToLower(opt)
		for _, kw := range affirmativeKeywords {
			if strings.Contains(lower, kw) {
				return i
			}
		}
	}
	return 0
}

// navigationKeys builds the cursor movement from the current selection to
// the target, then the confirmation.
func navigationKeys(selected, target int) []string {
	var keys []string
	for i := selected; i > target; i-- {
		keys = append(keys, "Up")
	}
	for i := selected; i < target; i++ {
		keys = append(keys, "Down")
	}
	return append(keys, "Enter")
}

// autoAnswer drives a menu to its affirmative option and confirms. Agents
// sometimes chain several menus (setup wizards), so after each answer the
// pane is re-captured and any immediately following menu is answered too,
// bounded so a redraw loop can never trap us. A failed capture ends the
// loop quietly; the next real transition will pick the session back up.
func (w *Watcher) autoAnswer(s registry.Session, q *term.Question) {
	for step := 0; step < w.cfg.Tuning.WizardStepCap; step++ {
		target := chooseOption(q.Options)
		keys := navigationKeys(q.SelectedIndex, target)

		w.log.Info("answering menu",
			"project", s.Project, "target", s.Target,
			"selected", q.SelectedIndex, "answer", target, "step", step)

		if err := w.shell.SendKeySequence(w.ctx, s.Target, keys, w.cfg.KeyDelay()); err != nil {
			w.log.Warn("menu answer failed", "project", s.Project, "error", err)
			return
		}

		if !w.sleep(time.Duration(w.cfg.Tuning.WizardStepDelay) * time.Millisecond) {
			return
		}
		capture, err := w.capture(s.Target)
		if err != nil {
			w.log.Warn("wizard re-capture failed, stopping", "project", s.Project, "error", err)
			return
		}
		q = term.DetectQuestion(capture)
		if q == nil {
			return
		}
	}
	w.log.Warn("wizard step cap reached", "project", s.Project, "cap", w.cfg.Tuning.WizardStepCap)
}
