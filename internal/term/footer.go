package term

import (
	"regexp"
	"strings"
)

// Footer and divider lines are chrome the agent TUIs render under their real
// content: shortcut hints, context-budget banners, horizontal rules. They must
// be ignored when locating prompts and option lists near the bottom of a pane.

var footerHints = []string{
	"? for shortcuts",
	"for shortcuts",
	"ctrl+c to interrupt",
	"esc to interrupt",
	"esc to cancel",
	"to interrupt",
	"shift+tab to cycle",
	"bypass permissions",
	"auto-accept edits",
	"plan mode",
	"! for bash mode",
	"press enter to send",
	"context left until auto-compact",
	"auto-compact:",
}

var contextPercentPattern = regexp.MustCompile(`\d{1,3}%\s*(left|used|remaining)?\s*$`)

// boxDrawingRunes covers the frame characters Claude Code and friends draw
// their input boxes and dividers with.
func isBoxDrawingRune(r rune) bool {
	return (r >= 0x2500 && r <= 0x257F) || (r >= 0x2580 && r <= 0x259F)
}

// isDividerLine reports whether the line is purely horizontal-rule chrome.
func isDividerLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	for _, r := range trimmed {
		if !isBoxDrawingRune(r) && r != '-' && r != '=' && r != '_' && r != ' ' {
			return false
		}
	}
	return true
}

// isFooterLine reports whether the line is status chrome rather than content.
func isFooterLine(line string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(line))
	if trimmed == "" {
		return false
	}
	if isDividerLine(line) {
		return true
	}
	for _, hint := range footerHints {
		if strings.Contains(trimmed, hint) {
			return true
		}
	}
	// Bare context-percentage banners ("Context low · 12% remaining").
	if contextPercentPattern.MatchString(trimmed) && len(trimmed) < 60 {
		return true
	}
	return false
}

// trimTrailingChrome drops trailing blank, footer and divider lines.
func trimTrailingChrome(lines []string) []string {
	end := len(lines)
	for end > 0 {
		line := lines[end-1]
		if strings.TrimSpace(line) == "" || isFooterLine(line) {
			end--
			continue
		}
		break
	}
	return lines[:end]
}
