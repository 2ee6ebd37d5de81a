package term

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"
)

var blankRunPattern = regexp.MustCompile(`\n{3,}`)

// ExtractSummary condenses a pane capture into a bounded tail of its content.
// The most recent output is the most relevant, so truncation removes from the
// front: first by line count, then by display-width budget.
func ExtractSummary(text string, maxLines, maxChars int) string {
	s := StripANSI(text)

	// Per-line trailing whitespace first, so blank-run collapsing sees
	// genuinely empty lines (capture-pane pads with spaces on resize).
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.Join(lines, "\n")

	// Collapse runs of 3+ newlines to a single blank line and drop the
	// trailing blank run entirely.
	s = blankRunPattern.ReplaceAllString(s, "\n\n")
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}

	lines = strings.Split(s, "\n")
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}

	if maxChars > 0 {
		// Accumulate lines from the tail until the width budget runs out.
		budget := maxChars
		start := len(lines)
		for start > 0 {
			w := runewidth.StringWidth(lines[start-1]) + 1 // +1 for the newline
			if w > budget {
				break
			}
			budget -= w
			start--
		}
		if start == len(lines) && len(lines) > 0 {
			// A single oversized line: keep its tail.
			last := lines[len(lines)-1]
			return runewidth.TruncateLeft(last, runewidth.StringWidth(last)-maxChars, "…")
		}
		lines = lines[start:]
	}

	return strings.TrimLeft(strings.Join(lines, "\n"), "\n")
}

// spinnerRunes are the animation glyphs the agents cycle through while busy.
// They must be stripped before hashing or every frame looks like progress.
var spinnerRunes = map[rune]bool{
	'⠋': true, '⠙': true, '⠹': true, '⠸': true, '⠼': true,
	'⠴': true, '⠦': true, '⠧': true, '⠇': true, '⠏': true,
	'·': true, '✳': true, '✽': true, '✶': true, '✻': true, '✢': true,
}

func stripSpinnerRunes(s string) string {
	return strings.Map(func(r rune) rune {
		if spinnerRunes[r] {
			return -1
		}
		return r
	}, s)
}

var timePattern = regexp.MustCompile(`\b\d{1,2}:\d{2}(:\d{2})?\b`)

// Normalize stabilizes pane content for change detection: ANSI and control
// characters out, spinner glyphs out, clocks masked, trailing spaces trimmed,
// blank runs collapsed.
func Normalize(content string) string {
	result := StripANSI(content)
	result = stripControlChars(result)
	result = stripSpinnerRunes(result)
	result = timePattern.ReplaceAllString(result, "HH:MM")

	lines := strings.Split(result, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	result = strings.Join(lines, "\n")

	return blankRunPattern.ReplaceAllString(result, "\n\n")
}

// Hash returns the hex SHA-256 of normalized content.
func Hash(content string) string {
	h := sha256.Sum256([]byte(Normalize(content)))
	return hex.EncodeToString(h[:])
}
