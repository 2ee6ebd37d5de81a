package term

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Question is an interactive menu parsed from a pane capture.
type Question struct {
	ID            string
	Text          string
	Options       []string
	SelectedIndex int
	Format        OptionFormat
}

// OptionFormat tags which of the two known rendering formats produced a parse.
type OptionFormat int

const (
	// FormatMarker: every option line carries a marker glyph.
	FormatMarker OptionFormat = iota
	// FormatNumbered: only the selected line carries one; the rest are "N. text".
	FormatNumbered
)

const (
	// questionScanWindow bounds how far above the option block the line
	// ending in '?' may sit.
	questionScanWindow = 8
	// optionScanWindow bounds how deep from the bottom options are searched.
	optionScanWindow = 40
)

var numberedOptionPattern = regexp.MustCompile(`^(\d+)[.)]\s+(\S.*)$`)

// selected glyph rendered by the menu cursor.
const selectedGlyph = '❯'

func isBulletRune(r rune) bool {
	switch r {
	case '○', '◯', '•', '◦':
		return true
	}
	return false
}

func isSelectedBulletRune(r rune) bool {
	switch r {
	case '●', '◉':
		return true
	}
	return false
}

// optionLine is one parsed candidate option.
type optionLine struct {
	text     string
	marker   bool // carries any marker glyph
	selected bool // carries the selected glyph or a filled bullet
}

// parseOptionLine classifies a cleaned line as an option, or ok=false.
func parseOptionLine(line string) (optionLine, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || isFooterLine(line) {
		return optionLine{}, false
	}

	runes := []rune(trimmed)
	first := runes[0]

	switch {
	case first == selectedGlyph:
		rest := strings.TrimSpace(string(runes[1:]))
		return optionLine{text: stripNumberPrefix(rest), marker: true, selected: true}, true
	case isSelectedBulletRune(first):
		rest := strings.TrimSpace(string(runes[1:]))
		return optionLine{text: stripNumberPrefix(rest), marker: true, selected: true}, true
	case isBulletRune(first):
		rest := strings.TrimSpace(string(runes[1:]))
		return optionLine{text: stripNumberPrefix(rest), marker: true}, true
	}

	if m := numberedOptionPattern.FindStringSubmatch(trimmed); m != nil {
		return optionLine{text: m[2]}, true
	}
	return optionLine{}, false
}

func stripNumberPrefix(s string) string {
	if m := numberedOptionPattern.FindStringSubmatch(s); m != nil {
		return m[2]
	}
	return s
}

// stripBoxChrome removes the leading/trailing frame runes of boxed dialogs so
// the content inside can be classified.
func stripBoxChrome(line string) string {
	line = strings.TrimRight(line, " \t")
	runes := []rune(strings.TrimLeft(line, " \t"))
	if len(runes) == 0 {
		return ""
	}
	if isBoxDrawingRune(runes[0]) {
		runes = runes[1:]
	}
	for len(runes) > 0 && isBoxDrawingRune(runes[len(runes)-1]) {
		runes = runes[:len(runes)-1]
	}
	return strings.TrimRight(string(runes), " \t")
}

// DetectQuestion parses an interactive menu from raw pane text. It is
// deliberately conservative: a false positive risks driving unwanted
// keystrokes into a live agent, so anything question-shaped but ambiguous
// returns nil.
//
// Recognized shapes, scanning from the bottom of the capture:
//   - marker format: >=2 lines prefixed by the selected glyph or a bullet
//   - numbered format: one marker line among plain "N. text" siblings
//
// Both require a line ending in '?' within a short window above the options.
func DetectQuestion(text string) *Question {
	rawLines := strings.Split(StripANSI(text), "\n")
	cleaned := make([]string, len(rawLines))
	for i, l := range rawLines {
		cleaned[i] = stripBoxChrome(l)
	}
	cleaned = trimTrailingChrome(cleaned)
	if len(cleaned) < 3 {
		return nil
	}

	scanStart := len(cleaned) - optionScanWindow
	if scanStart < 0 {
		scanStart = 0
	}

	// Anchor on the bottom-most marker line. Markers higher up that are not
	// contiguous with it (e.g. spinner glyphs in earlier output) are ignored.
	anchor := -1
	for i := len(cleaned) - 1; i >= scanStart; i-- {
		if opt, ok := parseOptionLine(cleaned[i]); ok && opt.marker {
			anchor = i
			break
		}
	}
	if anchor == -1 {
		return nil
	}

	// Expand the contiguous option block around the anchor. Plain numbered
	// lines adjacent to a single marker cover the fall-forward format.
	blockStart, blockEnd := anchor, anchor
	for blockStart > scanStart {
		if _, ok := parseOptionLine(cleaned[blockStart-1]); !ok {
			break
		}
		blockStart--
	}
	for blockEnd < len(cleaned)-1 {
		if _, ok := parseOptionLine(cleaned[blockEnd+1]); !ok {
			break
		}
		blockEnd++
	}

	var options []string
	selectedIndex := 0
	format := FormatMarker
	for i := blockStart; i <= blockEnd; i++ {
		opt, ok := parseOptionLine(cleaned[i])
		if !ok {
			continue
		}
		if opt.selected {
			selectedIndex = len(options)
		}
		if !opt.marker {
			format = FormatNumbered
		}
		options = append(options, opt.text)
	}
	if len(options) < 2 {
		return nil
	}

	// A question-shaped prompt must precede the options.
	questionText := ""
	for i := blockStart - 1; i >= 0 && i >= blockStart-questionScanWindow; i-- {
		line := strings.TrimSpace(cleaned[i])
		if line == "" || isDividerLine(cleaned[i]) {
			continue
		}
		if strings.HasSuffix(line, "?") {
			questionText = line
			break
		}
	}
	if questionText == "" {
		return nil
	}

	return &Question{
		ID:            uuid.NewString(),
		Text:          questionText,
		Options:       options,
		SelectedIndex: selectedIndex,
		Format:        format,
	}
}
