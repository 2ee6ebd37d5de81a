// Package term classifies raw captured pane text: ANSI stripping, interactive
// menu detection, unsent-draft detection and output summarization. Everything
// in this package is a pure function over its input; no tmux access, no state.
package term

import "strings"

// StripANSI removes ANSI escape codes from content using an O(n) single pass.
//
// A regex is deliberately avoided here: complex ANSI patterns can backtrack
// catastrophically on malformed escape sequences captured from real panes.
func StripANSI(content string) string {
	// Fast path: no ESC and no 8-bit CSI means nothing to strip.
	if strings.IndexByte(content, '\x1b') < 0 && strings.IndexByte(content, '\x9B') < 0 {
		return content
	}

	var b strings.Builder
	b.Grow(len(content))

	i := 0
	for i < len(content) {
		if content[i] == '\x1b' {
			// CSI sequence: ESC [ ... letter
			if i+1 < len(content) && content[i+1] == '[' {
				j := i + 2
				for j < len(content) {
					c := content[j]
					if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
						j++
						break
					}
					j++
				}
				i = j
				continue
			}
			// OSC sequence: ESC ] ... BEL or ST
			if i+1 < len(content) && content[i+1] == ']' {
				bellPos := strings.Index(content[i:], "\x07")
				if bellPos != -1 {
					i += bellPos + 1
					continue
				}
				stPos := strings.Index(content[i:], "\x1b\\")
				if stPos != -1 {
					i += stPos + 2
					continue
				}
			}
			// Other escape sequence: ESC followed by a single char.
			// A bare ESC at end of capture is dropped.
			if i+1 < len(content) {
				i += 2
			} else {
				i++
			}
			continue
		}
		// 8-bit CSI without ESC (0x9B)
		if content[i] == '\x9B' {
			j := i + 1
			for j < len(content) {
				c := content[j]
				if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
					j++
					break
				}
				j++
			}
			i = j
			continue
		}
		b.WriteByte(content[i])
		i++
	}

	return b.String()
}

// stripControlChars removes ASCII control characters except tab, newline and
// carriage return. Stabilizes content for hashing.
func stripControlChars(content string) string {
	var result strings.Builder
	result.Grow(len(content))
	for _, r := range content {
		if (r >= 32 && r != 127) || r == '\t' || r == '\n' || r == '\r' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
