package term

import "strings"

// DraftState classifies whether a human has unsent text at the input prompt.
type DraftState int

const (
	// DraftUnknown means no prompt marker was located; callers must treat
	// this as "do not send". Never downgraded to DraftIdle.
	DraftUnknown DraftState = iota
	// DraftIdle means the prompt is empty (or shows a known placeholder).
	DraftIdle
	// DraftTyping means visible unsent text sits at the prompt.
	DraftTyping
)

func (d DraftState) String() string {
	switch d {
	case DraftIdle:
		return "idle"
	case DraftTyping:
		return "typing"
	default:
		return "unknown"
	}
}

// promptSearchDistance bounds how far above the bottom (after chrome is
// trimmed) the prompt marker may sit.
const promptSearchDistance = 6

// placeholderDrafts are template texts the agents render inside an empty
// prompt. They look like drafts but are not.
var placeholderDrafts = []string{
	`try "`,
	"type your message",
	"ask anything",
	"how can i help",
}

// promptMarker extracts the text content after a prompt marker, or ok=false
// when the line is not a prompt line.
func promptMarker(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", false
	}
	for _, marker := range []string{">", "❯"} {
		if trimmed == marker {
			return "", true
		}
		if strings.HasPrefix(trimmed, marker+" ") {
			return strings.TrimSpace(trimmed[len(marker)+1:]), true
		}
	}
	return "", false
}

// DetectDraftState inspects a raw pane capture for unsent human input at the
// prompt. It is recomputed fresh on every send attempt; the pane may have
// changed since any previous classification.
//
// The fail-safe invariant: when no prompt marker is found within the bounded
// search distance, the result is DraftUnknown, never DraftIdle — the sender
// must not risk overwriting input the classifier failed to recognize.
func DetectDraftState(text string) DraftState {
	rawLines := strings.Split(StripANSI(text), "\n")
	cleaned := make([]string, len(rawLines))
	for i, l := range rawLines {
		cleaned[i] = stripBoxChrome(l)
	}
	cleaned = trimTrailingChrome(cleaned)

	for dist := 0; dist < promptSearchDistance && dist < len(cleaned); dist++ {
		line := cleaned[len(cleaned)-1-dist]
		content, ok := promptMarker(line)
		if !ok {
			continue
		}
		if content == "" {
			return DraftIdle
		}
		lower := strings.ToLower(content)
		for _, placeholder := range placeholderDrafts {
			if strings.HasPrefix(lower, placeholder) {
				return DraftIdle
			}
		}
		return DraftTyping
	}
	return DraftUnknown
}
