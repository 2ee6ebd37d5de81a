package term

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripANSI(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain passthrough", "hello world", "hello world"},
		{"color codes", "\x1b[31mred\x1b[0m text", "red text"},
		{"cursor movement", "\x1b[2Aup\x1b[K", "up"},
		{"osc title bel", "\x1b]0;window title\x07visible", "visible"},
		{"osc st terminator", "\x1b]8;;http://x\x1b\\link", "link"},
		{"eight bit csi", "\x9B31mred", "red"},
		{"truncated escape at end", "text\x1b", "text"},
		{"multiline", "\x1b[1ma\x1b[0m\n\x1b[2mb\x1b[0m", "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripANSI(tt.in))
		})
	}
}

func TestStripControlChars(t *testing.T) {
	assert.Equal(t, "ab\tc\nd", stripControlChars("a\x00b\t\x08c\nd\x7f"))
}
