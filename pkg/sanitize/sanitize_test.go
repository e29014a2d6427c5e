package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		max   int
		want  string
	}{
		{"clean passthrough", "admin", 64, "admin"},
		{"ansi escape collapsed", "root\x1b[31mevil", 64, "root[ESC]evil"},
		{"bare escape", "user\x1b", 64, "user[ESC]"},
		{"control bytes marked", "a\x00b\x07c", 64, "a[CTRL]b[CTRL]c"},
		{"tabs and newlines become spaces", "a\tb\nc", 64, "a b c"},
		{"truncated with ellipsis", "abcdefghij", 8, "abcde..."},
		{"tiny limit truncates hard", "abcdefghij", 3, "abc"},
		{"zero limit disables truncation", "abcdefghij", 0, "abcdefghij"},
		{"empty", "", 64, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, String(tt.input, tt.max))
		})
	}
}

func TestSubject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"ipv4", "203.0.113.7", "203.0.113.7"},
		{"ipv6", "2001:db8::1", "2001:db8::1"},
		{"injection stripped", "203.0.113.7; rm -rf /", "203.0.113.7f"},
		{"no address bytes", "hello world", "[INVALID]"},
		{"empty", "", "[INVALID]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Subject(tt.input))
		})
	}
}
