// Package sanitize strips terminal control sequences from strings lifted out
// of untrusted log lines. Attackers control sshd usernames byte for byte, so
// anything copied into alert metadata or structured logs goes through here
// first.
package sanitize

import "strings"

// String removes control bytes from s and truncates the result to maxLen.
// ANSI escape sequences collapse to an [ESC] marker so injection attempts
// stay visible in the output instead of being executed by a terminal.
func String(s string, maxLen int) string {
	cleaned := strip(s)
	if maxLen > 0 && len(cleaned) > maxLen {
		if maxLen > 3 {
			return cleaned[:maxLen-3] + "..."
		}
		return cleaned[:maxLen]
	}
	return cleaned
}

// Subject keeps only the bytes valid in an IPv4 or IPv6 address. Anything
// else is dropped; a string with no address bytes at all becomes "[INVALID]".
func Subject(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c == '.', c == ':',
			c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
			b.WriteByte(c)
		}
	}
	if b.Len() == 0 {
		return "[INVALID]"
	}
	return b.String()
}

func strip(s string) string {
	clean := true
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == 0x7F {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == 0x1B:
			// Swallow a CSI sequence body if one follows.
			if i+1 < len(s) && s[i+1] == '[' {
				i += 2
				for i < len(s) && !csiFinal(s[i]) {
					i++
				}
			}
			b.WriteString("[ESC]")
		case c == '\t', c == '\n':
			b.WriteByte(' ')
		case c < 0x20, c == 0x7F:
			b.WriteString("[CTRL]")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// csiFinal reports whether c terminates a CSI escape sequence.
func csiFinal(c byte) bool {
	return c >= 0x40 && c <= 0x7E
}
