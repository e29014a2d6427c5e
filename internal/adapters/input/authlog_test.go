package input

import (
	"strings"
	"testing"
)

func TestParseAuthLogLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		subject string
		user    string
		kind    string
	}{
		{
			name:    "failed password for valid user",
			line:    "Sep  1 10:12:01 host sshd[1234]: Failed password for root from 203.0.113.7 port 54812 ssh2",
			subject: "203.0.113.7",
			user:    "root",
			kind:    "failed_password",
		},
		{
			name:    "failed password for invalid user",
			line:    "Sep  1 10:12:05 host sshd[1234]: Failed password for invalid user admin from 198.51.100.23 port 40022 ssh2",
			subject: "198.51.100.23",
			user:    "admin",
			kind:    "failed_password",
		},
		{
			name:    "invalid user probe",
			line:    "Sep  1 10:12:09 host sshd[1234]: Invalid user oracle from 192.0.2.44",
			subject: "192.0.2.44",
			user:    "oracle",
			kind:    "invalid_user",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := ParseAuthLogLine(tt.line)
			if event == nil {
				t.Fatal("Expected an event")
			}
			if event.Subject != tt.subject || event.User != tt.user || event.Kind != tt.kind {
				t.Errorf("Got %+v", event)
			}
		})
	}
}

func TestParseAuthLogLine_NonFailures(t *testing.T) {
	lines := []string{
		"",
		"Sep  1 10:13:01 host sshd[1234]: Accepted password for deploy from 10.0.0.5 port 51000 ssh2",
		"Sep  1 10:13:02 host sshd[1234]: Connection closed by 10.0.0.5 port 51000",
		"Sep  1 10:13:03 host CRON[999]: pam_unix(cron:session): session opened for user root",
	}
	for _, line := range lines {
		if event := ParseAuthLogLine(line); event != nil {
			t.Errorf("Line %q should not produce an event, got %+v", line, event)
		}
	}
}

func TestParseAuthLogLine_SanitizesUser(t *testing.T) {
	line := "Failed password for invalid user evil\x1b[2Jname from 203.0.113.9 port 22 ssh2"

	event := ParseAuthLogLine(line)
	if event == nil {
		t.Fatal("Expected an event")
	}
	if strings.ContainsRune(event.User, 0x1b) {
		t.Errorf("Escape bytes should be stripped from the user field, got %q", event.User)
	}
}
