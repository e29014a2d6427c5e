package enforcement

import (
	"context"
	"testing"
)

func TestNewCommandBackend_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  CommandBackendConfig
		wantErr bool
	}{
		{
			name: "valid templates",
			config: CommandBackendConfig{
				BanCommand:   "nft add element inet filter blocked { {subject} }",
				UnbanCommand: "nft delete element inet filter blocked { {subject} }",
			},
		},
		{
			name: "empty ban command",
			config: CommandBackendConfig{
				UnbanCommand: "iptables -D INPUT -s {subject} -j DROP",
			},
			wantErr: true,
		},
		{
			name: "missing placeholder",
			config: CommandBackendConfig{
				BanCommand:   "iptables -A INPUT -j DROP",
				UnbanCommand: "iptables -D INPUT -s {subject} -j DROP",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCommandBackend(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewCommandBackend() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCommandBackend_SubstitutesSubject(t *testing.T) {
	backend, err := NewCommandBackend(CommandBackendConfig{
		BanCommand:   "true ban {subject}",
		UnbanCommand: "true unban {subject}",
	})
	if err != nil {
		t.Fatalf("NewCommandBackend: %v", err)
	}

	if err := backend.Ban(context.Background(), "203.0.113.1"); err != nil {
		t.Errorf("Ban: %v", err)
	}
	if err := backend.Unban(context.Background(), "203.0.113.1"); err != nil {
		t.Errorf("Unban: %v", err)
	}
}

func TestCommandBackend_PropagatesFailure(t *testing.T) {
	backend, err := NewCommandBackend(CommandBackendConfig{
		BanCommand:   "false {subject}",
		UnbanCommand: "false {subject}",
	})
	if err != nil {
		t.Fatalf("NewCommandBackend: %v", err)
	}

	if err := backend.Ban(context.Background(), "203.0.113.1"); err == nil {
		t.Error("Expected an error from a failing command")
	}
}
