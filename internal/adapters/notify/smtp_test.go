package notify

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
)

func TestSMTPChannel_Deliver(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	channel := NewSMTPChannel(SMTPConfig{
		Host:       "mail.example.com",
		Port:       587,
		From:       "sentinel@example.com",
		Recipients: []string{"ops@example.com", "secops@example.com"},
	})
	channel.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	alert := domain.NewAlert(domain.SeverityCritical, "permanent block", "repeat offender escalated", "auto-blocker")
	alert.AddMetadata("subject", "203.0.113.1")

	if err := channel.Deliver(context.Background(), alert); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if gotAddr != "mail.example.com:587" {
		t.Errorf("Unexpected addr %q", gotAddr)
	}
	if gotFrom != "sentinel@example.com" || len(gotTo) != 2 {
		t.Errorf("Unexpected envelope: from=%q to=%v", gotFrom, gotTo)
	}

	msg := string(gotMsg)
	if !strings.Contains(msg, "Subject: [CRITICAL] permanent block") {
		t.Errorf("Missing subject line in %q", msg)
	}
	if !strings.Contains(msg, "repeat offender escalated") {
		t.Error("Missing description in message body")
	}
	if !strings.Contains(msg, "subject: 203.0.113.1") {
		t.Error("Missing metadata in message body")
	}
}

func TestSMTPChannel_CancelledContext(t *testing.T) {
	channel := NewSMTPChannel(SMTPConfig{Host: "mail.example.com", From: "a@b.c", Recipients: []string{"d@e.f"}})
	channel.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		t.Error("sendMail should not run with a cancelled context")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	alert := domain.NewAlert(domain.SeverityInfo, "test", "", "test")
	if err := channel.Deliver(ctx, alert); err == nil {
		t.Error("Expected a context error")
	}
}
