package alerting

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestEmailSenderBuildsMessage(t *testing.T) {
	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  []byte
	)

	sender := NewEmailSender(EmailOptions{
		Host: "smtp.example.com",
		Port: 2525,
		From: "alerts@example.com",
	}, testLogger())
	sender.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if err := sender.Send(context.Background(), "trader@example.com", testAlert()); err != nil {
		t.Fatalf("Email Send 应成功: %v", err)
	}
	if gotAddr != "smtp.example.com:2525" {
		t.Fatalf("SMTP 地址不正确: %s", gotAddr)
	}
	if gotFrom != "alerts@example.com" || len(gotTo) != 1 || gotTo[0] != "trader@example.com" {
		t.Fatalf("信封不正确: from=%s to=%v", gotFrom, gotTo)
	}
	if !strings.Contains(string(gotMsg), "Subject: PulseWatch signal") {
		t.Fatalf("应包含 Subject 头: %q", string(gotMsg))
	}
}

func TestEmailSenderPropagatesError(t *testing.T) {
	sender := NewEmailSender(EmailOptions{Host: "smtp.example.com"}, testLogger())
	boom := errors.New("smtp boom")
	sender.send = func(string, smtp.Auth, string, []string, []byte) error { return boom }

	if err := sender.Send(context.Background(), "trader@example.com", testAlert()); !errors.Is(err, boom) {
		t.Fatalf("应包装并传播 SMTP 错误: %v", err)
	}
}
