package sender_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/eduanalytics/notify-relay/internal/domain"
	"github.com/eduanalytics/notify-relay/internal/sender"
)

func TestBreakerSender_PassesReceiptThrough(t *testing.T) {
	inner := &stubSender{channel: domain.ChannelSMS, rec: &sender.Receipt{Code: 202, Detail: "gw-1"}}
	b := sender.WithBreaker(inner, zap.NewNop())

	if b.Channel() != domain.ChannelSMS {
		t.Fatalf("expected channel sms, got %s", b.Channel())
	}

	rec, err := b.Send(context.Background(), &domain.Message{ID: "m", Channel: domain.ChannelSMS})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if rec.Code != 202 || rec.Detail != "gw-1" {
		t.Errorf("expected inner receipt, got %+v", rec)
	}
}

func TestBreakerSender_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &stubSender{channel: domain.ChannelEmail, err: errors.New("gateway down")}
	b := sender.WithBreaker(inner, zap.NewNop())
	msg := &domain.Message{ID: "m", Channel: domain.ChannelEmail}

	for i := 0; i < 5; i++ {
		if _, err := b.Send(context.Background(), msg); err == nil {
			t.Fatalf("call %d: expected failure", i+1)
		}
	}
	if inner.calls != 5 {
		t.Fatalf("expected 5 provider calls before the circuit opened, got %d", inner.calls)
	}

	_, err := b.Send(context.Background(), msg)
	if err == nil {
		t.Fatal("expected open circuit to reject the call")
	}
	if sender.IsPermanent(err) {
		t.Error("an open circuit must stay retryable")
	}
	if inner.calls != 5 {
		t.Errorf("open circuit must not reach the provider, inner calls = %d", inner.calls)
	}
}

func TestBreakerSender_PermanentFailuresDoNotTrip(t *testing.T) {
	inner := &stubSender{channel: domain.ChannelEmail, err: sender.Permanent(errors.New("mailbox does not exist"))}
	b := sender.WithBreaker(inner, zap.NewNop())
	msg := &domain.Message{ID: "m", Channel: domain.ChannelEmail}

	for i := 0; i < 10; i++ {
		_, err := b.Send(context.Background(), msg)
		if !sender.IsPermanent(err) {
			t.Fatalf("call %d: expected permanent error, got %v", i+1, err)
		}
	}
	if inner.calls != 10 {
		t.Errorf("bad addresses say nothing about provider health, inner calls = %d", inner.calls)
	}
}
