package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/eduanalytics/notify-relay/internal/domain"
)

// BreakerSender wraps a Sender with a circuit breaker so a degraded provider
// sheds load fast instead of tying every worker up in timeouts. Permanent
// failures do not count against the breaker: a stream of bad addresses says
// nothing about provider health.
type BreakerSender struct {
	inner Sender
	cb    *gobreaker.CircuitBreaker
}

var _ Sender = (*BreakerSender)(nil)

func WithBreaker(inner Sender, log *zap.Logger) *BreakerSender {
	settings := gobreaker.Settings{
		Name:        string(inner.Channel()),
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("channel", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
	}
	return &BreakerSender{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerSender) Channel() domain.Channel { return b.inner.Channel() }

// Send runs the inner sender through the breaker. An open circuit surfaces
// as a transient error: the provider may recover, so the retry budget
// applies.
func (b *BreakerSender) Send(ctx context.Context, msg *domain.Message) (*Receipt, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Send(ctx, msg)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("channel %s circuit open: %w", b.inner.Channel(), err)
		}
		return nil, err
	}
	rec, _ := out.(*Receipt)
	return rec, nil
}
