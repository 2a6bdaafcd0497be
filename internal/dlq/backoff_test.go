package dlq

import (
	"testing"
	"time"

	"github.com/eduanalytics/notify-relay/internal/domain"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		name       string
		strategy   domain.RetryStrategy
		retryCount int
		want       time.Duration
	}{
		{"exponential 1st", domain.StrategyExponential, 1, 60 * time.Second},
		{"exponential 2nd", domain.StrategyExponential, 2, 300 * time.Second},
		{"exponential 3rd", domain.StrategyExponential, 3, 900 * time.Second},
		{"exponential capped", domain.StrategyExponential, 4, 900 * time.Second},
		{"exponential far past cap", domain.StrategyExponential, 9, 900 * time.Second},

		{"linear 1st", domain.StrategyLinear, 1, 120 * time.Second},
		{"linear 2nd", domain.StrategyLinear, 2, 240 * time.Second},
		{"linear 3rd", domain.StrategyLinear, 3, 360 * time.Second},
		{"linear capped", domain.StrategyLinear, 4, 360 * time.Second},

		{"fixed 1st", domain.StrategyFixed, 1, 300 * time.Second},
		{"fixed 3rd", domain.StrategyFixed, 3, 300 * time.Second},

		{"immediate", domain.StrategyImmediate, 1, 0},
		{"immediate later retry", domain.StrategyImmediate, 5, 0},

		{"unknown falls back to exponential", domain.RetryStrategy("bogus"), 2, 300 * time.Second},
		{"zero retry count clamps to first", domain.StrategyExponential, 0, 60 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BackoffDelay(tt.strategy, tt.retryCount); got != tt.want {
				t.Errorf("BackoffDelay(%s, %d) = %v, want %v", tt.strategy, tt.retryCount, got, tt.want)
			}
		})
	}
}
