package dlq

import (
	"time"

	"github.com/eduanalytics/notify-relay/internal/domain"
)

// Backoff tables, indexed by the retry count after increment: the first
// retry reads index 0. Past the end of a table the last entry applies.
//
// immediate's zero delay means the message skips the delayed set and goes
// straight back to the retry queue.
var backoffTables = map[domain.RetryStrategy][]time.Duration{
	domain.StrategyExponential: {60 * time.Second, 300 * time.Second, 900 * time.Second},
	domain.StrategyLinear:      {120 * time.Second, 240 * time.Second, 360 * time.Second},
	domain.StrategyFixed:       {300 * time.Second},
	domain.StrategyImmediate:   {0},
}

// BackoffDelay returns the wait before the retryCount'th retry attempt.
// Unknown strategies fall back to exponential.
func BackoffDelay(strategy domain.RetryStrategy, retryCount int) time.Duration {
	table, ok := backoffTables[strategy]
	if !ok {
		table = backoffTables[domain.StrategyExponential]
	}
	if retryCount < 1 {
		retryCount = 1
	}
	idx := retryCount - 1
	if idx >= len(table) {
		idx = len(table) - 1
	}
	return table[idx]
}
