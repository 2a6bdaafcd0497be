package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/eduanalytics/notify-relay/internal/domain"
)

// DelaySet holds messages waiting out a backoff delay or a scheduled send
// time, ordered by ready time. Entries enter via Add and leave only through
// PopDue, so a message is never promoted twice.
type DelaySet struct {
	mu      sync.Mutex
	entries []delayedEntry
}

type delayedEntry struct {
	readyAt time.Time
	msg     *domain.Message
}

func NewDelaySet() *DelaySet {
	return &DelaySet{}
}

// Add inserts the message keeping entries sorted by ready time. Ties keep
// insertion order.
func (d *DelaySet) Add(msg *domain.Message, readyAt time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := sort.Search(len(d.entries), func(i int) bool {
		return d.entries[i].readyAt.After(readyAt)
	})
	d.entries = append(d.entries, delayedEntry{})
	copy(d.entries[i+1:], d.entries[i:])
	d.entries[i] = delayedEntry{readyAt: readyAt, msg: msg}
}

// PopDue removes and returns every message whose ready time has passed, in
// ready-time order. Returns nil when nothing is due.
func (d *DelaySet) PopDue(now time.Time) []*domain.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	cut := sort.Search(len(d.entries), func(i int) bool {
		return d.entries[i].readyAt.After(now)
	})
	if cut == 0 {
		return nil
	}
	due := make([]*domain.Message, cut)
	for i := 0; i < cut; i++ {
		due[i] = d.entries[i].msg
	}
	d.entries = append(d.entries[:0], d.entries[cut:]...)
	return due
}

func (d *DelaySet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
