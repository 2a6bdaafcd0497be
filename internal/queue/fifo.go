package queue

import (
	"github.com/eduanalytics/notify-relay/internal/domain"
)

// expressThreshold splits each tier into two bands: priority 1-2 rides the
// express channel, 3-5 the standard one.
const expressThreshold = 2

// fifo is one queue tier backed by two buffered channels. The express band
// gets a fifth of the configured capacity so urgent traffic hits back-pressure
// early instead of accumulating behind bulk sends.
type fifo struct {
	express  chan *domain.Message
	standard chan *domain.Message
}

func newFifo(size int) *fifo {
	express := size / 5
	if express < 1 {
		express = 1
	}
	return &fifo{
		express:  make(chan *domain.Message, express),
		standard: make(chan *domain.Message, size),
	}
}

// push places the message on its priority band.
// It is non-blocking: if the band is full, ErrQueueFull is returned
// immediately rather than blocking the caller (the HTTP handler).
func (f *fifo) push(msg *domain.Message) error {
	ch := f.standard
	if msg.Priority >= domain.PriorityHighest && msg.Priority <= expressThreshold {
		ch = f.express
	}
	select {
	case ch <- msg:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// tryPop takes a waiting message without blocking, express band first.
func (f *fifo) tryPop() (*domain.Message, bool) {
	select {
	case msg := <-f.express:
		return msg, true
	default:
	}
	select {
	case msg := <-f.standard:
		return msg, true
	default:
	}
	return nil, false
}

func (f *fifo) depth() int {
	return len(f.express) + len(f.standard)
}
