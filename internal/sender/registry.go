package sender

import (
	"context"
	"fmt"

	"github.com/eduanalytics/notify-relay/internal/domain"
)

// Registry dispatches messages to the sender registered for their channel.
type Registry struct {
	senders map[domain.Channel]Sender
}

func NewRegistry(senders ...Sender) *Registry {
	m := make(map[domain.Channel]Sender, len(senders))
	for _, s := range senders {
		m[s.Channel()] = s
	}
	return &Registry{senders: m}
}

// Send routes the message to its channel's sender. A channel without a
// registered sender is a permanent failure; no retry can grow one.
func (r *Registry) Send(ctx context.Context, msg *domain.Message) (*Receipt, error) {
	s, ok := r.senders[msg.Channel]
	if !ok {
		return nil, Permanent(fmt.Errorf("no sender registered for channel %q", msg.Channel))
	}
	return s.Send(ctx, msg)
}

func (r *Registry) Has(ch domain.Channel) bool {
	_, ok := r.senders[ch]
	return ok
}
