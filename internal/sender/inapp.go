package sender

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eduanalytics/notify-relay/internal/domain"
)

// InAppSender delivers by writing into the recipient's inbox table; the
// insert itself is the delivery. Failures are transient, the database being
// the same one backing the message store.
type InAppSender struct {
	pool *pgxpool.Pool
}

var _ Sender = (*InAppSender)(nil)

func NewInAppSender(pool *pgxpool.Pool) *InAppSender {
	return &InAppSender{pool: pool}
}

func (s *InAppSender) Channel() domain.Channel { return domain.ChannelInApp }

func (s *InAppSender) Send(ctx context.Context, msg *domain.Message) (*Receipt, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO inapp_notifications (id, recipient_id, subject, body, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		id, msg.RecipientID, msg.Subject, bodyOf(msg), msg.Metadata, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert inbox row: %w", err)
	}
	return &Receipt{Code: 201, Detail: id}, nil
}
