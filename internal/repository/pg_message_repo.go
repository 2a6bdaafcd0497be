package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eduanalytics/notify-relay/internal/domain"
)

const messageColumns = `id, idempotency_key, key_window, recipient_id, channel,
	       recipient_address, subject, body, template_id, template_data,
	       priority, retry_count, max_retries, retry_strategy, status,
	       last_error, next_retry_at, metadata, scheduled_at, expires_at,
	       created_at, updated_at`

type pgMessageRepository struct {
	pool *pgxpool.Pool
}

// NewPgMessageRepository returns a MessageRepository backed by PostgreSQL.
func NewPgMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &pgMessageRepository{pool: pool}
}

func (r *pgMessageRepository) Create(ctx context.Context, m *domain.Message) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_log
			(id, idempotency_key, key_window, recipient_id, channel,
			 recipient_address, subject, body, template_id, template_data,
			 priority, retry_count, max_retries, retry_strategy, status,
			 last_error, next_retry_at, metadata, scheduled_at, expires_at,
			 created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		m.ID, m.IdempotencyKey, m.KeyWindow, m.RecipientID, m.Channel,
		m.RecipientAddress, m.Subject, m.Body, m.TemplateID, m.TemplateData,
		m.Priority, m.RetryCount, m.MaxRetries, m.RetryStrategy, m.Status,
		m.LastError, m.NextRetryAt, m.Metadata, m.ScheduledAt, m.ExpiresAt,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "idempotency_key") {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *pgMessageRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM notification_log WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (r *pgMessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM notification_log WHERE id = $1`, id)

	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return m, err
}

func (r *pgMessageRepository) GetByIdempotencyKey(ctx context.Context, key, window string) (*domain.Message, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM notification_log WHERE idempotency_key = $1 AND key_window = $2`,
		key, window)

	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return m, err
}

func (r *pgMessageRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.Message, int, error) {
	where, args := buildListWhere(f)
	offset := (f.Page - 1) * f.Limit

	var total int
	countQuery := "SELECT COUNT(*) FROM notification_log" + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	args = append(args, f.Limit, offset)
	limitPlaceholder := fmt.Sprintf("$%d", len(args)-1)
	offsetPlaceholder := fmt.Sprintf("$%d", len(args))

	query := fmt.Sprintf(`
		SELECT `+messageColumns+`
		FROM notification_log%s
		ORDER BY created_at DESC
		LIMIT %s OFFSET %s`, where, limitPlaceholder, offsetPlaceholder)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// terminalGuard excludes resolved rows from status updates.
const terminalGuard = `status NOT IN ('sent','expired','poisoned')`

func (r *pgMessageRepository) MarkSent(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_log
		SET status = 'sent', last_error = NULL, next_retry_at = NULL, updated_at = NOW()
		WHERE id = $1 AND `+terminalGuard, id)
	if err != nil {
		return false, fmt.Errorf("mark sent: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pgMessageRepository) MarkRetrying(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastErr string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_log
		SET status = 'retrying', retry_count = $2, next_retry_at = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1 AND `+terminalGuard, id, retryCount, nextRetryAt, lastErr)
	if err != nil {
		return false, fmt.Errorf("mark retrying: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pgMessageRepository) MarkFinal(ctx context.Context, id string, status domain.Status, retryCount int, lastErr string) (bool, error) {
	// expired may still be forced to poisoned; sent and poisoned never move.
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_log
		SET status = $2, retry_count = $3, last_error = $4, next_retry_at = NULL, updated_at = NOW()
		WHERE id = $1 AND (`+terminalGuard+` OR (status = 'expired' AND $2 = 'poisoned'))`,
		id, status, retryCount, lastErr)
	if err != nil {
		return false, fmt.Errorf("mark final: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pgMessageRepository) MarkPending(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_log
		SET status = 'pending', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending','retrying')`, id)
	if err != nil {
		return false, fmt.Errorf("mark pending: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pgMessageRepository) ResetForRequeue(ctx context.Context, id string) (bool, error) {
	// Operator override: only dead-lettered (expired) messages are eligible.
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_log
		SET status = 'pending', retry_count = 0, last_error = NULL, next_retry_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'expired'`, id)
	if err != nil {
		return false, fmt.Errorf("reset for requeue: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pgMessageRepository) RecordAttempt(ctx context.Context, a *domain.DeliveryAttempt) (bool, error) {
	// INSERT ... SELECT keeps the terminal check and the insert in one
	// statement: no attempt row is ever added for a resolved message.
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO notification_delivery_attempts
			(id, message_id, attempt_number, attempted_at, status,
			 response_code, response_message, latency_ms, error_details)
		SELECT $1,$2,$3,$4,$5,$6,$7,$8,$9
		WHERE EXISTS (
			SELECT 1 FROM notification_log WHERE id = $2 AND `+terminalGuard+`
		)`,
		a.ID, a.MessageID, a.AttemptNumber, a.AttemptedAt, a.Status,
		a.ResponseCode, a.ResponseMessage, a.LatencyMs, a.ErrorDetails,
	)
	if err != nil {
		return false, fmt.Errorf("record attempt: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pgMessageRepository) ListAttempts(ctx context.Context, messageID string) ([]*domain.DeliveryAttempt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, message_id, attempt_number, attempted_at, status,
		       response_code, response_message, latency_ms, error_details
		FROM notification_delivery_attempts
		WHERE message_id = $1
		ORDER BY attempt_number ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*domain.DeliveryAttempt
	for rows.Next() {
		var a domain.DeliveryAttempt
		if err := rows.Scan(
			&a.ID, &a.MessageID, &a.AttemptNumber, &a.AttemptedAt, &a.Status,
			&a.ResponseCode, &a.ResponseMessage, &a.LatencyMs, &a.ErrorDetails,
		); err != nil {
			return nil, err
		}
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}

func (r *pgMessageRepository) ChannelStats(ctx context.Context, since time.Time) ([]domain.ChannelStat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT channel,
		       COUNT(*) FILTER (WHERE status = 'sent'),
		       COUNT(*) FILTER (WHERE status IN ('expired','poisoned')),
		       COUNT(*) FILTER (WHERE status IN ('pending','retrying','failed')),
		       COUNT(*) FILTER (WHERE retry_count > 0)
		FROM notification_log
		WHERE created_at >= $1
		GROUP BY channel
		ORDER BY channel`, since)
	if err != nil {
		return nil, fmt.Errorf("channel stats: %w", err)
	}
	defer rows.Close()

	var stats []domain.ChannelStat
	for rows.Next() {
		var s domain.ChannelStat
		if err := rows.Scan(&s.Channel, &s.Sent, &s.Failed, &s.InFlight, &s.Retried); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r *pgMessageRepository) LatencyStats(ctx context.Context, since time.Time) (domain.LatencyStats, error) {
	var ls domain.LatencyStats
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(AVG(latency_ms), 0)::float8,
		       COALESCE(percentile_cont(0.5) WITHIN GROUP (ORDER BY latency_ms), 0)::float8,
		       COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY latency_ms), 0)::float8
		FROM notification_delivery_attempts
		WHERE attempted_at >= $1`, since,
	).Scan(&ls.Count, &ls.MeanMs, &ls.MedianMs, &ls.P95Ms)
	if err != nil {
		return domain.LatencyStats{}, fmt.Errorf("latency stats: %w", err)
	}
	return ls, nil
}

func (r *pgMessageRepository) SuccessRate(ctx context.Context, since time.Time) (float64, error) {
	var sent, total float64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'sent')::float8, COUNT(*)::float8
		FROM notification_delivery_attempts
		WHERE attempted_at >= $1`, since,
	).Scan(&sent, &total)
	if err != nil {
		return 0, fmt.Errorf("success rate: %w", err)
	}
	if total == 0 {
		return 1.0, nil
	}
	return sent / total, nil
}

func (r *pgMessageRepository) OldestUnresolved(ctx context.Context) (*time.Time, error) {
	var oldest *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT MIN(created_at) FROM notification_log
		WHERE status IN ('pending','retrying','failed')`,
	).Scan(&oldest)
	if err != nil {
		return nil, fmt.Errorf("oldest unresolved: %w", err)
	}
	return oldest, nil
}

func (r *pgMessageRepository) CountPendingOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notification_log
		WHERE status = 'pending' AND updated_at < $1`, cutoff,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count stale pending: %w", err)
	}
	return count, nil
}

// ---- helpers ----

// scanMessage reads a single message row from any pgx row type.
func scanMessage(row pgx.Row) (*domain.Message, error) {
	var m domain.Message
	err := row.Scan(
		&m.ID, &m.IdempotencyKey, &m.KeyWindow, &m.RecipientID, &m.Channel,
		&m.RecipientAddress, &m.Subject, &m.Body, &m.TemplateID, &m.TemplateData,
		&m.Priority, &m.RetryCount, &m.MaxRetries, &m.RetryStrategy, &m.Status,
		&m.LastError, &m.NextRetryAt, &m.Metadata, &m.ScheduledAt, &m.ExpiresAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMessages(rows pgx.Rows) ([]*domain.Message, error) {
	var result []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// buildListWhere builds a parameterised WHERE clause from a ListFilter.
func buildListWhere(f domain.ListFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Channel != nil {
		add("channel = $%d", *f.Channel)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
