package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eduanalytics/notify-relay/internal/domain"
)

// MockMessageRepository is a hand-written, in-memory implementation of
// MessageRepository used in unit tests. No mock-generation library needed.
// It enforces the same transition guards as the pgx implementation so state
// machine tests exercise real semantics.
type MockMessageRepository struct {
	mu       sync.RWMutex
	messages map[string]*domain.Message
	attempts map[string][]*domain.DeliveryAttempt

	// Optional error overrides, set in tests to simulate failure paths.
	CreateErr              error
	GetByIDErr             error
	GetByIdempotencyKeyErr error
	RecordAttemptErr       error
	MarkErr                error
}

func NewMockMessageRepository() *MockMessageRepository {
	return &MockMessageRepository{
		messages: make(map[string]*domain.Message),
		attempts: make(map[string][]*domain.DeliveryAttempt),
	}
}

func (m *MockMessageRepository) Create(_ context.Context, msg *domain.Message) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.messages {
		if existing.IdempotencyKey == msg.IdempotencyKey && existing.KeyWindow == msg.KeyWindow {
			return domain.ErrDuplicate
		}
	}
	m.messages[msg.ID] = msg.Clone()
	return nil
}

func (m *MockMessageRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, id)
	delete(m.attempts, id)
	return nil
}

func (m *MockMessageRepository) GetByID(_ context.Context, id string) (*domain.Message, error) {
	if m.GetByIDErr != nil {
		return nil, m.GetByIDErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return msg.Clone(), nil
}

func (m *MockMessageRepository) GetByIdempotencyKey(_ context.Context, key, window string) (*domain.Message, error) {
	if m.GetByIdempotencyKeyErr != nil {
		return nil, m.GetByIdempotencyKeyErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range m.messages {
		if msg.IdempotencyKey == key && msg.KeyWindow == window {
			return msg.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockMessageRepository) List(_ context.Context, f domain.ListFilter) ([]*domain.Message, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Message
	for _, msg := range m.messages {
		if f.Status != nil && msg.Status != *f.Status {
			continue
		}
		if f.Channel != nil && msg.Channel != *f.Channel {
			continue
		}
		if f.From != nil && msg.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && msg.CreatedAt.After(*f.To) {
			continue
		}
		result = append(result, msg.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, len(result), nil
}

func (m *MockMessageRepository) MarkSent(_ context.Context, id string) (bool, error) {
	if m.MarkErr != nil {
		return false, m.MarkErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.Status.Terminal() {
		return false, nil
	}
	msg.Status = domain.StatusSent
	msg.LastError = nil
	msg.NextRetryAt = nil
	msg.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MockMessageRepository) MarkRetrying(_ context.Context, id string, retryCount int, nextRetryAt time.Time, lastErr string) (bool, error) {
	if m.MarkErr != nil {
		return false, m.MarkErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.Status.Terminal() {
		return false, nil
	}
	msg.Status = domain.StatusRetrying
	msg.RetryCount = retryCount
	msg.NextRetryAt = &nextRetryAt
	msg.LastError = &lastErr
	msg.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MockMessageRepository) MarkFinal(_ context.Context, id string, status domain.Status, retryCount int, lastErr string) (bool, error) {
	if m.MarkErr != nil {
		return false, m.MarkErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return false, nil
	}
	forced := msg.Status == domain.StatusExpired && status == domain.StatusPoisoned
	if msg.Status.Terminal() && !forced {
		return false, nil
	}
	msg.Status = status
	msg.RetryCount = retryCount
	msg.LastError = &lastErr
	msg.NextRetryAt = nil
	msg.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MockMessageRepository) MarkPending(_ context.Context, id string) (bool, error) {
	if m.MarkErr != nil {
		return false, m.MarkErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || (msg.Status != domain.StatusPending && msg.Status != domain.StatusRetrying) {
		return false, nil
	}
	msg.Status = domain.StatusPending
	msg.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MockMessageRepository) ResetForRequeue(_ context.Context, id string) (bool, error) {
	if m.MarkErr != nil {
		return false, m.MarkErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.Status != domain.StatusExpired {
		return false, nil
	}
	msg.Status = domain.StatusPending
	msg.RetryCount = 0
	msg.LastError = nil
	msg.NextRetryAt = nil
	msg.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MockMessageRepository) RecordAttempt(_ context.Context, a *domain.DeliveryAttempt) (bool, error) {
	if m.RecordAttemptErr != nil {
		return false, m.RecordAttemptErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[a.MessageID]
	if !ok || msg.Status.Terminal() {
		return false, nil
	}
	clone := *a
	m.attempts[a.MessageID] = append(m.attempts[a.MessageID], &clone)
	return true, nil
}

func (m *MockMessageRepository) ListAttempts(_ context.Context, messageID string) ([]*domain.DeliveryAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.attempts[messageID]
	result := make([]*domain.DeliveryAttempt, 0, len(stored))
	for _, a := range stored {
		clone := *a
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AttemptNumber < result[j].AttemptNumber
	})
	return result, nil
}

func (m *MockMessageRepository) ChannelStats(_ context.Context, since time.Time) ([]domain.ChannelStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byChannel := make(map[domain.Channel]*domain.ChannelStat)
	for _, msg := range m.messages {
		if msg.CreatedAt.Before(since) {
			continue
		}
		s, ok := byChannel[msg.Channel]
		if !ok {
			s = &domain.ChannelStat{Channel: msg.Channel}
			byChannel[msg.Channel] = s
		}
		switch msg.Status {
		case domain.StatusSent:
			s.Sent++
		case domain.StatusExpired, domain.StatusPoisoned:
			s.Failed++
		default:
			s.InFlight++
		}
		if msg.RetryCount > 0 {
			s.Retried++
		}
	}
	var stats []domain.ChannelStat
	for _, s := range byChannel {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Channel < stats[j].Channel })
	return stats, nil
}

func (m *MockMessageRepository) LatencyStats(_ context.Context, since time.Time) (domain.LatencyStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latencies []int64
	var sum int64
	for _, list := range m.attempts {
		for _, a := range list {
			if a.AttemptedAt.Before(since) {
				continue
			}
			latencies = append(latencies, a.LatencyMs)
			sum += a.LatencyMs
		}
	}
	if len(latencies) == 0 {
		return domain.LatencyStats{}, nil
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	percentile := func(p float64) float64 {
		idx := int(p*float64(len(latencies)-1) + 0.5)
		return float64(latencies[idx])
	}
	return domain.LatencyStats{
		Count:    len(latencies),
		MeanMs:   float64(sum) / float64(len(latencies)),
		MedianMs: percentile(0.5),
		P95Ms:    percentile(0.95),
	}, nil
}

func (m *MockMessageRepository) SuccessRate(_ context.Context, since time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sent, total float64
	for _, list := range m.attempts {
		for _, a := range list {
			if a.AttemptedAt.Before(since) {
				continue
			}
			total++
			if a.Status == domain.StatusSent {
				sent++
			}
		}
	}
	if total == 0 {
		return 1.0, nil
	}
	return sent / total, nil
}

func (m *MockMessageRepository) OldestUnresolved(_ context.Context) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var oldest *time.Time
	for _, msg := range m.messages {
		if msg.Status.Terminal() {
			continue
		}
		if oldest == nil || msg.CreatedAt.Before(*oldest) {
			t := msg.CreatedAt
			oldest = &t
		}
	}
	return oldest, nil
}

func (m *MockMessageRepository) CountPendingOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, msg := range m.messages {
		if msg.Status == domain.StatusPending && msg.UpdatedAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}
