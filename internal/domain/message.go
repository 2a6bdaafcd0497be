package domain

import "time"

// Channel is the delivery channel for a notification.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelTelegram Channel = "telegram"
	ChannelPush     Channel = "push"
	ChannelInApp    Channel = "in_app"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelTelegram, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

// Channels lists every valid channel in a stable order.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelTelegram, ChannelPush, ChannelInApp}
}

// RetryStrategy selects the backoff table applied between delivery attempts.
type RetryStrategy string

const (
	StrategyExponential RetryStrategy = "exponential"
	StrategyLinear      RetryStrategy = "linear"
	StrategyFixed       RetryStrategy = "fixed"
	StrategyImmediate   RetryStrategy = "immediate"
)

func (s RetryStrategy) IsValid() bool {
	switch s {
	case StrategyExponential, StrategyLinear, StrategyFixed, StrategyImmediate:
		return true
	}
	return false
}

// Status tracks the lifecycle of a message. sent, expired and poisoned are
// terminal: once reached, delivery attempts stop being recorded for the message.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
	StatusRetrying Status = "retrying"
	StatusExpired  Status = "expired"
	StatusPoisoned Status = "poisoned"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusExpired, StatusPoisoned:
		return true
	}
	return false
}

// Priority bounds. 1 is delivered first, 5 last.
const (
	PriorityHighest = 1
	PriorityDefault = 3
	PriorityLowest  = 5
)

// Message is the core domain entity. The JSON tags define the queue entry
// schema: messages cross queue boundaries as this struct, never as loose maps.
type Message struct {
	ID               string            `json:"id"`
	IdempotencyKey   string            `json:"idempotency_key"`
	KeyWindow        string            `json:"key_window,omitempty"`
	RecipientID      string            `json:"recipient_id"`
	Channel          Channel           `json:"channel"`
	RecipientAddress string            `json:"recipient_address,omitempty"`
	Subject          string            `json:"subject,omitempty"`
	Body             string            `json:"body"`
	TemplateID       string            `json:"template_id,omitempty"`
	TemplateData     map[string]string `json:"template_data,omitempty"`
	Priority         int               `json:"priority"`
	RetryCount       int               `json:"retry_count"`
	MaxRetries       int               `json:"max_retries"`
	RetryStrategy    RetryStrategy     `json:"retry_strategy"`
	Status           Status            `json:"status"`
	LastError        *string           `json:"last_error,omitempty"`
	NextRetryAt      *time.Time        `json:"next_retry_at,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	ScheduledAt      *time.Time        `json:"scheduled_at,omitempty"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Expired reports whether the message's TTL has passed at the given instant.
// Messages without an expiry never expire.
func (m *Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// Clone returns a deep copy. Maps and time pointers are duplicated so the
// copy can be mutated without aliasing the original.
func (m *Message) Clone() *Message {
	cp := *m
	if m.TemplateData != nil {
		cp.TemplateData = make(map[string]string, len(m.TemplateData))
		for k, v := range m.TemplateData {
			cp.TemplateData[k] = v
		}
	}
	if m.Metadata != nil {
		cp.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	if m.LastError != nil {
		le := *m.LastError
		cp.LastError = &le
	}
	if m.NextRetryAt != nil {
		t := *m.NextRetryAt
		cp.NextRetryAt = &t
	}
	if m.ScheduledAt != nil {
		t := *m.ScheduledAt
		cp.ScheduledAt = &t
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}

// DeliveryAttempt is one recorded try against a provider. AttemptNumber is
// 1-based and strictly increasing per message with no gaps.
type DeliveryAttempt struct {
	ID              string    `json:"id"`
	MessageID       string    `json:"message_id"`
	AttemptNumber   int       `json:"attempt_number"`
	AttemptedAt     time.Time `json:"attempted_at"`
	Status          Status    `json:"status"`
	ResponseCode    int       `json:"response_code,omitempty"`
	ResponseMessage string    `json:"response_message,omitempty"`
	LatencyMs       int64     `json:"latency_ms"`
	ErrorDetails    *string   `json:"error_details,omitempty"`
}

// Disposition is the outcome of an enqueue call.
type Disposition string

const (
	DispositionQueued    Disposition = "queued"
	DispositionScheduled Disposition = "scheduled"
	DispositionDuplicate Disposition = "blocked_duplicate"
)

// SendRequest is the inbound payload for a single notification.
type SendRequest struct {
	RecipientID      string            `json:"recipient_id"`
	Channel          Channel           `json:"channel"`
	RecipientAddress string            `json:"recipient_address,omitempty"`
	Subject          string            `json:"subject,omitempty"`
	Body             string            `json:"body,omitempty"`
	TemplateID       string            `json:"template_id,omitempty"`
	TemplateData     map[string]string `json:"template_data,omitempty"`
	Priority         int               `json:"priority,omitempty"`
	MaxRetries       int               `json:"max_retries,omitempty"`
	RetryStrategy    RetryStrategy     `json:"retry_strategy,omitempty"`
	IdempotencyKey   string            `json:"idempotency_key,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	ScheduledAt      *time.Time        `json:"scheduled_at,omitempty"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
}

func (r *SendRequest) Validate(now time.Time) error {
	if !r.Channel.IsValid() {
		return ErrInvalidChannel
	}
	if r.RecipientID == "" {
		return ErrInvalidRecipient
	}
	if r.Channel != ChannelInApp && r.RecipientAddress == "" {
		return ErrMissingAddress
	}
	if r.Body == "" && r.TemplateID == "" {
		return ErrInvalidBody
	}
	if len(r.Body) > 4096 {
		return ErrInvalidBody
	}
	if r.Priority != 0 && (r.Priority < PriorityHighest || r.Priority > PriorityLowest) {
		return ErrInvalidPriority
	}
	if r.RetryStrategy != "" && !r.RetryStrategy.IsValid() {
		return ErrInvalidStrategy
	}
	if r.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return ErrExpiresInPast
	}
	if r.ExpiresAt != nil && r.ScheduledAt != nil && r.ScheduledAt.After(*r.ExpiresAt) {
		return ErrScheduleAfterExpiry
	}
	return nil
}

// BulkRequest wraps a slice of send requests dispatched together.
type BulkRequest struct {
	Notifications []SendRequest `json:"notifications"`
}

// ListFilter holds query parameters for paginated message listing.
type ListFilter struct {
	Status  *Status
	Channel *Channel
	From    *time.Time
	To      *time.Time
	Page    int
	Limit   int
}
