package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound            = errors.New("notification not found")
	ErrDuplicate           = errors.New("duplicate: idempotency key already seen in this window")
	ErrInvalidChannel      = errors.New("invalid channel: must be email, sms, telegram, push, or in_app")
	ErrInvalidPriority     = errors.New("invalid priority: must be between 1 and 5")
	ErrInvalidStrategy     = errors.New("invalid retry strategy: must be exponential, linear, fixed, or immediate")
	ErrInvalidRecipient    = errors.New("recipient id must not be empty")
	ErrMissingAddress      = errors.New("recipient address is required for this channel")
	ErrInvalidBody         = errors.New("body or template id required, body at most 4096 characters")
	ErrInvalidMaxRetries   = errors.New("max retries must not be negative")
	ErrExpiresInPast       = errors.New("expires_at must be in the future")
	ErrScheduleAfterExpiry = errors.New("scheduled_at must not be after expires_at")
	ErrBulkEmpty           = errors.New("bulk request must contain at least one notification")
	ErrBulkTooLarge        = errors.New("bulk request exceeds maximum of 1000 notifications")
	ErrQueueFull           = errors.New("queue is at capacity, try again later")
)
