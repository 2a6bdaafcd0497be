package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/eduanalytics/notify-relay/internal/domain"
)

// hourBucket is the layout for the scheduled-send component of a key. Two
// identical notifications scheduled in different hours are distinct sends.
const hourBucket = "2006010215"

// dayBucket is the layout for the uniqueness window of immediate sends.
const dayBucket = "20060102"

// ContentHash returns the SHA-256 hex digest of the canonical content
// serialization. Template data is folded in with sorted keys, so logically
// equal payloads hash identically regardless of map iteration order.
func ContentHash(subject, body, templateID string, templateData map[string]string) string {
	h := sha256.New()
	h.Write([]byte(subject))
	h.Write([]byte{0})
	h.Write([]byte(body))
	h.Write([]byte{0})
	h.Write([]byte(templateID))
	if len(templateData) > 0 {
		keys := make([]string, 0, len(templateData))
		for k := range templateData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h.Write([]byte{0})
			h.Write([]byte(k))
			h.Write([]byte{0x1f})
			h.Write([]byte(templateData[k]))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// KeyFor builds the dedup key recipientID:channel:contentHash. Scheduled
// sends append the UTC hour bucket of the scheduled time.
func KeyFor(recipientID string, ch domain.Channel, contentHash string, scheduledAt *time.Time) string {
	var b strings.Builder
	b.WriteString(recipientID)
	b.WriteByte(':')
	b.WriteString(string(ch))
	b.WriteByte(':')
	b.WriteString(contentHash)
	if scheduledAt != nil {
		b.WriteByte(':')
		b.WriteString(scheduledAt.UTC().Format(hourBucket))
	}
	return b.String()
}

// KeyForRequest derives the full key for a send request, honoring a
// caller-supplied key when present.
func KeyForRequest(r *domain.SendRequest) string {
	if r.IdempotencyKey != "" {
		return r.IdempotencyKey
	}
	hash := ContentHash(r.Subject, r.Body, r.TemplateID, r.TemplateData)
	return KeyFor(r.RecipientID, r.Channel, hash, r.ScheduledAt)
}

// WindowFor returns the uniqueness window bucket persisted next to a key:
// the UTC hour of the scheduled send when present, else the UTC day of
// creation. The pair (key, window) is unique in the message store while the
// ephemeral store enforces the rolling TTL on the key alone.
func WindowFor(scheduledAt *time.Time, createdAt time.Time) string {
	if scheduledAt != nil {
		return scheduledAt.UTC().Format(hourBucket)
	}
	return createdAt.UTC().Format(dayBucket)
}
