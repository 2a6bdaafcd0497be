package sender

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/eduanalytics/notify-relay/internal/domain"
)

// Receipt is what a provider hands back when it accepts a message.
type Receipt struct {
	Code   int    // transport status code, 0 when not applicable
	Detail string // provider message id or status line
}

// Sender delivers one message over a single channel.
// Mocking this interface in tests gives full control over provider behaviour
// without making real network calls.
type Sender interface {
	Channel() domain.Channel
	Send(ctx context.Context, msg *domain.Message) (*Receipt, error)
}

// PermanentError marks a failure retrying cannot fix: a rejected payload, an
// unknown recipient, a misconfigured channel. The worker evicts the message
// instead of burning retry budget on it.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so IsPermanent reports true for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// permanentHTTPStatus reports whether a provider status code is beyond
// retrying. Client errors are, except request timeout and rate limiting.
func permanentHTTPStatus(code int) bool {
	if code == 408 || code == 429 {
		return false
	}
	return code >= 400 && code < 500
}

// bodyOf resolves the text a provider should carry. Messages composed from a
// template fall back to a deterministic rendering of the template data when
// no body was supplied.
func bodyOf(msg *domain.Message) string {
	if msg.Body != "" {
		return msg.Body
	}
	if msg.TemplateID == "" {
		return ""
	}
	keys := make([]string, 0, len(msg.TemplateData))
	for k := range msg.TemplateData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", msg.TemplateID)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, msg.TemplateData[k])
	}
	return b.String()
}
