package channel

import (
	"context"
	"time"

	"github.com/brokermate/messaging/internal/model"
)

type ErrorCode string

const (
	ErrNone              ErrorCode = ""
	ErrSessionExpired    ErrorCode = "SESSION_EXPIRED"
	ErrRateLimited       ErrorCode = "RATE_LIMITED"
	ErrRecipientRejected ErrorCode = "RECIPIENT_REJECTED"
	ErrUnknown           ErrorCode = "UNKNOWN"
)

type SendRequest struct {
	Channel    model.Channel
	Recipient  string
	Message    string
	Attachment *model.Attachment
}

// Result is the normalized outcome of a single send attempt. Failure to
// even reach the remote side comes back as ErrUnknown; the adapter never
// returns a Go error and never retries on its own.
type Result struct {
	Success    bool
	ExternalID string
	ErrorCode  ErrorCode
	ErrorText  string

	// RetryAfter is set only for ErrRateLimited.
	RetryAfter time.Duration

	// NeedsManualConfirmation is set when a bridge channel opened an
	// external compose link instead of transmitting directly.
	NeedsManualConfirmation bool
}

// Adapter is the uniform boundary to one family of external chat channels.
// One Send call is exactly one remote attempt.
type Adapter interface {
	Send(ctx context.Context, req SendRequest) Result

	// Configured reports whether the channel can be sent through at all.
	Configured(ch model.Channel) bool

	// RequiresManualConfirmation reports whether sends on this channel
	// end in an external compose step rather than direct transmission.
	RequiresManualConfirmation(ch model.Channel) bool
}
