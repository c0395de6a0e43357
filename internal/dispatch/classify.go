package dispatch

import (
	"fmt"
	"time"

	"github.com/brokermate/messaging/internal/channel"
)

// Outcome is the classified result of one send attempt. Interactive sends
// and broadcast recipients both flow through Classify so the two paths
// can never disagree on what a gateway response means.
type Outcome struct {
	Sent        bool
	ExternalID  string
	NeedsManual bool

	// Retryable is set for rate limits only; RetryAfter carries the
	// server-specified wait.
	Retryable  bool
	RetryAfter time.Duration

	// SessionExpired means the channel needs external reauthentication.
	SessionExpired bool

	Annotation string
}

func Classify(res channel.Result) Outcome {
	if res.Success {
		out := Outcome{
			Sent:        true,
			ExternalID:  res.ExternalID,
			NeedsManual: res.NeedsManualConfirmation,
		}
		if res.NeedsManualConfirmation {
			out.Annotation = "dispatched, awaiting manual confirmation"
		}
		return out
	}

	switch res.ErrorCode {
	case channel.ErrRateLimited:
		return Outcome{
			Retryable:  true,
			RetryAfter: res.RetryAfter,
			Annotation: fmt.Sprintf("rate limited, wait %d seconds", int(res.RetryAfter.Seconds())),
		}
	case channel.ErrSessionExpired:
		return Outcome{
			SessionExpired: true,
			Annotation:     "session expired, reconnect required",
		}
	case channel.ErrRecipientRejected:
		return Outcome{Annotation: withDetail("recipient rejected the message", res.ErrorText)}
	default:
		return Outcome{Annotation: withDetail("send failed", res.ErrorText)}
	}
}

func withDetail(base, detail string) string {
	if detail == "" {
		return base
	}
	return base + ": " + detail
}
