// Package dispatch orchestrates single interactive sends: optimistic
// ledger insert, one adapter attempt, outcome classification, retry
// hookup for rate limits and session-health marking.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/brokermate/messaging/internal/channel"
	"github.com/brokermate/messaging/internal/ledger"
	"github.com/brokermate/messaging/internal/model"
	"github.com/brokermate/messaging/internal/retry"
	"github.com/brokermate/messaging/internal/session"
)

var (
	ErrNoRecipient          = errors.New("dispatch: recipient must not be empty")
	ErrNoContent            = errors.New("dispatch: content must not be empty")
	ErrUnknownChannel       = errors.New("dispatch: unknown channel")
	ErrChannelNotConfigured = errors.New("dispatch: channel not configured")
	ErrNotResendable        = errors.New("dispatch: only failed messages can be resent")
)

type Dispatcher struct {
	adapter channel.Adapter
	ledger  ledger.Ledger
	cache   ledger.SentCache
	retries *retry.Scheduler
	health  *session.Monitor
}

func NewDispatcher(adapter channel.Adapter, led ledger.Ledger, retries *retry.Scheduler, health *session.Monitor) *Dispatcher {
	return &Dispatcher{
		adapter: adapter,
		ledger:  led,
		retries: retries,
		health:  health,
	}
}

// WithSentCache mirrors confirmed deliveries into a cache (best effort).
func (d *Dispatcher) WithSentCache(cache ledger.SentCache) *Dispatcher {
	d.cache = cache
	return d
}

type SendInput struct {
	Conversation string
	Recipient    string
	Channel      model.Channel
	Content      string
	Attachment   *model.Attachment
}

// Send validates the input, records an optimistic pending message and
// kicks off the remote attempt in the background. The returned message is
// already visible in the ledger when Send returns, so callers can render
// it without waiting on the network.
func (d *Dispatcher) Send(ctx context.Context, in SendInput) (*model.Message, error) {
	if err := d.validate(in); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:           uuid.NewString(),
		Conversation: in.Conversation,
		Recipient:    in.Recipient,
		Channel:      in.Channel,
		Content:      in.Content,
		Attachment:   in.Attachment,
		Direction:    model.DirectionOut,
	}

	if err := d.ledger.InsertOptimistic(ctx, msg); err != nil {
		return nil, err
	}

	go d.attempt(context.WithoutCancel(ctx), msg, true)

	return d.ledger.Get(ctx, msg.ID)
}

// Resend requeues a failed message and attempts it again with the
// identical payload. The session-expired recovery path ends here once the
// operator has reauthenticated the channel.
func (d *Dispatcher) Resend(ctx context.Context, id string) (*model.Message, error) {
	msg, err := d.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Status != model.StatusError {
		return nil, ErrNotResendable
	}

	if err := d.ledger.Requeue(ctx, id); err != nil {
		return nil, err
	}

	go d.attempt(context.WithoutCancel(ctx), msg, true)

	return d.ledger.Get(ctx, id)
}

// Deliver performs one synchronous attempt for a broadcast recipient. No
// retry timer is armed; the broadcast run loop owns its own outcome
// accounting.
func (d *Dispatcher) Deliver(ctx context.Context, msg *model.Message) Outcome {
	return d.attempt(ctx, msg, false)
}

func (d *Dispatcher) validate(in SendInput) error {
	if in.Recipient == "" {
		return ErrNoRecipient
	}
	if in.Content == "" && in.Attachment == nil {
		return ErrNoContent
	}
	if !in.Channel.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, in.Channel)
	}
	if !d.adapter.Configured(in.Channel) {
		return fmt.Errorf("%w: %s", ErrChannelNotConfigured, in.Channel)
	}
	return nil
}

func (d *Dispatcher) attempt(ctx context.Context, msg *model.Message, autoRetry bool) Outcome {
	res := d.adapter.Send(ctx, channel.SendRequest{
		Channel:    msg.Channel,
		Recipient:  msg.Recipient,
		Message:    msg.Content,
		Attachment: msg.Attachment,
	})

	out := Classify(res)
	d.apply(ctx, msg, out, autoRetry)
	return out
}

func (d *Dispatcher) apply(ctx context.Context, msg *model.Message, out Outcome, autoRetry bool) {
	switch {
	case out.Sent:
		if err := d.ledger.MarkSent(ctx, msg.ID, out.ExternalID, out.Annotation); err != nil {
			slog.Error("ledger mark sent failed", "message", msg.ID, "err", err)
			return
		}
		if d.cache != nil && out.ExternalID != "" {
			if err := d.cache.StoreSent(ctx, msg.ID, out.ExternalID, time.Now()); err != nil {
				slog.Warn("sent cache write failed", "message", msg.ID, "err", err)
			}
		}
		slog.Info("message sent", "message", msg.ID, "channel", string(msg.Channel), "external_id", out.ExternalID)

	case out.Retryable && autoRetry:
		note := fmt.Sprintf("queued, retrying in %d seconds", int(out.RetryAfter.Seconds()))
		if err := d.ledger.Annotate(ctx, msg.ID, note); err != nil {
			slog.Error("ledger annotate failed", "message", msg.ID, "err", err)
		}
		// Same payload, same message id. A second rate limit here
		// rearms the timer with the new wait.
		d.retries.Schedule(msg.ID, out.RetryAfter, func() {
			d.attempt(context.Background(), msg, true)
		})
		slog.Info("message rate limited, retry scheduled",
			"message", msg.ID, "channel", string(msg.Channel), "retry_after", out.RetryAfter.String())

	case out.SessionExpired:
		d.health.MarkDegraded(msg.Channel, out.Annotation)
		if err := d.ledger.MarkFailed(ctx, msg.ID, out.Annotation); err != nil {
			slog.Error("ledger mark failed errored", "message", msg.ID, "err", err)
		}

	default:
		if err := d.ledger.MarkFailed(ctx, msg.ID, out.Annotation); err != nil {
			slog.Error("ledger mark failed errored", "message", msg.ID, "err", err)
		}
		slog.Info("message failed", "message", msg.ID, "channel", string(msg.Channel), "reason", out.Annotation)
	}
}
