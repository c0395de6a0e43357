// Package broadcast runs mass sends against a fixed audience with
// per-channel pacing. One run loop owns a job's counters; pause, resume
// and cancel are cooperative flags the loop polls between recipients and
// between pacing ticks.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brokermate/messaging/internal/channel"
	"github.com/brokermate/messaging/internal/dispatch"
	"github.com/brokermate/messaging/internal/ledger"
	"github.com/brokermate/messaging/internal/model"
)

var (
	ErrEmptyTemplate        = errors.New("broadcast: template must not be empty")
	ErrUnknownChannel       = errors.New("broadcast: unknown channel")
	ErrChannelNotConfigured = errors.New("broadcast: channel not configured")
	ErrUnknownBroadcast     = errors.New("broadcast: no such broadcast")
	ErrNotRunning           = errors.New("broadcast: broadcast is not running")
)

// DefaultDelays is the stock inter-recipient pacing per channel. The
// personal-session channel is the touchiest about flood control; the
// bridges drive a real browser session and need the most headroom.
var DefaultDelays = map[model.Channel]time.Duration{
	model.ChannelBotAPI:   3 * time.Second,
	model.ChannelPersonal: 7 * time.Second,
	model.ChannelBridgeA:  10 * time.Second,
	model.ChannelBridgeB:  10 * time.Second,
}

const defaultPollInterval = 200 * time.Millisecond

// AudienceResolver turns an audience filter into the fixed, ordered
// recipient list for one run. It is queried exactly once per broadcast.
type AudienceResolver interface {
	Resolve(ctx context.Context, ch model.Channel, filter string) ([]model.Recipient, error)
}

// Config carries pacing settings read once at engine construction.
// Delays override DefaultDelays per channel; PollInterval bounds how
// quickly cancel and pause take effect mid-wait.
type Config struct {
	Delays       map[model.Channel]time.Duration
	PollInterval time.Duration
}

type Engine struct {
	dispatcher *dispatch.Dispatcher
	adapter    channel.Adapter
	ledger     ledger.Ledger
	store      ledger.BroadcastStore
	resolver   AudienceResolver
	cfg        Config

	mu   sync.Mutex
	runs map[string]*run
}

func NewEngine(
	dispatcher *dispatch.Dispatcher,
	adapter channel.Adapter,
	led ledger.Ledger,
	store ledger.BroadcastStore,
	resolver AudienceResolver,
	cfg Config,
) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Engine{
		dispatcher: dispatcher,
		adapter:    adapter,
		ledger:     led,
		store:      store,
		resolver:   resolver,
		cfg:        cfg,
		runs:       make(map[string]*run),
	}
}

type StartRequest struct {
	TemplateRef    string
	Template       string
	AudienceFilter string
	Channel        model.Channel

	// PacingSeconds overrides the channel's configured delay for this
	// job only. Zero means "use the configured delay".
	PacingSeconds int
}

// Start resolves the audience, persists the job and launches the run
// loop. The returned snapshot is already in_progress; progress is read
// through Progress.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*model.Broadcast, error) {
	if req.Template == "" {
		return nil, ErrEmptyTemplate
	}
	if !req.Channel.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, req.Channel)
	}

	job := &model.Broadcast{
		ID:             uuid.NewString(),
		TemplateRef:    req.TemplateRef,
		AudienceFilter: req.AudienceFilter,
		Channel:        req.Channel,
		Status:         model.BroadcastPending,
		StartedAt:      time.Now().UTC(),
	}
	if err := e.store.CreateBroadcast(ctx, job); err != nil {
		return nil, err
	}

	if !e.adapter.Configured(req.Channel) {
		err := fmt.Errorf("%w: %s", ErrChannelNotConfigured, req.Channel)
		e.failBeforeSending(ctx, job, err)
		return nil, err
	}

	recipients, err := e.resolver.Resolve(ctx, req.Channel, req.AudienceFilter)
	if err != nil {
		err = fmt.Errorf("broadcast: audience resolution failed: %w", err)
		e.failBeforeSending(ctx, job, err)
		return nil, err
	}

	job.Total = len(recipients)
	job.Status = model.BroadcastInProgress
	if err := e.store.MarkInProgress(ctx, job.ID, job.StartedAt, job.Total); err != nil {
		return nil, err
	}

	r := &run{job: *job, poll: e.cfg.PollInterval}
	e.mu.Lock()
	e.runs[job.ID] = r
	e.mu.Unlock()

	slog.Info("broadcast started",
		"broadcast", job.ID,
		"channel", string(job.Channel),
		"recipients", job.Total,
		"delay", e.delayFor(req).String(),
	)

	go e.runLoop(r, req.Template, recipients, e.delayFor(req))

	snapshot := r.snapshot()
	return &snapshot, nil
}

func (e *Engine) failBeforeSending(ctx context.Context, job *model.Broadcast, cause error) {
	slog.Error("broadcast setup failed", "broadcast", job.ID, "err", cause)
	if err := e.store.FinalizeBroadcast(ctx, job.ID, model.BroadcastFailed, time.Now()); err != nil {
		slog.Error("broadcast finalize failed", "broadcast", job.ID, "err", err)
	}
}

func (e *Engine) delayFor(req StartRequest) time.Duration {
	if req.PacingSeconds > 0 {
		return time.Duration(req.PacingSeconds) * time.Second
	}
	if d, ok := e.cfg.Delays[req.Channel]; ok && d > 0 {
		return d
	}
	return DefaultDelays[req.Channel]
}

func (e *Engine) runLoop(r *run, template string, recipients []model.Recipient, delay time.Duration) {
	ctx := context.Background()

	for i, rcpt := range recipients {
		if !r.awaitTurn(0) {
			break
		}

		msg := &model.Message{
			ID:           uuid.NewString(),
			Conversation: rcpt.Ref,
			Recipient:    rcpt.Address,
			Channel:      r.job.Channel,
			Content:      Render(template, rcpt.Variables),
			Direction:    model.DirectionOut,
			BroadcastID:  r.job.ID,
		}

		if err := e.ledger.InsertOptimistic(ctx, msg); err != nil {
			slog.Error("broadcast outcome insert failed", "broadcast", r.job.ID, "recipient", rcpt.Ref, "err", err)
			r.recordFailed()
		} else {
			out := e.dispatcher.Deliver(ctx, msg)
			if out.Sent {
				r.recordSent()
			} else {
				r.recordFailed()
			}
		}

		sent, failed := r.counters()
		if err := e.store.UpdateProgress(ctx, r.job.ID, sent, failed); err != nil {
			slog.Warn("broadcast progress write failed", "broadcast", r.job.ID, "err", err)
		}

		if i < len(recipients)-1 {
			if !r.awaitTurn(delay) {
				break
			}
		}
	}

	status := model.BroadcastCompleted
	if r.isCancelled() {
		status = model.BroadcastCancelled
	}
	completedAt := time.Now().UTC()
	r.finalize(status, completedAt)

	if err := e.store.FinalizeBroadcast(ctx, r.job.ID, status, completedAt); err != nil {
		slog.Error("broadcast finalize failed", "broadcast", r.job.ID, "err", err)
	}

	sent, failed := r.counters()
	slog.Info("broadcast finished",
		"broadcast", r.job.ID,
		"status", string(status),
		"sent", sent,
		"failed", failed,
		"total", r.job.Total,
	)
}

// Pause stops advancement after the in-flight recipient finishes. It
// never rolls back or duplicates that recipient.
func (e *Engine) Pause(id string) error {
	r, err := e.lookup(id)
	if err != nil {
		return err
	}
	return r.pause()
}

// Resume continues from the next unprocessed recipient in the original
// order.
func (e *Engine) Resume(id string) error {
	r, err := e.lookup(id)
	if err != nil {
		return err
	}
	return r.resume()
}

// Cancel stops the run at the next safe checkpoint; counters keep exactly
// the recipients processed so far.
func (e *Engine) Cancel(id string) error {
	r, err := e.lookup(id)
	if err != nil {
		return err
	}
	return r.cancel()
}

// Progress returns a consistent (sent, failed, total) snapshot, live runs
// included.
func (e *Engine) Progress(ctx context.Context, id string) (*model.Broadcast, error) {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()

	if ok {
		snapshot := r.snapshot()
		return &snapshot, nil
	}

	job, err := e.store.GetBroadcast(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrUnknownBroadcast
	}
	return job, err
}

// Paused reports whether the run is currently pause-gated.
func (e *Engine) Paused(id string) bool {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	return ok && r.isPaused()
}

func (e *Engine) lookup(id string) (*run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.runs[id]
	if !ok {
		return nil, ErrUnknownBroadcast
	}
	return r, nil
}

// run is the mutable state of one live broadcast. Only the run loop
// mutates counters; control flags flip under the same lock.
type run struct {
	mu        sync.Mutex
	job       model.Broadcast
	paused    bool
	cancelled bool
	finished  bool
	poll      time.Duration
}

// awaitTurn waits out the pacing delay, honoring pause and cancel at
// every poll tick. Paused time does not count toward the delay. Returns
// false once the run is cancelled.
func (r *run) awaitTurn(delay time.Duration) bool {
	var elapsed time.Duration
	for {
		r.mu.Lock()
		cancelled, paused := r.cancelled, r.paused
		r.mu.Unlock()

		if cancelled {
			return false
		}
		if paused {
			time.Sleep(r.poll)
			continue
		}
		if elapsed >= delay {
			return true
		}

		step := r.poll
		if remaining := delay - elapsed; remaining < step {
			step = remaining
		}
		time.Sleep(step)
		elapsed += step
	}
}

func (r *run) pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished || r.cancelled {
		return ErrNotRunning
	}
	r.paused = true
	return nil
}

func (r *run) resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished || r.cancelled {
		return ErrNotRunning
	}
	r.paused = false
	return nil
}

func (r *run) cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return ErrNotRunning
	}
	r.cancelled = true
	return nil
}

func (r *run) recordSent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.job.SentCount++
}

func (r *run) recordFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.job.FailedCount++
}

func (r *run) counters() (sent, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.SentCount, r.job.FailedCount
}

func (r *run) finalize(status model.BroadcastStatus, completedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return
	}
	r.finished = true
	r.job.Status = status
	t := completedAt
	r.job.CompletedAt = &t
}

func (r *run) snapshot() model.Broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job
}

func (r *run) isPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

func (r *run) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}
