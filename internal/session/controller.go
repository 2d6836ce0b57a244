// Package session hosts the per-view attempt controller: one countdown, one
// autosave channel and the forced-submit trigger for a single open view of
// an attempt.
package session

import (
	"context"
	"sync"
	"time"

	"assessment-attempt-service/internal/clock"
	"assessment-attempt-service/internal/domain"
	"go.uber.org/zap"
)

// DefaultTick is the countdown refresh interval.
const DefaultTick = time.Second

// AttemptClient is the lifecycle API bound to one attempt.
type AttemptClient interface {
	Resume(ctx context.Context) (domain.Attempt, error)
	SaveAnswers(ctx context.Context, answers domain.Answers) error
	Submit(ctx context.Context, answers domain.Answers, reason domain.SubmitReason) (domain.Attempt, error)
}

// Options configures a Controller. Callbacks may be nil and must not call
// back into the controller synchronously.
type Options struct {
	Clock       clock.Clock
	Debounce    time.Duration
	Tick        time.Duration
	Logger      *zap.Logger
	OnTick      func(remaining time.Duration)
	OnSaveState func(SaveState)
	// OnSubmitted fires once when the view learns the attempt is submitted.
	// local is false when another view or the server submitted it.
	OnSubmitted func(attempt domain.Attempt, local bool)
}

// Controller owns the timers of one open attempt view.
type Controller struct {
	client AttemptClient
	opts   Options
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	submitMu sync.Mutex

	mu        sync.Mutex
	attempt   domain.Attempt
	answers   domain.Answers
	deadline  *Deadline
	autosave  *Autosave
	submitted bool
	closed    bool
}

func New(client AttemptClient, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{client: client, opts: opts, logger: logger, ctx: ctx, cancel: cancel}
}

// Open resumes the attempt and arms the view. An attempt already at its
// deadline is submitted before Open returns, so it is never shown editable.
func (c *Controller) Open(ctx context.Context) (domain.Attempt, error) {
	attempt, err := c.client.Resume(ctx)
	if err != nil {
		return domain.Attempt{}, err
	}

	c.mu.Lock()
	c.attempt = attempt
	c.answers = attempt.Answers.Clone()
	if !attempt.InProgress() {
		c.submitted = true
		c.mu.Unlock()
		return attempt, nil
	}
	c.deadline = NewDeadline(c.opts.Clock, attempt.EndTime, c.opts.Tick, c.opts.OnTick, c.expire)
	c.autosave = NewAutosave(c.ctx, c.opts.Clock, c.opts.Debounce, c.client.SaveAnswers, c.opts.OnSaveState, c.logger)
	deadline := c.deadline
	c.mu.Unlock()

	if deadline.Remaining() <= 0 {
		return c.submit(ctx, domain.ReasonDeadline, true)
	}
	deadline.Arm()
	return attempt, nil
}

// Edit replaces the in-memory draft and schedules an autosave.
func (c *Controller) Edit(answers domain.Answers) error {
	c.mu.Lock()
	if c.submitted || c.closed || c.autosave == nil || c.deadline.Remaining() <= 0 {
		c.mu.Unlock()
		return domain.ErrNotEditable
	}
	c.answers = answers.Clone()
	autosave := c.autosave
	c.mu.Unlock()

	autosave.Schedule(answers)
	return nil
}

// Submit is the explicit user submit.
func (c *Controller) Submit(ctx context.Context) (domain.Attempt, error) {
	return c.submit(ctx, domain.ReasonExplicit, false)
}

// Unload is the page-unload safety net: a best-effort submit of the
// in-memory draft, then teardown.
func (c *Controller) Unload(ctx context.Context) {
	if !c.Submitted() {
		if _, err := c.submit(ctx, domain.ReasonUnload, false); err != nil {
			c.logger.Warn("unload submit failed", zap.String("attempt_id", c.Attempt().ID), zap.Error(err))
		}
	}
	c.Close()
}

// Disarm freezes the view after the attempt was submitted elsewhere.
func (c *Controller) Disarm(attempt domain.Attempt) {
	if attempt.Status != domain.StatusSubmitted {
		return
	}
	c.settle(attempt, false)
}

// Close stops the timers without submitting. The attempt keeps counting
// down on the server.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	deadline, autosave := c.deadline, c.autosave
	c.mu.Unlock()

	if deadline != nil {
		deadline.Disarm()
	}
	c.cancel()
	if autosave != nil {
		autosave.Close()
		autosave.Wait()
	}
}

func (c *Controller) Attempt() domain.Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Answers returns the in-memory draft.
func (c *Controller) Answers() domain.Answers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answers.Clone()
}

func (c *Controller) Submitted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitted
}

// Remaining is the time left on the countdown, zero once submitted.
func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitted || c.deadline == nil {
		return 0
	}
	return c.deadline.Remaining()
}

func (c *Controller) SaveState() SaveState {
	c.mu.Lock()
	autosave := c.autosave
	c.mu.Unlock()
	if autosave == nil {
		return SaveIdle
	}
	return autosave.State()
}

func (c *Controller) expire() {
	if _, err := c.submit(c.ctx, domain.ReasonDeadline, true); err != nil {
		c.logger.Error("forced submit failed; left for server reconciliation",
			zap.String("attempt_id", c.Attempt().ID), zap.Error(err))
	}
}

// submit sends the in-memory draft. Calls are serialized and a submitted
// view answers from memory, so the timer and unload paths collapse into
// one request. retry allows one synchronous retry.
func (c *Controller) submit(ctx context.Context, reason domain.SubmitReason, retry bool) (domain.Attempt, error) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	c.mu.Lock()
	if c.submitted {
		attempt := c.attempt
		c.mu.Unlock()
		return attempt, nil
	}
	answers := c.answers.Clone()
	attemptID := c.attempt.ID
	c.mu.Unlock()

	attempt, err := c.client.Submit(ctx, answers, reason)
	if err != nil && retry {
		c.logger.Warn("submit failed, retrying", zap.String("attempt_id", attemptID), zap.Error(err))
		attempt, err = c.client.Submit(ctx, answers, reason)
	}
	if err != nil {
		return domain.Attempt{}, err
	}
	c.settle(attempt, true)
	return attempt, nil
}

func (c *Controller) settle(attempt domain.Attempt, local bool) {
	c.mu.Lock()
	if c.submitted {
		c.mu.Unlock()
		return
	}
	c.submitted = true
	c.attempt = attempt
	c.answers = attempt.Answers.Clone()
	deadline, autosave := c.deadline, c.autosave
	c.mu.Unlock()

	if deadline != nil {
		deadline.Disarm()
	}
	if autosave != nil {
		autosave.Close()
	}
	if cb := c.opts.OnSubmitted; cb != nil {
		cb(attempt, local)
	}
}
