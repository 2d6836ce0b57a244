package session

import (
	"context"
	"sync"
	"time"

	"assessment-attempt-service/internal/clock"
	"assessment-attempt-service/internal/domain"
	"go.uber.org/zap"
)

// SaveState is the passive indicator shown next to the editor.
type SaveState string

const (
	SaveIdle    SaveState = "idle"
	SaveSaving  SaveState = "saving"
	SaveSaved   SaveState = "saved"
	SaveUnsaved SaveState = "unsaved"
)

// DefaultDebounce is the quiet period before a draft is saved.
const DefaultDebounce = 600 * time.Millisecond

// Autosave pushes drafts after a quiet period. At most one save is in
// flight; edits made meanwhile produce a single follow-up save with the
// newest draft. Save errors are logged and only reflected in the state.
type Autosave struct {
	ctx      context.Context
	clock    clock.Clock
	debounce time.Duration
	save     func(context.Context, domain.Answers) error
	onState  func(SaveState)
	logger   *zap.Logger

	mu       sync.Mutex
	timer    clock.Timer
	draft    *domain.Answers
	inflight bool
	followUp bool
	closed   bool
	state    SaveState
	wg       sync.WaitGroup
}

func NewAutosave(ctx context.Context, c clock.Clock, debounce time.Duration, save func(context.Context, domain.Answers) error, onState func(SaveState), logger *zap.Logger) *Autosave {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Autosave{
		ctx:      ctx,
		clock:    c,
		debounce: debounce,
		save:     save,
		onState:  onState,
		logger:   logger,
		state:    SaveIdle,
	}
}

// Schedule records answers as the newest draft and restarts the quiet period.
func (a *Autosave) Schedule(answers domain.Answers) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	draft := answers.Clone()
	a.draft = &draft
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = a.clock.AfterFunc(a.debounce, a.flush)
}

// State returns the last reported save state.
func (a *Autosave) State() SaveState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Close stops all future saves. A save already in flight completes but its
// result no longer changes the state.
func (a *Autosave) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.draft = nil
	a.followUp = false
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// Wait blocks until no save is in flight.
func (a *Autosave) Wait() {
	a.wg.Wait()
}

func (a *Autosave) flush() {
	a.mu.Lock()
	a.timer = nil
	if a.closed || a.draft == nil {
		a.mu.Unlock()
		return
	}
	if a.inflight {
		a.followUp = true
		a.mu.Unlock()
		return
	}
	payload := *a.draft
	a.draft = nil
	a.inflight = true
	a.wg.Add(1)
	a.mu.Unlock()

	a.setState(SaveSaving)
	go a.run(payload)
}

func (a *Autosave) run(payload domain.Answers) {
	defer a.wg.Done()
	for {
		err := a.save(a.ctx, payload)
		if err != nil {
			a.logger.Warn("autosave failed", zap.Error(err))
		}
		state := SaveSaved
		if err != nil {
			state = SaveUnsaved
		}

		a.mu.Lock()
		if !a.closed && a.followUp && a.draft != nil {
			a.followUp = false
			payload = *a.draft
			a.draft = nil
			a.mu.Unlock()
			continue
		}
		a.followUp = false
		a.inflight = false
		closed := a.closed
		a.mu.Unlock()

		if !closed {
			a.setState(state)
		}
		return
	}
}

func (a *Autosave) setState(state SaveState) {
	a.mu.Lock()
	a.state = state
	cb := a.onState
	a.mu.Unlock()
	if cb != nil {
		cb(state)
	}
}
