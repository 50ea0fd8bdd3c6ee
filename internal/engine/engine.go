// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/morganforge/slate/internal/backend"
	"github.com/morganforge/slate/internal/model"
	"github.com/morganforge/slate/internal/settings"
)

// =============================================================================
// STATE
// =============================================================================

// State is the turn-execution state.
type State int

const (
	// StateIdle means no response is being generated.
	StateIdle State = iota
	// StateResponding means a turn is in flight. It doubles as the
	// mutual exclusion for the single active turn, covering the whole
	// entry path from the availability probe onward.
	StateResponding
)

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// Transcript is the active message list the engine mutates. It is
// implemented by the session manager, which owns the list and its
// persistence checkpoints.
type Transcript interface {
	// AppendUser appends a user message (creating a session and
	// touching its preview as needed) and returns it.
	AppendUser(text string) model.Message

	// AppendAssistant appends an empty assistant placeholder, the
	// streaming target, and returns it.
	AppendAssistant() model.Message

	// SetText overwrites the text of the message with the given ID.
	// Unknown IDs are ignored.
	SetText(id, text string)

	// Remove deletes the message with the given ID, reporting
	// whether it existed.
	Remove(id string) bool

	// Snapshot returns a copy of the active message list.
	Snapshot() []model.Message

	// FinishTurn persists the active list and performs lazy title
	// assignment. Called at the turn-completion checkpoint.
	FinishTurn() error
}

// Events are the engine's outbound notifications. Callbacks never run
// under the engine's lock and must not call back into the Engine; hand
// the values off (e.g. via program.Send) instead.
type Events struct {
	// OnPartial fires after a cumulative partial has been applied to
	// the placeholder message. Runs on the turn goroutine.
	OnPartial func(messageID, text string)

	// OnTurnEnd fires exactly once per started turn on the
	// Responding -> Idle transition. err is nil for success and for
	// cancellation (which is not an error), and carries the failure
	// otherwise. A superseded turn's event is delivered by Invalidate
	// on its own goroutine, since its turn goroutine will never
	// report.
	OnTurnEnd func(messageID string, err error)
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine runs chat turns against a Generator, one at a time.
type Engine struct {
	mu     sync.Mutex
	state  State
	gen    uint64 // bumped whenever in-flight work becomes stale
	cancel context.CancelFunc
	turnID string // placeholder message of the current turn, "" while probing
	handle backend.Handle

	backend    backend.Generator
	transcript Transcript
	events     Events
}

// New creates an engine over the given backend and transcript.
func New(gen backend.Generator, transcript Transcript, events Events) *Engine {
	return &Engine{
		backend:    gen,
		transcript: transcript,
		events:     events,
	}
}

// State returns the current turn state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsResponding reports whether a turn is in flight.
func (e *Engine) IsResponding() bool {
	return e.State() == StateResponding
}

// =============================================================================
// TURN RESERVATION
// =============================================================================

// reservation is a turn slot claimed under mu before the availability
// probe runs. Claiming the slot up front keeps Responding authoritative
// for the whole entry path: a concurrent Submit arriving mid-probe sees
// Responding and becomes a cancel request instead of a second turn.
type reservation struct {
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// reserveLocked claims the turn slot. Caller holds mu with state Idle.
func (e *Engine) reserveLocked() reservation {
	e.state = StateResponding
	e.gen++
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.turnID = ""
	return reservation{gen: e.gen, ctx: ctx, cancel: cancel}
}

// launch completes a reserved turn once the availability probe has
// returned. On an unavailable backend the reservation rolls back to
// Idle with nothing appended. A cancellation that arrived during the
// probe still appends via mutate, then ends the turn immediately with
// the empty placeholder kept, mirroring cancellation at any later
// point. Otherwise the turn goroutine starts.
func (e *Engine) launch(r reservation, avail backend.Availability, mutate func() (messageID string), prompt string, snap settings.Snapshot) error {
	e.mu.Lock()
	if r.gen != e.gen {
		// Superseded while probing; Invalidate already restored Idle
		// and delivered the terminal event.
		e.mu.Unlock()
		return nil
	}

	cancelled := r.ctx.Err() != nil
	if !cancelled && !avail.Available {
		e.state = StateIdle
		e.cancel = nil
		e.mu.Unlock()
		r.cancel()
		return &UnavailableError{Reason: avail.Reason}
	}

	messageID := mutate()
	e.turnID = messageID
	e.mu.Unlock()

	if cancelled {
		e.endTurn(r.gen, messageID, nil, false)
		r.cancel()
		return nil
	}

	go e.runTurn(r.ctx, r.cancel, r.gen, messageID, prompt, snap)
	return nil
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit starts a new turn for prompt.
//
// While Responding, Submit appends nothing and instead requests
// cancellation of the in-flight turn — the send control doubles as
// the stop control. Otherwise it appends the user message and the
// assistant placeholder, transitions to Responding, and generates in
// the background.
func (e *Engine) Submit(snap settings.Snapshot, prompt string) error {
	prompt = strings.TrimSpace(prompt)

	e.mu.Lock()
	if e.state == StateResponding {
		cancel := e.cancel
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}
	if prompt == "" {
		e.mu.Unlock()
		return ErrEmptyPrompt
	}
	r := e.reserveLocked()
	e.mu.Unlock()

	avail := e.backend.Availability(r.ctx)

	return e.launch(r, avail, func() string {
		e.transcript.AppendUser(prompt)
		return e.transcript.AppendAssistant().ID
	}, prompt, snap)
}

// =============================================================================
// EDIT AND REGENERATE
// =============================================================================

// EditUserMessage rewrites a user message's text. When the message is
// immediately followed by an assistant message (the latest completed
// turn), that assistant message is removed and the turn is re-run
// with the edited text, reusing the existing generation handle.
// Otherwise the text is updated and persisted with no regeneration.
func (e *Engine) EditUserMessage(id, newText string, snap settings.Snapshot) error {
	newText = strings.TrimSpace(newText)
	if newText == "" {
		return ErrEmptyPrompt
	}

	e.mu.Lock()
	if e.state == StateResponding {
		e.mu.Unlock()
		return ErrTurnInProgress
	}

	msgs := e.transcript.Snapshot()
	idx := indexOf(msgs, id)
	if idx < 0 || msgs[idx].Role != model.RoleUser {
		e.mu.Unlock()
		return nil
	}

	follower := idx + 1
	if follower >= len(msgs) || msgs[follower].Role != model.RoleAssistant {
		// Not the latest turn; just save the edit.
		e.transcript.SetText(id, newText)
		e.mu.Unlock()
		return e.transcript.FinishTurn()
	}

	r := e.reserveLocked()
	e.mu.Unlock()

	avail := e.backend.Availability(r.ctx)

	return e.launch(r, avail, func() string {
		e.transcript.SetText(id, newText)
		e.transcript.Remove(msgs[follower].ID)
		return e.transcript.AppendAssistant().ID
	}, newText, snap)
}

// Regenerate re-runs the turn that produced the given assistant
// message, using the immediately preceding user message as the
// prompt. If the target is not an assistant message or has no user
// message directly before it, Regenerate is a no-op.
func (e *Engine) Regenerate(assistantID string, snap settings.Snapshot) error {
	e.mu.Lock()
	if e.state == StateResponding {
		e.mu.Unlock()
		return ErrTurnInProgress
	}

	msgs := e.transcript.Snapshot()
	idx := indexOf(msgs, assistantID)
	if idx <= 0 || msgs[idx].Role != model.RoleAssistant || msgs[idx-1].Role != model.RoleUser {
		e.mu.Unlock()
		return nil
	}
	prompt := msgs[idx-1].Text

	r := e.reserveLocked()
	e.mu.Unlock()

	avail := e.backend.Availability(r.ctx)

	return e.launch(r, avail, func() string {
		e.transcript.Remove(assistantID)
		return e.transcript.AppendAssistant().ID
	}, prompt, snap)
}

// =============================================================================
// CANCELLATION AND INVALIDATION
// =============================================================================

// Cancel requests cooperative cancellation of the in-flight turn.
// The partial text already applied stays in place; the engine returns
// to Idle once the turn goroutine observes the cancellation. Safe to
// call when Idle.
func (e *Engine) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Invalidate drops the ephemeral generation handle and supersedes any
// in-flight turn: its remaining partials are discarded rather than
// applied. Called when settings change, when a different session is
// loaded, or when the conversation is reset. The backend loses prior
// turn context; the persisted transcript is unaffected.
//
// The superseded turn's goroutine will never report (its gen no longer
// matches), so Invalidate delivers the terminal OnTurnEnd itself —
// otherwise anything blocked waiting for the turn to end would wait
// forever. Delivery is on a fresh goroutine because Invalidate is
// commonly reached from UI hooks that must not block on the callback.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.handle = nil
	e.gen++
	cancel := e.cancel
	e.cancel = nil
	superseded := e.state == StateResponding
	turnID := e.turnID
	e.turnID = ""
	e.state = StateIdle
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if superseded && e.events.OnTurnEnd != nil {
		go e.events.OnTurnEnd(turnID, nil)
	}
}

// =============================================================================
// TURN EXECUTION
// =============================================================================

func (e *Engine) runTurn(ctx context.Context, cancel context.CancelFunc, gen uint64, messageID, prompt string, snap settings.Snapshot) {
	defer cancel()

	h, err := e.ensureHandle(snap.SystemInstructions)
	if err != nil {
		e.endTurn(gen, messageID, &GenerationError{Cause: err}, false)
		return
	}

	opts := backend.Options{Temperature: snap.Temperature}

	if !snap.StreamingEnabled {
		text, err := e.backend.Respond(ctx, h, prompt, opts)
		if err != nil {
			if isCancellation(ctx, err) {
				e.endTurn(gen, messageID, nil, false)
			} else {
				e.endTurn(gen, messageID, &GenerationError{Cause: err}, false)
			}
			return
		}
		if !e.applyPartial(gen, messageID, text) {
			return
		}
		e.endTurn(gen, messageID, nil, true)
		return
	}

	ch, err := e.backend.StreamRespond(ctx, h, prompt, opts)
	if err != nil {
		if isCancellation(ctx, err) {
			e.endTurn(gen, messageID, nil, false)
		} else {
			e.endTurn(gen, messageID, &GenerationError{Cause: err}, false)
		}
		return
	}

	for chunk := range ch {
		if chunk.Err != nil {
			if isCancellation(ctx, chunk.Err) {
				e.endTurn(gen, messageID, nil, false)
			} else {
				e.endTurn(gen, messageID, &GenerationError{Cause: chunk.Err}, false)
			}
			return
		}
		// Each chunk is a cumulative snapshot: replace, never append.
		if !e.applyPartial(gen, messageID, chunk.Text) {
			// Superseded by Invalidate; stop consuming.
			return
		}
	}

	if ctx.Err() != nil {
		// Cancelled between chunks; keep the partial, skip persist.
		e.endTurn(gen, messageID, nil, false)
		return
	}
	e.endTurn(gen, messageID, nil, true)
}

// applyPartial writes a cumulative partial into the placeholder
// message unless the turn has been superseded.
func (e *Engine) applyPartial(gen uint64, messageID, text string) bool {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return false
	}
	e.transcript.SetText(messageID, text)
	e.mu.Unlock()

	if e.events.OnPartial != nil {
		e.events.OnPartial(messageID, text)
	}
	return true
}

// endTurn performs the Responding -> Idle transition. persist is true
// only for successful completion — the defined checkpoint at which
// the session's messages are flushed and the lazy title assigned.
func (e *Engine) endTurn(gen uint64, messageID string, turnErr error, persist bool) {
	e.mu.Lock()
	if gen != e.gen {
		// Invalidate already superseded this turn, restored Idle, and
		// delivered the terminal event.
		e.mu.Unlock()
		return
	}
	e.state = StateIdle
	e.cancel = nil
	e.turnID = ""
	e.mu.Unlock()

	if persist {
		if err := e.transcript.FinishTurn(); err != nil && turnErr == nil {
			turnErr = err
		}
	}

	if e.events.OnTurnEnd != nil {
		e.events.OnTurnEnd(messageID, turnErr)
	}
}

// ensureHandle returns the current generation handle, lazily creating
// one bound to the given instructions. A handle created for different
// instructions is replaced.
func (e *Engine) ensureHandle(instructions string) (backend.Handle, error) {
	e.mu.Lock()
	if e.handle != nil && e.handle.Instructions() == instructions {
		h := e.handle
		e.mu.Unlock()
		return h, nil
	}
	e.mu.Unlock()

	h, err := e.backend.CreateContext(instructions)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.handle = h
	e.mu.Unlock()
	return h, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func isCancellation(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || ctx.Err() != nil
}

func indexOf(msgs []model.Message, id string) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}
