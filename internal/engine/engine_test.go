// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morganforge/slate/internal/backend"
	"github.com/morganforge/slate/internal/kvstore"
	"github.com/morganforge/slate/internal/model"
	"github.com/morganforge/slate/internal/session"
	"github.com/morganforge/slate/internal/settings"
	"github.com/morganforge/slate/internal/storage"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeHandle struct {
	instructions string
}

func (h *fakeHandle) Instructions() string { return h.instructions }

// fakeGenerator scripts the backend per test via function fields.
type fakeGenerator struct {
	avail     backend.Availability
	availFn   func(ctx context.Context) backend.Availability
	streamFn  func(ctx context.Context, prompt string) (<-chan backend.Chunk, error)
	respondFn func(ctx context.Context, prompt string) (string, error)
	contexts  atomic.Int32
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{avail: backend.Availability{Available: true}}
}

func (g *fakeGenerator) Availability(ctx context.Context) backend.Availability {
	if g.availFn != nil {
		return g.availFn(ctx)
	}
	return g.avail
}

func (g *fakeGenerator) CreateContext(instructions string) (backend.Handle, error) {
	g.contexts.Add(1)
	return &fakeHandle{instructions: instructions}, nil
}

func (g *fakeGenerator) Respond(ctx context.Context, h backend.Handle, prompt string, opts backend.Options) (string, error) {
	if g.respondFn != nil {
		return g.respondFn(ctx, prompt)
	}
	return "ok", nil
}

func (g *fakeGenerator) StreamRespond(ctx context.Context, h backend.Handle, prompt string, opts backend.Options) (<-chan backend.Chunk, error) {
	if g.streamFn != nil {
		return g.streamFn(ctx, prompt)
	}
	return emitChunks(backend.Chunk{Text: "ok"}), nil
}

// emitChunks returns a channel that yields the given chunks and closes.
func emitChunks(chunks ...backend.Chunk) <-chan backend.Chunk {
	ch := make(chan backend.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	eng      *Engine
	manager  *session.Manager
	gen      *fakeGenerator
	partials chan string
	turnEnds chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		gen:      newFakeGenerator(),
		manager:  session.NewManager(storage.New(kvstore.NewMemoryStore())),
		partials: make(chan string, 64),
		turnEnds: make(chan error, 8),
	}
	h.eng = New(h.gen, h.manager, Events{
		OnPartial: func(_, text string) { h.partials <- text },
		OnTurnEnd: func(_ string, err error) { h.turnEnds <- err },
	})
	h.manager.OnActiveChanged = h.eng.Invalidate
	return h
}

func (h *harness) waitTurnEnd(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.turnEnds:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not end")
		return nil
	}
}

func (h *harness) waitPartial(t *testing.T) string {
	t.Helper()
	select {
	case text := <-h.partials:
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("no partial arrived")
		return ""
	}
}

func (h *harness) expectNoTurnEnd(t *testing.T) {
	t.Helper()
	select {
	case err := <-h.turnEnds:
		t.Fatalf("unexpected turn end: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func defaultSnap() settings.Snapshot {
	return settings.Snapshot{
		StreamingEnabled:   true,
		Temperature:        0.7,
		SystemInstructions: "You are a helpful assistant.",
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmitStreamsCumulativeSnapshots(t *testing.T) {
	h := newHarness(t)
	h.gen.streamFn = func(ctx context.Context, prompt string) (<-chan backend.Chunk, error) {
		return emitChunks(
			backend.Chunk{Text: "Hel"},
			backend.Chunk{Text: "Hello"},
			backend.Chunk{Text: "Hello there"},
		), nil
	}

	require.NoError(t, h.eng.Submit(defaultSnap(), "hi"))
	require.NoError(t, h.waitTurnEnd(t))

	msgs := h.manager.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Text)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello there", msgs[1].Text, "each partial replaces the text wholesale")

	assert.Equal(t, StateIdle, h.eng.State())

	// Success is the persistence checkpoint: the lazy title is set.
	s, ok := h.manager.ActiveSession()
	require.True(t, ok)
	assert.Equal(t, "hi", s.Title)
}

func TestSubmitRejectsEmptyPrompt(t *testing.T) {
	h := newHarness(t)

	err := h.eng.Submit(defaultSnap(), "   \n\t ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Empty(t, h.manager.Snapshot(), "nothing may be appended on rejection")
	assert.Equal(t, StateIdle, h.eng.State())
}

func TestSubmitWhenUnavailable(t *testing.T) {
	h := newHarness(t)
	h.gen.avail = backend.Availability{Reason: backend.ReasonModelNotReady}

	err := h.eng.Submit(defaultSnap(), "hi")
	var unavail *UnavailableError
	require.ErrorAs(t, err, &unavail)
	assert.Equal(t, backend.ReasonModelNotReady, unavail.Reason)
	assert.Empty(t, h.manager.Snapshot())
	assert.Equal(t, StateIdle, h.eng.State())

	// The failed submit must release the turn slot.
	h.gen.avail = backend.Availability{Available: true}
	require.NoError(t, h.eng.Submit(defaultSnap(), "hi"))
	require.NoError(t, h.waitTurnEnd(t))
	assert.Len(t, h.manager.Snapshot(), 2)
}

func TestSubmitDuringAvailabilityProbeCancels(t *testing.T) {
	h := newHarness(t)
	probing := make(chan struct{})
	h.gen.availFn = func(ctx context.Context) backend.Availability {
		close(probing)
		<-ctx.Done()
		return backend.Availability{Available: true}
	}

	errs := make(chan error, 1)
	go func() { errs <- h.eng.Submit(defaultSnap(), "first question") }()
	<-probing

	// The first submit already claimed the turn slot, so this is a
	// cancel request even though generation has not started yet.
	require.NoError(t, h.eng.Submit(defaultSnap(), "second question"))
	require.NoError(t, <-errs)
	assert.NoError(t, h.waitTurnEnd(t))

	msgs := h.manager.Snapshot()
	require.Len(t, msgs, 2, "only the first submit may append its pair")
	assert.Equal(t, "first question", msgs[0].Text)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "", msgs[1].Text, "the cancelled turn keeps its empty placeholder")
	assert.Equal(t, StateIdle, h.eng.State())
}

func TestSubmitWhileRespondingCancels(t *testing.T) {
	h := newHarness(t)
	h.gen.streamFn = func(ctx context.Context, prompt string) (<-chan backend.Chunk, error) {
		ch := make(chan backend.Chunk, 1)
		ch <- backend.Chunk{Text: "partial answer"}
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	}

	require.NoError(t, h.eng.Submit(defaultSnap(), "long question"))
	h.waitPartial(t)
	require.True(t, h.eng.IsResponding())

	// The send control doubles as stop: no new message, just cancel.
	require.NoError(t, h.eng.Submit(defaultSnap(), "another question"))

	// Cancellation is not an error.
	assert.NoError(t, h.waitTurnEnd(t))
	assert.Equal(t, StateIdle, h.eng.State())

	msgs := h.manager.Snapshot()
	require.Len(t, msgs, 2, "the second submit must append nothing")
	assert.Equal(t, "partial answer", msgs[1].Text, "partial text survives cancellation")

	// Cancellation skips the persistence checkpoint.
	s, ok := h.manager.ActiveSession()
	require.True(t, ok)
	assert.Equal(t, model.DefaultTitle, s.Title)
}

func TestCancelWhenIdleIsSafe(t *testing.T) {
	h := newHarness(t)
	h.eng.Cancel()
	assert.Equal(t, StateIdle, h.eng.State())
}

func TestNonStreamingRespond(t *testing.T) {
	h := newHarness(t)
	h.gen.respondFn = func(ctx context.Context, prompt string) (string, error) {
		return "full answer", nil
	}

	snap := defaultSnap()
	snap.StreamingEnabled = false
	require.NoError(t, h.eng.Submit(snap, "hi"))
	require.NoError(t, h.waitTurnEnd(t))

	msgs := h.manager.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "full answer", msgs[1].Text)
}

func TestGenerationFailureSurfaces(t *testing.T) {
	h := newHarness(t)
	cause := errors.New("model exploded")
	h.gen.streamFn = func(ctx context.Context, prompt string) (<-chan backend.Chunk, error) {
		return emitChunks(backend.Chunk{Err: cause}), nil
	}

	require.NoError(t, h.eng.Submit(defaultSnap(), "hi"))
	err := h.waitTurnEnd(t)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, StateIdle, h.eng.State())
}

// =============================================================================
// INVALIDATION
// =============================================================================

func TestInvalidateDropsStalePartials(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	emitted := make(chan struct{})
	h.gen.streamFn = func(ctx context.Context, prompt string) (<-chan backend.Chunk, error) {
		ch := make(chan backend.Chunk)
		go func() {
			defer close(ch)
			defer close(emitted)
			ch <- backend.Chunk{Text: "first"}
			<-release
			select {
			case ch <- backend.Chunk{Text: "first second"}:
			case <-ctx.Done():
			}
		}()
		return ch, nil
	}

	require.NoError(t, h.eng.Submit(defaultSnap(), "hi"))
	assert.Equal(t, "first", h.waitPartial(t))

	h.eng.Invalidate()

	// The superseded turn's goroutine never reports, so invalidation
	// must deliver the terminal event itself.
	assert.NoError(t, h.waitTurnEnd(t))

	close(release)
	<-emitted

	h.expectNoTurnEnd(t)
	assert.Equal(t, StateIdle, h.eng.State())

	msgs := h.manager.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[1].Text, "partials after invalidation must not be applied")
}

func TestSessionSwitchSupersedesTurn(t *testing.T) {
	h := newHarness(t)

	// Seed a second session to switch to.
	h.manager.AppendUser("old thread")
	require.NoError(t, h.manager.FinishTurn())
	oldID := h.manager.ActiveID()
	h.manager.NewConversation()

	h.gen.streamFn = func(ctx context.Context, prompt string) (<-chan backend.Chunk, error) {
		ch := make(chan backend.Chunk, 1)
		ch <- backend.Chunk{Text: "partial"}
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	}

	require.NoError(t, h.eng.Submit(defaultSnap(), "hi"))
	h.waitPartial(t)

	// The switch fires OnActiveChanged, wired to Invalidate, which
	// delivers the superseded turn's terminal event.
	h.manager.Switch(oldID)
	assert.NoError(t, h.waitTurnEnd(t))

	h.expectNoTurnEnd(t)
	assert.Equal(t, StateIdle, h.eng.State())

	msgs := h.manager.Snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "old thread", msgs[0].Text, "the in-flight turn must not leak into the switched-to session")
}

func TestSettingsChangeMidTurnReleasesWaiter(t *testing.T) {
	h := newHarness(t)
	sm := settings.NewManager(filepath.Join(t.TempDir(), "config.toml"))
	sm.OnChange = h.eng.Invalidate

	h.gen.streamFn = func(ctx context.Context, prompt string) (<-chan backend.Chunk, error) {
		ch := make(chan backend.Chunk, 1)
		ch <- backend.Chunk{Text: "partial"}
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	}

	require.NoError(t, h.eng.Submit(sm.Snapshot(), "hi"))
	h.waitPartial(t)

	// A settings change while generating supersedes the turn; anything
	// blocked until the turn ends must still be released.
	require.NoError(t, sm.Update(func(s *settings.Snapshot) { s.Temperature = 1.0 }))

	assert.NoError(t, h.waitTurnEnd(t))
	assert.Equal(t, StateIdle, h.eng.State())
}

func TestHandleReuseAndRecreation(t *testing.T) {
	h := newHarness(t)

	snap := defaultSnap()
	require.NoError(t, h.eng.Submit(snap, "one"))
	require.NoError(t, h.waitTurnEnd(t))
	require.NoError(t, h.eng.Submit(snap, "two"))
	require.NoError(t, h.waitTurnEnd(t))
	assert.Equal(t, int32(1), h.gen.contexts.Load(), "same instructions reuse the handle")

	// Changed instructions force a fresh handle.
	snap.SystemInstructions = "Answer in French."
	require.NoError(t, h.eng.Submit(snap, "trois"))
	require.NoError(t, h.waitTurnEnd(t))
	assert.Equal(t, int32(2), h.gen.contexts.Load())

	// Invalidation drops the handle even for identical instructions.
	h.eng.Invalidate()
	require.NoError(t, h.eng.Submit(snap, "quatre"))
	require.NoError(t, h.waitTurnEnd(t))
	assert.Equal(t, int32(3), h.gen.contexts.Load())
}

// =============================================================================
// EDIT AND REGENERATE
// =============================================================================

func TestEditUserMessageRerunsLatestTurn(t *testing.T) {
	h := newHarness(t)
	h.gen.streamFn = func(ctx context.Context, prompt string) (<-chan backend.Chunk, error) {
		return emitChunks(backend.Chunk{Text: "answer to " + prompt}), nil
	}

	require.NoError(t, h.eng.Submit(defaultSnap(), "original"))
	require.NoError(t, h.waitTurnEnd(t))
	userID := h.manager.Snapshot()[0].ID

	require.NoError(t, h.eng.EditUserMessage(userID, "edited", defaultSnap()))
	require.NoError(t, h.waitTurnEnd(t))

	msgs := h.manager.Snapshot()
	require.Len(t, msgs, 2, "the old assistant message is replaced, not appended to")
	assert.Equal(t, "edited", msgs[0].Text)
	assert.Equal(t, "answer to edited", msgs[1].Text)
}

func TestEditUserMessageWithoutFollowerJustSaves(t *testing.T) {
	h := newHarness(t)

	u := h.manager.AppendUser("only message")
	require.NoError(t, h.manager.FinishTurn())

	require.NoError(t, h.eng.EditUserMessage(u.ID, "rewritten", defaultSnap()))
	h.expectNoTurnEnd(t)

	msgs := h.manager.Snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "rewritten", msgs[0].Text)
}

func TestEditRejectedWhileResponding(t *testing.T) {
	h := newHarness(t)
	h.gen.streamFn = func(ctx context.Context, prompt string) (<-chan backend.Chunk, error) {
		ch := make(chan backend.Chunk, 1)
		ch <- backend.Chunk{Text: "..."}
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	}

	require.NoError(t, h.eng.Submit(defaultSnap(), "hi"))
	h.waitPartial(t)
	userID := h.manager.Snapshot()[0].ID

	err := h.eng.EditUserMessage(userID, "too late", defaultSnap())
	assert.ErrorIs(t, err, ErrTurnInProgress)

	h.eng.Cancel()
	h.waitTurnEnd(t)
}

func TestRegenerateReplacesAssistantMessage(t *testing.T) {
	h := newHarness(t)
	responses := []string{"take one", "take two"}
	h.gen.streamFn = func(ctx context.Context, prompt string) (<-chan backend.Chunk, error) {
		text := responses[0]
		responses = responses[1:]
		return emitChunks(backend.Chunk{Text: text}), nil
	}

	require.NoError(t, h.eng.Submit(defaultSnap(), "hi"))
	require.NoError(t, h.waitTurnEnd(t))
	assistantID := h.manager.Snapshot()[1].ID

	require.NoError(t, h.eng.Regenerate(assistantID, defaultSnap()))
	require.NoError(t, h.waitTurnEnd(t))

	msgs := h.manager.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "take two", msgs[1].Text)
	assert.NotEqual(t, assistantID, msgs[1].ID, "regeneration replaces the placeholder")
}

func TestRegenerateRequiresPrecedingUserMessage(t *testing.T) {
	h := newHarness(t)

	// An assistant message directly after another assistant message
	// has no prompt to re-run.
	h.manager.AppendUser("hi")
	first := h.manager.AppendAssistant()
	h.manager.SetText(first.ID, "take one")
	second := h.manager.AppendAssistant()
	h.manager.SetText(second.ID, "take two")

	require.NoError(t, h.eng.Regenerate(second.ID, defaultSnap()))
	h.expectNoTurnEnd(t)

	msgs := h.manager.Snapshot()
	require.Len(t, msgs, 3)
	assert.Equal(t, "take two", msgs[2].Text)
	assert.Equal(t, StateIdle, h.eng.State())

	// An assistant message at the head of the list has none either.
	h2 := newHarness(t)
	lone := h2.manager.AppendAssistant()
	require.NoError(t, h2.eng.Regenerate(lone.ID, defaultSnap()))
	h2.expectNoTurnEnd(t)
	require.Len(t, h2.manager.Snapshot(), 1)
}

func TestRegenerateIgnoresNonAssistantTargets(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.eng.Submit(defaultSnap(), "hi"))
	require.NoError(t, h.waitTurnEnd(t))
	userID := h.manager.Snapshot()[0].ID

	require.NoError(t, h.eng.Regenerate(userID, defaultSnap()))
	h.expectNoTurnEnd(t)
	require.NoError(t, h.eng.Regenerate("missing", defaultSnap()))
	h.expectNoTurnEnd(t)
}
