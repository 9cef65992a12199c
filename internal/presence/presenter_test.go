package presence

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/driftlabs/driftboard/internal/board"
)

type captureEmitter struct {
	mu        sync.Mutex
	started   []PresenterInfo
	ended     []PresenterInfo
	viewports []board.Viewport
}

func (e *captureEmitter) PresenterStarted(info PresenterInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, info)
}

func (e *captureEmitter) PresenterEnded(info PresenterInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ended = append(e.ended, info)
}

func (e *captureEmitter) PresenterViewport(viewport board.Viewport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.viewports = append(e.viewports, viewport)
}

func (e *captureEmitter) viewportCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.viewports)
}

type viewportHarness struct {
	mu      sync.Mutex
	current board.Viewport
	adopted []board.Viewport
}

func (h *viewportHarness) viewport() board.Viewport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *viewportHarness) set(viewport board.Viewport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = viewport
}

func (h *viewportHarness) adopt(viewport board.Viewport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.adopted = append(h.adopted, viewport)
}

func (h *viewportHarness) adoptedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.adopted)
}

func (h *viewportHarness) lastAdopted(t *testing.T) board.Viewport {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.adopted) == 0 {
		t.Fatalf("no viewport was adopted")
	}
	return h.adopted[len(h.adopted)-1]
}

func newTestPresenter(t *testing.T, emitter Emitter) (*Presenter, *viewportHarness) {
	t.Helper()
	harness := &viewportHarness{current: board.Viewport{Scale: 1}}
	presenter, err := NewPresenter(PresenterConfig{
		LocalUserID:  "local-user",
		LocalName:    "Local",
		ViewportFunc: harness.viewport,
		Adopter:      harness.adopt,
		Emitter:      emitter,
		TickInterval: time.Hour, // ticks are driven manually via emitTick
	})
	if err != nil {
		t.Fatalf("failed to construct presenter: %v", err)
	}
	t.Cleanup(presenter.Close)
	return presenter, harness
}

func TestStartPresentingAnnouncesAndTakesRole(t *testing.T) {
	emitter := &captureEmitter{}
	presenter, _ := newTestPresenter(t, emitter)

	if err := presenter.StartPresenting(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := presenter.Snapshot()
	if !state.IsPresenting || state.Presenter == nil || state.Presenter.ID != "local-user" {
		t.Fatalf("unexpected state after start: %#v", state)
	}
	if len(emitter.started) != 1 {
		t.Fatalf("expected one start announcement, got %d", len(emitter.started))
	}

	presenter.StopPresenting()
	if len(emitter.ended) != 1 {
		t.Fatalf("expected one end announcement, got %d", len(emitter.ended))
	}
	if presenter.Snapshot().Presenter != nil {
		t.Fatalf("role should be released after stop")
	}
}

func TestStartPresentingRejectedWhileRemotePresents(t *testing.T) {
	presenter, _ := newTestPresenter(t, &captureEmitter{})
	presenter.HandleRemoteStart(PresenterInfo{ID: "remote-user", Name: "Remote"})

	if err := presenter.StartPresenting(); !errors.Is(err, ErrPresenterActive) {
		t.Fatalf("expected presenter-active error, got %v", err)
	}
}

func TestEmitTickSuppressesUnchangedViewport(t *testing.T) {
	emitter := &captureEmitter{}
	presenter, harness := newTestPresenter(t, emitter)
	if err := presenter.StartPresenting(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	presenter.emitTick()
	presenter.emitTick()
	if emitter.viewportCount() != 1 {
		t.Fatalf("unchanged viewport must emit once, got %d", emitter.viewportCount())
	}

	harness.set(board.Viewport{X: 100, Y: 50, Scale: 1})
	presenter.emitTick()
	if emitter.viewportCount() != 2 {
		t.Fatalf("changed viewport must emit again, got %d", emitter.viewportCount())
	}
}

func TestRemoteStartSupersedesLocalPresentation(t *testing.T) {
	presenter, _ := newTestPresenter(t, &captureEmitter{})
	if err := presenter.StartPresenting(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	presenter.HandleRemoteStart(PresenterInfo{ID: "remote-user", Name: "Remote"})
	state := presenter.Snapshot()
	if state.IsPresenting {
		t.Fatalf("remote start should end the local presentation")
	}
	if state.Presenter == nil || state.Presenter.ID != "remote-user" {
		t.Fatalf("remote user should hold the role, got %#v", state.Presenter)
	}
	if !state.InvitePending {
		t.Fatalf("a remote start raises a follow invite")
	}
}

func TestRemoteStartIsIdempotent(t *testing.T) {
	presenter, _ := newTestPresenter(t, &captureEmitter{})
	info := PresenterInfo{ID: "remote-user", Name: "Remote"}
	presenter.HandleRemoteStart(info)
	presenter.DismissInvite(true)
	presenter.HandleRemoteStart(info)

	if presenter.Snapshot().InvitePending {
		t.Fatalf("duplicate remote start must not re-raise the invite")
	}
}

func TestFollowAdoptsLastKnownViewportImmediately(t *testing.T) {
	presenter, harness := newTestPresenter(t, &captureEmitter{})
	presenter.HandleRemoteStart(PresenterInfo{ID: "remote-user", Name: "Remote"})

	broadcast := board.Viewport{X: -300, Y: 120, Scale: 0.5}
	presenter.HandleRemoteViewport(broadcast)
	if harness.adoptedCount() != 0 {
		t.Fatalf("non-followers must not adopt presenter viewports")
	}

	presenter.FollowPresenter(true)
	if harness.lastAdopted(t) != broadcast {
		t.Fatalf("entering follow mode should adopt the last known viewport exactly")
	}

	next := board.Viewport{X: -500, Y: 200, Scale: 0.25}
	presenter.HandleRemoteViewport(next)
	if harness.lastAdopted(t) != next {
		t.Fatalf("while following, broadcasts adopt directly with no smoothing")
	}
}

func TestDeclinedInviteCanStillFollowLater(t *testing.T) {
	presenter, harness := newTestPresenter(t, &captureEmitter{})
	presenter.HandleRemoteStart(PresenterInfo{ID: "remote-user", Name: "Remote"})
	presenter.HandleRemoteViewport(board.Viewport{X: 10, Scale: 1})

	presenter.DismissInvite(true)
	state := presenter.Snapshot()
	if state.InvitePending || state.IsFollowing {
		t.Fatalf("declined invite must leave the user unfollowed: %#v", state)
	}

	presenter.FollowPresenter(true)
	if !presenter.Snapshot().IsFollowing {
		t.Fatalf("the decline is one-shot; following later must work")
	}
	if harness.adoptedCount() != 1 {
		t.Fatalf("late follow should adopt the recorded viewport")
	}
}

func TestAcceptedInviteStartsFollowing(t *testing.T) {
	presenter, _ := newTestPresenter(t, &captureEmitter{})
	presenter.HandleRemoteStart(PresenterInfo{ID: "remote-user", Name: "Remote"})
	presenter.DismissInvite(false)

	state := presenter.Snapshot()
	if !state.IsFollowing || state.InvitePending {
		t.Fatalf("accepting the invite should start following: %#v", state)
	}
}

func TestRemoteEndReleasesFollowers(t *testing.T) {
	presenter, harness := newTestPresenter(t, &captureEmitter{})
	presenter.HandleRemoteStart(PresenterInfo{ID: "remote-user", Name: "Remote"})
	presenter.FollowPresenter(true)

	presenter.HandleRemoteEnd("remote-user")
	state := presenter.Snapshot()
	if state.Presenter != nil || state.IsFollowing {
		t.Fatalf("presenter end must reset follower state: %#v", state)
	}

	// stale broadcast after the end is dropped
	before := harness.adoptedCount()
	presenter.HandleRemoteViewport(board.Viewport{X: 999, Scale: 1})
	if harness.adoptedCount() != before {
		t.Fatalf("viewport broadcasts without a presenter must be ignored")
	}
}

func TestRemoteEndFromWrongUserIgnored(t *testing.T) {
	presenter, _ := newTestPresenter(t, &captureEmitter{})
	presenter.HandleRemoteStart(PresenterInfo{ID: "remote-user", Name: "Remote"})
	presenter.HandleRemoteEnd("someone-else")
	if presenter.Snapshot().Presenter == nil {
		t.Fatalf("an end from a non-presenter must not release the role")
	}
}

func TestFollowerBookkeepingWhilePresenting(t *testing.T) {
	presenter, _ := newTestPresenter(t, &captureEmitter{})
	if err := presenter.StartPresenting(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	presenter.AddFollower("user-2")
	presenter.AddFollower("user-3")
	presenter.AddFollower("local-user")

	state := presenter.Snapshot()
	if len(state.FollowerIDs) != 2 {
		t.Fatalf("expected two followers, got %v", state.FollowerIDs)
	}
	presenter.RemoveFollower("user-2")
	if len(presenter.Snapshot().FollowerIDs) != 1 {
		t.Fatalf("expected one follower after removal")
	}
}

func TestBroadcastLoopEmitsOnCadence(t *testing.T) {
	emitter := &captureEmitter{}
	harness := &viewportHarness{current: board.Viewport{Scale: 1}}
	presenter, err := NewPresenter(PresenterConfig{
		LocalUserID:  "local-user",
		ViewportFunc: harness.viewport,
		Adopter:      harness.adopt,
		Emitter:      emitter,
		TickInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to construct presenter: %v", err)
	}
	if err := presenter.StartPresenting(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for emitter.viewportCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	presenter.Close()
	if emitter.viewportCount() == 0 {
		t.Fatalf("expected at least one ticked viewport broadcast")
	}
}
