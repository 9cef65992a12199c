package presence

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftlabs/driftboard/internal/board"
)

// DefaultTickInterval is the presenter broadcast cadence, roughly 30 Hz.
const DefaultTickInterval = 33 * time.Millisecond

var (
	// ErrPresenterActive indicates another user already holds the
	// presenter role.
	ErrPresenterActive = errors.New("presence: another presenter is active")

	errMissingViewports = errors.New("presence: viewport source and adopter are required")
)

// PresenterInfo identifies the active presenter.
type PresenterInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Emitter carries presenter messages to the transport collaborator.
type Emitter interface {
	PresenterStarted(info PresenterInfo)
	PresenterEnded(info PresenterInfo)
	PresenterViewport(viewport board.Viewport)
}

// State is a snapshot of the presenter choreography.
type State struct {
	Presenter         *PresenterInfo
	IsPresenting      bool
	IsFollowing       bool
	FollowerIDs       []string
	PresenterViewport *board.Viewport
	InvitePending     bool
}

// PresenterConfig bundles the dependencies of a Presenter.
type PresenterConfig struct {
	LocalUserID  string
	LocalName    string
	ViewportFunc func() board.Viewport
	Adopter      func(board.Viewport)
	Emitter      Emitter
	TickInterval time.Duration
	Logger       *zap.Logger
}

// Presenter runs the presenter/follower state machine. While the local
// user presents, a fixed-cadence tick reads the viewport and broadcasts it
// when it changed since the last tick. While following, inbound presenter
// viewports are adopted directly, with no smoothing: followers see exactly
// what the presenter sees.
type Presenter struct {
	mu sync.Mutex

	localUserID  string
	localName    string
	viewportFunc func() board.Viewport
	adopter      func(board.Viewport)
	emitter      Emitter
	tickInterval time.Duration
	logger       *zap.Logger

	presenter         *PresenterInfo
	presenting        bool
	following         bool
	invitePending     bool
	presenterViewport *board.Viewport
	followers         map[string]struct{}

	lastEmitted *board.Viewport
	stopTick    chan struct{}
	tickDone    sync.WaitGroup
}

// NewPresenter constructs the state machine in the Idle state.
func NewPresenter(cfg PresenterConfig) (*Presenter, error) {
	if cfg.ViewportFunc == nil || cfg.Adopter == nil {
		return nil, errMissingViewports
	}
	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Presenter{
		localUserID:  cfg.LocalUserID,
		localName:    cfg.LocalName,
		viewportFunc: cfg.ViewportFunc,
		adopter:      cfg.Adopter,
		emitter:      cfg.Emitter,
		tickInterval: tickInterval,
		logger:       logger,
		followers:    make(map[string]struct{}),
	}, nil
}

// CanPresent reports whether the local user may take the presenter role:
// either nobody presents, or the local user already does.
func (p *Presenter) CanPresent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canPresentLocked()
}

func (p *Presenter) canPresentLocked() bool {
	return p.presenter == nil || p.presenter.ID == p.localUserID
}

// StartPresenting takes the presenter role and starts the broadcast tick.
// Rejected while another user presents.
func (p *Presenter) StartPresenting() error {
	p.mu.Lock()
	if !p.canPresentLocked() {
		p.mu.Unlock()
		return ErrPresenterActive
	}
	if p.presenting {
		p.mu.Unlock()
		return nil
	}
	info := PresenterInfo{ID: p.localUserID, Name: p.localName}
	p.presenter = &info
	p.presenting = true
	p.following = false
	p.invitePending = false
	p.lastEmitted = nil
	p.stopTick = make(chan struct{})
	stop := p.stopTick
	p.mu.Unlock()

	if p.emitter != nil {
		p.emitter.PresenterStarted(info)
	}

	p.tickDone.Add(1)
	go p.broadcastLoop(stop)
	return nil
}

// StopPresenting releases the presenter role, stops the tick and resets
// follower state to Idle.
func (p *Presenter) StopPresenting() {
	p.mu.Lock()
	if !p.presenting {
		p.mu.Unlock()
		return
	}
	info := *p.presenter
	p.stopTickLocked()
	p.resetLocked()
	p.mu.Unlock()

	if p.emitter != nil {
		p.emitter.PresenterEnded(info)
	}
}

// FollowPresenter toggles following. Unconditional entry point: a user who
// declined the invite can still follow later. Adopts the last known
// presenter viewport immediately on entry.
func (p *Presenter) FollowPresenter(follow bool) {
	p.mu.Lock()
	if p.presenter == nil || p.presenter.ID == p.localUserID {
		p.following = false
		p.mu.Unlock()
		return
	}
	p.following = follow
	p.invitePending = false
	var adopt *board.Viewport
	if follow && p.presenterViewport != nil {
		copied := *p.presenterViewport
		adopt = &copied
	}
	p.mu.Unlock()

	if adopt != nil {
		p.adopter(*adopt)
	}
}

// DismissInvite resolves a pending presenter invite. decline=true records
// the one-shot refusal; either way the invite stops pending.
func (p *Presenter) DismissInvite(decline bool) {
	p.mu.Lock()
	p.invitePending = false
	p.mu.Unlock()
	if !decline {
		p.FollowPresenter(true)
	}
}

// HandleRemoteStart processes a presenter:start from the transport.
// Idempotent for duplicates. If the local user was presenting, the remote
// start wins last-writer style and the local tick stops.
func (p *Presenter) HandleRemoteStart(info PresenterInfo) {
	p.mu.Lock()
	if info.ID == p.localUserID {
		p.mu.Unlock()
		return
	}
	if p.presenter != nil && p.presenter.ID == info.ID {
		p.mu.Unlock()
		return
	}
	wasPresenting := p.presenting
	if wasPresenting {
		p.logger.Warn("remote presenter superseded local presentation",
			zap.String("operation", "presence.remote_start"),
			zap.String("remote_presenter", info.ID))
		p.stopTickLocked()
		p.presenting = false
	}
	p.presenter = &PresenterInfo{ID: info.ID, Name: info.Name}
	p.invitePending = true
	p.following = false
	p.presenterViewport = nil
	p.mu.Unlock()
}

// HandleRemoteEnd processes a presenter:end or the presenter's disconnect.
// No presenter means no active followers, promptly.
func (p *Presenter) HandleRemoteEnd(presenterID string) {
	p.mu.Lock()
	if p.presenter == nil || p.presenter.ID != presenterID {
		p.mu.Unlock()
		return
	}
	p.stopTickLocked()
	p.resetLocked()
	p.mu.Unlock()
}

// HandleRemoteViewport processes a presenter:viewport broadcast. The value
// is recorded always and adopted directly while following.
func (p *Presenter) HandleRemoteViewport(viewport board.Viewport) {
	p.mu.Lock()
	if p.presenter == nil || p.presenter.ID == p.localUserID {
		p.mu.Unlock()
		return
	}
	copied := viewport
	p.presenterViewport = &copied
	adopt := p.following
	p.mu.Unlock()

	if adopt {
		p.adopter(viewport)
	}
}

// AddFollower records a remote follower while the local user presents.
func (p *Presenter) AddFollower(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.presenting || userID == p.localUserID {
		return
	}
	p.followers[userID] = struct{}{}
}

// RemoveFollower drops a remote follower.
func (p *Presenter) RemoveFollower(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.followers, userID)
}

// Snapshot returns the current state.
func (p *Presenter) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := State{
		IsPresenting:  p.presenting,
		IsFollowing:   p.following,
		InvitePending: p.invitePending,
	}
	if p.presenter != nil {
		copied := *p.presenter
		state.Presenter = &copied
	}
	if p.presenterViewport != nil {
		copied := *p.presenterViewport
		state.PresenterViewport = &copied
	}
	state.FollowerIDs = make([]string, 0, len(p.followers))
	for userID := range p.followers {
		state.FollowerIDs = append(state.FollowerIDs, userID)
	}
	return state
}

// Close stops any running tick. Safe to call more than once.
func (p *Presenter) Close() {
	p.mu.Lock()
	p.stopTickLocked()
	p.presenting = false
	p.mu.Unlock()
	p.tickDone.Wait()
}

// broadcastLoop emits the viewport at the fixed cadence, skipping ticks
// where it has not changed since the last emission.
func (p *Presenter) broadcastLoop(stop chan struct{}) {
	defer p.tickDone.Done()
	ticker := time.NewTicker(p.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.emitTick()
		}
	}
}

func (p *Presenter) emitTick() {
	viewport := p.viewportFunc()

	p.mu.Lock()
	if !p.presenting {
		p.mu.Unlock()
		return
	}
	if p.lastEmitted != nil && *p.lastEmitted == viewport {
		p.mu.Unlock()
		return
	}
	copied := viewport
	p.lastEmitted = &copied
	recorded := viewport
	p.presenterViewport = &recorded
	emitter := p.emitter
	p.mu.Unlock()

	if emitter != nil {
		emitter.PresenterViewport(viewport)
	}
}

func (p *Presenter) stopTickLocked() {
	if p.stopTick != nil {
		close(p.stopTick)
		p.stopTick = nil
	}
}

func (p *Presenter) resetLocked() {
	p.presenter = nil
	p.presenting = false
	p.following = false
	p.invitePending = false
	p.presenterViewport = nil
	p.lastEmitted = nil
	p.followers = make(map[string]struct{})
}
