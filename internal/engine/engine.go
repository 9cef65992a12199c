// Package engine wires the canvas state components into one explicit
// handle: the object store, the undo log, the chunk loader, presence and
// the outbound message bus. Everything that needs canvas state goes
// through an *Engine; there is no package-level singleton.
package engine

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftlabs/driftboard/internal/board"
	"github.com/driftlabs/driftboard/internal/bus"
	"github.com/driftlabs/driftboard/internal/chunks"
	"github.com/driftlabs/driftboard/internal/history"
	"github.com/driftlabs/driftboard/internal/presence"
	"github.com/driftlabs/driftboard/internal/timeline"
)

var (
	errMissingBoardID = errors.New("engine: board id is required")
	errMissingUserID  = errors.New("engine: user id is required")
)

// Config bundles everything an Engine needs.
type Config struct {
	BoardID        string
	UserID         string
	DisplayName    string
	ServiceBaseURL string

	ChunkMargin     float64
	ViewportKeySize float64
	PresenterTick   time.Duration
	HTTPClient      *http.Client
	Clock           func() time.Time
	IDProvider      board.IDProvider
	Logger          *zap.Logger
}

// Engine is the collaborative canvas state engine for one board session.
// Store and history access is serialized through the engine mutex; the
// presenter tick and inbound routing cross goroutines.
type Engine struct {
	mu sync.Mutex

	boardID  string
	userID   string
	store    *board.Store
	log      *history.Log
	loader   *chunks.Loader
	roster   *presence.Roster
	present  *presence.Presenter
	timeline *timeline.Client
	outbound *bus.Dispatcher
	logger   *zap.Logger
}

// New constructs an Engine with an empty board.
func New(cfg Config) (*Engine, error) {
	if cfg.BoardID == "" {
		return nil, errMissingBoardID
	}
	if cfg.UserID == "" {
		return nil, errMissingUserID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = board.NewUUIDProvider()
	}

	e := &Engine{
		boardID:  cfg.BoardID,
		userID:   cfg.UserID,
		roster:   presence.NewRoster(),
		outbound: bus.NewDispatcher(),
		logger:   logger,
	}

	store, err := board.NewStore(board.StoreConfig{
		Clock:      cfg.Clock,
		IDProvider: idProvider,
		Notifier:   (*storeNotifier)(e),
		Logger:     logger.Named("board"),
	})
	if err != nil {
		return nil, err
	}
	e.store = store

	log, err := history.NewLog(history.LogConfig{
		Store:  store,
		UserID: cfg.UserID,
		Clock:  cfg.Clock,
		Logger: logger.Named("history"),
	})
	if err != nil {
		return nil, err
	}
	store.SetRecorder(log)
	e.log = log

	if cfg.ServiceBaseURL != "" {
		loader, err := chunks.NewLoader(chunks.LoaderConfig{
			BaseURL:    cfg.ServiceBaseURL,
			BoardID:    cfg.BoardID,
			Sink:       (*lockedSink)(e),
			HTTPClient: cfg.HTTPClient,
			Margin:     cfg.ChunkMargin,
			KeyBucket:  cfg.ViewportKeySize,
			Logger:     logger.Named("chunks"),
		})
		if err != nil {
			return nil, err
		}
		e.loader = loader

		timelineClient, err := timeline.NewClient(timeline.ClientConfig{
			BaseURL:    cfg.ServiceBaseURL,
			BoardID:    cfg.BoardID,
			HTTPClient: cfg.HTTPClient,
			Logger:     logger.Named("timeline"),
		})
		if err != nil {
			return nil, err
		}
		e.timeline = timelineClient
	}

	present, err := presence.NewPresenter(presence.PresenterConfig{
		LocalUserID:  cfg.UserID,
		LocalName:    cfg.DisplayName,
		ViewportFunc: e.lockedViewport,
		Adopter:      e.adoptViewport,
		Emitter:      (*presenterEmitter)(e),
		TickInterval: cfg.PresenterTick,
		Logger:       logger.Named("presence"),
	})
	if err != nil {
		return nil, err
	}
	e.present = present

	return e, nil
}

// Subscribe taps the outbound message stream for the transport bridge.
func (e *Engine) Subscribe(ctx context.Context) (<-chan bus.Message, func()) {
	return e.outbound.Subscribe(ctx)
}

// Close stops background work.
func (e *Engine) Close() {
	e.present.Close()
}

// --- object operations -------------------------------------------------

// AddObject inserts a new local object.
func (e *Engine) AddObject(obj board.Object, recordHistory bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.AddObject(obj, recordHistory)
}

// UpdateObject merges partial changes into a local object.
func (e *Engine) UpdateObject(id string, changes map[string]any, recordHistory bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.UpdateObject(id, changes, recordHistory)
}

// DeleteObject removes a local object.
func (e *Engine) DeleteObject(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.DeleteObject(id, true)
}

// Select replaces the selection.
func (e *Engine) Select(ids ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.Select(ids...)
}

// DeleteSelected removes the selection as one undoable action.
func (e *Engine) DeleteSelected() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.DeleteSelected()
}

// DuplicateSelected clones the selection.
func (e *Engine) DuplicateSelected() ([]board.Object, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.DuplicateSelected()
}

// CopySelection fills the clipboard from the selection.
func (e *Engine) CopySelection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.CopySelection()
}

// CutSelection copies then deletes the selection.
func (e *Engine) CutSelection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.CutSelection()
}

// Paste inserts the clipboard with fresh ids.
func (e *Engine) Paste() ([]board.Object, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Paste()
}

// Object returns a snapshot of one object.
func (e *Engine) Object(id string) (board.Object, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Object(id)
}

// Objects returns snapshots of all resident objects.
func (e *Engine) Objects() []board.Object {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Objects()
}

// ExportBoard serializes the board to the versioned JSON envelope.
func (e *Engine) ExportBoard() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Export()
}

// ImportBoard replaces board contents from an exported envelope, then
// clears local history: imported state has no undo past.
func (e *Engine) ImportBoard(payload string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Import(payload); err != nil {
		return err
	}
	e.log.Clear()
	if e.loader != nil {
		e.loader.Reset()
	}
	return nil
}

// ClearBoard wipes the board as one undoable action.
func (e *Engine) ClearBoard() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.Clear(true)
}

// --- history -----------------------------------------------------------

// Undo reverses the most recent recorded action.
func (e *Engine) Undo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Undo()
}

// Redo re-applies the most recently undone action.
func (e *Engine) Redo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Redo()
}

// CanUndo reports undo availability.
func (e *Engine) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.CanUndo()
}

// CanRedo reports redo availability.
func (e *Engine) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.CanRedo()
}

// ClearHistory drops the undo log.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log.Clear()
}

// --- viewport and paging -----------------------------------------------

// SetViewport merges a partial viewport update and pages in newly visible
// chunks in the background.
func (e *Engine) SetViewport(ctx context.Context, patch board.ViewportPatch, width, height float64) board.Viewport {
	e.mu.Lock()
	viewport := e.store.SetViewport(patch)
	e.mu.Unlock()

	if e.loader != nil {
		screen := chunks.ScreenViewport{
			X: viewport.X, Y: viewport.Y,
			Width: width, Height: height,
			Scale: viewport.Scale,
		}
		go func() {
			// fire and forget: failures keep cached state and the next
			// viewport change retries
			_ = e.loader.LoadViewport(ctx, screen)
		}()
	}
	return viewport
}

// LoadViewport pages in objects for a screen viewport synchronously.
func (e *Engine) LoadViewport(ctx context.Context, viewport chunks.ScreenViewport) error {
	if e.loader == nil {
		return nil
	}
	return e.loader.LoadViewport(ctx, viewport)
}

// PreloadAround anticipatorily loads chunks near a world position.
func (e *Engine) PreloadAround(ctx context.Context, x, y float64, radius int) error {
	if e.loader == nil {
		return nil
	}
	return e.loader.PreloadAround(ctx, x, y, radius)
}

// Viewport returns the current viewport.
func (e *Engine) Viewport() board.Viewport {
	return e.lockedViewport()
}

// MoveCursor publishes the local cursor position.
func (e *Engine) MoveCursor(x, y float64) {
	e.outbound.Publish(bus.CursorMove{X: x, Y: y})
}

// --- presenter ----------------------------------------------------------

// StartPresenting takes the presenter role.
func (e *Engine) StartPresenting() error {
	return e.present.StartPresenting()
}

// StopPresenting releases the presenter role.
func (e *Engine) StopPresenting() {
	e.present.StopPresenting()
}

// FollowPresenter toggles follower mode.
func (e *Engine) FollowPresenter(follow bool) {
	e.present.FollowPresenter(follow)
}

// DismissPresenterInvite resolves a pending invite.
func (e *Engine) DismissPresenterInvite(decline bool) {
	e.present.DismissInvite(decline)
}

// PresenterState returns a snapshot of the presenter choreography.
func (e *Engine) PresenterState() presence.State {
	return e.present.Snapshot()
}

// RemoteUsers lists the connected collaborators.
func (e *Engine) RemoteUsers() []presence.RemoteUser {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.roster.Users()
}

// --- timeline -----------------------------------------------------------

// HistoryTimeline fetches server-aggregated change buckets.
func (e *Engine) HistoryTimeline(ctx context.Context, granularity timeline.Granularity) ([]timeline.Bucket, error) {
	if e.timeline == nil {
		return nil, errors.New("engine: no document service configured")
	}
	return e.timeline.Timeline(ctx, granularity)
}

// RollbackTo asks the document service to rewind the board.
func (e *Engine) RollbackTo(ctx context.Context, targetSequence int64) (timeline.RollbackResult, error) {
	if e.timeline == nil {
		return timeline.RollbackResult{}, errors.New("engine: no document service configured")
	}
	return e.timeline.Rollback(ctx, targetSequence)
}

// --- inbound routing ----------------------------------------------------

// HandleInbound routes one transport message into the engine. Object
// events become history-suppressed store upserts; presenter events drive
// the state machine. Unknown messages are logged and dropped.
func (e *Engine) HandleInbound(message bus.Message) {
	switch msg := message.(type) {
	case bus.RemoteObjectCreated:
		e.mu.Lock()
		if err := e.store.ApplyRemoteUpsert(msg.Object); err != nil {
			e.logger.Warn("rejected remote object",
				zap.String("object_id", msg.Object.ID), zap.Error(err))
		}
		e.mu.Unlock()
	case bus.RemoteObjectUpdated:
		e.mu.Lock()
		e.store.ApplyRemoteChanges(msg.ObjectID, msg.Changes)
		e.mu.Unlock()
	case bus.RemoteObjectDeleted:
		e.mu.Lock()
		e.store.ApplyRemoteDelete(msg.ObjectID)
		e.mu.Unlock()
	case bus.BoardSync:
		e.mu.Lock()
		for _, obj := range msg.Objects {
			if err := e.store.ApplyRemoteUpsert(obj); err != nil {
				e.logger.Warn("rejected synced object",
					zap.String("object_id", obj.ID), zap.Error(err))
			}
		}
		e.mu.Unlock()
	case bus.RemoteCursor:
		e.mu.Lock()
		e.roster.MoveCursor(msg.UserID, msg.X, msg.Y)
		e.mu.Unlock()
	case bus.UserJoined:
		e.mu.Lock()
		e.roster.Upsert(msg.User)
		e.mu.Unlock()
	case bus.UserLeft:
		e.mu.Lock()
		e.roster.Remove(msg.UserID)
		e.mu.Unlock()
		// a departing presenter releases all followers
		if state := e.present.Snapshot(); state.Presenter != nil && state.Presenter.ID == msg.UserID {
			e.present.HandleRemoteEnd(msg.UserID)
		}
		e.present.RemoveFollower(msg.UserID)
	case bus.RemotePresenterStarted:
		e.present.HandleRemoteStart(msg.Presenter)
	case bus.RemotePresenterEnded:
		e.present.HandleRemoteEnd(msg.PresenterID)
	case bus.RemotePresenterViewport:
		e.present.HandleRemoteViewport(msg.Viewport)
	default:
		e.logger.Debug("unhandled inbound message", zap.String("kind", message.Kind()))
	}
}

// --- internal adapters --------------------------------------------------

func (e *Engine) lockedViewport() board.Viewport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Viewport()
}

func (e *Engine) adoptViewport(viewport board.Viewport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.AdoptViewport(viewport)
}

// storeNotifier bridges board mutations onto the outbound bus.
type storeNotifier Engine

func (n *storeNotifier) ObjectCreated(obj board.Object) {
	(*Engine)(n).outbound.Publish(bus.ObjectCreate{Object: obj})
}

func (n *storeNotifier) ObjectUpdated(id string, changes map[string]any) {
	(*Engine)(n).outbound.Publish(bus.ObjectUpdate{ObjectID: id, Changes: changes})
}

func (n *storeNotifier) ObjectDeleted(id string) {
	(*Engine)(n).outbound.Publish(bus.ObjectDelete{ObjectID: id})
}

func (n *storeNotifier) BoardReplaced(objects []board.Object) {
	(*Engine)(n).outbound.Publish(bus.BoardPublish{Objects: objects})
}

// presenterEmitter bridges presenter transitions onto the outbound bus.
type presenterEmitter Engine

func (p *presenterEmitter) PresenterStarted(info presence.PresenterInfo) {
	(*Engine)(p).outbound.Publish(bus.PresenterStart{Presenter: info})
}

func (p *presenterEmitter) PresenterEnded(info presence.PresenterInfo) {
	(*Engine)(p).outbound.Publish(bus.PresenterEnd{Presenter: info})
}

func (p *presenterEmitter) PresenterViewport(viewport board.Viewport) {
	(*Engine)(p).outbound.Publish(bus.PresenterViewport{Viewport: viewport})
}

// lockedSink serializes chunk-loader merges through the engine mutex.
type lockedSink Engine

func (s *lockedSink) ApplyRemoteUpsert(obj board.Object) error {
	e := (*Engine)(s)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.ApplyRemoteUpsert(obj)
}
