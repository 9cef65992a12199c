// Package history keeps a linear, local-only undo/redo log over the board
// store. Entries hold value snapshots, never live references, and remote
// patches never enter the log, so two clients' undo stacks stay independent
// even though the underlying objects are shared.
package history

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/driftlabs/driftboard/internal/board"
)

// ActionKind tags one undoable unit of change.
type ActionKind string

const (
	ActionAdd    ActionKind = "add"
	ActionDelete ActionKind = "delete"
	ActionUpdate ActionKind = "update"
	ActionMulti  ActionKind = "multi"
)

var errUnknownActionKind = errors.New("history: unknown action kind")

// Action is one entry in the log.
type Action struct {
	Kind      ActionKind
	UserID    string
	Timestamp int64

	// add / delete
	Object board.Object

	// update
	ObjectID string
	Before   board.Object
	After    board.Object

	// multi
	Created []board.Object
	Deleted []board.Object
	Updated []board.UpdatePair
}

// LogConfig bundles the dependencies of a Log.
type LogConfig struct {
	Store  *board.Store
	UserID string
	Clock  func() time.Time
	Logger *zap.Logger
}

// Log is the history engine: a linear action sequence plus an index in
// [-1, len-1], where -1 means before the first action. Appending a new
// action after an undo truncates everything past the index.
type Log struct {
	store   *board.Store
	userID  string
	clock   func() time.Time
	logger  *zap.Logger
	actions []Action
	index   int

	// set while Undo/Redo replays through the store, so the replay's own
	// store callbacks do not record nested actions
	replaying bool
}

// NewLog constructs an empty history log bound to a store.
func NewLog(cfg LogConfig) (*Log, error) {
	if cfg.Store == nil {
		return nil, errors.New("history: store is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		store:  cfg.Store,
		userID: cfg.UserID,
		clock:  clock,
		logger: logger,
		index:  -1,
	}, nil
}

// RecordAdd implements board.Recorder.
func (l *Log) RecordAdd(obj board.Object) {
	l.append(Action{Kind: ActionAdd, Object: obj})
}

// RecordDelete implements board.Recorder.
func (l *Log) RecordDelete(obj board.Object) {
	l.append(Action{Kind: ActionDelete, Object: obj})
}

// RecordUpdate implements board.Recorder.
func (l *Log) RecordUpdate(id string, before, after board.Object) {
	l.append(Action{Kind: ActionUpdate, ObjectID: id, Before: before, After: after})
}

// RecordMulti implements board.Recorder.
func (l *Log) RecordMulti(created, deleted []board.Object, updated []board.UpdatePair) {
	l.append(Action{Kind: ActionMulti, Created: created, Deleted: deleted, Updated: updated})
}

// CanUndo reports whether an action is available to undo.
func (l *Log) CanUndo() bool {
	return l.index >= 0
}

// CanRedo reports whether an undone action is available to redo.
func (l *Log) CanRedo() bool {
	return l.index < len(l.actions)-1
}

// Len reports the number of recorded actions.
func (l *Log) Len() int {
	return len(l.actions)
}

// Undo applies the inverse of the current action and steps the index back.
// A no-op when there is nothing to undo.
func (l *Log) Undo() bool {
	if !l.CanUndo() {
		return false
	}
	action := l.actions[l.index]
	l.replaying = true
	defer func() { l.replaying = false }()
	if err := l.applyInverse(action); err != nil {
		l.logger.Error("history undo failed",
			zap.String("operation", "history.undo"),
			zap.String("kind", string(action.Kind)),
			zap.Error(err))
		return false
	}
	l.index--
	return true
}

// Redo re-applies the next action and steps the index forward.
func (l *Log) Redo() bool {
	if !l.CanRedo() {
		return false
	}
	action := l.actions[l.index+1]
	l.replaying = true
	defer func() { l.replaying = false }()
	if err := l.applyForward(action); err != nil {
		l.logger.Error("history redo failed",
			zap.String("operation", "history.redo"),
			zap.String("kind", string(action.Kind)),
			zap.Error(err))
		return false
	}
	l.index++
	return true
}

// Clear drops the whole log.
func (l *Log) Clear() {
	l.actions = l.actions[:0]
	l.index = -1
}

func (l *Log) append(action Action) {
	if l.replaying {
		return
	}
	action.UserID = l.userID
	action.Timestamp = l.clock().UTC().UnixMilli()
	// linear history: a new action after an undo discards the redo tail
	if l.index < len(l.actions)-1 {
		l.actions = l.actions[:l.index+1]
	}
	l.actions = append(l.actions, action)
	l.index = len(l.actions) - 1
}

func (l *Log) applyInverse(action Action) error {
	switch action.Kind {
	case ActionAdd:
		return l.store.DeleteObject(action.Object.ID, false)
	case ActionDelete:
		return l.store.AddObject(action.Object.Clone(), false)
	case ActionUpdate:
		return l.restore(action.Before)
	case ActionMulti:
		for i := len(action.Created) - 1; i >= 0; i-- {
			if err := l.store.DeleteObject(action.Created[i].ID, false); err != nil {
				return err
			}
		}
		for i := len(action.Deleted) - 1; i >= 0; i-- {
			if err := l.store.AddObject(action.Deleted[i].Clone(), false); err != nil {
				return err
			}
		}
		for i := len(action.Updated) - 1; i >= 0; i-- {
			if err := l.restore(action.Updated[i].Before); err != nil {
				return err
			}
		}
		return nil
	}
	return errUnknownActionKind
}

func (l *Log) applyForward(action Action) error {
	switch action.Kind {
	case ActionAdd:
		return l.store.AddObject(action.Object.Clone(), false)
	case ActionDelete:
		return l.store.DeleteObject(action.Object.ID, false)
	case ActionUpdate:
		return l.restore(action.After)
	case ActionMulti:
		for _, obj := range action.Created {
			if err := l.store.AddObject(obj.Clone(), false); err != nil {
				return err
			}
		}
		for _, obj := range action.Deleted {
			if err := l.store.DeleteObject(obj.ID, false); err != nil {
				return err
			}
		}
		for _, pair := range action.Updated {
			if err := l.restore(pair.After); err != nil {
				return err
			}
		}
		return nil
	}
	return errUnknownActionKind
}

// restore writes a full snapshot back into the store, recreating the
// object if a concurrent remote delete removed it.
func (l *Log) restore(snapshot board.Object) error {
	return l.store.RestoreSnapshot(snapshot.Clone())
}
