package bus

import (
	"github.com/driftlabs/driftboard/internal/board"
	"github.com/driftlabs/driftboard/internal/presence"
)

// Inbound messages, transport to engine. Delivery is at-least-once;
// handlers apply them idempotently.

// RemoteObjectCreated carries an object created by another client.
type RemoteObjectCreated struct {
	UserID string
	Object board.Object
}

func (RemoteObjectCreated) Kind() string { return "remote_object_created" }

// RemoteObjectUpdated carries a partial change from another client.
type RemoteObjectUpdated struct {
	UserID   string
	ObjectID string
	Changes  map[string]any
}

func (RemoteObjectUpdated) Kind() string { return "remote_object_updated" }

// RemoteObjectDeleted carries a deletion from another client.
type RemoteObjectDeleted struct {
	UserID   string
	ObjectID string
}

func (RemoteObjectDeleted) Kind() string { return "remote_object_deleted" }

// BoardSync replaces or seeds the local object set from the service.
type BoardSync struct {
	Objects []board.Object
}

func (BoardSync) Kind() string { return "board_sync" }

// RemoteCursor moves another client's cursor.
type RemoteCursor struct {
	UserID string
	X      float64
	Y      float64
}

func (RemoteCursor) Kind() string { return "remote_cursor" }

// UserJoined announces a new collaborator.
type UserJoined struct {
	User presence.RemoteUser
}

func (UserJoined) Kind() string { return "user_joined" }

// UserLeft announces a disconnect.
type UserLeft struct {
	UserID string
}

func (UserLeft) Kind() string { return "user_left" }

// RemotePresenterStarted announces a remote user taking the presenter role.
type RemotePresenterStarted struct {
	Presenter presence.PresenterInfo
}

func (RemotePresenterStarted) Kind() string { return "remote_presenter_started" }

// RemotePresenterEnded announces the presenter leaving the role.
type RemotePresenterEnded struct {
	PresenterID string
}

func (RemotePresenterEnded) Kind() string { return "remote_presenter_ended" }

// RemotePresenterViewport is one inbound presenter viewport broadcast.
type RemotePresenterViewport struct {
	Viewport board.Viewport
}

func (RemotePresenterViewport) Kind() string { return "remote_presenter_viewport" }
