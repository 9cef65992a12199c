// Package bus carries the typed message contract between the canvas engine
// and the transport collaborator. The physical transport is out of
// process; subscribers here are whatever bridges these messages onto it,
// plus test doubles.
package bus

import (
	"context"
	"sync"

	"github.com/driftlabs/driftboard/internal/board"
	"github.com/driftlabs/driftboard/internal/presence"
)

// Message is one typed event on the bus.
type Message interface {
	Kind() string
}

// Outbound messages, local engine to transport.

// CursorMove reports the local cursor position.
type CursorMove struct {
	X float64
	Y float64
}

func (CursorMove) Kind() string { return "cursor_move" }

// ObjectCreate announces a locally created object (full payload; peers
// apply it as an upsert).
type ObjectCreate struct {
	Object board.Object
}

func (ObjectCreate) Kind() string { return "object_create" }

// ObjectUpdate announces a partial local change.
type ObjectUpdate struct {
	ObjectID string
	Changes  map[string]any
}

func (ObjectUpdate) Kind() string { return "object_update" }

// ObjectDelete announces a local deletion.
type ObjectDelete struct {
	ObjectID string
}

func (ObjectDelete) Kind() string { return "object_delete" }

// BoardPublish pushes the whole local board, e.g. after an import.
type BoardPublish struct {
	Objects []board.Object
}

func (BoardPublish) Kind() string { return "board_publish" }

// PresenterStart announces the local user taking the presenter role.
type PresenterStart struct {
	Presenter presence.PresenterInfo
}

func (PresenterStart) Kind() string { return "presenter_start" }

// PresenterEnd announces the local user releasing the presenter role.
type PresenterEnd struct {
	Presenter presence.PresenterInfo
}

func (PresenterEnd) Kind() string { return "presenter_end" }

// PresenterViewport is one tick of the presenter viewport broadcast.
type PresenterViewport struct {
	Viewport board.Viewport
}

func (PresenterViewport) Kind() string { return "presenter_viewport" }

// Dispatcher fans out messages to subscribers without blocking the
// publisher; a subscriber that falls behind drops messages rather than
// stalling the engine.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Message
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[int64]*subscriber),
		bufferSize:  64,
	}
}

// Subscribe registers a stream that closes when ctx is done. The returned
// cancel function is idempotent.
func (d *Dispatcher) Subscribe(ctx context.Context) (<-chan Message, func()) {
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Message, d.bufferSize),
	}
	d.register(sub)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregister(sub.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers the message to every subscriber, best effort.
func (d *Dispatcher) Publish(message Message) {
	if message == nil {
		return
	}
	d.mu.RLock()
	copies := make([]*subscriber, 0, len(d.subscribers))
	for _, sub := range d.subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- message:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[sub.id] = sub
}

func (d *Dispatcher) unregister(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subscribers, id)
}
