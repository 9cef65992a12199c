package board

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opStoreNew      = "board.store.new"
	opAddObject     = "board.add_object"
	opUpdateObject  = "board.update_object"
	opDeleteObject  = "board.delete_object"
	opRemoteUpsert  = "board.remote_upsert"
	opRemoteUpdate  = "board.remote_update"
	opRemoteDelete  = "board.remote_delete"
	opImportBoard   = "board.import"
	opPasteObjects  = "board.paste"
	duplicateOffset = 20.0
)

// IDProvider issues identifiers for duplicated and pasted objects.
type IDProvider interface {
	NewID() (string, error)
}

// Notifier receives an outward patch event for every local mutation. The
// transport collaborator consumes these; they fire regardless of history
// suppression, which is an independent axis.
type Notifier interface {
	ObjectCreated(obj Object)
	ObjectUpdated(id string, changes map[string]any)
	ObjectDeleted(id string)
	BoardReplaced(objects []Object)
}

// Recorder receives undoable actions. The history engine implements it.
type Recorder interface {
	RecordAdd(obj Object)
	RecordDelete(obj Object)
	RecordUpdate(id string, before, after Object)
	RecordMulti(created, deleted []Object, updated []UpdatePair)
}

// UpdatePair is a before/after snapshot of one updated object.
type UpdatePair struct {
	ID     string
	Before Object
	After  Object
}

// StoreConfig bundles the dependencies of a Store.
type StoreConfig struct {
	Clock      func() time.Time
	IDProvider IDProvider
	Notifier   Notifier
	Recorder   Recorder
	Logger     *zap.Logger
}

// Store owns the canonical local copy of canvas objects, the viewport and
// the selection. It is an explicit handle: callers hold a *Store, there is
// no package-level singleton. It is not safe for concurrent use; the
// engine serializes access.
type Store struct {
	objects   map[string]Object
	order     []string
	selection map[string]struct{}
	clipboard []Object
	viewport  Viewport

	clock      func() time.Time
	idProvider IDProvider
	notifier   Notifier
	recorder   Recorder
	logger     *zap.Logger
}

// NewStore constructs an empty Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("%s: %w", opStoreNew, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		objects:    make(map[string]Object),
		selection:  make(map[string]struct{}),
		viewport:   Viewport{Scale: 1},
		clock:      clock,
		idProvider: cfg.IDProvider,
		notifier:   cfg.Notifier,
		recorder:   cfg.Recorder,
		logger:     logger,
	}, nil
}

// SetRecorder attaches the history engine after construction. The store
// and the history log reference each other, so one side is wired late.
func (s *Store) SetRecorder(recorder Recorder) {
	s.recorder = recorder
}

// AddObject inserts a new object. recordHistory=false keeps transient
// mutations (media scrub, in-progress drags) off the undo stack.
func (s *Store) AddObject(obj Object, recordHistory bool) error {
	if obj.CreatedAt == 0 {
		obj.CreatedAt = s.clock().UTC().UnixMilli()
	}
	if err := obj.Validate(); err != nil {
		s.logError(opAddObject, "invalid_object", err)
		return err
	}
	stored := obj.Clone()
	s.upsert(stored)
	if recordHistory && s.recorder != nil {
		s.recorder.RecordAdd(stored.Clone())
	}
	if s.notifier != nil {
		s.notifier.ObjectCreated(stored.Clone())
	}
	return nil
}

// UpdateObject merges partial changes into an existing object. Unknown ids
// return ErrNotFound without mutating anything.
func (s *Store) UpdateObject(id string, changes map[string]any, recordHistory bool) error {
	existing, ok := s.objects[id]
	if !ok {
		s.logError(opUpdateObject, "unknown_object", ErrNotFound, zap.String("object_id", id))
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	before := existing.Clone()
	merged := mergeObject(existing, changes)
	if err := merged.Validate(); err != nil {
		s.logError(opUpdateObject, "invalid_changes", err, zap.String("object_id", id))
		return err
	}
	s.objects[id] = merged
	if recordHistory && s.recorder != nil {
		s.recorder.RecordUpdate(id, before, merged.Clone())
	}
	if s.notifier != nil {
		s.notifier.ObjectUpdated(id, changes)
	}
	return nil
}

// DeleteObject removes an object by id.
func (s *Store) DeleteObject(id string, recordHistory bool) error {
	existing, ok := s.objects[id]
	if !ok {
		s.logError(opDeleteObject, "unknown_object", ErrNotFound, zap.String("object_id", id))
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.remove(id)
	if recordHistory && s.recorder != nil {
		s.recorder.RecordDelete(existing.Clone())
	}
	if s.notifier != nil {
		s.notifier.ObjectDeleted(id)
	}
	return nil
}

// ApplyRemoteUpsert merges an object received from another client.
// Idempotent: applying the same patch twice equals applying it once.
// Remote changes never enter the history log.
func (s *Store) ApplyRemoteUpsert(obj Object) error {
	if err := obj.Validate(); err != nil {
		s.logError(opRemoteUpsert, "invalid_object", err)
		return err
	}
	s.upsert(obj.Clone())
	return nil
}

// ApplyRemoteChanges merges a remote partial update. An unknown id is
// logged and ignored; remote deletes may race remote updates.
func (s *Store) ApplyRemoteChanges(id string, changes map[string]any) {
	existing, ok := s.objects[id]
	if !ok {
		s.logger.Debug("remote update for unknown object",
			zap.String("operation", opRemoteUpdate), zap.String("object_id", id))
		return
	}
	merged := mergeObject(existing, changes)
	if err := merged.Validate(); err != nil {
		s.logError(opRemoteUpdate, "invalid_changes", err, zap.String("object_id", id))
		return
	}
	s.objects[id] = merged
}

// RestoreSnapshot writes a full object snapshot back into the store,
// recreating it if needed, and notifies the transport. Undo and redo
// replay through this path. The full object goes out as a create because
// remote peers apply creates as upserts.
func (s *Store) RestoreSnapshot(obj Object) error {
	if err := obj.Validate(); err != nil {
		s.logError(opRemoteUpsert, "invalid_snapshot", err)
		return err
	}
	s.upsert(obj.Clone())
	if s.notifier != nil {
		s.notifier.ObjectCreated(obj.Clone())
	}
	return nil
}

// ApplyRemoteDelete removes an object deleted by another client.
func (s *Store) ApplyRemoteDelete(id string) {
	if _, ok := s.objects[id]; !ok {
		s.logger.Debug("remote delete for unknown object",
			zap.String("operation", opRemoteDelete), zap.String("object_id", id))
		return
	}
	s.remove(id)
}

// Object returns a snapshot of one object.
func (s *Store) Object(id string) (Object, bool) {
	obj, ok := s.objects[id]
	if !ok {
		return Object{}, false
	}
	return obj.Clone(), true
}

// Objects returns snapshots of all objects in insertion order.
func (s *Store) Objects() []Object {
	out := make([]Object, 0, len(s.order))
	for _, id := range s.order {
		if obj, ok := s.objects[id]; ok {
			out = append(out, obj.Clone())
		}
	}
	return out
}

// Len reports the number of resident objects.
func (s *Store) Len() int {
	return len(s.objects)
}

// Select replaces the selection with the given ids, dropping unknown ones.
func (s *Store) Select(ids ...string) {
	s.selection = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.objects[id]; ok {
			s.selection[id] = struct{}{}
		}
	}
}

// ClearSelection empties the selection.
func (s *Store) ClearSelection() {
	s.selection = make(map[string]struct{})
}

// SelectedIDs returns the selected ids in insertion order.
func (s *Store) SelectedIDs() []string {
	out := make([]string, 0, len(s.selection))
	for _, id := range s.order {
		if _, ok := s.selection[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// DeleteSelected removes every selected object as one undoable action.
func (s *Store) DeleteSelected() {
	deleted := make([]Object, 0, len(s.selection))
	for _, id := range s.SelectedIDs() {
		obj := s.objects[id]
		deleted = append(deleted, obj.Clone())
		s.remove(id)
		if s.notifier != nil {
			s.notifier.ObjectDeleted(id)
		}
	}
	s.selection = make(map[string]struct{})
	if len(deleted) > 0 && s.recorder != nil {
		s.recorder.RecordMulti(nil, deleted, nil)
	}
}

// DuplicateSelected clones every selected object with fresh ids, offset so
// the copies are visible, and selects the copies.
func (s *Store) DuplicateSelected() ([]Object, error) {
	created, err := s.cloneWithNewIDs(s.SelectedIDs())
	if err != nil {
		return nil, err
	}
	s.insertBatch(created)
	ids := make([]string, 0, len(created))
	for _, obj := range created {
		ids = append(ids, obj.ID)
	}
	s.Select(ids...)
	return created, nil
}

// CopySelection snapshots the selected objects into the clipboard.
func (s *Store) CopySelection() {
	s.clipboard = s.clipboard[:0]
	for _, id := range s.SelectedIDs() {
		s.clipboard = append(s.clipboard, s.objects[id].Clone())
	}
}

// CutSelection copies then deletes the selection as one undoable action.
func (s *Store) CutSelection() {
	s.CopySelection()
	s.DeleteSelected()
}

// Paste inserts clipboard contents with fresh ids as one undoable action.
func (s *Store) Paste() ([]Object, error) {
	if len(s.clipboard) == 0 {
		return nil, nil
	}
	created := make([]Object, 0, len(s.clipboard))
	for _, obj := range s.clipboard {
		id, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opPasteObjects, "id_generation_failed", err)
			return nil, err
		}
		copied := obj.Clone()
		copied.ID = id
		copied.X += duplicateOffset
		copied.Y += duplicateOffset
		copied.CreatedAt = s.clock().UTC().UnixMilli()
		created = append(created, copied)
	}
	s.insertBatch(created)
	return created, nil
}

// SetViewport merges a partial viewport update, clamping the zoom floor.
// Viewport changes are never undoable.
func (s *Store) SetViewport(patch ViewportPatch) Viewport {
	next := s.viewport
	if patch.X != nil {
		next.X = *patch.X
	}
	if patch.Y != nil {
		next.Y = *patch.Y
	}
	if patch.Scale != nil {
		next.Scale = *patch.Scale
	}
	s.viewport = next.Clamped()
	return s.viewport
}

// AdoptViewport replaces the viewport wholesale. This is the presenter
// follow channel: direct adoption, no easing.
func (s *Store) AdoptViewport(viewport Viewport) {
	s.viewport = viewport.Clamped()
}

// Viewport returns the current viewport.
func (s *Store) Viewport() Viewport {
	return s.viewport
}

// ContentBounds returns the union of all object bounds.
func (s *Store) ContentBounds() Bounds {
	var bounds Bounds
	first := true
	for _, id := range s.order {
		obj, ok := s.objects[id]
		if !ok {
			continue
		}
		if first {
			bounds = obj.Bounds()
			first = false
			continue
		}
		bounds = bounds.Union(obj.Bounds())
	}
	return bounds
}

// Clear removes every object. The wipe is one undoable action.
func (s *Store) Clear(recordHistory bool) {
	deleted := s.Objects()
	s.objects = make(map[string]Object)
	s.order = s.order[:0]
	s.selection = make(map[string]struct{})
	if recordHistory && len(deleted) > 0 && s.recorder != nil {
		s.recorder.RecordMulti(nil, deleted, nil)
	}
	if s.notifier != nil {
		s.notifier.BoardReplaced(nil)
	}
}

func (s *Store) upsert(obj Object) {
	if _, ok := s.objects[obj.ID]; !ok {
		s.order = append(s.order, obj.ID)
	}
	s.objects[obj.ID] = obj
}

func (s *Store) remove(id string) {
	delete(s.objects, id)
	delete(s.selection, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Store) insertBatch(created []Object) {
	for _, obj := range created {
		s.upsert(obj.Clone())
		if s.notifier != nil {
			s.notifier.ObjectCreated(obj.Clone())
		}
	}
	if len(created) > 0 && s.recorder != nil {
		snapshots := make([]Object, 0, len(created))
		for _, obj := range created {
			snapshots = append(snapshots, obj.Clone())
		}
		s.recorder.RecordMulti(snapshots, nil, nil)
	}
}

func (s *Store) cloneWithNewIDs(ids []string) ([]Object, error) {
	created := make([]Object, 0, len(ids))
	for _, id := range ids {
		obj, ok := s.objects[id]
		if !ok {
			continue
		}
		newID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opPasteObjects, "id_generation_failed", err)
			return nil, err
		}
		copied := obj.Clone()
		copied.ID = newID
		copied.X += duplicateOffset
		copied.Y += duplicateOffset
		copied.CreatedAt = s.clock().UTC().UnixMilli()
		created = append(created, copied)
	}
	return created, nil
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("board store error", attrs...)
}
