package board

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

type stubIDProvider struct {
	next int
}

func (p *stubIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("generated-%d", p.next), nil
}

type captureNotifier struct {
	created  []Object
	updated  []string
	deleted  []string
	replaced int
}

func (n *captureNotifier) ObjectCreated(obj Object) {
	n.created = append(n.created, obj)
}

func (n *captureNotifier) ObjectUpdated(id string, changes map[string]any) {
	n.updated = append(n.updated, id)
}

func (n *captureNotifier) ObjectDeleted(id string) {
	n.deleted = append(n.deleted, id)
}

func (n *captureNotifier) BoardReplaced(objects []Object) {
	n.replaced++
}

type captureRecorder struct {
	adds    []Object
	deletes []Object
	updates []UpdatePair
	multis  int
}

func (r *captureRecorder) RecordAdd(obj Object) {
	r.adds = append(r.adds, obj)
}

func (r *captureRecorder) RecordDelete(obj Object) {
	r.deletes = append(r.deletes, obj)
}

func (r *captureRecorder) RecordUpdate(id string, before, after Object) {
	r.updates = append(r.updates, UpdatePair{ID: id, Before: before, After: after})
}

func (r *captureRecorder) RecordMulti(created, deleted []Object, updated []UpdatePair) {
	r.multis++
}

func fixedClock() time.Time {
	return time.Unix(1700000000, 0).UTC()
}

func newTestStore(t *testing.T, notifier Notifier, recorder Recorder) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		Clock:      fixedClock,
		IDProvider: &stubIDProvider{},
		Notifier:   notifier,
		Recorder:   recorder,
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func stickyAt(id string, x, y float64) Object {
	return Object{
		ID:     id,
		Type:   ObjectTypeSticky,
		X:      x,
		Y:      y,
		Width:  200,
		Height: 150,
		Data:   map[string]any{"text": "note"},
	}
}

func TestAddObjectStoresAndNotifies(t *testing.T) {
	notifier := &captureNotifier{}
	recorder := &captureRecorder{}
	store := newTestStore(t, notifier, recorder)

	if err := store.AddObject(stickyAt("sticky-1", 100, 100), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, ok := store.Object("sticky-1")
	if !ok {
		t.Fatalf("expected object to be resident")
	}
	if stored.CreatedAt != fixedClock().UnixMilli() {
		t.Fatalf("expected created timestamp from clock, got %d", stored.CreatedAt)
	}
	if len(recorder.adds) != 1 {
		t.Fatalf("expected one recorded add, got %d", len(recorder.adds))
	}
	if len(notifier.created) != 1 {
		t.Fatalf("expected one create notification, got %d", len(notifier.created))
	}
}

func TestAddObjectRejectsInvalidType(t *testing.T) {
	store := newTestStore(t, nil, nil)
	invalid := stickyAt("sticky-1", 0, 0)
	invalid.Type = "hologram"
	if err := store.AddObject(invalid, true); !errors.Is(err, ErrInvalidObjectType) {
		t.Fatalf("expected invalid type error, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("store should stay empty after rejected add")
	}
}

func TestUpdateObjectMergesLastWriteWins(t *testing.T) {
	store := newTestStore(t, nil, nil)
	if err := store.AddObject(stickyAt("sticky-1", 100, 100), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	changes := map[string]any{
		"x":    150.0,
		"data": map[string]any{"text": "edited"},
		"id":   "hijacked",
		"type": "image",
	}
	if err := store.UpdateObject("sticky-1", changes, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated, _ := store.Object("sticky-1")
	if updated.X != 150 {
		t.Fatalf("expected x to move to 150, got %f", updated.X)
	}
	if updated.Y != 100 {
		t.Fatalf("untouched field y should survive the merge, got %f", updated.Y)
	}
	if updated.ID != "sticky-1" || updated.Type != ObjectTypeSticky {
		t.Fatalf("id and type must stay immutable, got %s/%s", updated.ID, updated.Type)
	}
	if updated.Data["text"] != "edited" {
		t.Fatalf("data payload should replace wholesale, got %#v", updated.Data)
	}
}

func TestUpdateObjectUnknownIDFails(t *testing.T) {
	store := newTestStore(t, nil, nil)
	err := store.UpdateObject("missing", map[string]any{"x": 1.0}, true)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestDeleteObjectRemovesAndNotifies(t *testing.T) {
	notifier := &captureNotifier{}
	store := newTestStore(t, notifier, nil)
	if err := store.AddObject(stickyAt("sticky-1", 0, 0), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.DeleteObject("sticky-1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.Object("sticky-1"); ok {
		t.Fatalf("object should be gone after delete")
	}
	if len(notifier.deleted) != 1 || notifier.deleted[0] != "sticky-1" {
		t.Fatalf("expected delete notification for sticky-1, got %v", notifier.deleted)
	}
}

func TestHistorySuppressionSkipsRecorderButStillNotifies(t *testing.T) {
	notifier := &captureNotifier{}
	recorder := &captureRecorder{}
	store := newTestStore(t, notifier, recorder)

	if err := store.AddObject(stickyAt("sticky-1", 0, 0), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.UpdateObject("sticky-1", map[string]any{"x": 5.0}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(recorder.adds) != 0 || len(recorder.updates) != 0 {
		t.Fatalf("suppressed mutations must not reach the recorder")
	}
	if len(notifier.created) != 1 || len(notifier.updated) != 1 {
		t.Fatalf("suppressed mutations still notify the transport")
	}
}

func TestApplyRemoteUpsertIsIdempotent(t *testing.T) {
	recorder := &captureRecorder{}
	store := newTestStore(t, nil, recorder)

	obj := stickyAt("sticky-1", 10, 20)
	obj.CreatedAt = 1
	if err := store.ApplyRemoteUpsert(obj); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.ApplyRemoteUpsert(obj); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.Len() != 1 {
		t.Fatalf("duplicate upsert should collapse to one object, got %d", store.Len())
	}
	if len(recorder.adds) != 0 {
		t.Fatalf("remote changes must never enter history")
	}
}

func TestApplyRemoteChangesUnknownObjectIgnored(t *testing.T) {
	store := newTestStore(t, nil, nil)
	store.ApplyRemoteChanges("ghost", map[string]any{"x": 1.0})
	if store.Len() != 0 {
		t.Fatalf("unknown remote update should be a no-op")
	}
}

func TestDeleteSelectedRecordsSingleMultiAction(t *testing.T) {
	recorder := &captureRecorder{}
	store := newTestStore(t, nil, recorder)
	for i := 0; i < 3; i++ {
		obj := stickyAt(fmt.Sprintf("sticky-%d", i), float64(i)*10, 0)
		if err := store.AddObject(obj, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	store.Select("sticky-0", "sticky-1", "sticky-2")
	store.DeleteSelected()

	if store.Len() != 0 {
		t.Fatalf("expected all selected objects removed, %d left", store.Len())
	}
	if recorder.multis != 1 {
		t.Fatalf("group delete must be one undoable action, got %d", recorder.multis)
	}
}

func TestDuplicateSelectedOffsetsCopies(t *testing.T) {
	store := newTestStore(t, nil, nil)
	if err := store.AddObject(stickyAt("sticky-1", 100, 100), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.Select("sticky-1")

	created, err := store.DuplicateSelected()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected one copy, got %d", len(created))
	}
	if created[0].ID == "sticky-1" {
		t.Fatalf("copy must get a fresh id")
	}
	if created[0].X != 120 || created[0].Y != 120 {
		t.Fatalf("copy should be offset, got %f,%f", created[0].X, created[0].Y)
	}
	selected := store.SelectedIDs()
	if len(selected) != 1 || selected[0] != created[0].ID {
		t.Fatalf("selection should move to the copies, got %v", selected)
	}
}

func TestCopyPasteAssignsFreshIDs(t *testing.T) {
	store := newTestStore(t, nil, nil)
	if err := store.AddObject(stickyAt("sticky-1", 10, 10), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.Select("sticky-1")
	store.CopySelection()

	pasted, err := store.Paste()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pasted) != 1 || pasted[0].ID == "sticky-1" {
		t.Fatalf("paste should create one fresh object, got %#v", pasted)
	}
	if store.Len() != 2 {
		t.Fatalf("original and pasted copy should both be resident, got %d", store.Len())
	}
}

func TestSetViewportClampsScaleFloor(t *testing.T) {
	store := newTestStore(t, nil, nil)
	tiny := 0.001
	viewport := store.SetViewport(ViewportPatch{Scale: &tiny})
	if viewport.Scale != MinViewportScale {
		t.Fatalf("expected scale clamped to %f, got %f", MinViewportScale, viewport.Scale)
	}
}

func TestSetViewportMergesPartialPatch(t *testing.T) {
	store := newTestStore(t, nil, nil)
	x := 250.0
	store.SetViewport(ViewportPatch{X: &x})
	viewport := store.Viewport()
	if viewport.X != 250 || viewport.Scale != 1 {
		t.Fatalf("nil patch fields must stay untouched, got %#v", viewport)
	}
}

func TestContentBoundsUnionsAllObjects(t *testing.T) {
	store := newTestStore(t, nil, nil)
	first := stickyAt("a", -100, -50)
	second := stickyAt("b", 400, 300)
	if err := store.AddObject(first, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.AddObject(second, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bounds := store.ContentBounds()
	if bounds.MinX != -100 || bounds.MinY != -50 {
		t.Fatalf("unexpected min corner: %#v", bounds)
	}
	if bounds.MaxX != 600 || bounds.MaxY != 450 {
		t.Fatalf("unexpected max corner: %#v", bounds)
	}
}

func TestClearRemovesEverythingAsOneAction(t *testing.T) {
	notifier := &captureNotifier{}
	recorder := &captureRecorder{}
	store := newTestStore(t, notifier, recorder)
	for i := 0; i < 2; i++ {
		if err := store.AddObject(stickyAt(fmt.Sprintf("sticky-%d", i), 0, 0), false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	store.Clear(true)
	if store.Len() != 0 {
		t.Fatalf("expected empty board after clear")
	}
	if recorder.multis != 1 {
		t.Fatalf("clear must be one undoable action, got %d", recorder.multis)
	}
	if notifier.replaced != 1 {
		t.Fatalf("clear should publish a board replacement")
	}
}

func TestObjectsPreserveInsertionOrder(t *testing.T) {
	store := newTestStore(t, nil, nil)
	ids := []string{"c", "a", "b"}
	for _, id := range ids {
		if err := store.AddObject(stickyAt(id, 0, 0), false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	objects := store.Objects()
	for i, id := range ids {
		if objects[i].ID != id {
			t.Fatalf("expected %s at position %d, got %s", id, i, objects[i].ID)
		}
	}
}
