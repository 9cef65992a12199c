package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{BaseURL: baseURL, BoardID: "board-1"})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	return client
}

func TestTimelineFetchesBuckets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/boards/board-1/history/timeline" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("granularity") != "hour" {
			t.Errorf("unexpected granularity %s", r.URL.Query().Get("granularity"))
		}
		buckets := []Bucket{
			{Timestamp: "2026-08-29 10:00", SequenceStart: 1, SequenceEnd: 14, EventCount: 14, Creates: 9, Updates: 4, Deletes: 1, ContributorCount: 2},
			{Timestamp: "2026-08-29 11:00", SequenceStart: 15, SequenceEnd: 20, EventCount: 6, Creates: 2, Updates: 4, ContributorCount: 1},
		}
		_ = json.NewEncoder(w).Encode(buckets)
	}))
	defer server.Close()

	buckets, err := newTestClient(t, server.URL).Timeline(context.Background(), GranularityHour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("expected two buckets, got %d", len(buckets))
	}
	if buckets[0].EventCount != 14 || buckets[0].ContributorCount != 2 {
		t.Fatalf("unexpected first bucket: %#v", buckets[0])
	}
}

func TestTimelineRejectsInvalidGranularityLocally(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Timeline(context.Background(), Granularity("fortnight"))
	if !errors.Is(err, ErrInvalidGranularity) {
		t.Fatalf("expected invalid granularity error, got %v", err)
	}
	if requests != 0 {
		t.Fatalf("invalid granularity must not reach the service")
	}
}

func TestTimelineSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := newTestClient(t, server.URL).Timeline(context.Background(), GranularityMinute); err == nil {
		t.Fatalf("server failure must surface to the caller")
	}
}

func TestRollbackPostsTargetSequence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/boards/board-1/history/rollback" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var payload map[string]int64
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		if payload["target_sequence"] != 42 {
			t.Errorf("unexpected target sequence %d", payload["target_sequence"])
		}
		_ = json.NewEncoder(w).Encode(RollbackResult{
			Success:        true,
			Message:        "Rolled back 3 changes",
			RollbackEvents: 3,
			NewSequence:    48,
		})
	}))
	defer server.Close()

	result, err := newTestClient(t, server.URL).Rollback(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.RollbackEvents != 3 || result.NewSequence != 48 {
		t.Fatalf("unexpected rollback result: %#v", result)
	}
}
