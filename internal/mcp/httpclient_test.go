package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/meltforce/squatclicker/internal/storage"
)

// newTestServer creates an httptest server that routes requests to handler functions
// keyed by path. Verifies the HTTP client sends correct paths and query params.
func newTestServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := handlers[r.URL.Path]
		if !ok {
			t.Errorf("unexpected request path: %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
}

func writeTestJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatal(err)
	}
}

// TestQueryExerciseSessions verifies the HTTP client sends the time range and
// limit and parses the JSON array response.
func TestQueryExerciseSessions(t *testing.T) {
	id := uuid.New()
	ts := newTestServer(t, map[string]http.HandlerFunc{
		"/api/v1/sessions": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if got := q.Get("start"); got != "2026-01-01T00:00:00Z" {
				t.Errorf("start=%q", got)
			}
			if got := q.Get("limit"); got != "25" {
				t.Errorf("limit=%q, want 25", got)
			}
			writeTestJSON(t, w, []storage.ExerciseSession{
				{ID: id, Goal: 10, Reps: 10, Reason: storage.ReasonGoalReached, Reward: 200},
			})
		},
	})
	defer ts.Close()

	client := NewHTTPClient(ts.URL + "/")
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)

	sessions, err := client.QueryExerciseSessions(context.Background(), 1, start, end, 25)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].ID != id || !sessions[0].GoalReached() {
		t.Errorf("session = %+v", sessions[0])
	}
}

// TestGetExerciseSessionHTTP verifies the detail endpoint path and rep timeline parsing.
func TestGetExerciseSessionHTTP(t *testing.T) {
	id := uuid.New()
	at := time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC)
	ts := newTestServer(t, map[string]http.HandlerFunc{
		"/api/v1/sessions/" + id.String(): func(w http.ResponseWriter, r *http.Request) {
			writeTestJSON(t, w, storage.ExerciseSessionDetail{
				ExerciseSession: storage.ExerciseSession{ID: id, Goal: 2, Reps: 2, Reason: storage.ReasonGoalReached},
				RepEvents:       []storage.RepEvent{{RepNumber: 1, At: at}, {RepNumber: 2, At: at.Add(2 * time.Second)}},
			})
		},
	})
	defer ts.Close()

	detail, err := NewHTTPClient(ts.URL).GetExerciseSession(context.Background(), id, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.RepEvents) != 2 || detail.RepEvents[1].RepNumber != 2 {
		t.Errorf("rep events = %+v", detail.RepEvents)
	}
}

// TestGetExerciseSessionHTTPNotFound verifies a 404 maps to storage.ErrNotFound.
func TestGetExerciseSessionHTTPNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := NewHTTPClient(ts.URL).GetExerciseSession(context.Background(), uuid.New(), 1)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// TestGetExerciseStatsHTTP verifies stats parsing.
func TestGetExerciseStatsHTTP(t *testing.T) {
	ts := newTestServer(t, map[string]http.HandlerFunc{
		"/api/v1/sessions/stats": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("end") == "" {
				t.Error("end param missing")
			}
			writeTestJSON(t, w, storage.ExerciseStats{TotalSessions: 4, GoalsReached: 3, TotalReps: 37, BestReps: 12})
		},
	})
	defer ts.Close()

	stats, err := NewHTTPClient(ts.URL).GetExerciseStats(context.Background(), 1, time.Now().AddDate(0, 0, -7), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalReps != 37 || stats.BestReps != 12 {
		t.Errorf("stats = %+v", stats)
	}
}

// TestHTTPClientServerError verifies non-200 responses surface the body.
func TestHTTPClientServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database down", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := NewHTTPClient(ts.URL).QueryExerciseSessions(context.Background(), 1, time.Now(), time.Now(), 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, storage.ErrNotFound) {
		t.Errorf("503 should not map to ErrNotFound: %v", err)
	}
}
