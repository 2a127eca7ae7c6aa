package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *DB) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock, NewWithQuerier(mock)
}

var sessionCols = []string{"id", "user_id", "goal", "reps", "reason", "started_at", "finished_at", "reward"}

// TestGetOrCreateUser verifies the upsert returns the user ID.
func TestGetOrCreateUser(t *testing.T) {
	mock, db := newMock(t)
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("alice@example.com", "Alice").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(7))

	id, err := db.GetOrCreateUser(context.Background(), "alice@example.com", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if id != 7 {
		t.Errorf("id = %d, want 7", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestRecordExerciseSession verifies the session row and its rep events are
// written in one transaction.
func TestRecordExerciseSession(t *testing.T) {
	mock, db := newMock(t)
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s := ExerciseSession{
		ID: uuid.New(), UserID: 1, Goal: 2, Reps: 2, Reason: ReasonGoalReached,
		StartedAt: start, FinishedAt: start.Add(time.Minute), Reward: 120,
	}
	reps := []time.Time{start.Add(10 * time.Second), start.Add(20 * time.Second)}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO exercise_sessions`).
		WithArgs(s.ID, 1, 2, 2, ReasonGoalReached, s.StartedAt, s.FinishedAt, int64(120)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO exercise_reps \(session_id, rep_number, at\) VALUES \(\$1,\$2,\$3\),\(\$4,\$5,\$6\)`).
		WithArgs(s.ID, 1, reps[0], s.ID, 2, reps[1]).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	if err := db.RecordExerciseSession(context.Background(), s, reps); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestRecordExerciseSessionDuplicate verifies a repeated ID skips the rep insert.
func TestRecordExerciseSessionDuplicate(t *testing.T) {
	mock, db := newMock(t)
	s := ExerciseSession{ID: uuid.New(), UserID: 1, Goal: 1, Reps: 1, Reason: ReasonGoalReached}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO exercise_sessions`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	if err := db.RecordExerciseSession(context.Background(), s, []time.Time{time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestRecordExerciseSessionRollback verifies a failed insert rolls back.
func TestRecordExerciseSessionRollback(t *testing.T) {
	mock, db := newMock(t)
	s := ExerciseSession{ID: uuid.New(), UserID: 1, Goal: 1, Reason: "user_cancelled"}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO exercise_sessions`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	if err := db.RecordExerciseSession(context.Background(), s, nil); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestQueryExerciseSessions verifies the limit clause and row scanning.
func TestQueryExerciseSessions(t *testing.T) {
	mock, db := newMock(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)
	id := uuid.New()

	mock.ExpectQuery(`(?s)FROM exercise_sessions.*ORDER BY started_at DESC LIMIT \$4`).
		WithArgs(3, start, end, 5).
		WillReturnRows(pgxmock.NewRows(sessionCols).
			AddRow(id, 3, 10, 4, "user_cancelled", start.Add(time.Hour), start.Add(2*time.Hour), int64(0)))

	got, err := db.QueryExerciseSessions(context.Background(), 3, start, end, 5)
	if err != nil {
		t.Fatal(err)
	}
	want := []ExerciseSession{{
		ID: id, UserID: 3, Goal: 10, Reps: 4, Reason: "user_cancelled",
		StartedAt: start.Add(time.Hour), FinishedAt: start.Add(2 * time.Hour),
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sessions mismatch (-want +got):\n%s", diff)
	}
	if got[0].GoalReached() {
		t.Error("cancelled session reported as goal reached")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestGetExerciseSession verifies the detail includes ordered rep events.
func TestGetExerciseSession(t *testing.T) {
	mock, db := newMock(t)
	id := uuid.New()
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM exercise_sessions\s+WHERE id = \$1 AND user_id = \$2`).
		WithArgs(id, 1).
		WillReturnRows(pgxmock.NewRows(sessionCols).
			AddRow(id, 1, 1, 1, ReasonGoalReached, start, start.Add(time.Minute), int64(110)))
	mock.ExpectQuery(`SELECT rep_number, at FROM exercise_reps`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"rep_number", "at"}).AddRow(1, start.Add(30*time.Second)))

	got, err := db.GetExerciseSession(context.Background(), id, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !got.GoalReached() || got.Reward != 110 {
		t.Errorf("session = %+v", got.ExerciseSession)
	}
	if len(got.RepEvents) != 1 || got.RepEvents[0].RepNumber != 1 {
		t.Errorf("rep events = %+v", got.RepEvents)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestGetExerciseSessionNotFound verifies missing rows map to ErrNotFound.
func TestGetExerciseSessionNotFound(t *testing.T) {
	mock, db := newMock(t)
	mock.ExpectQuery(`FROM exercise_sessions`).WillReturnError(pgx.ErrNoRows)

	_, err := db.GetExerciseSession(context.Background(), uuid.New(), 1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// TestGetExerciseStats verifies the aggregate row is scanned.
func TestGetExerciseStats(t *testing.T) {
	mock, db := newMock(t)
	first := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 0, 3)

	mock.ExpectQuery(`COUNT\(\*\) FILTER \(WHERE reason = 'goal_reached'\)`).
		WithArgs(1, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"total", "reached", "reps", "reward", "best", "first", "last"}).
			AddRow(int64(4), int64(3), int64(37), int64(670), 12, &first, &last))

	got, err := db.GetExerciseStats(context.Background(), 1, first, last.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	want := &ExerciseStats{
		TotalSessions: 4, GoalsReached: 3, TotalReps: 37, TotalReward: 670, BestReps: 12,
		FirstSession: &first, LastSession: &last,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}
