package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ExerciseSession is one finished squat session.
type ExerciseSession struct {
	ID         uuid.UUID `json:"id"`
	UserID     int       `json:"-"`
	Goal       int       `json:"goal"`
	Reps       int       `json:"reps"`
	Reason     string    `json:"reason"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Reward     int64     `json:"reward"`
}

// ReasonGoalReached is the stored reason of a session that hit its goal.
const ReasonGoalReached = "goal_reached"

// GoalReached reports whether the session hit its goal.
func (s ExerciseSession) GoalReached() bool {
	return s.Reason == ReasonGoalReached
}

// RepEvent is the completion time of one repetition.
type RepEvent struct {
	RepNumber int       `json:"rep_number"`
	At        time.Time `json:"at"`
}

// ExerciseSessionDetail is a session with its repetition timeline.
type ExerciseSessionDetail struct {
	ExerciseSession
	RepEvents []RepEvent `json:"rep_events"`
}

// ExerciseStats aggregates a user's sessions in a time range.
type ExerciseStats struct {
	TotalSessions int64      `json:"total_sessions"`
	GoalsReached  int64      `json:"goals_reached"`
	TotalReps     int64      `json:"total_reps"`
	TotalReward   int64      `json:"total_reward"`
	BestReps      int        `json:"best_reps"`
	FirstSession  *time.Time `json:"first_session"`
	LastSession   *time.Time `json:"last_session"`
}

// RecordExerciseSession stores a finished session together with its
// repetition times in one transaction. Recording the same ID twice is a no-op.
func (db *DB) RecordExerciseSession(ctx context.Context, s ExerciseSession, repTimes []time.Time) (err error) {
	tx, err := db.q.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx,
		`INSERT INTO exercise_sessions (id, user_id, goal, reps, reason, started_at, finished_at, reward)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (id) DO NOTHING`,
		s.ID, s.UserID, s.Goal, s.Reps, s.Reason, s.StartedAt, s.FinishedAt, s.Reward)
	if err != nil {
		return fmt.Errorf("inserting exercise session: %w", err)
	}
	if tag.RowsAffected() > 0 && len(repTimes) > 0 {
		query := `INSERT INTO exercise_reps (session_id, rep_number, at) VALUES `
		args := make([]any, 0, len(repTimes)*3)
		valueStrings := make([]string, 0, len(repTimes))
		for i, at := range repTimes {
			base := i * 3
			valueStrings = append(valueStrings, fmt.Sprintf("($%d,$%d,$%d)", base+1, base+2, base+3))
			args = append(args, s.ID, i+1, at)
		}
		query += strings.Join(valueStrings, ",")

		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("inserting rep events: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing exercise session: %w", err)
	}
	return nil
}

// QueryExerciseSessions returns a user's sessions started in [start, end),
// newest first. A limit of zero or less returns all of them.
func (db *DB) QueryExerciseSessions(ctx context.Context, userID int, start, end time.Time, limit int) ([]ExerciseSession, error) {
	query := `SELECT id, user_id, goal, reps, reason, started_at, finished_at, reward
		 FROM exercise_sessions
		 WHERE user_id = $1 AND started_at >= $2 AND started_at < $3
		 ORDER BY started_at DESC`
	args := []any{userID, start, end}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	rows, err := db.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying exercise sessions: %w", err)
	}
	defer rows.Close()

	var out []ExerciseSession
	for rows.Next() {
		var s ExerciseSession
		if err := rows.Scan(&s.ID, &s.UserID, &s.Goal, &s.Reps, &s.Reason,
			&s.StartedAt, &s.FinishedAt, &s.Reward); err != nil {
			return nil, fmt.Errorf("scanning exercise session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetExerciseSession returns one session with its repetition timeline.
func (db *DB) GetExerciseSession(ctx context.Context, id uuid.UUID, userID int) (*ExerciseSessionDetail, error) {
	var d ExerciseSessionDetail
	err := db.q.QueryRow(ctx,
		`SELECT id, user_id, goal, reps, reason, started_at, finished_at, reward
		 FROM exercise_sessions
		 WHERE id = $1 AND user_id = $2`,
		id, userID).Scan(&d.ID, &d.UserID, &d.Goal, &d.Reps, &d.Reason,
		&d.StartedAt, &d.FinishedAt, &d.Reward)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying exercise session: %w", err)
	}

	rows, err := db.q.Query(ctx,
		`SELECT rep_number, at FROM exercise_reps
		 WHERE session_id = $1
		 ORDER BY rep_number`, id)
	if err != nil {
		return nil, fmt.Errorf("querying rep events: %w", err)
	}
	defer rows.Close()

	d.RepEvents = []RepEvent{}
	for rows.Next() {
		var e RepEvent
		if err := rows.Scan(&e.RepNumber, &e.At); err != nil {
			return nil, fmt.Errorf("scanning rep event: %w", err)
		}
		d.RepEvents = append(d.RepEvents, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rep events: %w", err)
	}
	return &d, nil
}

// GetExerciseStats aggregates a user's sessions started in [start, end).
func (db *DB) GetExerciseStats(ctx context.Context, userID int, start, end time.Time) (*ExerciseStats, error) {
	stats := &ExerciseStats{}
	err := db.q.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE reason = 'goal_reached'),
		        COALESCE(SUM(reps), 0)::bigint,
		        COALESCE(SUM(reward), 0)::bigint,
		        COALESCE(MAX(reps), 0),
		        MIN(started_at),
		        MAX(started_at)
		 FROM exercise_sessions
		 WHERE user_id = $1 AND started_at >= $2 AND started_at < $3`,
		userID, start, end).Scan(&stats.TotalSessions, &stats.GoalsReached, &stats.TotalReps,
		&stats.TotalReward, &stats.BestReps, &stats.FirstSession, &stats.LastSession)
	if err != nil {
		return nil, fmt.Errorf("querying exercise stats: %w", err)
	}
	return stats, nil
}
