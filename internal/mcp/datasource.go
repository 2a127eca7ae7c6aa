package mcp

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/meltforce/squatclicker/internal/storage"
)

// DataSource abstracts the data layer for MCP tools. Both *storage.DB (local)
// and HTTPClient (remote via REST API) satisfy this interface.
type DataSource interface {
	QueryExerciseSessions(ctx context.Context, userID int, start, end time.Time, limit int) ([]storage.ExerciseSession, error)
	GetExerciseSession(ctx context.Context, id uuid.UUID, userID int) (*storage.ExerciseSessionDetail, error)
	GetExerciseStats(ctx context.Context, userID int, start, end time.Time) (*storage.ExerciseStats, error)
}

// Compile-time check: *storage.DB satisfies DataSource.
var _ DataSource = (*storage.DB)(nil)
