package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type contextKey int

const userIDKey contextKey = iota

// UserIDFromContext extracts the user ID injected by the transport layer.
func UserIDFromContext(ctx context.Context) int {
	if id, ok := ctx.Value(userIDKey).(int); ok {
		return id
	}
	return 1
}

// WithUserID returns a context with the given user ID.
func WithUserID(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// New creates an MCP server with all tools and resources registered.
func New(ds DataSource, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("SquatClicker", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("SquatClicker exercise history server. Query finished squat sessions, their repetition timelines, and aggregate stats. All data is scoped to the authenticated user."),
	)

	h := &handlers{ds: ds, log: log}

	s.AddTools(
		server.ServerTool{Tool: toolGetExerciseSessions, Handler: h.getExerciseSessions},
		server.ServerTool{Tool: toolGetExerciseSession, Handler: h.getExerciseSession},
		server.ServerTool{Tool: toolGetExerciseStats, Handler: h.getExerciseStats},
		server.ServerTool{Tool: toolComparePeriods, Handler: h.comparePeriods},
	)

	s.AddResources(
		server.ServerResource{Resource: resRecentSessions, Handler: h.recentSessions},
	)

	return s
}

type handlers struct {
	ds  DataSource
	log *slog.Logger
}

var resRecentSessions = mcp.NewResource(
	"squatclicker://recent_sessions",
	"Recent Sessions",
	mcp.WithResourceDescription("Squat sessions from the last 14 days with aggregate stats"),
	mcp.WithMIMEType("application/json"),
)
