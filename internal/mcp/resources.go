package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const recentDays = 14

func (h *handlers) recentSessions(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uid := UserIDFromContext(ctx)
	end := time.Now()
	start := end.AddDate(0, 0, -recentDays)

	sessions, err := h.ds.QueryExerciseSessions(ctx, uid, start, end, 0)
	if err != nil {
		return nil, err
	}

	stats, err := h.ds.GetExerciseStats(ctx, uid, start, end)
	if err != nil {
		h.log.Warn("recent_sessions: stats query failed", "error", err)
	}

	data, err := json.Marshal(map[string]any{
		"start":    start.Format(time.RFC3339),
		"end":      end.Format(time.RFC3339),
		"sessions": sessions,
		"stats":    stats,
	})
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
