package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/meltforce/squatclicker/internal/economy"
	"github.com/meltforce/squatclicker/internal/exercise"
	"github.com/meltforce/squatclicker/internal/session"
	"github.com/meltforce/squatclicker/internal/storage"
)

const maxFrameBody = 4 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userInfoFromContext(r))
}

// gameView is the clicker state plus the price of each next upgrade.
type gameView struct {
	economy.State
	ClickUpgradeCost int64 `json:"click_upgrade_cost"`
	AutoUpgradeCost  int64 `json:"auto_upgrade_cost"`
}

func (s *Server) gameView(st economy.State) gameView {
	click, _ := st.Cost(s.game.Config(), economy.UpgradeClick)
	auto, _ := st.Cost(s.game.Config(), economy.UpgradeAuto)
	return gameView{State: st, ClickUpgradeCost: click, AutoUpgradeCost: auto}
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gameView(s.game.Get(userIDFromContext(r))))
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gameView(s.game.Click(userIDFromContext(r))))
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	kind := economy.Upgrade(chi.URLParam(r, "kind"))
	st, err := s.game.Buy(userIDFromContext(r), kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.gameView(st))
}

type startExerciseRequest struct {
	Goal int `json:"goal"`
}

func (s *Server) handleStartExercise(w http.ResponseWriter, r *http.Request) {
	var req startExerciseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	uid := userIDFromContext(r)
	st, err := s.exercise.Start(uid, req.Goal)
	if err != nil {
		if errors.Is(err, session.ErrActive) {
			cur, _ := s.exercise.Current(uid)
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "session": cur})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleCurrentExercise(w http.ResponseWriter, r *http.Request) {
	st, ok := s.exercise.Current(userIDFromContext(r))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active exercise session"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleExerciseStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	st, err := s.exercise.Status(userIDFromContext(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCancelExercise(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	st, err := s.exercise.Cancel(userIDFromContext(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleExerciseFrames(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		return
	}
	frames, err := exercise.DecodeFrames(body, time.Now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.exercise.Frames(r.Context(), userIDFromContext(r), id, frames); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(frames)})
}

// handleExerciseWS streams session events to the client and accepts landmark
// frames in the other direction.
func (s *Server) handleExerciseWS(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	uid := userIDFromContext(r)
	if _, err := s.exercise.Status(uid, id); err != nil {
		writeError(w, err)
		return
	}
	s.hub.ServeWS(w, r, id.String(), func(data []byte) error {
		frames, err := exercise.DecodeFrames(data, time.Now())
		if err != nil {
			return err
		}
		return s.exercise.LiveFrames(uid, id, frames)
	})
}

func (s *Server) handleQuerySessions(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
	}

	rows, err := s.db.QueryExerciseSessions(r.Context(), userIDFromContext(r), start, end, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if rows == nil {
		rows = []storage.ExerciseSession{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	detail, err := s.db.GetExerciseSession(r.Context(), id, userIDFromContext(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	stats, err := s.db.GetExerciseStats(r.Context(), userIDFromContext(r), start, end)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.db == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "session history is not available"})
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, exercise.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrActive), errors.Is(err, economy.ErrInsufficientScore):
		status = http.StatusConflict
	case errors.Is(err, session.ErrInvalidGoal), errors.Is(err, exercise.ErrGoalTooLarge),
		errors.Is(err, economy.ErrUnknownUpgrade):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseTimeRange(r *http.Request) (start, end time.Time, err error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if endStr == "" {
		end = time.Now()
	} else {
		end, err = time.Parse(time.RFC3339, endStr)
		if err != nil {
			end, err = time.Parse("2006-01-02", endStr)
			if err != nil {
				return time.Time{}, time.Time{}, err
			}
			// End of day for date-only
			end = end.Add(24 * time.Hour)
		}
	}

	if startStr == "" {
		// Default: last 30 days
		start = end.AddDate(0, 0, -30)
		return
	}
	start, err = time.Parse(time.RFC3339, startStr)
	if err != nil {
		start, err = time.Parse("2006-01-02", startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return
}
