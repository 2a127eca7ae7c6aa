// Package exercise runs squat sessions on behalf of users. It owns the live
// session set, routes incoming landmark frames to the right session, pays the
// reward into the game economy and records finished sessions.
package exercise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meltforce/squatclicker/internal/economy"
	"github.com/meltforce/squatclicker/internal/pose"
	"github.com/meltforce/squatclicker/internal/session"
	"github.com/meltforce/squatclicker/internal/source"
	"github.com/meltforce/squatclicker/internal/storage"
)

var (
	// ErrNotFound is returned for an unknown session or one owned by another user.
	ErrNotFound = errors.New("exercise session not found")
	// ErrGoalTooLarge is returned when a goal exceeds the configured maximum.
	ErrGoalTooLarge = errors.New("goal too large")
)

// maxRecent bounds how many finished sessions stay queryable from memory.
const maxRecent = 256

// Recorder persists finished sessions. *storage.DB satisfies it.
type Recorder interface {
	RecordExerciseSession(ctx context.Context, s storage.ExerciseSession, repTimes []time.Time) error
}

// Broadcaster delivers session events to watchers. *stream.Hub satisfies it.
type Broadcaster interface {
	BroadcastJSON(sessionID string, v any) error
}

// Config configures a Manager.
type Config struct {
	DefaultGoal   int
	MaxGoal       int
	FrameBuffer   int
	RecordTimeout time.Duration
	Session       session.Config
	Reward        economy.RewardPolicy
}

// Event is the payload broadcast to a session's watchers.
type Event struct {
	Type      string            `json:"type"`
	SessionID uuid.UUID         `json:"session_id"`
	Progress  *session.Progress `json:"progress,omitempty"`
	Result    *session.Result   `json:"result,omitempty"`
	Reward    int64             `json:"reward,omitempty"`
	Score     int64             `json:"score,omitempty"`
}

const (
	EventProgress = "progress"
	EventFinished = "finished"
)

// Status describes a live or recently finished session.
type Status struct {
	ID          uuid.UUID        `json:"id"`
	Session     session.Status   `json:"session"`
	Frames      source.PushStats `json:"frames"`
	Connections [][2]int         `json:"connections"`
	Result      *session.Result  `json:"result,omitempty"`
	Reward      int64            `json:"reward,omitempty"`
}

type live struct {
	id     uuid.UUID
	userID int
	src    *source.Push
	ctrl   *session.Controller
}

type finished struct {
	userID int
	status Status
}

// Manager tracks every user's exercise sessions.
type Manager struct {
	cfg    Config
	book   *economy.Book
	rec    Recorder
	events Broadcaster
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	byID        map[uuid.UUID]*live
	byUser      map[int]uuid.UUID
	recent      map[uuid.UUID]finished
	recentOrder []uuid.UUID
}

// NewManager creates a manager. rec and events may be nil.
func NewManager(cfg Config, book *economy.Book, rec Recorder, events Broadcaster, log *slog.Logger) *Manager {
	if cfg.DefaultGoal < 1 {
		cfg.DefaultGoal = 10
	}
	if cfg.FrameBuffer < 1 {
		cfg.FrameBuffer = 8
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		book:   book,
		rec:    rec,
		events: events,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		byID:   make(map[uuid.UUID]*live),
		byUser: make(map[int]uuid.UUID),
		recent: make(map[uuid.UUID]finished),
	}
}

// Start begins a session for the user. A goal of zero selects the default.
func (m *Manager) Start(userID, goal int) (Status, error) {
	if goal == 0 {
		goal = m.cfg.DefaultGoal
	}
	if goal < 1 {
		return Status{}, session.ErrInvalidGoal
	}
	if m.cfg.MaxGoal > 0 && goal > m.cfg.MaxGoal {
		return Status{}, fmt.Errorf("%w: %d exceeds %d", ErrGoalTooLarge, goal, m.cfg.MaxGoal)
	}

	l := &live{id: uuid.New(), userID: userID, src: source.NewPush(m.cfg.FrameBuffer)}
	log := m.log.With("session", l.id, "user_id", userID)
	l.ctrl = session.New(m.cfg.Session, &notifier{m: m, l: l}, log)

	m.mu.Lock()
	if _, busy := m.byUser[userID]; busy {
		m.mu.Unlock()
		return Status{}, session.ErrActive
	}
	m.byID[l.id] = l
	m.byUser[userID] = l.id
	m.mu.Unlock()

	if err := l.ctrl.Start(m.ctx, goal, l.src); err != nil {
		m.mu.Lock()
		m.removeLocked(l)
		m.mu.Unlock()
		return Status{}, err
	}
	return m.liveStatus(l), nil
}

// Frames queues an uploaded batch for the user's session, waiting for buffer
// space so no frame of the batch is lost. It stops early when the session
// finishes or ctx is done. Frames for a session that has just finished are
// dropped.
func (m *Manager) Frames(ctx context.Context, userID int, id uuid.UUID, frames []pose.Frame) error {
	return m.publish(userID, id, frames, func(src *source.Push, f pose.Frame) bool {
		return src.PublishWait(ctx, f)
	})
}

// LiveFrames queues frames from a live camera feed. A full buffer discards
// the oldest frame so the detector keeps up with current motion.
func (m *Manager) LiveFrames(userID int, id uuid.UUID, frames []pose.Frame) error {
	return m.publish(userID, id, frames, (*source.Push).Publish)
}

func (m *Manager) publish(userID int, id uuid.UUID, frames []pose.Frame, send func(*source.Push, pose.Frame) bool) error {
	l, err := m.lookup(userID, id)
	if err != nil {
		if m.isRecent(userID, id) {
			return nil
		}
		return err
	}
	for _, f := range frames {
		if !send(l.src, f) {
			break
		}
	}
	return nil
}

// Cancel ends the user's session, keeping the count reached so far.
func (m *Manager) Cancel(userID int, id uuid.UUID) (Status, error) {
	l, err := m.lookup(userID, id)
	if err == nil {
		l.ctrl.Cancel()
	}
	return m.Status(userID, id)
}

// Status returns the live or recently finished session.
func (m *Manager) Status(userID int, id uuid.UUID) (Status, error) {
	m.mu.Lock()
	l, ok := m.byID[id]
	f, done := m.recent[id]
	m.mu.Unlock()

	switch {
	case ok && l.userID == userID:
		return m.liveStatus(l), nil
	case done && f.userID == userID:
		return f.status, nil
	default:
		return Status{}, ErrNotFound
	}
}

// Current returns the user's active session, if any.
func (m *Manager) Current(userID int) (Status, bool) {
	m.mu.Lock()
	id, ok := m.byUser[userID]
	l := m.byID[id]
	m.mu.Unlock()
	if !ok || l == nil {
		return Status{}, false
	}
	return m.liveStatus(l), true
}

// Close cancels every live session and waits for pending history writes.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*live, 0, len(m.byID))
	for _, l := range m.byID {
		all = append(all, l)
	}
	m.mu.Unlock()

	for _, l := range all {
		l.ctrl.Cancel()
	}
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) lookup(userID int, id uuid.UUID) (*live, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.byID[id]
	if !ok || l.userID != userID {
		return nil, ErrNotFound
	}
	return l, nil
}

func (m *Manager) isRecent(userID int, id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.recent[id]
	return ok && f.userID == userID
}

func (m *Manager) liveStatus(l *live) Status {
	return Status{
		ID:          l.id,
		Session:     l.ctrl.Status(),
		Frames:      l.src.Stats(),
		Connections: pose.Connections,
	}
}

func (m *Manager) removeLocked(l *live) {
	delete(m.byID, l.id)
	if m.byUser[l.userID] == l.id {
		delete(m.byUser, l.userID)
	}
}

// retire moves a finished session from the live set to the recent set.
func (m *Manager) retire(l *live, st Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(l)
	m.recent[l.id] = finished{userID: l.userID, status: st}
	m.recentOrder = append(m.recentOrder, l.id)
	for len(m.recentOrder) > maxRecent {
		delete(m.recent, m.recentOrder[0])
		m.recentOrder = m.recentOrder[1:]
	}
}

// record writes history in the background so the frame loop is never held up
// by the database.
func (m *Manager) record(l *live, res session.Result, reward int64) {
	if m.rec == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RecordTimeout)
		defer cancel()

		row := storage.ExerciseSession{
			ID:         l.id,
			UserID:     l.userID,
			Goal:       res.Goal,
			Reps:       res.Count,
			Reason:     string(res.Reason),
			StartedAt:  res.StartedAt,
			FinishedAt: res.FinishedAt,
			Reward:     reward,
		}
		if err := m.rec.RecordExerciseSession(ctx, row, res.RepTimes); err != nil {
			m.log.Error("recording exercise session", "session", l.id, "error", err)
		}
	}()
}

func (m *Manager) broadcast(id uuid.UUID, ev Event) {
	if m.events == nil {
		return
	}
	if err := m.events.BroadcastJSON(id.String(), ev); err != nil {
		m.log.Warn("broadcasting session event", "session", id, "type", ev.Type, "error", err)
	}
}

// notifier adapts controller callbacks for one session. It runs under the
// controller lock and must not call back into the controller.
type notifier struct {
	m *Manager
	l *live
}

func (n *notifier) OnProgress(p session.Progress) {
	n.m.broadcast(n.l.id, Event{Type: EventProgress, SessionID: n.l.id, Progress: &p})
}

func (n *notifier) OnFinished(res session.Result) {
	m := n.m
	reward := m.cfg.Reward.Reward(res.Count, res.Reason == session.ReasonGoalReached)

	var score int64
	if m.book != nil {
		score = m.book.Credit(n.l.userID, reward).Score
	}

	st := Status{
		ID: n.l.id,
		Session: session.Status{
			Count:     res.Count,
			Goal:      res.Goal,
			StartedAt: res.StartedAt,
		},
		Frames:      n.l.src.Stats(),
		Connections: pose.Connections,
		Result:      &res,
		Reward:      reward,
	}
	m.retire(n.l, st)
	m.broadcast(n.l.id, Event{Type: EventFinished, SessionID: n.l.id, Result: &res, Reward: reward, Score: score})
	m.record(n.l, res, reward)

	m.log.Info("exercise reward paid", "session", n.l.id, "user_id", n.l.userID,
		"reason", res.Reason, "count", res.Count, "reward", reward)
}
