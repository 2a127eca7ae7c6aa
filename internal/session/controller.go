// Package session runs one squat exercise session: it feeds landmark frames to
// the rep detector, tracks the goal, and reports progress and the final result.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meltforce/squatclicker/internal/pose"
	"github.com/meltforce/squatclicker/internal/rep"
	"github.com/meltforce/squatclicker/internal/source"
	"golang.org/x/time/rate"
)

// Reason says why a session finished.
type Reason string

const (
	ReasonGoalReached   Reason = "goal_reached"
	ReasonUserCancelled Reason = "user_cancelled"
)

var (
	// ErrInvalidGoal is returned by Start for a goal below one.
	ErrInvalidGoal = errors.New("goal must be at least 1")
	// ErrActive is returned by Start while a session is still running.
	ErrActive = errors.New("session already active")
)

// Progress is emitted when a session starts and after every repetition.
type Progress struct {
	Count int       `json:"count"`
	Goal  int       `json:"goal"`
	Phase rep.Phase `json:"phase"`
	At    time.Time `json:"at"`
}

// Result is emitted once when a session finishes. Count is preserved on
// cancellation so the caller can decide on partial rewards.
type Result struct {
	Count      int         `json:"count"`
	Goal       int         `json:"goal"`
	Reason     Reason      `json:"reason"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	RepTimes   []time.Time `json:"rep_times,omitempty"`
}

// Notifier receives session events. Callbacks run synchronously and in order
// while the controller is locked, so they must not call back into it.
type Notifier interface {
	OnProgress(Progress)
	OnFinished(Result)
}

// Config configures a Controller.
type Config struct {
	Detector rep.Config
	// MaxFPS caps how many frames per second reach the detector. Zero means no cap.
	MaxFPS float64
}

// Status is a point-in-time view of the controller.
type Status struct {
	Active    bool      `json:"active"`
	Count     int       `json:"count"`
	Goal      int       `json:"goal"`
	Phase     rep.Phase `json:"phase"`
	StartedAt time.Time `json:"started_at"`
	Throttled int       `json:"throttled_frames"`
}

// Controller owns the lifetime of an exercise session.
type Controller struct {
	cfg    Config
	notify Notifier
	log    *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	gen        uint64
	active     bool
	det        *rep.Detector
	goal       int
	src        source.Source
	startedAt  time.Time
	repTimes   []time.Time
	throttled  int
	cancelLoop context.CancelFunc
}

// New creates an idle controller.
func New(cfg Config, notify Notifier, log *slog.Logger) *Controller {
	return &Controller{
		cfg:    cfg,
		notify: notify,
		log:    log,
		now:    time.Now,
		det:    rep.NewDetector(cfg.Detector),
	}
}

// Start resets the detector, starts src and begins consuming its frames. If the
// source cannot start the error is returned and the session stays inactive.
func (c *Controller) Start(ctx context.Context, goal int, src source.Source) error {
	if goal < 1 {
		return ErrInvalidGoal
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return ErrActive
	}

	frames, err := src.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting landmark source: %w", err)
	}

	c.gen++
	c.det = rep.NewDetector(c.cfg.Detector)
	c.goal = goal
	c.src = src
	c.active = true
	c.startedAt = c.now()
	c.repTimes = nil
	c.throttled = 0

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancelLoop = cancel
	go c.run(loopCtx, c.gen, frames)

	c.log.Info("exercise session started", "goal", goal)
	c.notify.OnProgress(c.progressLocked(c.startedAt))
	return nil
}

// OnFrame feeds one frame to the detector. It is a no-op when no session is active.
func (c *Controller) OnFrame(f pose.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frameLocked(f)
}

// Cancel finishes an active session as user-cancelled, keeping its count.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishLocked(ReasonUserCancelled)
}

// Finish ends the session with the given reason. Calling it on an inactive
// controller does nothing.
func (c *Controller) Finish(reason Reason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishLocked(reason)
}

// Active reports whether a session is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Status returns a snapshot of the current or last session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.det.State()
	return Status{
		Active:    c.active,
		Count:     st.Count,
		Goal:      c.goal,
		Phase:     st.Phase,
		StartedAt: c.startedAt,
		Throttled: c.throttled,
	}
}

// run is the frame loop for one session generation. Frames from a previous
// generation are never applied to a newer session.
func (c *Controller) run(ctx context.Context, gen uint64, frames <-chan pose.Frame) {
	limit := rate.Inf
	if c.cfg.MaxFPS > 0 {
		limit = rate.Limit(c.cfg.MaxFPS)
	}
	limiter := rate.NewLimiter(limit, 1)

	for {
		select {
		case <-ctx.Done():
			c.endGeneration(gen, "session context done")
			return
		case f, ok := <-frames:
			if !ok {
				c.endGeneration(gen, "landmark source ended")
				return
			}
			ts := f.Timestamp
			if ts.IsZero() {
				ts = c.now()
			}
			allowed := limiter.AllowN(ts, 1)

			c.mu.Lock()
			if gen != c.gen {
				c.mu.Unlock()
				return
			}
			if allowed {
				c.frameLocked(f)
			} else {
				c.throttled++
			}
			c.mu.Unlock()
		}
	}
}

func (c *Controller) endGeneration(gen uint64, why string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || !c.active {
		return
	}
	c.log.Warn("exercise session interrupted", "reason", why, "count", c.det.State().Count)
	c.finishLocked(ReasonUserCancelled)
}

func (c *Controller) frameLocked(f pose.Frame) {
	if !c.active {
		return
	}
	if !c.det.Update(f) {
		return
	}

	at := f.Timestamp
	if at.IsZero() {
		at = c.now()
	}
	c.repTimes = append(c.repTimes, at)
	c.notify.OnProgress(c.progressLocked(at))

	if c.det.State().Count >= c.goal {
		c.finishLocked(ReasonGoalReached)
	}
}

func (c *Controller) finishLocked(reason Reason) {
	if !c.active {
		return
	}
	c.active = false

	if err := c.src.Stop(); err != nil {
		c.log.Error("stopping landmark source", "error", err)
	}
	if c.cancelLoop != nil {
		c.cancelLoop()
	}

	res := Result{
		Count:      c.det.State().Count,
		Goal:       c.goal,
		Reason:     reason,
		StartedAt:  c.startedAt,
		FinishedAt: c.now(),
		RepTimes:   append([]time.Time(nil), c.repTimes...),
	}
	c.log.Info("exercise session finished", "reason", reason, "count", res.Count, "goal", res.Goal)
	c.notify.OnFinished(res)
}

func (c *Controller) progressLocked(at time.Time) Progress {
	st := c.det.State()
	return Progress{Count: st.Count, Goal: c.goal, Phase: st.Phase, At: at}
}
