package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/meltforce/squatclicker/internal/pose"
	"github.com/meltforce/squatclicker/internal/rep"
	"github.com/meltforce/squatclicker/internal/source"
)

// recorder is a Notifier that keeps every event.
type recorder struct {
	mu       sync.Mutex
	progress []Progress
	finished []Result
	done     chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{}, 8)}
}

func (r *recorder) OnProgress(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recorder) OnFinished(res Result) {
	r.mu.Lock()
	r.finished = append(r.finished, res)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *recorder) results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.finished...)
}

// failingSource simulates a camera that cannot be opened.
type failingSource struct{}

func (failingSource) Start(context.Context) (<-chan pose.Frame, error) {
	return nil, errors.New("permission denied")
}
func (failingSource) Stop() error { return nil }

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	det := rep.DefaultConfig()
	det.DownBelow = 0.05
	det.UpAbove = 0.15
	return Config{Detector: det}
}

func frameAt(hipKnee float64) pose.Frame {
	lms := make([]pose.Landmark, pose.NumLandmarks)
	lms[pose.LeftHip] = pose.Landmark{Y: 0.4}
	lms[pose.LeftKnee] = pose.Landmark{Y: 0.4 + hipKnee}
	lms[pose.LeftAnkle] = pose.Landmark{Y: 0.7 + hipKnee}
	return pose.Frame{Landmarks: lms}
}

// TestGoalReachedScenario feeds the two-repetition sequence with goal 2 and
// checks that exactly one GoalReached result follows the fifth frame.
func TestGoalReachedScenario(t *testing.T) {
	rec := newRecorder()
	c := New(testConfig(), rec, quietLog())
	if err := c.Start(context.Background(), 2, source.NewPush(1)); err != nil {
		t.Fatal(err)
	}

	for i, d := range []float64{0.20, 0.03, 0.20, 0.03} {
		c.OnFrame(frameAt(d))
		if got := rec.results(); len(got) != 0 {
			t.Fatalf("finished early after frame %d: %+v", i+1, got)
		}
	}
	c.OnFrame(frameAt(0.20))

	got := rec.results()
	if len(got) != 1 {
		t.Fatalf("finish notifications = %d, want 1", len(got))
	}
	if got[0].Reason != ReasonGoalReached || got[0].Count != 2 || got[0].Goal != 2 {
		t.Errorf("result = %+v", got[0])
	}
	if len(got[0].RepTimes) != 2 {
		t.Errorf("rep times = %d, want 2", len(got[0].RepTimes))
	}
	if c.Active() {
		t.Error("session should be inactive after goal")
	}

	// Later frames are ignored.
	c.OnFrame(frameAt(0.03))
	c.OnFrame(frameAt(0.20))
	if st := c.Status(); st.Count != 2 {
		t.Errorf("count after finish = %d, want 2", st.Count)
	}
	if n := len(rec.results()); n != 1 {
		t.Errorf("finish notifications after extra frames = %d, want 1", n)
	}
}

// TestProgressEvents verifies one progress event at start and one per rep.
func TestProgressEvents(t *testing.T) {
	rec := newRecorder()
	c := New(testConfig(), rec, quietLog())
	if err := c.Start(context.Background(), 5, source.NewPush(1)); err != nil {
		t.Fatal(err)
	}
	for _, d := range []float64{0.03, 0.20, 0.03, 0.20} {
		c.OnFrame(frameAt(d))
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.progress) != 3 {
		t.Fatalf("progress events = %d, want 3", len(rec.progress))
	}
	for i, p := range rec.progress {
		if p.Count != i || p.Goal != 5 {
			t.Errorf("progress[%d] = %+v", i, p)
		}
	}
}

// TestCancelPreservesCount verifies cancellation before the goal reports
// UserCancelled once with the count so far, and a second cancel is a no-op.
func TestCancelPreservesCount(t *testing.T) {
	rec := newRecorder()
	c := New(testConfig(), rec, quietLog())
	src := source.NewPush(1)
	if err := c.Start(context.Background(), 10, src); err != nil {
		t.Fatal(err)
	}
	c.OnFrame(frameAt(0.03))
	c.OnFrame(frameAt(0.20))

	c.Cancel()
	c.Cancel()
	c.Finish(ReasonGoalReached)

	got := rec.results()
	if len(got) != 1 {
		t.Fatalf("finish notifications = %d, want 1", len(got))
	}
	if got[0].Reason != ReasonUserCancelled || got[0].Count != 1 {
		t.Errorf("result = %+v, want cancelled with count 1", got[0])
	}
	if src.Publish(frameAt(0.03)) {
		t.Error("source should be stopped after cancel")
	}
}

// TestFramesBeforeStartIgnored verifies misuse is a no-op, not a crash.
func TestFramesBeforeStartIgnored(t *testing.T) {
	rec := newRecorder()
	c := New(testConfig(), rec, quietLog())
	c.OnFrame(frameAt(0.03))
	c.OnFrame(frameAt(0.20))
	c.Cancel()

	if st := c.Status(); st.Count != 0 || st.Active {
		t.Errorf("status = %+v, want idle", st)
	}
	if len(rec.results()) != 0 {
		t.Error("cancel on idle controller should not notify")
	}
}

// TestStartFailures covers capture failure, invalid goals and double start.
func TestStartFailures(t *testing.T) {
	c := New(testConfig(), newRecorder(), quietLog())

	if err := c.Start(context.Background(), 0, source.NewPush(1)); !errors.Is(err, ErrInvalidGoal) {
		t.Errorf("goal 0: error = %v, want ErrInvalidGoal", err)
	}
	if err := c.Start(context.Background(), 3, failingSource{}); err == nil {
		t.Error("expected capture failure")
	}
	if c.Active() {
		t.Fatal("session must not be active after capture failure")
	}

	if err := c.Start(context.Background(), 3, source.NewPush(1)); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background(), 3, source.NewPush(1)); !errors.Is(err, ErrActive) {
		t.Errorf("second start: error = %v, want ErrActive", err)
	}
}

// TestRestartResetsState verifies a new session starts from zero.
func TestRestartResetsState(t *testing.T) {
	rec := newRecorder()
	c := New(testConfig(), rec, quietLog())
	c.Start(context.Background(), 1, source.NewPush(1))
	c.OnFrame(frameAt(0.03))
	c.OnFrame(frameAt(0.20))
	if c.Active() {
		t.Fatal("goal 1 should have finished the session")
	}

	if err := c.Start(context.Background(), 2, source.NewPush(1)); err != nil {
		t.Fatal(err)
	}
	if st := c.Status(); st.Count != 0 || st.Phase != rep.Standing || st.Goal != 2 {
		t.Errorf("status after restart = %+v", st)
	}
}

// TestFrameLoopThroughPushSource drives a session through its own frame loop
// and waits for the goal to be reached.
func TestFrameLoopThroughPushSource(t *testing.T) {
	rec := newRecorder()
	c := New(testConfig(), rec, quietLog())
	src := source.NewPush(16)
	if err := c.Start(context.Background(), 2, src); err != nil {
		t.Fatal(err)
	}

	base := time.Now()
	for i, d := range []float64{0.20, 0.03, 0.20, 0.03, 0.20} {
		f := frameAt(d)
		f.Timestamp = base.Add(time.Duration(i) * 200 * time.Millisecond)
		src.Publish(f)
	}

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for finish")
	}
	got := rec.results()
	if got[0].Reason != ReasonGoalReached || got[0].Count != 2 {
		t.Errorf("result = %+v", got[0])
	}
}

// TestThrottleDropsFastFrames verifies frames arriving faster than MaxFPS are
// dropped before reaching the detector.
func TestThrottleDropsFastFrames(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFPS = 10
	rec := newRecorder()
	c := New(cfg, rec, quietLog())
	src := source.NewPush(16)
	if err := c.Start(context.Background(), 1, src); err != nil {
		t.Fatal(err)
	}

	// Ten milliseconds apart: only the first frame fits in the 100ms budget,
	// so the squat never registers.
	base := time.Now()
	for i, d := range []float64{0.20, 0.03, 0.20} {
		f := frameAt(d)
		f.Timestamp = base.Add(time.Duration(i) * 10 * time.Millisecond)
		src.Publish(f)
	}
	// Then a properly spaced squat completes the goal.
	for i, d := range []float64{0.03, 0.20} {
		f := frameAt(d)
		f.Timestamp = base.Add(time.Second + time.Duration(i)*200*time.Millisecond)
		src.Publish(f)
	}

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for finish")
	}
	if st := c.Status(); st.Throttled != 2 {
		t.Errorf("throttled = %d, want 2", st.Throttled)
	}
}

// TestSourceEndFinishesSession verifies a source that closes on its own ends
// the session as cancelled with the count preserved.
func TestSourceEndFinishesSession(t *testing.T) {
	rec := newRecorder()
	c := New(testConfig(), rec, quietLog())
	src := source.NewPush(4)
	if err := c.Start(context.Background(), 5, src); err != nil {
		t.Fatal(err)
	}
	src.Stop()

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for finish")
	}
	if got := rec.results(); got[0].Reason != ReasonUserCancelled {
		t.Errorf("reason = %q, want user_cancelled", got[0].Reason)
	}
}
