package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/meltforce/squatclicker/internal/session"
	"github.com/meltforce/squatclicker/internal/source"
)

// Stats tracks replay progress.
type Stats struct {
	FilesTotal    int
	FilesReplayed int
	FilesSkipped  int
	FilesErrored  int

	FramesSent   int
	Reps         int
	GoalsReached int
	Reward       int64

	Results []FileResult
}

// FileResult is the outcome of one recording.
type FileResult struct {
	Path      string
	SessionID string
	Count     int
	Goal      int
	Reason    string
	Reward    int64
	Frames    int
}

// Options configures a Replayer.
type Options struct {
	Goal      int
	BatchSize int
	DryRun    bool
	// Force replays recordings the ledger already lists. Their entries are
	// still updated.
	Force bool
	// Paced replays recordings in real time. Only used in dry-run mode.
	Paced bool
	// Settle is how long to wait for the server to finish a session after
	// the last batch before cancelling it.
	Settle time.Duration
	// Session configures the local controller used in dry-run mode.
	Session session.Config
}

// Replayer walks a directory of .jsonl landmark recordings and plays each one
// as an exercise session, either against a server or through a local
// controller when DryRun is set.
type Replayer struct {
	client *Client
	ledger *Ledger
	dir    string
	opts   Options
	log    *slog.Logger
	stats  Stats
}

// New creates a new Replayer. client may be nil in dry-run mode and ledger
// may be nil to replay every recording without keeping history.
func New(client *Client, ledger *Ledger, dir string, opts Options, log *slog.Logger) *Replayer {
	if opts.Goal < 1 {
		opts.Goal = 10
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 50
	}
	if opts.Settle <= 0 {
		opts.Settle = 2 * time.Second
	}
	return &Replayer{client: client, ledger: ledger, dir: dir, opts: opts, log: log}
}

// Run replays every recording in the directory in name order. Per-file
// failures are counted and logged; only a failure to list the directory is
// returned as an error.
func (r *Replayer) Run(ctx context.Context) (*Stats, error) {
	files, err := filepath.Glob(filepath.Join(r.dir, "*.jsonl"))
	if err != nil {
		return &r.stats, fmt.Errorf("listing recordings: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		if ctx.Err() != nil {
			return &r.stats, ctx.Err()
		}
		r.stats.FilesTotal++
		if err := r.replayFile(ctx, f); err != nil {
			r.log.Warn("replay failed", "file", f, "error", err)
			r.stats.FilesErrored++
		}
	}
	return &r.stats, nil
}

func (r *Replayer) replayFile(ctx context.Context, path string) error {
	relPath, _ := filepath.Rel(r.dir, path)
	fp, err := FingerprintFile(path)
	if err != nil {
		return fmt.Errorf("fingerprinting: %w", err)
	}

	keep := r.ledger != nil && !r.opts.DryRun
	if keep && !r.opts.Force {
		done, err := r.ledger.Replayed(relPath, fp)
		if err != nil {
			return fmt.Errorf("ledger check: %w", err)
		}
		if done {
			r.stats.FilesSkipped++
			return nil
		}
	}

	var res FileResult
	if r.opts.DryRun {
		res, err = r.replayLocal(ctx, path)
	} else {
		res, err = r.replayRemote(ctx, path)
	}
	if err != nil {
		return err
	}
	res.Path = relPath

	r.stats.FilesReplayed++
	r.stats.FramesSent += res.Frames
	r.stats.Reps += res.Count
	r.stats.Reward += res.Reward
	if res.Reason == string(session.ReasonGoalReached) {
		r.stats.GoalsReached++
	}
	r.stats.Results = append(r.stats.Results, res)
	r.log.Info("replayed recording", "file", relPath, "reps", res.Count, "goal", res.Goal, "reason", res.Reason)

	if keep {
		err := r.ledger.Record(Entry{
			Path:        relPath,
			Fingerprint: fp,
			SessionID:   res.SessionID,
			Goal:        res.Goal,
			Reps:        res.Count,
			Reason:      res.Reason,
			Reward:      res.Reward,
			Frames:      res.Frames,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// resultCollector is a session.Notifier that hands the final result to a channel.
type resultCollector struct {
	done chan session.Result
}

func (c *resultCollector) OnProgress(session.Progress) {}

func (c *resultCollector) OnFinished(res session.Result) {
	c.done <- res
}

// replayLocal runs the recording through a local controller.
func (r *Replayer) replayLocal(ctx context.Context, path string) (FileResult, error) {
	col := &resultCollector{done: make(chan session.Result, 1)}
	ctrl := session.New(r.opts.Session, col, r.log)
	if err := ctrl.Start(ctx, r.opts.Goal, source.NewReplayFile(path, r.opts.Paced)); err != nil {
		return FileResult{}, err
	}

	select {
	case res := <-col.done:
		return FileResult{
			SessionID: "dry-run",
			Count:     res.Count,
			Goal:      res.Goal,
			Reason:    string(res.Reason),
		}, nil
	case <-ctx.Done():
		ctrl.Cancel()
		return FileResult{}, ctx.Err()
	}
}

// replayRemote starts a server session and streams the recording to it in
// batches, stamping frames relative to now.
func (r *Replayer) replayRemote(ctx context.Context, path string) (FileResult, error) {
	if r.client == nil {
		return FileResult{}, errors.New("no server client configured")
	}
	f, err := os.Open(path)
	if err != nil {
		return FileResult{}, err
	}
	records, err := source.DecodeRecording(f)
	f.Close()
	if err != nil {
		return FileResult{}, err
	}

	st, err := r.client.StartSession(ctx, r.opts.Goal)
	if err != nil {
		return FileResult{}, err
	}

	base := time.Now().UnixMilli()
	sent := 0
	batch := make([]wireFrame, 0, r.opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.client.SendFrames(ctx, st.ID, batch); err != nil {
			return err
		}
		sent += len(batch)
		batch = batch[:0]
		return nil
	}
	for _, rec := range records {
		batch = append(batch, wireFrame{TS: base + rec.T, Landmarks: rec.Landmarks})
		if len(batch) == r.opts.BatchSize {
			if err := flush(); err != nil {
				r.cancelQuietly(st.ID)
				return FileResult{}, err
			}
		}
	}
	if err := flush(); err != nil {
		r.cancelQuietly(st.ID)
		return FileResult{}, err
	}

	final, err := r.await(ctx, st.ID)
	if err != nil {
		return FileResult{}, err
	}
	return FileResult{
		SessionID: st.ID.String(),
		Count:     final.Result.Count,
		Goal:      final.Result.Goal,
		Reason:    final.Result.Reason,
		Reward:    final.Reward,
		Frames:    sent,
	}, nil
}

// await polls until the session finishes, cancelling it once Settle elapses.
// Frames are processed asynchronously on the server, so the last batch may
// still be in flight when SendFrames returns.
func (r *Replayer) await(ctx context.Context, id uuid.UUID) (*sessionStatus, error) {
	deadline := time.Now().Add(r.opts.Settle)
	for {
		st, err := r.client.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if st.Result != nil {
			return st, nil
		}
		if time.Now().After(deadline) {
			st, err := r.client.Cancel(ctx, id)
			if err != nil {
				return nil, err
			}
			if st.Result == nil {
				return nil, fmt.Errorf("session %s still active after cancel", id)
			}
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (r *Replayer) cancelQuietly(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.client.Cancel(ctx, id); err != nil {
		r.log.Warn("cancelling session after failure", "session", id, "error", err)
	}
}
