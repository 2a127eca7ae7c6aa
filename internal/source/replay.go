package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/meltforce/squatclicker/internal/pose"
)

// Record is one line of a landmark recording. T is milliseconds since the
// recording started; a null Landmarks field is a frame without a detection.
type Record struct {
	T         int64           `json:"t"`
	Landmarks []pose.Landmark `json:"landmarks"`
}

// DecodeRecording reads a JSON-lines recording. Blank lines are skipped.
func DecodeRecording(r io.Reader) ([]Record, error) {
	var records []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading recording: %w", err)
	}
	return records, nil
}

// Replay is a Source that plays back a recording. When Paced is set, frames
// are delivered at their recorded offsets; otherwise as fast as the consumer
// reads them.
type Replay struct {
	open  func() (io.ReadCloser, error)
	paced bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewReplayFile creates a replay source reading path on Start.
func NewReplayFile(path string, paced bool) *Replay {
	return &Replay{
		open:  func() (io.ReadCloser, error) { return os.Open(path) },
		paced: paced,
	}
}

// NewReplay creates a replay source over an in-memory reader.
func NewReplay(r io.Reader, paced bool) *Replay {
	return &Replay{
		open:  func() (io.ReadCloser, error) { return io.NopCloser(r), nil },
		paced: paced,
	}
}

// Start implements Source. Open and decode errors are returned here so a
// broken recording never starts a session.
func (p *Replay) Start(ctx context.Context) (<-chan pose.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil, ErrStarted
	}

	rc, err := p.open()
	if err != nil {
		return nil, fmt.Errorf("opening recording: %w", err)
	}
	records, err := DecodeRecording(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("decoding recording: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.started = true

	out := make(chan pose.Frame)
	go p.play(ctx, records, out)
	return out, nil
}

func (p *Replay) play(ctx context.Context, records []Record, out chan<- pose.Frame) {
	defer close(p.done)
	defer close(out)

	base := time.Now()
	for _, rec := range records {
		at := base.Add(time.Duration(rec.T) * time.Millisecond)
		if p.paced {
			if wait := time.Until(at); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
		}
		select {
		case <-ctx.Done():
			return
		case out <- pose.Frame{Landmarks: rec.Landmarks, Timestamp: at}:
		}
	}
}

// Stop implements Source and waits for playback to end.
func (p *Replay) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
