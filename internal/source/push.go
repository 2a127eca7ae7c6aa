package source

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/meltforce/squatclicker/internal/pose"
)

// Push is a Source fed by Publish or PublishWait, used when frames arrive from
// a browser over HTTP or websocket. Publish never blocks: when the buffer is
// full the oldest queued frame is discarded so the detector always sees recent
// motion. PublishWait blocks instead, for uploads where every frame counts.
type Push struct {
	// mu is held shared by blocked PublishWait callers and exclusively by
	// Publish and Stop, so frames is never closed under a pending send.
	mu      sync.RWMutex
	frames  chan pose.Frame
	done    chan struct{}
	once    sync.Once
	started bool
	stopped bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// PushStats counts frames seen by a Push source.
type PushStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

// NewPush creates a push source buffering up to size frames.
func NewPush(size int) *Push {
	if size < 1 {
		size = 1
	}
	return &Push{frames: make(chan pose.Frame, size), done: make(chan struct{})}
}

// Start implements Source. The context is unused; the source lives until Stop.
func (p *Push) Start(_ context.Context) (<-chan pose.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil, ErrStarted
	}
	p.started = true
	return p.frames, nil
}

// Publish queues a frame. It returns false once the source is stopped.
func (p *Push) Publish(f pose.Frame) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	p.published.Add(1)

	for {
		select {
		case p.frames <- f:
			return true
		default:
		}
		// Full: discard the oldest frame and retry.
		select {
		case <-p.frames:
			p.dropped.Add(1)
		default:
		}
	}
}

// PublishWait queues a frame, waiting for buffer space instead of discarding
// older frames. It returns false once the source is stopped or ctx is done.
func (p *Push) PublishWait(ctx context.Context, f pose.Frame) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	select {
	case p.frames <- f:
		p.published.Add(1)
		return true
	case <-p.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Stop implements Source. It is safe to call more than once.
func (p *Push) Stop() error {
	// Release blocked PublishWait callers before taking the write lock.
	p.once.Do(func() { close(p.done) })
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		close(p.frames)
	}
	return nil
}

// Stats returns publish and drop counters.
func (p *Push) Stats() PushStats {
	return PushStats{Published: p.published.Load(), Dropped: p.dropped.Load()}
}
