package economy

import (
	"sync"
	"time"
)

// Book keeps every player's in-memory game state, keyed by user ID. Nothing
// here is persisted; a restart begins a new game.
type Book struct {
	cfg Config
	now func() time.Time

	mu     sync.Mutex
	states map[int]State
}

// NewBook creates an empty book.
func NewBook(cfg Config) *Book {
	return &Book{cfg: cfg, now: time.Now, states: make(map[int]State)}
}

// Config returns the upgrade prices the book charges.
func (b *Book) Config() Config {
	return b.cfg
}

// Get returns the player's state with passive income applied.
func (b *Book) Get(userID int) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadLocked(userID)
}

// Click registers one click.
func (b *Book) Click(userID int) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.loadLocked(userID).Click()
	b.states[userID] = s
	return s
}

// Buy purchases an upgrade. On error the state is unchanged.
func (b *Book) Buy(userID int, u Upgrade) (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.loadLocked(userID).Buy(b.cfg, u)
	if err != nil {
		return s, err
	}
	b.states[userID] = s
	return s, nil
}

// Credit adds reward points.
func (b *Book) Credit(userID int, points int64) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.loadLocked(userID).Credit(points)
	b.states[userID] = s
	return s
}

func (b *Book) loadLocked(userID int) State {
	now := b.now()
	s, ok := b.states[userID]
	if !ok {
		s = NewState(now)
	}
	s = s.Accrue(now)
	b.states[userID] = s
	return s
}
