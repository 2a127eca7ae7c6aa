// Package source provides landmark frame producers for an exercise session.
//
// A Source stands in for the camera plus pose model. The session controller
// starts it once, consumes frames until the channel closes, and stops it when
// the session finishes.
package source

import (
	"context"
	"errors"

	"github.com/meltforce/squatclicker/internal/pose"
)

// ErrStarted is returned when Start is called on a source that is already running.
var ErrStarted = errors.New("source already started")

// Source delivers pose frames. Start fails when capture cannot begin; the
// returned channel closes after Stop or when the source runs out of frames.
type Source interface {
	Start(ctx context.Context) (<-chan pose.Frame, error)
	Stop() error
}
