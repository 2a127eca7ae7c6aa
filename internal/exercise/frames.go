package exercise

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/meltforce/squatclicker/internal/pose"
)

// ErrMissingTimestamp rejects a multi-frame message in which some frame has
// no capture time. Stamping a whole batch with the arrival time would collapse
// it into one instant and the frame cap would discard all but the first.
var ErrMissingTimestamp = errors.New("every frame in a batch needs a ts")

// WireFrame is a landmark frame as sent by the browser. TS is the capture
// time in Unix milliseconds; zero means "now" and is only accepted for a
// message carrying a single frame. Null landmarks report a frame in which the
// pose model found nobody.
type WireFrame struct {
	TS        int64           `json:"ts,omitempty"`
	Landmarks []pose.Landmark `json:"landmarks"`
}

// Frame converts the wire form, stamping it with now when TS is unset.
func (w WireFrame) Frame(now time.Time) pose.Frame {
	at := now
	if w.TS > 0 {
		at = time.UnixMilli(w.TS)
	}
	return pose.Frame{Landmarks: w.Landmarks, Timestamp: at}
}

// FrameBatch is the body of a frame upload.
type FrameBatch struct {
	Frames []WireFrame `json:"frames"`
}

// DecodeFrames parses a websocket message or upload body. It accepts a
// single frame object, a JSON array of frames, or a {"frames": [...]} batch.
func DecodeFrames(data []byte, now time.Time) ([]pose.Frame, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty frame message")
	}

	var wire []WireFrame
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, fmt.Errorf("decoding frame array: %w", err)
		}
	case '{':
		var batch struct {
			Frames json.RawMessage `json:"frames"`
		}
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("decoding frame message: %w", err)
		}
		if batch.Frames != nil {
			if err := json.Unmarshal(batch.Frames, &wire); err != nil {
				return nil, fmt.Errorf("decoding frame batch: %w", err)
			}
			break
		}
		var one WireFrame
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, fmt.Errorf("decoding frame: %w", err)
		}
		wire = []WireFrame{one}
	default:
		return nil, fmt.Errorf("frame message must be a JSON object or array")
	}

	if len(wire) > 1 {
		for i, w := range wire {
			if w.TS <= 0 {
				return nil, fmt.Errorf("frame %d: %w", i, ErrMissingTimestamp)
			}
		}
	}

	frames := make([]pose.Frame, len(wire))
	for i, w := range wire {
		frames[i] = w.Frame(now)
	}
	return frames, nil
}
