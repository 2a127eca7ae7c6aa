// Package rep counts squat repetitions from a stream of pose frames.
//
// The detector is a two-phase hysteresis machine over the vertical hip-knee
// distance. Going down requires the distance to fall below DownBelow; coming
// back up requires it to rise above UpAbove. The gap between the two values is
// a dead zone that absorbs landmark jitter, so a single noisy frame near one
// cutoff cannot produce a repetition.
package rep

import (
	"errors"
	"fmt"
	"math"

	"github.com/meltforce/squatclicker/internal/pose"
)

// Phase is the detector's position in the squat cycle.
type Phase int

const (
	Standing Phase = iota
	Down
)

func (p Phase) String() string {
	if p == Down {
		return "down"
	}
	return "standing"
}

// MarshalText encodes the phase by name in JSON payloads.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is the detector state carried between frames.
type State struct {
	Phase Phase `json:"phase"`
	Count int   `json:"count"`
}

// Config holds the detector thresholds. All distances are in normalized
// frame-height units.
type Config struct {
	Side pose.Side

	// DownBelow is the hip-knee distance under which the player is down.
	DownBelow float64
	// UpAbove is the hip-knee distance over which a down player is standing again.
	UpAbove float64

	// KneeAnkleGate additionally requires the knee-ankle distance to exceed
	// MinKneeAnkle before entering Down, so bending the torso alone does not count.
	KneeAnkleGate bool
	MinKneeAnkle  float64

	// MinVisibility drops joints the model is unsure about. Zero disables it.
	MinVisibility float64
}

// DefaultConfig returns the thresholds the game shipped with.
func DefaultConfig() Config {
	return Config{
		Side:          pose.SideLeft,
		DownBelow:     0.10,
		UpAbove:       0.15,
		KneeAnkleGate: true,
		MinKneeAnkle:  0.10,
	}
}

// Validate checks that the thresholds form a usable dead zone.
func (c Config) Validate() error {
	if c.DownBelow <= 0 {
		return errors.New("down_below must be positive")
	}
	if c.UpAbove <= c.DownBelow {
		return fmt.Errorf("up_above (%.3f) must be greater than down_below (%.3f)", c.UpAbove, c.DownBelow)
	}
	if c.KneeAnkleGate && c.MinKneeAnkle <= 0 {
		return errors.New("min_knee_ankle must be positive when the knee-ankle gate is enabled")
	}
	if c.MinVisibility < 0 || c.MinVisibility > 1 {
		return fmt.Errorf("min_visibility %.3f out of range [0,1]", c.MinVisibility)
	}
	return nil
}

// Measurement is the pair of vertical distances the detector reads from a frame.
type Measurement struct {
	HipKnee   float64 `json:"hip_knee"`
	KneeAnkle float64 `json:"knee_ankle"`
}

// Measure extracts the leg distances for the configured side. ok is false when
// any of hip, knee or ankle is missing.
func Measure(cfg Config, f pose.Frame) (Measurement, bool) {
	leg := cfg.Side.Leg()
	hip, ok := f.Joint(leg.Hip, cfg.MinVisibility)
	if !ok {
		return Measurement{}, false
	}
	knee, ok := f.Joint(leg.Knee, cfg.MinVisibility)
	if !ok {
		return Measurement{}, false
	}
	ankle, ok := f.Joint(leg.Ankle, cfg.MinVisibility)
	if !ok {
		return Measurement{}, false
	}
	return Measurement{
		HipKnee:   math.Abs(hip.Y - knee.Y),
		KneeAnkle: math.Abs(knee.Y - ankle.Y),
	}, true
}

// Step applies one frame to st and returns the next state. completed is true
// only on the frame that moves the player from Down back to Standing. Frames
// without the required joints leave st unchanged.
func Step(cfg Config, st State, f pose.Frame) (next State, completed bool) {
	m, ok := Measure(cfg, f)
	if !ok {
		return st, false
	}

	switch st.Phase {
	case Standing:
		if m.HipKnee < cfg.DownBelow && (!cfg.KneeAnkleGate || m.KneeAnkle > cfg.MinKneeAnkle) {
			st.Phase = Down
		}
	case Down:
		if m.HipKnee > cfg.UpAbove {
			st.Phase = Standing
			st.Count++
			return st, true
		}
	}
	return st, false
}

// Detector owns a State and applies frames to it with Step.
type Detector struct {
	cfg   Config
	state State
}

// NewDetector creates a detector in the initial Standing state.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Update feeds one frame and reports whether a repetition just completed.
func (d *Detector) Update(f pose.Frame) bool {
	var completed bool
	d.state, completed = Step(d.cfg, d.state, f)
	return completed
}

// State returns the current state.
func (d *Detector) State() State {
	return d.state
}

// Reset returns the detector to Standing with a zero count.
func (d *Detector) Reset() {
	d.state = State{}
}
