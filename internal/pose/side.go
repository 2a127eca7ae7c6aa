package pose

import (
	"fmt"
	"strings"
)

// Side selects which leg is tracked.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Leg holds the keypoint indices of one leg.
type Leg struct {
	Hip   int
	Knee  int
	Ankle int
}

// ParseSide normalizes a configured side name. An empty string means left,
// which is the leg the game has always tracked.
func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "left":
		return SideLeft, nil
	case "right":
		return SideRight, nil
	default:
		return "", fmt.Errorf("unknown side %q", raw)
	}
}

// Leg returns the hip/knee/ankle indices for the side.
func (s Side) Leg() Leg {
	if s == SideRight {
		return Leg{Hip: RightHip, Knee: RightKnee, Ankle: RightAnkle}
	}
	return Leg{Hip: LeftHip, Knee: LeftKnee, Ankle: LeftAnkle}
}
