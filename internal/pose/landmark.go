package pose

import "time"

// BlazePose keypoint indices. The numbering is fixed by the pose model that
// produces the frames; only the joints the service reads are named here.
const (
	LeftShoulder  = 11
	RightShoulder = 12
	LeftHip       = 23
	RightHip      = 24
	LeftKnee      = 25
	RightKnee     = 26
	LeftAnkle     = 27
	RightAnkle    = 28

	// NumLandmarks is the length of a full BlazePose landmark set.
	NumLandmarks = 33
)

// Landmark is a single body keypoint normalized to [0,1] of the frame size.
// Visibility is the model's confidence; nil when the model does not report it.
type Landmark struct {
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Z          float64  `json:"z,omitempty"`
	Visibility *float64 `json:"visibility,omitempty"`
}

// Frame is one pose-estimation result. A nil Landmarks slice means the model
// found no person in the frame.
type Frame struct {
	Landmarks []Landmark `json:"landmarks"`
	Timestamp time.Time  `json:"timestamp"`
}

// Absent reports whether the frame carries no detection.
func (f Frame) Absent() bool {
	return len(f.Landmarks) == 0
}

// Joint returns the landmark at idx. ok is false when the frame is too short
// or the landmark's visibility is below minVisibility. A landmark without a
// visibility value passes any threshold.
func (f Frame) Joint(idx int, minVisibility float64) (Landmark, bool) {
	if idx < 0 || idx >= len(f.Landmarks) {
		return Landmark{}, false
	}
	lm := f.Landmarks[idx]
	if minVisibility > 0 && lm.Visibility != nil && *lm.Visibility < minVisibility {
		return Landmark{}, false
	}
	return lm, true
}

// Connections are the skeleton bones drawn over the camera preview: the
// shoulder line plus both torso-to-ankle chains.
var Connections = [][2]int{
	{LeftShoulder, RightShoulder},
	{RightShoulder, RightHip}, {RightHip, RightKnee}, {RightKnee, RightAnkle},
	{LeftShoulder, LeftHip}, {LeftHip, LeftKnee}, {LeftKnee, LeftAnkle},
}
