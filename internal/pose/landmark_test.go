package pose

import "testing"

func vis(v float64) *float64 { return &v }

// TestFrameAbsent verifies that nil and empty landmark sets both count as a
// missing detection.
func TestFrameAbsent(t *testing.T) {
	if !(Frame{}).Absent() {
		t.Error("nil landmarks should be absent")
	}
	if !(Frame{Landmarks: []Landmark{}}).Absent() {
		t.Error("empty landmarks should be absent")
	}
	if (Frame{Landmarks: make([]Landmark, NumLandmarks)}).Absent() {
		t.Error("full landmark set should not be absent")
	}
}

// TestJointBounds verifies that out-of-range indices are reported as missing
// instead of panicking on a short frame.
func TestJointBounds(t *testing.T) {
	f := Frame{Landmarks: make([]Landmark, 10)}
	if _, ok := f.Joint(LeftHip, 0); ok {
		t.Error("expected hip to be missing from a 10-point frame")
	}
	if _, ok := f.Joint(-1, 0); ok {
		t.Error("expected negative index to be missing")
	}
	if _, ok := f.Joint(5, 0); !ok {
		t.Error("expected index 5 to be present")
	}
}

// TestJointVisibility verifies the visibility gate: low-confidence joints are
// dropped only when a threshold is set, and joints without a score always pass.
func TestJointVisibility(t *testing.T) {
	f := Frame{Landmarks: make([]Landmark, NumLandmarks)}
	f.Landmarks[LeftHip].Visibility = vis(0.2)
	f.Landmarks[LeftKnee].Visibility = vis(0.9)

	cases := []struct {
		name string
		idx  int
		min  float64
		want bool
	}{
		{"gate disabled", LeftHip, 0, true},
		{"below threshold", LeftHip, 0.5, false},
		{"above threshold", LeftKnee, 0.5, true},
		{"no score", LeftAnkle, 0.5, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := f.Joint(tc.idx, tc.min); ok != tc.want {
				t.Errorf("Joint(%d, %.1f) ok = %v, want %v", tc.idx, tc.min, ok, tc.want)
			}
		})
	}
}

// TestParseSide verifies side parsing, including the empty default.
func TestParseSide(t *testing.T) {
	cases := []struct {
		in   string
		want Side
		err  bool
	}{
		{"", SideLeft, false},
		{"left", SideLeft, false},
		{" Right ", SideRight, false},
		{"both", "", true},
	}
	for _, tc := range cases {
		got, err := ParseSide(tc.in)
		if (err != nil) != tc.err {
			t.Errorf("ParseSide(%q) error = %v, wantErr %v", tc.in, err, tc.err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseSide(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestLegIndices verifies the BlazePose indices for each side.
func TestLegIndices(t *testing.T) {
	if l := SideLeft.Leg(); l != (Leg{Hip: 23, Knee: 25, Ankle: 27}) {
		t.Errorf("left leg = %+v", l)
	}
	if l := SideRight.Leg(); l != (Leg{Hip: 24, Knee: 26, Ankle: 28}) {
		t.Errorf("right leg = %+v", l)
	}
}
