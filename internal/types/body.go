package types

// JointName is the canonical string key for a tracked skeletal joint. Joint
// access is by name everywhere in this pipeline — no positional indexing.
type JointName string

const (
	JointHead          JointName = "Head"
	JointNeck          JointName = "Neck"
	JointSpineShoulder JointName = "SpineShoulder"
	JointSpineMid      JointName = "SpineMid"
	JointSpineBase     JointName = "SpineBase"
	JointShoulderLeft  JointName = "ShoulderLeft"
	JointElbowLeft     JointName = "ElbowLeft"
	JointWristLeft     JointName = "WristLeft"
	JointHandLeft      JointName = "HandLeft"
	JointShoulderRight JointName = "ShoulderRight"
	JointElbowRight    JointName = "ElbowRight"
	JointWristRight    JointName = "WristRight"
	JointHandRight     JointName = "HandRight"
	JointHipLeft       JointName = "HipLeft"
	JointKneeLeft      JointName = "KneeLeft"
	JointAnkleLeft     JointName = "AnkleLeft"
	JointFootLeft      JointName = "FootLeft"
	JointHipRight      JointName = "HipRight"
	JointKneeRight     JointName = "KneeRight"
	JointAnkleRight    JointName = "AnkleRight"
	JointFootRight     JointName = "FootRight"
)

// TrackingState mirrors the driver's per-joint confidence tier: 0 means not
// tracked at all, higher values mean increasingly reliable tracking.
type TrackingState int

const (
	TrackingNotTracked TrackingState = 0
	TrackingInferred   TrackingState = 1
	TrackingTracked    TrackingState = 2
)

// Vector3 is a plain 3D point; used for joint positions, velocities, and the
// depth worker's point cloud.
type Vector3 struct {
	X, Y, Z float64
}

// Sub returns v - o.
func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Add returns v + o.
func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Scale returns v scaled by s.
func (v Vector3) Scale(s float64) Vector3 {
	return Vector3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Joint is one tracked point in a Body's skeletal graph.
type Joint struct {
	Position         Vector3
	TrackingState    TrackingState
	Confidence       float64
	PreviousPosition *Vector3 // nil on a body's first observed frame
}

// HandState is the driver's coarse classification of a hand's pose.
type HandState int

const (
	HandStateUnknown    HandState = 0
	HandStateNotTracked HandState = 1
	HandStateOpen       HandState = 2
	HandStateClosed     HandState = 3
	HandStateLasso      HandState = 4
)

// BodyRecord is the raw, unsmoothed input the body worker receives for one
// tracked or untracked body slot (up to six per frame).
type BodyRecord struct {
	TrackingID string
	Tracked    bool
	Joints     map[JointName]Joint
	LeftHand   HandState
	RightHand  HandState
}

// Body is the body worker's per-body output after smoothing and the optional
// derived computations (velocity, center of mass, AABB, confidence).
type Body struct {
	TrackingID    string
	Tracked       bool
	Joints        map[JointName]Joint
	LeftHand      HandState
	RightHand     HandState
	Velocities    map[JointName]Vector3 // nil unless velocity computation enabled
	CenterOfMass  *Vector3               // nil unless requested
	AABBMin       *Vector3               // nil unless requested
	AABBMax       *Vector3               // nil unless requested
	Confidence    *float64               // nil unless requested
}

// Gesture is the side-channel message the body worker emits when a swipe is
// detected.
type Gesture struct {
	TrackingID string
	Name       string // "swipeLeft" | "swipeRight"
	Timestamp  int64
}

// Movement is the side-channel message carrying per-body derived motion.
type Movement struct {
	TrackingID string
	Velocities map[JointName]Vector3
	Timestamp  int64
}
