package broadcast

// Inbound message types, sent subscriber -> server.
const (
	InIdentify     = "identify"
	InStartSensor  = "startSensor"
	InStopSensor   = "stopSensor"
	InSetLED       = "setLED"
	InSetIREmitter = "setIREmitter"
	InSetConfig    = "setConfig"
)

// Outbound message types, sent server -> subscriber.
const (
	OutIdentify     = "identify"
	OutWelcome      = "welcome"
	OutFrame        = "frame"
	OutFrameSync    = "frameSync"
	OutMovement     = "movement"
	OutGesture      = "gesture"
	OutStats        = "stats"
	OutStatus       = "status"
	OutDeviceInfo   = "deviceInfo"
	OutSensorStatus = "sensorStatus"
	OutError        = "error"
	OutCommandAck   = "commandAck"
)

// ServerVersion is reported in every welcome reply so a subscriber can tell
// which protocol revision it is talking to.
const ServerVersion = "kinectd/1"

// InboundMessage is the envelope every subscriber -> server message is
// decoded into. Only the fields relevant to Type are populated.
//
// Name/Version/Platform/Capabilities are only meaningful on the identify
// response to the server's own identify{clientId} (step 1 of the handshake,
// see Broadcaster.identify); every other command type leaves them empty.
type InboundMessage struct {
	Type         string         `json:"type"`
	ClientID     string         `json:"clientId,omitempty"`
	Name         string         `json:"name,omitempty"`
	Version      string         `json:"version,omitempty"`
	Platform     string         `json:"platform,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Sensor       string         `json:"sensor,omitempty"`
	LED          string         `json:"led,omitempty"`
	IREmitter    *bool          `json:"irEmitter,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
}

// FrameWire is the wire shape of a ProcessedFrame.
type FrameWire struct {
	Kind          string  `json:"kind"`
	Seq           uint64  `json:"seq"`
	TraceID       string  `json:"traceId,omitempty"`
	CapturedAtMS  int64   `json:"capturedAtMs"`
	EmittedAtMS   int64   `json:"emittedAtMs"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	Payload       any     `json:"payload"`
	ProcessTimeMS float64 `json:"processTimeMs"`
}

// SyncBundleWire is the wire shape of a SyncBundle; Frames is keyed by the
// stream kind's string name.
type SyncBundleWire struct {
	Timestamp  int64                `json:"timestamp"`
	TraceID    string               `json:"traceId,omitempty"`
	Frames     map[string]FrameWire `json:"frames"`
	MaxDelayMS int64                `json:"maxDelayMs"`
}

// Vector3Wire is the wire shape of types.Vector3.
type Vector3Wire struct {
	X, Y, Z float64
}

// MovementWire and GestureWire are the wire shapes of their types.* counterparts.
type MovementWire struct {
	TrackingID string                 `json:"trackingId"`
	Velocities map[string]Vector3Wire `json:"velocities"`
	Timestamp  int64                  `json:"timestamp"`
}

type GestureWire struct {
	TrackingID string `json:"trackingId"`
	Name       string `json:"name"`
	Timestamp  int64  `json:"timestamp"`
}

// CommandAckWire is the structured acknowledgement sent in response to
// every control-plane command a subscriber issues.
type CommandAckWire struct {
	Command string `json:"command"`
	Status  string `json:"status"` // "ok" | "error"
	Error   string `json:"error,omitempty"`
}

// IdentifyWire is the server's own identify message (handshake step 1): a
// server-issued client id, sent before the server waits on the subscriber's
// reply.
type IdentifyWire struct {
	ClientID string `json:"clientId"`
}

// WelcomeWire is sent immediately after a successful identify handshake
// (step 3): a server-issued session id distinct from the connection's
// clientId, the server's protocol version, and the time the handshake
// completed.
type WelcomeWire struct {
	SessionID     string `json:"sessionId"`
	ServerVersion string `json:"serverVersion"`
	TimestampMS   int64  `json:"timestamp"`
}

// SensorStatusWire reports one sensor's lifecycle state and health counters.
type SensorStatusWire struct {
	Kind           string `json:"kind"`
	State          string `json:"state"`
	QueueDepth     int    `json:"queueDepth"`
	MissedFrames   uint64 `json:"missedFrames"`
	Restarts       uint64 `json:"restarts"`
}

// DeviceInfoWire reports the driver's current control state.
type DeviceInfoWire struct {
	LED        string  `json:"led"`
	IREmitter  bool    `json:"irEmitter"`
	TiltDegrees float64 `json:"tiltDegrees"`
}

// OutboundMessage is the envelope every server -> subscriber message is
// encoded from. Only the field matching Type is populated; the rest are
// omitted from the wire payload by their omitempty tags.
type OutboundMessage struct {
	Type         string            `json:"type"`
	Identify     *IdentifyWire     `json:"identify,omitempty"`
	Welcome      *WelcomeWire      `json:"welcome,omitempty"`
	Frame        *FrameWire        `json:"frame,omitempty"`
	Sync         *SyncBundleWire   `json:"frameSync,omitempty"`
	Movement     *MovementWire     `json:"movement,omitempty"`
	Gesture      *GestureWire      `json:"gesture,omitempty"`
	Stats        any               `json:"stats,omitempty"`
	Status       string            `json:"status,omitempty"`
	DeviceInfo   *DeviceInfoWire   `json:"deviceInfo,omitempty"`
	SensorStatus *SensorStatusWire `json:"sensorStatus,omitempty"`
	Error        string            `json:"error,omitempty"`
	CommandAck   *CommandAckWire   `json:"commandAck,omitempty"`
}
