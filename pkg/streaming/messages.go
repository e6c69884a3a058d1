package streaming

// Message type constants for the tracker sync protocol.
const (
	TypeHandshake   = "handshake"
	TypeTokenUpdate = "token_update"
	TypeAck         = "ack"
)

// Handshake is sent once when the channel opens, identifying this tracker
// and the scene it mirrors onto.
type Handshake struct {
	Type      string `json:"type"` // always "handshake"
	SceneID   string `json:"scene_id"`
	Tracker   string `json:"tracker"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// TokenUpdate carries one token's position in remote scene coordinates.
type TokenUpdate struct {
	Type       string  `json:"type"` // always "token_update"
	SceneID    string  `json:"scene_id"`
	MarkerID   int     `json:"marker_id"`
	TokenID    string  `json:"token_id"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Confidence float64 `json:"confidence"`
	Category   string  `json:"category"`
}

// AckMessage is an optional server acknowledgement. The tracker does not
// require acks; the read loop consumes them when the server sends any.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}
