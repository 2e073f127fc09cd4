package session

// Stream event statuses, mirrored onto the wire by the HTTP and WebSocket
// layers.
const (
	StatusStart     = "start"
	StatusStreaming = "streaming"
	StatusEnd       = "end"
	StatusError     = "error"
)

// StreamEvent is one increment of a turn's output: phase-tagged status
// changes plus streamed text.
type StreamEvent struct {
	Phase  string `json:"node"`
	Status string `json:"status"`
	Text   string `json:"response"`
}
