package recording

// State is the lifecycle state of one recording handle
type State string

const (
	StateIdle      State = "idle"
	StateDetected  State = "detected"
	StatePreparing State = "preparing"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
	StateStopped   State = "stopped"
)

// EventType identifies a device-agent signal or user command
type EventType string

const (
	// Device agent signals
	EventPresenceDetected EventType = "presence.detected"
	EventPresenceClosed   EventType = "presence.closed"
	EventCaptureStarted   EventType = "capture.started"
	EventCapturePaused    EventType = "capture.paused"
	EventCaptureResumed   EventType = "capture.resumed"
	EventCaptureStopped   EventType = "capture.stopped"
	EventCaptureFailed    EventType = "capture.failed"

	// User commands
	EventStartRequested  EventType = "start.requested"
	EventPauseRequested  EventType = "pause.requested"
	EventResumeRequested EventType = "resume.requested"
	EventStopRequested   EventType = "stop.requested"
	EventCancelRequested EventType = "cancel.requested"

	// Internal: debounced auto-stop fired after presence stayed closed
	eventAutoStop EventType = "auto_stop.elapsed"
)

// Event is one signal flowing into the state machine dispatch loop. Handle
// is the correlation key for everything; Title and Platform are only set on
// presence or start events.
type Event struct {
	Type     EventType `json:"type"`
	Handle   string    `json:"handle"`
	Title    string    `json:"title,omitempty"`
	Platform string    `json:"platform,omitempty"`
	Error    string    `json:"error,omitempty"`
}
