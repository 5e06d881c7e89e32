package events

import "time"

// Status is the severity tag carried by every event
type Status string

const (
	StatusOK         Status = "ok"
	StatusSuspicious Status = "suspicious"
	StatusViolation  Status = "violation"
	StatusInfo       Status = "info"
	StatusError      Status = "error"
	StatusShutdown   Status = "shutdown"
)

// Activity names understood by the parent process
const (
	ActivityAgentStatus   = "agent_status"
	ActivityFaceDetection = "faceDetection"
	ActivityFrameCapture  = "frameCapture"
)

// Event is one line of the output stream
type Event struct {
	Timestamp int64                  `json:"timestamp"` // epoch milliseconds
	Activity  string                 `json:"activity"`
	Status    Status                 `json:"status"`
	Details   map[string]interface{} `json:"details"`
}

// New builds an event stamped with t
func New(t time.Time, activity string, status Status, details map[string]interface{}) Event {
	if details == nil {
		details = map[string]interface{}{}
	}
	return Event{
		Timestamp: t.UnixMilli(),
		Activity:  activity,
		Status:    status,
		Details:   details,
	}
}

// AgentStatus reports agent lifecycle (ok, error, shutdown)
func AgentStatus(t time.Time, status Status, message string) Event {
	return New(t, ActivityAgentStatus, status, map[string]interface{}{
		"message": message,
	})
}

// FaceDetection reports a confirmed change in the number of faces
func FaceDetection(t time.Time, status Status, faceCount int, message string) Event {
	return New(t, ActivityFaceDetection, status, map[string]interface{}{
		"faceCount": faceCount,
		"message":   message,
	})
}

// FrameCapture carries a base64 encoded still frame
func FrameCapture(t time.Time, format, data string) Event {
	return New(t, ActivityFrameCapture, StatusInfo, map[string]interface{}{
		"format": format,
		"data":   data,
	})
}
