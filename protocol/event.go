// Package protocol defines the messages exchanged between the gateway and judge
// clients over the websocket connection.
//
// Every websocket message is a single frame {event, id, data}. Requests that
// expect an answer carry a non-zero id; the peer replies with an "ack" frame
// bearing the same id.
package protocol

import "github.com/criyle/judge-gateway/types"

// Event is the name of a message
type Event string

// Server to client events
const (
	EventAuthenticationFailed Event = "authenticationFailed"
	EventReady                Event = "ready"
	EventTask                 Event = "task"
	EventCancel               Event = "cancel"
)

// Client to server events
const (
	EventSystemInfo   Event = "systemInfo"
	EventRequestFiles Event = "requestFiles"
	EventConsumeTask  Event = "consumeTask"
	EventProgress     Event = "progress"
)

// EventAck answers a request in either direction
const EventAck Event = "ack"

// AuthenticationFailed is sent before the server closes an unauthenticated connection
type AuthenticationFailed struct {
	Message string `json:"message" codec:"message"`
}

// Ready is sent after the worker is registered
type Ready struct {
	Name   string         `json:"name" codec:"name"`
	Config map[string]any `json:"config" codec:"config"`
}

// SystemInfo is an opaque status blob reported by the worker
type SystemInfo map[string]any

// RequestFiles asks for download URLs of file ids
type RequestFiles struct {
	FileIDs []string `json:"fileIds" codec:"fileIds"`
}

// RequestFilesReply is the ack of RequestFiles, URLs in request order
type RequestFilesReply struct {
	URLs  []string `json:"urls" codec:"urls"`
	Error string   `json:"error,omitempty" codec:"error,omitempty"`
}

// ConsumeTask asks for one task for the judge thread
type ConsumeTask struct {
	ThreadID int `json:"threadId" codec:"threadId"`
}

// Task delivers a task to the judge thread, it must be acked
type Task struct {
	ThreadID int        `json:"threadId" codec:"threadId"`
	Task     types.Task `json:"task" codec:"task"`
}

// Progress reports progress of a task
type Progress struct {
	TaskID   string         `json:"taskId" codec:"taskId"`
	Progress types.Progress `json:"progress" codec:"progress"`
}

// Cancel asks the worker to abort a task
type Cancel struct {
	TaskID string `json:"taskId" codec:"taskId"`
}
