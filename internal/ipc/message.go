// Package ipc implements the local newline-delimited JSON message bus
// between the daemon and the intelligence process (spec §4.5). Framing
// and dispatch shape are grounded on the beads RPC server reference
// (net.Listen("unix", ...), mutex-guarded client table, graceful Stop),
// narrowed to this spec's message set and to the tagged-variant envelope
// spec.md §9 calls for in place of duck-typed string maps.
package ipc

import (
	"encoding/json"
	"time"
)

// MessageType enumerates the wire message types (spec §4.5).
type MessageType string

const (
	TypeCommitTrigger MessageType = "commit_trigger"
	TypeTimerTrigger   MessageType = "timer_trigger"
	TypeStatusQuery    MessageType = "status_query"
	TypeConfigUpdate   MessageType = "config_update"
	TypeShutdown       MessageType = "shutdown"
	TypeResponse       MessageType = "response"
	TypeTaskUpdate     MessageType = "task_update"
	TypePromptRequest  MessageType = "prompt_request"
	TypeError          MessageType = "error"
	TypeAck            MessageType = "ack"

	// TypeControlCommand is a client→server extension of the wire catalogue
	// (spec.md §4.5 enumerates transport message types but leaves the
	// mechanism behind pause/resume/force-trigger/skip-next/send-summary
	// unspecified; §4.8 only says the control surface "dispatches
	// subcommands"). Routed the same way every other client→server type is:
	// registered handler, Ack or error reply on the same connection.
	TypeControlCommand MessageType = "control_command"
)

// ControlCommand enumerates the control surface operations carried by a
// control_command message.
type ControlCommand string

const (
	CommandPause        ControlCommand = "pause"
	CommandResume       ControlCommand = "resume"
	CommandForceTrigger ControlCommand = "force_trigger"
	CommandSkipNext     ControlCommand = "skip_next"
	CommandSendSummary  ControlCommand = "send_summary"
)

// ControlCommandData is the payload of a control_command message.
type ControlCommandData struct {
	Command ControlCommand `json:"command"`
}

// Envelope is the stable wire format shared by every message: a tagged
// variant with a typed payload in Data, per spec.md §9's "duck-typed
// payload maps" redesign note. Adding new types is backward compatible;
// unknown types are logged and discarded by the server's dispatch (spec
// §4.5, §6).
type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error,omitempty"`
}

// CommitTriggerData is the payload of a commit_trigger message.
type CommitTriggerData struct {
	RepoPath      string    `json:"repo_path"`
	CommitHash    string    `json:"commit_hash"`
	CommitMessage string    `json:"commit_message"`
	Author        string    `json:"author"`
	Timestamp     time.Time `json:"timestamp"`
	FilesChanged  []string  `json:"files_changed"`
	Branch        string    `json:"branch"`
}

// TimerTriggerData is the payload of a timer_trigger message.
type TimerTriggerData struct {
	Timestamp       time.Time `json:"timestamp"`
	IntervalMinutes int       `json:"interval_mins"`
	TriggerCount    int       `json:"trigger_count"`
}

// ResponseData is the payload of a client-originated response message — the
// intelligence process's structured reply to a trigger. Spec.md §4.5 leaves
// its payload "application-defined"; these fields are the ones §3's Response
// type and the task_update it seeds require.
type ResponseData struct {
	TriggerID   int64  `json:"trigger_id"`
	Project     string `json:"project"`
	TicketID    string `json:"ticket_id"`
	Description string `json:"description"`
	TimeSpent   string `json:"time_spent"`
	Status      string `json:"status"`
	RawInput    string `json:"raw_input"`
}

// TaskUpdateData is the payload of a client-originated task_update message.
type TaskUpdateData struct {
	Project     string `json:"project"`
	TicketID    string `json:"ticket_id"`
	Description string `json:"description"`
	Status      string `json:"status"`
	TimeSpent   string `json:"time_spent"`
	Synced      bool   `json:"synced"`
}

// AckData references the id of the message being acknowledged.
type AckData struct {
	RefID string `json:"ref_id"`
}

// ConfigUpdateData carries the keys and values a config_update affected.
type ConfigUpdateData map[string]string

// encodePayload marshals a typed payload into an Envelope's Data field.
func encodePayload(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(v)
}

// NewEnvelope builds an Envelope of the given type with id, carrying
// payload marshaled into Data.
func NewEnvelope(typ MessageType, id string, payload any) (Envelope, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Timestamp: time.Now().UTC(), ID: id, Data: data}, nil
}

// NewErrorEnvelope builds an error-type Envelope.
func NewErrorEnvelope(id, message string) Envelope {
	return Envelope{Type: TypeError, Timestamp: time.Now().UTC(), ID: id, Data: json.RawMessage("{}"), Error: message}
}
