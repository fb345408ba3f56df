// Package broker implements the messaging fabric: publish/subscribe,
// direct send, broadcast and request/response between the orchestrator and
// worker agents, built on Go's goroutine/channel idiom with a channel-based
// fan-out dispatcher. google/uuid mints message ids, shortuuid mints the
// shorter ids used for subscriptions.
package broker

import (
	"time"

	"github.com/google/uuid"
)

// Type is the closed enum of message kinds.
type Type string

const (
	TypeTaskAssign        Type = "task-assign"
	TypeTaskResult        Type = "task-result"
	TypeTaskComplete      Type = "task-complete"
	TypeTaskFailed        Type = "task-failed"
	TypeTaskProgress      Type = "task-progress"
	TypeAgentNotification Type = "agent-notification"
	TypeAgentStatus       Type = "agent-status"
	TypeReflexionRequest  Type = "reflexion-request"
	TypeReflexionResponse Type = "reflexion-response"
	TypeMemoryUpdate      Type = "memory-update"
	TypeWorkflowEvent     Type = "workflow-event"
	TypeSystem            Type = "system"
	TypeBroadcast         Type = "broadcast"
)

// Priority mirrors the fixed priority levels.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 7
	PriorityUrgent Priority = 10
)

// Message is the unit of inter-agent communication.
type Message struct {
	ID            string
	Type          Type
	SenderID      string
	RecipientID   string // empty => broadcast
	Channel       string
	Payload       map[string]any
	Priority      Priority
	CreatedAt     time.Time
	ExpiresAt     time.Time // zero value => never expires
	CorrelationID string
	Metadata      map[string]any
}

// IsExpired reports whether m's ExpiresAt has passed; expired messages are
// never delivered.
func (m Message) IsExpired() bool {
	if m.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(m.ExpiresAt)
}

// IsBroadcast reports whether the message has no specific recipient.
func (m Message) IsBroadcast() bool {
	return m.RecipientID == ""
}

func newMessage(typ Type, sender string, payload map[string]any) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      typ,
		SenderID:  sender,
		Payload:   payload,
		Priority:  PriorityNormal,
		CreatedAt: time.Now(),
		Metadata:  map[string]any{},
	}
}

// NewTaskAssign builds a task-assign message addressed to recipient's
// inbox channel, carrying the task envelope under the "task" key.
func NewTaskAssign(sender, recipient string, taskEnvelope map[string]any) Message {
	m := newMessage(TypeTaskAssign, sender, map[string]any{"task": taskEnvelope})
	m.RecipientID = recipient
	m.Channel = AgentChannel(recipient)
	return m
}

// NewTaskResult builds a task-result message from a worker back to the
// orchestrator. The result envelope fields (task_id, success, output,
// artifacts, error, duration_seconds) are the top-level payload keys.
func NewTaskResult(sender, recipient, taskID string, success bool, output string, artifacts []string, errStr string, durationSeconds float64) Message {
	m := newMessage(TypeTaskResult, sender, map[string]any{
		"task_id":           taskID,
		"success":           success,
		"output":            output,
		"artifacts":         artifacts,
		"error":             errStr,
		"duration_seconds":  durationSeconds,
	})
	m.RecipientID = recipient
	m.Channel = AgentChannel(recipient)
	return m
}

// NewReflexionRequest builds a reflexion-request message asking recipient
// to reflect on why taskID failed before it is retried.
func NewReflexionRequest(sender, recipient, taskID, failureReason string, attempt int) Message {
	m := newMessage(TypeReflexionRequest, sender, map[string]any{
		"task_id":        taskID,
		"failure_reason": failureReason,
		"attempt":        attempt,
	})
	m.RecipientID = recipient
	m.Channel = AgentChannel(recipient)
	m.Priority = PriorityHigh
	return m
}

// NewBroadcast builds a broadcast-type message on an explicit channel.
func NewBroadcast(sender, channel string, payload map[string]any, priority Priority) Message {
	m := newMessage(TypeBroadcast, sender, payload)
	m.Channel = channel
	m.Priority = priority
	return m
}

// AgentChannel is the direct-send channel naming convention: agent:<id>.
func AgentChannel(agentID string) string {
	return "agent:" + agentID
}

// ProjectChannel, WorkflowChannel mirror the Python ChannelManager's
// lazy-created project/workflow channel naming.
func ProjectChannel(projectID string) string  { return "project:" + projectID }
func WorkflowChannel(workflowID string) string { return "workflow:" + workflowID }

// ResponseChannel is the one-shot channel a requestResponse caller
// subscribes on, named after the correlation id.
func ResponseChannel(correlationID string) string {
	return "response:" + correlationID
}
