package domain

import (
	"strings"
	"time"
)

// ChatTurn is one inbound user message.
type ChatTurn struct {
	Message   string         `json:"message"`
	SessionID string         `json:"sessionId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Blank reports whether the turn carries no usable message.
func (t *ChatTurn) Blank() bool {
	return t == nil || strings.TrimSpace(t.Message) == ""
}

// OperationResult is the outcome reported by the action executor.
type OperationResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// AsMap returns the result in the loosely-typed form returned to clients.
func (r *OperationResult) AsMap() map[string]any {
	if r == nil {
		return nil
	}
	m := map[string]any{"success": r.Success}
	if r.Message != "" {
		m["message"] = r.Message
	}
	if len(r.Data) > 0 {
		m["data"] = r.Data
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	return m
}

// AggregatedAnswer is the remote chat service's reply, assembled from one
// blocking body or from every block of a streamed body.
type AggregatedAnswer struct {
	Text           string         `json:"answer"`
	ConversationID string         `json:"conversation_id,omitempty"`
	TaskID         string         `json:"task_id,omitempty"`
	MessageID      string         `json:"message_id,omitempty"`
	Event          string         `json:"event,omitempty"`
	Action         *ActionCommand `json:"action,omitempty"`

	// RequestBody is the exact JSON body sent to the remote service.
	RequestBody string `json:"-"`
}

// ResultSource identifies which stage produced a ChatTurnResult.
type ResultSource string

const (
	SourceLocal    ResultSource = "local"
	SourceRemote   ResultSource = "remote"
	SourceFallback ResultSource = "fallback"
	SourceRejected ResultSource = "rejected"
)

// ChatTurnResult is the terminal artifact of one turn.
type ChatTurnResult struct {
	Text      string         `json:"text"`
	Action    *ActionCommand `json:"action,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Source    ResultSource   `json:"-"`
}

// AuditStatus is the outcome recorded on an audit record.
type AuditStatus int

const (
	AuditFailed  AuditStatus = 0
	AuditSuccess AuditStatus = 1
)

// AuditRecord is one row of the request audit log.
type AuditRecord struct {
	ID                 int64       `json:"id" db:"id"`
	UserInstruction    string      `json:"userInstruction" db:"user_instruction"`
	RequestContent     string      `json:"requestContent" db:"request_content"`
	ResponseContent    string      `json:"responseContent" db:"response_content"`
	ResponseTimeMillis int64       `json:"responseTime" db:"response_time_ms"`
	Status             AuditStatus `json:"status" db:"status"`
	ErrorMessage       string      `json:"errorMessage,omitempty" db:"error_message"`
	OperationType      string      `json:"operationType,omitempty" db:"operation_type"`
	TargetComponent    string      `json:"targetComponent,omitempty" db:"target_component"`
	RequestTokens      int         `json:"requestTokens" db:"request_tokens"`
	ResponseTokens     int         `json:"responseTokens" db:"response_tokens"`
	RequestID          string      `json:"requestId,omitempty" db:"request_id"`
	CreatedAt          time.Time   `json:"createdAt" db:"created_at"`
}
