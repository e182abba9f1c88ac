package domain

import (
	"context"
)

// ActionExecutor carries out device-control commands.
type ActionExecutor interface {
	// Execute runs cmd and reports the outcome. A non-nil error or a result
	// with Success == false both mean the action did not take effect.
	Execute(ctx context.Context, cmd *ActionCommand) (*OperationResult, error)
}

// ChatClient sends one turn to the remote conversational service.
type ChatClient interface {
	Send(ctx context.Context, turn *ChatTurn) (*AggregatedAnswer, error)
}

// AuditLogger appends audit records. Implementations may fail; callers in
// the turn pipeline log and discard those failures.
type AuditLogger interface {
	Record(ctx context.Context, rec *AuditRecord) error
}

// Notifier broadcasts operational messages to connected observers.
type Notifier interface {
	SendLog(message string)
	SendError(message string)
	SendStatus(message string)
	SendOperationResult(success bool, message string, data any)
}
