package testutil

import "sync"

// Notification is one message captured by RecordingNotifier.
type Notification struct {
	Type    string
	Message string
	Success bool
	Data    any
}

// RecordingNotifier captures notifications for assertions.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *RecordingNotifier) add(v Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, v)
}

func (n *RecordingNotifier) SendLog(message string) {
	n.add(Notification{Type: "log", Message: message})
}

func (n *RecordingNotifier) SendError(message string) {
	n.add(Notification{Type: "error", Message: message})
}

func (n *RecordingNotifier) SendStatus(message string) {
	n.add(Notification{Type: "status", Message: message})
}

func (n *RecordingNotifier) SendOperationResult(success bool, message string, data any) {
	n.add(Notification{Type: "operation_result", Message: message, Success: success, Data: data})
}

// Sent returns a copy of everything captured so far.
func (n *RecordingNotifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}
