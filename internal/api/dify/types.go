// Package dify provides the wire types, stream aggregation and HTTP client for
// the Dify chat-messages API.
package dify

import (
	"encoding/json"
	"regexp"
	"slices"
	"strings"

	"github.com/tjfontaine/twin-gateway/internal/domain"
)

// Response modes.
const (
	ResponseModeStreaming = "streaming"
	ResponseModeBlocking  = "blocking"
)

// Stream events with special meaning.
const (
	EventMessageEnd = "message_end"
	EventError      = "error"
)

// ChatMessageRequest is the body of POST /chat-messages.
type ChatMessageRequest struct {
	Inputs         map[string]string `json:"inputs"`
	Query          string            `json:"query"`
	ConversationID string            `json:"conversation_id,omitempty"`
	ResponseMode   string            `json:"response_mode"`
	User           string            `json:"user"`
}

// ChatMessageResponse is both the blocking response body and one decoded
// streaming block. ConversationID is a pointer so that an absent field can be
// told apart from an empty one. Answer is kept raw because some applications
// emit numbers or booleans there; read it through AnswerText.
type ChatMessageResponse struct {
	ID                 string              `json:"id,omitempty"`
	ConversationID     *string             `json:"conversation_id,omitempty"`
	CreatedAt          int64               `json:"created_at,omitempty"`
	Answer             json.RawMessage     `json:"answer,omitempty"`
	Action             json.RawMessage     `json:"action,omitempty"`
	Event              string              `json:"event,omitempty"`
	TaskID             string              `json:"task_id,omitempty"`
	MessageID          string              `json:"message_id,omitempty"`
	Message            string              `json:"message,omitempty"`
	Error              json.RawMessage     `json:"error,omitempty"`
	RetrieverResources []RetrieverResource `json:"retriever_resources,omitempty"`
}

// RetrieverResource is a knowledge-base citation attached to an answer.
type RetrieverResource struct {
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	Score        float64 `json:"score"`
	Content      string  `json:"content"`
}

// AnswerText returns the answer as text and whether one was present. A JSON
// string is unquoted; any other scalar keeps its literal form, so 5 reads "5".
func (r *ChatMessageResponse) AnswerText() (string, bool) {
	raw := strings.TrimSpace(string(r.Answer))
	if raw == "" || raw == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(r.Answer, &s); err == nil {
		return s, true
	}
	return raw, true
}

// RemoteError returns the error text carried inside an otherwise successful
// body, or "" when there is none.
func (r *ChatMessageResponse) RemoteError() string {
	if len(r.Error) > 0 && string(r.Error) != "null" {
		var s string
		if err := json.Unmarshal(r.Error, &s); err == nil {
			return s
		}
		return string(r.Error)
	}
	if r.Event == EventError {
		if r.Message != "" {
			return r.Message
		}
		return EventError
	}
	return ""
}

// ToAnswer converts the response into the canonical aggregated answer.
func (r *ChatMessageResponse) ToAnswer() *domain.AggregatedAnswer {
	a := &domain.AggregatedAnswer{
		TaskID:    r.TaskID,
		MessageID: r.MessageID,
		Event:     r.Event,
		Action:    domain.ParseActionCommand(r.Action),
	}
	if text, ok := r.AnswerText(); ok {
		a.Text = text
	}
	if r.ConversationID != nil {
		a.ConversationID = *r.ConversationID
	}
	return a
}

// ErrorResponse is the body Dify returns with a non-2xx status.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// RequiredInputs are the conversation inputs the chat application declares
// mandatory. Only a client error naming one of them is a configuration defect.
var RequiredInputs = []string{"company_name", "equipment_type"}

var missingParamPattern = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*) is required`)

// ParseErrorResponse attempts to parse an error response from JSON.
func ParseErrorResponse(data []byte) (*ErrorResponse, error) {
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		return nil, err
	}
	if errResp.Message == "" && errResp.Code == "" {
		return nil, nil
	}
	return &errResp, nil
}

// ToCanonical converts an upstream failure into a domain error using
// RequiredInputs.
func ToCanonical(status int, body []byte) *domain.Error {
	return toCanonical(status, body, RequiredInputs)
}

// toCanonical classifies a 4xx whose message names a missing input from
// required as a configuration error. Everything else, 5xx included, is a
// recoverable remote service error.
func toCanonical(status int, body []byte, required []string) *domain.Error {
	message := strings.TrimSpace(string(body))
	if apiErr, err := ParseErrorResponse(body); err == nil && apiErr != nil && apiErr.Message != "" {
		message = apiErr.Message
	}

	if status >= 400 && status < 500 {
		for _, m := range missingParamPattern.FindAllStringSubmatch(message, -1) {
			if slices.Contains(required, m[1]) {
				return domain.ErrConfigurationParam(m[1], message).WithStatusCode(status)
			}
		}
	}
	return domain.ErrRemoteServicef("API error (status %d): %s", status, message).WithStatusCode(status)
}
