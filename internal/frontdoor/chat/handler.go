// Package chat serves the gateway's public HTTP surface: chat turns, direct
// action execution and the health check.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tjfontaine/twin-gateway/internal/audit"
	"github.com/tjfontaine/twin-gateway/internal/domain"
	"github.com/tjfontaine/twin-gateway/internal/events"
	"github.com/tjfontaine/twin-gateway/internal/server"
)

// Fixed response texts.
const (
	NullRequestApology = "很抱歉，接收到空请求。请确保发送了有效的消息内容。"
	ErrorApologyPrefix = "很抱歉，处理您的请求时出现了错误: "
	InvalidAction      = "无效的操作"

	nullRequestMessage  = "请求内容为空"
	emptyMessage        = "消息内容为空"
	defaultResultText   = "操作完成"
	errorResultPrefix   = "处理请求时出错: "
	healthServiceName   = "digital-twin-ai"
	maxRequestBodyBytes = 1 << 20
)

// TurnHandler resolves one chat turn.
type TurnHandler interface {
	Handle(ctx context.Context, in *domain.ChatTurn) (*domain.ChatTurnResult, error)
	FailureRecord(ctx context.Context, in *domain.ChatTurn, err error, elapsed time.Duration) *domain.AuditRecord
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithNotifier sets where turn outcomes are broadcast.
func WithNotifier(n domain.Notifier) Option {
	return func(h *Handler) {
		h.notifier = n
	}
}

func WithSessionIDFunc(fn func() string) Option {
	return func(h *Handler) {
		h.newSessionID = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

type Handler struct {
	turns    TurnHandler
	executor domain.ActionExecutor
	audit    domain.AuditLogger
	notifier domain.Notifier
	logger   *slog.Logger

	newSessionID func() string
	now          func() time.Time
}

// NewHandler creates the handler. A nil auditLog discards failure records.
func NewHandler(turns TurnHandler, executor domain.ActionExecutor, auditLog domain.AuditLogger, opts ...Option) *Handler {
	if auditLog == nil {
		auditLog = audit.Nop{}
	}
	h := &Handler{
		turns:        turns,
		executor:     executor,
		audit:        auditLog,
		notifier:     events.Discard,
		logger:       slog.Default(),
		newSessionID: uuid.NewString,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the handler's endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/chat", h.HandleChat)
	r.Post("/api/execute", h.HandleExecute)
	r.Get("/health", h.HandleHealth)
}

// HandleChat answers every turn with 200 and a ChatTurnResult, including
// rejected and failed turns.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	server.AddLogField(r.Context(), "frontdoor", "chat")

	in, ok := h.decodeTurn(r)
	if !ok {
		h.logger.Warn("received empty chat request")
		server.AddLogField(r.Context(), "source", "rejected")
		server.WriteJSON(w, http.StatusOK, &domain.ChatTurnResult{
			Text:      NullRequestApology,
			SessionID: h.newSessionID(),
			Result:    map[string]any{"success": false, "message": nullRequestMessage},
		})
		return
	}

	start := h.now()
	res, err := h.turns.Handle(r.Context(), in)
	if err != nil {
		h.fail(w, r, in, err, h.now().Sub(start))
		return
	}

	switch {
	case res.Source == domain.SourceRejected:
		h.logger.Warn("received empty chat message")
		res.Result = map[string]any{"success": false, "message": emptyMessage}
	case res.Result == nil:
		res.Result = map[string]any{"success": true, "message": defaultResultText}
	}
	if res.SessionID == "" {
		res.SessionID = h.newSessionID()
	}

	server.AddLogField(r.Context(), "source", string(res.Source))
	if res.Action != nil {
		server.AddLogField(r.Context(), "operation", string(res.Action.Type))
		success, _ := res.Result["success"].(bool)
		message, _ := res.Result["message"].(string)
		h.notifier.SendOperationResult(success, message, res.Result)
	}

	h.logger.Info("chat turn answered",
		slog.String("request_id", server.GetRequestID(r.Context())),
		slog.String("source", string(res.Source)),
		slog.String("session_id", res.SessionID),
	)
	server.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, in *domain.ChatTurn, err error, elapsed time.Duration) {
	server.AddError(r.Context(), err)
	requestID := server.GetRequestID(r.Context())
	h.logger.Error("chat turn failed",
		slog.String("request_id", requestID),
		slog.String("error", err.Error()),
	)

	if aerr := h.audit.Record(r.Context(), h.turns.FailureRecord(r.Context(), in, err, elapsed)); aerr != nil {
		h.logger.Error("failed to record failed turn",
			slog.String("request_id", requestID),
			slog.String("error", aerr.Error()),
		)
	}
	h.notifier.SendError(errorResultPrefix + err.Error())

	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = h.newSessionID()
	}
	server.WriteJSON(w, http.StatusOK, &domain.ChatTurnResult{
		Text:      ErrorApologyPrefix + err.Error(),
		SessionID: sessionID,
		Result:    map[string]any{"success": false, "message": errorResultPrefix + err.Error()},
	})
}

// decodeTurn reads the request body. A missing, null or malformed body
// reports false.
func (h *Handler) decodeTurn(r *http.Request) (*domain.ChatTurn, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		return nil, false
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, false
	}
	var in domain.ChatTurn
	if err := json.Unmarshal(body, &in); err != nil {
		h.logger.Warn("failed to decode chat request", slog.String("error", err.Error()))
		server.AddError(r.Context(), err)
		return nil, false
	}
	return &in, true
}

// HandleExecute runs one action command posted as {type, target, params}.
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	server.AddLogField(r.Context(), "frontdoor", "execute")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		server.AddError(r.Context(), err)
		server.WriteError(w, domain.ErrValidationf("%s: %v", InvalidAction, err))
		return
	}

	cmd := domain.ParseActionCommand(body)
	if cmd == nil {
		err := domain.ErrValidationf("%s", InvalidAction)
		server.AddError(r.Context(), err)
		server.WriteError(w, err)
		return
	}
	server.AddLogField(r.Context(), "operation", string(cmd.Type))

	res, err := h.executor.Execute(r.Context(), cmd)
	if err != nil {
		server.AddError(r.Context(), err)
		server.WriteError(w, err)
		return
	}
	h.notifier.SendOperationResult(res.Success, res.Message, res.AsMap())
	server.WriteJSON(w, http.StatusOK, res.AsMap())
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "up",
		"service":   healthServiceName,
		"timestamp": h.now().UnixMilli(),
	})
}
