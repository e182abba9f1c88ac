// Package orchestrator resolves one chat turn into a ChatTurnResult by trying
// the local instruction parser, the remote chat service and, when the remote
// call fails, the local parser once more.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/twin-gateway/internal/domain"
	"github.com/tjfontaine/twin-gateway/internal/instruction"
)

// Fixed user-facing texts.
const (
	EmptyMessageApology = "很抱歉，我无法理解空消息。请提供具体的指令或问题。"
	DefaultRemoteText   = "操作已执行"
	NoRequestData       = "无请求数据"
	NoResponseData      = "无响应数据"
)

// Prefixes of the ResponseContent/RequestContent stored on audit records.
const (
	localRequestPrefix  = "本地解析指令: "
	localResponsePrefix = "直接执行操作: "
	fallbackPrefix      = "使用本地回退逻辑: "
)

const tracerName = "github.com/tjfontaine/twin-gateway/internal/orchestrator"

// Config toggles the local stages.
type Config struct {
	// LocalFallbackEnabled enables the LOCAL_ATTEMPT stage.
	LocalFallbackEnabled bool
	// AutoRetryOnFailure enables FALLBACK_ATTEMPT after a recoverable remote error.
	AutoRetryOnFailure bool
}

// DefaultConfig enables both local stages.
func DefaultConfig() Config {
	return Config{LocalFallbackEnabled: true, AutoRetryOnFailure: true}
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithConfig sets the stage toggles.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithSessionIDFunc overrides how session ids are generated.
func WithSessionIDFunc(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newSessionID = fn
	}
}

// WithClock overrides the time source used for latency.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithParser replaces the local instruction parser.
func WithParser(parse func(string) *domain.ActionCommand) Option {
	return func(o *Orchestrator) {
		o.parse = parse
	}
}

// WithStateObserver calls fn on entry to every state, in order.
func WithStateObserver(fn func(State)) Option {
	return func(o *Orchestrator) {
		o.observe = fn
	}
}

// WithTracerProvider sets the provider spans are created from.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		o.tracer = tp.Tracer(tracerName)
	}
}

// Orchestrator holds only collaborators and configuration; it is safe for
// concurrent use.
type Orchestrator struct {
	chat     domain.ChatClient
	executor domain.ActionExecutor
	audit    domain.AuditLogger

	cfg          Config
	parse        func(string) *domain.ActionCommand
	logger       *slog.Logger
	tracer       trace.Tracer
	newSessionID func() string
	now          func() time.Time
	observe      func(State)
}

// New creates an orchestrator. audit may be nil to disable audit records.
func New(chat domain.ChatClient, executor domain.ActionExecutor, audit domain.AuditLogger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		chat:         chat,
		executor:     executor,
		audit:        audit,
		cfg:          DefaultConfig(),
		parse:        instruction.Parse,
		logger:       slog.Default(),
		tracer:       otel.Tracer(tracerName),
		newSessionID: uuid.NewString,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// turn is the per-call state threaded through the state handlers.
type turn struct {
	in        *domain.ChatTurn
	message   string
	requestID string
	start     time.Time

	result    *domain.ChatTurnResult
	err       error
	remoteErr error
	path      []State
}

// Handle runs the state machine for in. On FAILED it returns the originating
// error and no result; the caller is responsible for the failure audit record.
func (o *Orchestrator) Handle(ctx context.Context, in *domain.ChatTurn) (*domain.ChatTurnResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Handle")
	defer span.End()

	t := &turn{in: in, requestID: domain.RequestIDFrom(ctx), start: o.now()}
	if in != nil {
		t.message = strings.TrimSpace(in.Message)
	}
	if t.requestID != "" {
		span.SetAttributes(attribute.String("request.id", t.requestID))
	}

	state := StateInit
	for {
		t.path = append(t.path, state)
		span.AddEvent("state", trace.WithAttributes(attribute.String("state", state.String())))
		if o.observe != nil {
			o.observe(state)
		}

		switch state {
		case StateInit:
			state = o.initial(t)
		case StateLocalAttempt:
			state = o.local(ctx, t)
		case StateRemoteAttempt:
			state = o.remote(ctx, t)
		case StateFallbackAttempt:
			state = o.fallback(ctx, t)
		case StateDone:
			span.SetAttributes(attribute.String("turn.source", string(t.result.Source)))
			o.logger.Debug("turn completed",
				slog.String("request_id", t.requestID),
				slog.String("source", string(t.result.Source)),
				slog.String("path", pathString(t.path)),
				slog.Duration("duration", o.now().Sub(t.start)),
			)
			return t.result, nil
		case StateFailed:
			span.RecordError(t.err)
			span.SetStatus(codes.Error, t.err.Error())
			o.logger.Warn("turn failed",
				slog.String("request_id", t.requestID),
				slog.String("path", pathString(t.path)),
				slog.String("error", t.err.Error()),
			)
			return nil, t.err
		}
	}
}

func (o *Orchestrator) initial(t *turn) State {
	if t.in.Blank() {
		t.result = &domain.ChatTurnResult{Text: EmptyMessageApology, Source: domain.SourceRejected}
		return StateDone
	}
	if o.cfg.LocalFallbackEnabled {
		return StateLocalAttempt
	}
	return StateRemoteAttempt
}

func (o *Orchestrator) local(ctx context.Context, t *turn) State {
	cmd := o.parse(t.message)
	if cmd == nil {
		return StateRemoteAttempt
	}

	res, err := o.execute(ctx, cmd)
	if err != nil {
		o.logger.Warn("local instruction did not execute, trying remote service",
			slog.String("request_id", t.requestID),
			slog.String("action", cmd.String()),
			slog.String("error", err.Error()),
		)
		return StateRemoteAttempt
	}

	text := instruction.Confirmation(cmd)
	o.record(ctx, t, &domain.AuditRecord{
		UserInstruction:    t.message,
		RequestContent:     localRequestPrefix + string(cmd.Type),
		ResponseContent:    localResponsePrefix + text,
		ResponseTimeMillis: o.elapsed(t),
		Status:             domain.AuditSuccess,
		OperationType:      string(cmd.Type),
		TargetComponent:    cmd.Target,
	})

	t.result = &domain.ChatTurnResult{
		Text:      text,
		Action:    cmd,
		Result:    res.AsMap(),
		SessionID: o.sessionID(t.in.SessionID, ""),
		Source:    domain.SourceLocal,
	}
	return StateDone
}

func (o *Orchestrator) remote(ctx context.Context, t *turn) State {
	answer, err := o.chat.Send(ctx, t.in)
	if err != nil {
		t.remoteErr = err
		if errors.Is(err, domain.ErrConfiguration) {
			t.err = err
			return StateFailed
		}
		if o.cfg.AutoRetryOnFailure && recoverable(err) {
			o.logger.Warn("remote chat failed, using local fallback",
				slog.String("request_id", t.requestID),
				slog.String("error", err.Error()),
			)
			return StateFallbackAttempt
		}
		t.err = err
		return StateFailed
	}

	text := answer.Text
	if text == "" {
		text = DefaultRemoteText
	}

	var result map[string]any
	if cmd := answer.Action; cmd != nil {
		res, err := o.execute(ctx, cmd)
		if err != nil {
			o.logger.Warn("remote action did not execute",
				slog.String("request_id", t.requestID),
				slog.String("action", cmd.String()),
				slog.String("error", err.Error()),
			)
		}
		result = remoteResult(cmd, res, err == nil)
	}

	requestBody := answer.RequestBody
	if requestBody == "" {
		requestBody = NoRequestData
	}
	responseBody := NoResponseData
	if b, err := json.Marshal(answer); err == nil {
		responseBody = string(b)
	}

	rec := &domain.AuditRecord{
		UserInstruction:    t.message,
		RequestContent:     requestBody,
		ResponseContent:    responseBody,
		ResponseTimeMillis: o.elapsed(t),
		Status:             domain.AuditSuccess,
	}
	if answer.Action != nil {
		rec.OperationType = string(answer.Action.Type)
		rec.TargetComponent = answer.Action.Target
	}
	o.record(ctx, t, rec)

	t.result = &domain.ChatTurnResult{
		Text:      text,
		Action:    answer.Action,
		Result:    result,
		SessionID: o.sessionID(t.in.SessionID, answer.ConversationID),
		Source:    domain.SourceRemote,
	}
	return StateDone
}

func (o *Orchestrator) fallback(ctx context.Context, t *turn) State {
	cmd := o.parse(t.message)
	if cmd == nil {
		t.err = t.remoteErr
		return StateFailed
	}
	if _, err := o.execute(ctx, cmd); err != nil {
		o.logger.Warn("fallback instruction did not execute",
			slog.String("request_id", t.requestID),
			slog.String("action", cmd.String()),
			slog.String("error", err.Error()),
		)
		t.err = t.remoteErr
		return StateFailed
	}

	text := instruction.Confirmation(cmd)
	o.record(ctx, t, &domain.AuditRecord{
		UserInstruction:    t.message,
		RequestContent:     NoRequestData,
		ResponseContent:    fallbackPrefix + text,
		ResponseTimeMillis: o.elapsed(t),
		Status:             domain.AuditSuccess,
		OperationType:      string(cmd.Type),
		TargetComponent:    cmd.Target,
	})

	t.result = &domain.ChatTurnResult{
		Text:      text,
		Action:    cmd,
		SessionID: o.sessionID(t.in.SessionID, ""),
		Source:    domain.SourceFallback,
	}
	return StateDone
}

// execute runs cmd. A transport failure, a missing result or success=false
// comes back as an execution error; callers downgrade to the next stage and
// never return it from Handle.
func (o *Orchestrator) execute(ctx context.Context, cmd *domain.ActionCommand) (*domain.OperationResult, error) {
	res, err := o.executor.Execute(ctx, cmd)
	switch {
	case err != nil:
		return nil, domain.ErrExecutionf("executor call failed: %v", err).WithCause(err)
	case res == nil:
		return nil, domain.ErrExecutionf("executor returned no result")
	case !res.Success:
		reason := res.Error
		if reason == "" {
			reason = res.Message
		}
		return res, domain.ErrExecutionf("%s not applied: %s", cmd.Type, reason)
	}
	return res, nil
}

// record appends rec, swallowing failures.
func (o *Orchestrator) record(ctx context.Context, t *turn, rec *domain.AuditRecord) {
	if o.audit == nil {
		return
	}
	rec.RequestID = t.requestID
	if err := o.audit.Record(ctx, rec); err != nil {
		o.logger.Error("failed to record audit entry",
			slog.String("request_id", t.requestID),
			slog.String("error", err.Error()),
		)
	}
}

// FailureRecord builds the audit record for a turn that ended in FAILED. The
// request id is read from ctx.
func (o *Orchestrator) FailureRecord(ctx context.Context, in *domain.ChatTurn, err error, elapsed time.Duration) *domain.AuditRecord {
	rec := &domain.AuditRecord{
		RequestContent:     NoRequestData,
		ResponseTimeMillis: elapsed.Milliseconds(),
		Status:             domain.AuditFailed,
		RequestID:          domain.RequestIDFrom(ctx),
	}
	if in != nil {
		rec.UserInstruction = strings.TrimSpace(in.Message)
	}
	if err != nil {
		rec.ErrorMessage = err.Error()
	}
	return rec
}

func (o *Orchestrator) elapsed(t *turn) int64 {
	return o.now().Sub(t.start).Milliseconds()
}

func (o *Orchestrator) sessionID(requested, conversation string) string {
	switch {
	case requested != "":
		return requested
	case conversation != "":
		return conversation
	default:
		return o.newSessionID()
	}
}

func recoverable(err error) bool {
	if e, ok := domain.AsError(err); ok {
		return e.Recoverable()
	}
	// Unclassified failures are treated like the service misbehaving.
	return true
}

func remoteResult(cmd *domain.ActionCommand, res *domain.OperationResult, ok bool) map[string]any {
	m := map[string]any{
		"success":   ok,
		"operation": string(cmd.Type),
	}
	if res != nil && res.Message != "" {
		m["message"] = res.Message
	}
	if cmd.Type == domain.ActionRotate {
		p := cmd.Params()
		m["angle"] = p["angle"]
		m["direction"] = p["direction"]
	}
	return m
}

func pathString(path []State) string {
	names := make([]string, len(path))
	for i, s := range path {
		names[i] = s.String()
	}
	return strings.Join(names, ">")
}
