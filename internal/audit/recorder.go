// Package audit writes request audit records to an AuditStore.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tjfontaine/twin-gateway/internal/domain"
	"github.com/tjfontaine/twin-gateway/internal/storage"
	"github.com/tjfontaine/twin-gateway/internal/tokens"
)

// Placeholders stored in place of blank fields.
const (
	NoInstruction    = "无用户指令"
	NoRequestContent = "无请求内容"
	ErrorRecord      = "错误记录"
)

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithTokenCounter fills RequestTokens and ResponseTokens when they are unset.
func WithTokenCounter(counter tokens.Counter) Option {
	return func(r *Recorder) {
		r.counter = counter
	}
}

// WithClock overrides the time source for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// Recorder implements domain.AuditLogger on top of a store.
type Recorder struct {
	store   storage.AuditStore
	logger  *slog.Logger
	counter tokens.Counter
	now     func() time.Time
}

var _ domain.AuditLogger = (*Recorder)(nil)

// NewRecorder creates a recorder writing to store.
func NewRecorder(store storage.AuditStore, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record normalizes rec and appends it. When the append fails a minimal
// failure record is attempted instead. The returned error is only non-nil
// when both writes fail.
func (r *Recorder) Record(ctx context.Context, rec *domain.AuditRecord) error {
	if rec == nil {
		return nil
	}
	r.normalize(rec)

	err := r.store.Append(ctx, rec)
	if err == nil {
		r.logger.Debug("audit record saved",
			slog.Int64("id", rec.ID),
			slog.String("operation", rec.OperationType),
			slog.Int("status", int(rec.Status)),
		)
		return nil
	}

	r.logger.Error("failed to save audit record", slog.String("error", err.Error()))

	minimal := &domain.AuditRecord{
		UserInstruction: rec.UserInstruction,
		RequestContent:  NoRequestContent,
		Status:          domain.AuditFailed,
		ErrorMessage:    "记录日志时出错: " + err.Error(),
		RequestID:       rec.RequestID,
		CreatedAt:       r.now(),
	}
	if strings.TrimSpace(minimal.UserInstruction) == "" {
		minimal.UserInstruction = ErrorRecord
	}
	if ferr := r.store.Append(ctx, minimal); ferr != nil {
		r.logger.Error("failed to save fallback audit record", slog.String("error", ferr.Error()))
		return fmt.Errorf("audit append failed: %w", err)
	}
	return nil
}

func (r *Recorder) normalize(rec *domain.AuditRecord) {
	if strings.TrimSpace(rec.UserInstruction) == "" {
		rec.UserInstruction = NoInstruction
	}
	if rec.RequestContent == "" {
		rec.RequestContent = NoRequestContent
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	if r.counter != nil {
		if rec.RequestTokens == 0 {
			rec.RequestTokens = r.counter.Count(requestText(rec))
		}
		if rec.ResponseTokens == 0 {
			rec.ResponseTokens = r.counter.Count(rec.ResponseContent)
		}
	}
}

// requestText is what was sent upstream: the JSON request body when the
// record carries one, otherwise the user instruction. Local and fallback
// records only hold a descriptive placeholder in RequestContent.
func requestText(rec *domain.AuditRecord) string {
	body := strings.TrimSpace(rec.RequestContent)
	if strings.HasPrefix(body, "{") && json.Valid([]byte(body)) {
		return body
	}
	return rec.UserInstruction
}

// Nop drops every record. It stands in for the recorder when audit storage
// is disabled.
type Nop struct{}

func (Nop) Record(context.Context, *domain.AuditRecord) error { return nil }
