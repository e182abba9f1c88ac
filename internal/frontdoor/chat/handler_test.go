package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/twin-gateway/internal/api/dify"
	"github.com/tjfontaine/twin-gateway/internal/audit"
	"github.com/tjfontaine/twin-gateway/internal/domain"
	"github.com/tjfontaine/twin-gateway/internal/executor"
	"github.com/tjfontaine/twin-gateway/internal/instruction"
	"github.com/tjfontaine/twin-gateway/internal/orchestrator"
	"github.com/tjfontaine/twin-gateway/internal/server"
	"github.com/tjfontaine/twin-gateway/internal/storage"
	"github.com/tjfontaine/twin-gateway/internal/storage/memory"
	"github.com/tjfontaine/twin-gateway/internal/testutil"
)

type stubTurns struct {
	res *domain.ChatTurnResult
	err error
	got *domain.ChatTurn
}

func (s *stubTurns) Handle(ctx context.Context, in *domain.ChatTurn) (*domain.ChatTurnResult, error) {
	s.got = in
	return s.res, s.err
}

func (s *stubTurns) FailureRecord(ctx context.Context, in *domain.ChatTurn, err error, elapsed time.Duration) *domain.AuditRecord {
	return &domain.AuditRecord{UserInstruction: in.Message, ErrorMessage: err.Error(), Status: domain.AuditFailed, RequestID: domain.RequestIDFrom(ctx)}
}

type recordingAudit struct {
	mu      sync.Mutex
	records []*domain.AuditRecord
}

func (a *recordingAudit) Record(ctx context.Context, rec *domain.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

type stubExecutor struct {
	got *domain.ActionCommand
	res *domain.OperationResult
	err error
}

func (e *stubExecutor) Execute(ctx context.Context, cmd *domain.ActionCommand) (*domain.OperationResult, error) {
	e.got = cmd
	return e.res, e.err
}

type chatResponse struct {
	Text      string         `json:"text"`
	SessionID string         `json:"sessionId"`
	Result    map[string]any `json:"result"`
	Action    map[string]any `json:"action"`
}

func fixedSession() string { return "generated-session" }

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func postChat(t *testing.T, h http.Handler, body string) chatResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestHandleChat_UnusableBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ``},
		{"null", `null`},
		{"malformed", `{"message":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turns := &stubTurns{}
			h := NewHandler(turns, &stubExecutor{}, &recordingAudit{},
				WithLogger(testutil.DiscardLogger()), WithSessionIDFunc(fixedSession))

			resp := postChat(t, newRouter(h), tt.body)
			if resp.Text != NullRequestApology {
				t.Errorf("Text = %q, want %q", resp.Text, NullRequestApology)
			}
			if resp.SessionID != "generated-session" {
				t.Errorf("SessionID = %q", resp.SessionID)
			}
			if resp.Result["success"] != false || resp.Result["message"] != "请求内容为空" {
				t.Errorf("Result = %v", resp.Result)
			}
			if turns.got != nil {
				t.Error("unusable body must not reach the orchestrator")
			}
		})
	}
}

func TestHandleChat_RejectedBlankMessage(t *testing.T) {
	turns := &stubTurns{res: &domain.ChatTurnResult{Text: orchestrator.EmptyMessageApology, Source: domain.SourceRejected}}
	h := NewHandler(turns, &stubExecutor{}, &recordingAudit{},
		WithLogger(testutil.DiscardLogger()), WithSessionIDFunc(fixedSession))

	resp := postChat(t, newRouter(h), `{"message":"   "}`)
	if resp.Text != orchestrator.EmptyMessageApology {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Result["success"] != false || resp.Result["message"] != "消息内容为空" {
		t.Errorf("Result = %v", resp.Result)
	}
	if resp.SessionID != "generated-session" {
		t.Errorf("SessionID = %q", resp.SessionID)
	}
}

func TestHandleChat_FillsDefaults(t *testing.T) {
	turns := &stubTurns{res: &domain.ChatTurnResult{Text: "你好！", Source: domain.SourceRemote}}
	h := NewHandler(turns, &stubExecutor{}, &recordingAudit{},
		WithLogger(testutil.DiscardLogger()), WithSessionIDFunc(fixedSession))

	resp := postChat(t, newRouter(h), `{"message":"你好","metadata":{"k":"v"}}`)
	if resp.Result["success"] != true || resp.Result["message"] != "操作完成" {
		t.Errorf("Result = %v, want default success", resp.Result)
	}
	if resp.SessionID != "generated-session" {
		t.Errorf("SessionID = %q", resp.SessionID)
	}
	if turns.got.Message != "你好" || turns.got.Metadata["k"] != "v" {
		t.Errorf("turn = %+v", turns.got)
	}
}

func TestHandleChat_BroadcastsOperationResult(t *testing.T) {
	notifier := &testutil.RecordingNotifier{}
	turns := &stubTurns{res: &domain.ChatTurnResult{
		Text:      instruction.ResetConfirmation,
		Action:    domain.NewReset(),
		Result:    map[string]any{"success": true, "message": "重置完成"},
		SessionID: "s-1",
		Source:    domain.SourceLocal,
	}}
	h := NewHandler(turns, &stubExecutor{}, &recordingAudit{},
		WithLogger(testutil.DiscardLogger()), WithNotifier(notifier))

	resp := postChat(t, newRouter(h), `{"message":"重置","sessionId":"s-1"}`)
	if resp.Action["type"] != "reset" {
		t.Errorf("Action = %v", resp.Action)
	}

	sent := notifier.Sent()
	if len(sent) != 1 || sent[0].Type != "operation_result" || !sent[0].Success || sent[0].Message != "重置完成" {
		t.Errorf("notifications = %+v", sent)
	}
}

func TestHandleChat_FailureIsAuditedOnce(t *testing.T) {
	turnErr := domain.ErrConfigurationParam("company_name", "company_name is required")
	turns := &stubTurns{err: turnErr}
	auditLog := &recordingAudit{}
	notifier := &testutil.RecordingNotifier{}
	h := NewHandler(turns, &stubExecutor{}, auditLog,
		WithLogger(testutil.DiscardLogger()), WithNotifier(notifier), WithSessionIDFunc(fixedSession))

	resp := postChat(t, newRouter(h), `{"message":"你好","sessionId":"s-9"}`)

	if want := ErrorApologyPrefix + turnErr.Error(); resp.Text != want {
		t.Errorf("Text = %q, want %q", resp.Text, want)
	}
	if resp.SessionID != "s-9" {
		t.Errorf("SessionID = %q, want s-9", resp.SessionID)
	}
	if resp.Result["success"] != false || resp.Result["message"] != "处理请求时出错: "+turnErr.Error() {
		t.Errorf("Result = %v", resp.Result)
	}
	if len(auditLog.records) != 1 || auditLog.records[0].Status != domain.AuditFailed {
		t.Errorf("audit records = %+v, want one failure", auditLog.records)
	}
	if sent := notifier.Sent(); len(sent) != 1 || sent[0].Type != "error" {
		t.Errorf("notifications = %+v", sent)
	}
}

func TestHandleChat_NilAuditLogger(t *testing.T) {
	turns := &stubTurns{err: domain.ErrRemoteServicef("upstream 500")}
	h := NewHandler(turns, &stubExecutor{}, nil, WithLogger(testutil.DiscardLogger()))

	resp := postChat(t, newRouter(h), `{"message":"你好"}`)
	if !strings.HasPrefix(resp.Text, ErrorApologyPrefix) {
		t.Errorf("Text = %q, want error apology", resp.Text)
	}
}

func TestHandleExecute(t *testing.T) {
	exec := &stubExecutor{res: &domain.OperationResult{Success: true, Message: "旋转完成"}}
	h := NewHandler(&stubTurns{}, exec, &recordingAudit{}, WithLogger(testutil.DiscardLogger()))

	rec := httptest.NewRecorder()
	body := `{"type":"rotate","params":{"direction":"right","angle":90}}`
	newRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/execute", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if exec.got == nil || exec.got.Rotate == nil || exec.got.Rotate.Direction != "right" || exec.got.Rotate.Angle != 90 {
		t.Errorf("executed = %v, want rotate(right,90)", exec.got)
	}
	var got map[string]any
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got["success"] != true || got["message"] != "旋转完成" {
		t.Errorf("body = %v", got)
	}
}

func TestHandleExecute_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		execErr  error
		wantCode int
	}{
		{"unknown type", `{"type":"explode"}`, nil, http.StatusBadRequest},
		{"empty body", ``, nil, http.StatusBadRequest},
		{"executor rejects", `{"type":"reset"}`, domain.ErrValidationf("nil command"), http.StatusBadRequest},
		{"executor internal", `{"type":"reset"}`, errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &stubExecutor{err: tt.execErr}
			h := NewHandler(&stubTurns{}, exec, &recordingAudit{}, WithLogger(testutil.DiscardLogger()))

			rec := httptest.NewRecorder()
			newRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/execute", strings.NewReader(tt.body)))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			var body map[string]any
			json.Unmarshal(rec.Body.Bytes(), &body)
			if body["success"] != false {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	h := NewHandler(&stubTurns{}, &stubExecutor{}, &recordingAudit{},
		WithClock(func() time.Time { return time.UnixMilli(1700000000000) }))

	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["status"] != "up" || got["service"] != "digital-twin-ai" || got["timestamp"] != float64(1700000000000) {
		t.Errorf("health = %v", got)
	}
}

// gateway wires the real components against httptest collaborators.
type gateway struct {
	router   http.Handler
	store    *memory.Store
	executed []executor.ExecuteRequest
	mu       sync.Mutex
}

func newGateway(t *testing.T, difyHandler http.HandlerFunc) *gateway {
	t.Helper()
	g := &gateway{store: memory.New()}

	execSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req executor.ExecuteRequest
		json.NewDecoder(r.Body).Decode(&req)
		g.mu.Lock()
		g.executed = append(g.executed, req)
		g.mu.Unlock()
		io.WriteString(w, `{"success":true,"message":"done"}`)
	}))
	t.Cleanup(execSrv.Close)

	difySrv := httptest.NewServer(difyHandler)
	t.Cleanup(difySrv.Close)

	logger := testutil.DiscardLogger()
	recorder := audit.NewRecorder(g.store, audit.WithLogger(logger))
	exec := executor.New(execSrv.URL, executor.WithLogger(logger))
	chatClient := dify.NewClient(difySrv.URL, nil, dify.WithLogger(logger))
	orch := orchestrator.New(chatClient, exec, recorder, orchestrator.WithLogger(logger))

	g.router = server.RequestIDMiddleware(newRouter(NewHandler(orch, exec, recorder, WithLogger(logger))))
	return g
}

func (g *gateway) executedRequests() []executor.ExecuteRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]executor.ExecuteRequest(nil), g.executed...)
}

func TestGateway_LocalInstruction(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("local instruction must not reach the chat service")
	})

	resp := postChat(t, g.router, `{"message":"重置视图"}`)

	if resp.Text != instruction.ResetConfirmation {
		t.Errorf("Text = %q, want %q", resp.Text, instruction.ResetConfirmation)
	}
	if resp.Result["success"] != true {
		t.Errorf("Result = %v", resp.Result)
	}
	if resp.SessionID == "" {
		t.Error("SessionID should be generated")
	}
	if executed := g.executedRequests(); len(executed) != 1 || executed[0].Operation != "reset" {
		t.Errorf("executed = %+v, want one reset", executed)
	}
	if g.store.Len() != 1 {
		t.Errorf("audit records = %d, want 1", g.store.Len())
	}
}

func TestGateway_RemoteAnswer(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: {\"answer\":\"你好！\",\"conversation_id\":\"c-1\"}\n\n")
	})

	resp := postChat(t, g.router, `{"message":"你好"}`)

	if resp.Text != "你好！" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.SessionID != "c-1" {
		t.Errorf("SessionID = %q, want c-1", resp.SessionID)
	}
	if resp.Result["message"] != "操作完成" {
		t.Errorf("Result = %v, want default", resp.Result)
	}
	if executed := g.executedRequests(); len(executed) != 0 {
		t.Errorf("executed = %+v, want none", executed)
	}
	if g.store.Len() != 1 {
		t.Errorf("audit records = %d, want 1", g.store.Len())
	}
}

func TestGateway_RemoteFailureWithoutFallback(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"code":"internal","message":"boom"}`)
	})

	resp := postChat(t, g.router, `{"message":"今天天气怎么样"}`)

	if !strings.HasPrefix(resp.Text, ErrorApologyPrefix) {
		t.Errorf("Text = %q, want error apology", resp.Text)
	}
	failed, err := g.store.ListFailed(t.Context(), storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListFailed() error = %v", err)
	}
	if len(failed) != 1 || g.store.Len() != 1 {
		t.Errorf("failed = %d, total = %d, want exactly one failure record", len(failed), g.store.Len())
	}
}

func TestGateway_LocalRotateSendsParameters(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("local instruction must not reach the chat service")
	})

	resp := postChat(t, g.router, `{"message":"向右旋转45度"}`)

	if resp.Action["type"] != "rotate" {
		t.Errorf("Action = %v, want rotate", resp.Action)
	}
	executed := g.executedRequests()
	if len(executed) != 1 {
		t.Fatalf("executed = %+v, want one request", executed)
	}
	params := executed[0].Parameters
	if params["direction"] != "right" || params["angle"] != float64(45) {
		t.Errorf("parameters = %v, want right/45", params)
	}
}

func TestGateway_RequestIDIsAudited(t *testing.T) {
	tests := []struct {
		name    string
		message string
		status  domain.AuditStatus
	}{
		{"local success", "重置视图", domain.AuditSuccess},
		{"remote failure", "今天天气怎么样", domain.AuditFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				io.WriteString(w, `upstream gone`)
			})

			req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"`+tt.message+`"}`))
			req.Header.Set(server.HeaderRequestID, "caller-7")
			rec := httptest.NewRecorder()
			g.router.ServeHTTP(rec, req)

			if got := rec.Header().Get(server.HeaderRequestID); got != "caller-7" {
				t.Errorf("X-Request-ID = %q, want caller-7", got)
			}
			logs, err := g.store.ListByTimeRange(t.Context(), time.Now().Add(-time.Hour), time.Now().Add(time.Hour), storage.ListOptions{})
			if err != nil {
				t.Fatalf("ListByTimeRange() error = %v", err)
			}
			if len(logs) != 1 || logs[0].Status != tt.status || logs[0].RequestID != "caller-7" {
				t.Errorf("records = %+v, want one %v record for caller-7", logs, tt.status)
			}
		})
	}
}
