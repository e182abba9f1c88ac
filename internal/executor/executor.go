// Package executor forwards view commands to the digital-twin operation service.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tjfontaine/twin-gateway/internal/domain"
	"github.com/tjfontaine/twin-gateway/internal/events"
)

// MissingSuccessField is reported when the service omits the success flag.
const MissingSuccessField = "服务未返回success字段"

// ExecuteRequest is the body posted to {url}/api/execute.
type ExecuteRequest struct {
	Operation  string         `json:"operation"`
	Parameters map[string]any `json:"parameters"`
}

// Option configures the gateway.
type Option func(*Gateway)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(g *Gateway) {
		g.httpClient = httpClient
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithNotifier broadcasts operation outcomes.
func WithNotifier(n domain.Notifier) Option {
	return func(g *Gateway) {
		if n != nil {
			g.notifier = n
		}
	}
}

// Gateway is an HTTP implementation of domain.ActionExecutor.
//
// Transport, status and decoding failures never surface as Go errors; they
// are reported as an unsuccessful OperationResult so the caller can still
// answer the user.
type Gateway struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
	notifier   domain.Notifier
}

var _ domain.ActionExecutor = (*Gateway)(nil)

// New creates a gateway for the operation service at baseURL.
func New(baseURL string, opts ...Option) *Gateway {
	g := &Gateway{
		endpoint:   strings.TrimRight(baseURL, "/") + "/api/execute",
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
		notifier:   events.Discard,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Endpoint returns the full execute URL.
func (g *Gateway) Endpoint() string {
	return g.endpoint
}

// Execute sends cmd to the operation service. Only a nil or invalid command
// returns an error.
func (g *Gateway) Execute(ctx context.Context, cmd *domain.ActionCommand) (*domain.OperationResult, error) {
	if cmd == nil {
		return nil, domain.ErrValidationf("操作数据不能为空")
	}
	if !cmd.Type.Valid() {
		return nil, domain.ErrValidationf("不支持的操作类型: %s", cmd.Type)
	}

	req := ExecuteRequest{Operation: string(cmd.Type), Parameters: cmd.Params()}
	g.logger.Info("executing operation",
		slog.String("operation", req.Operation),
		slog.Any("parameters", req.Parameters),
	)

	result := g.send(ctx, req)
	if result.Success {
		g.notifier.SendLog(completionMessage(cmd))
	} else {
		g.notifier.SendError(fmt.Sprintf("%s操作失败: %s", operationLabel(cmd.Type), result.Message))
	}
	return result, nil
}

func (g *Gateway) send(ctx context.Context, req ExecuteRequest) *domain.OperationResult {
	body, err := json.Marshal(req)
	if err != nil {
		return failure("请求浏览器服务失败: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return failure("请求浏览器服务失败: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		g.logger.Error("cannot reach operation service", slog.String("endpoint", g.endpoint), slog.String("error", err.Error()))
		return failure("无法连接到浏览器服务: " + err.Error() + "，请确保服务已启动")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure("请求浏览器服务失败: " + err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Error("operation service returned an error status",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(respBody)),
		)
		return failure(fmt.Sprintf("REST客户端异常: %d %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}

	return g.decode(respBody)
}

func (g *Gateway) decode(body []byte) *domain.OperationResult {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return failure("请求浏览器服务失败: " + err.Error())
	}

	result := &domain.OperationResult{}
	if msg, ok := fields["message"].(string); ok {
		result.Message = msg
	}
	if e, ok := fields["error"]; ok && e != nil {
		// The operation may still have run; the flag below decides.
		result.Error = fmt.Sprint(e)
		g.logger.Warn("operation service reported an error", slog.String("error", result.Error))
	}

	success, ok := fields["success"]
	if !ok {
		result.Success = false
		result.Message = MissingSuccessField
	} else {
		b, _ := success.(bool)
		result.Success = b
	}

	data := make(map[string]any)
	for k, v := range fields {
		switch k {
		case "success", "message", "error":
		default:
			data[k] = v
		}
	}
	if len(data) > 0 {
		result.Data = data
	}
	return result
}

func failure(message string) *domain.OperationResult {
	return &domain.OperationResult{Success: false, Message: message}
}

func operationLabel(t domain.ActionType) string {
	switch t {
	case domain.ActionRotate:
		return "旋转"
	case domain.ActionZoom:
		return "缩放"
	case domain.ActionFocus:
		return "聚焦"
	case domain.ActionReset:
		return "重置"
	}
	return string(t)
}

func completionMessage(cmd *domain.ActionCommand) string {
	p := cmd.Params()
	switch cmd.Type {
	case domain.ActionRotate:
		return fmt.Sprintf("旋转操作执行完成，方向: %v, 角度: %v", p["direction"], p["angle"])
	case domain.ActionZoom:
		return fmt.Sprintf("缩放操作执行完成，比例: %v", p["scale"])
	case domain.ActionFocus:
		return fmt.Sprintf("聚焦操作执行完成，目标: %v", p["target"])
	default:
		return "视图重置操作执行完成"
	}
}
