package dify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/twin-gateway/internal/domain"
)

// Placeholder answers used when a streamed body cannot be fully interpreted.
const (
	IncompleteAnswer = "接收到AI响应，但内容可能不完整"
	EmptyAnswer      = "接收到AI响应，但无法解析具体内容"
)

// HeaderSigner supplies the authorization headers attached to every request.
type HeaderSigner interface {
	Headers(now time.Time) http.Header
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithResponseMode selects "streaming" or "blocking".
func WithResponseMode(mode string) ClientOption {
	return func(c *Client) {
		if mode == ResponseModeBlocking || mode == ResponseModeStreaming {
			c.responseMode = mode
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithUserIDFunc overrides how the per-request opaque user id is generated.
func WithUserIDFunc(fn func() string) ClientOption {
	return func(c *Client) {
		c.newUserID = fn
	}
}

// WithRequiredInputs adds input names whose absence the service reports as a
// configuration error, on top of RequiredInputs.
func WithRequiredInputs(names ...string) ClientOption {
	return func(c *Client) {
		c.requiredInputs = append(c.requiredInputs, names...)
	}
}

// WithClock overrides the time source used for request signing.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// Client is an HTTP client for the Dify chat-messages endpoint.
type Client struct {
	endpoint     string
	signer       HeaderSigner
	responseMode string
	httpClient   *http.Client
	logger       *slog.Logger
	newUserID    func() string
	now          func() time.Time

	requiredInputs []string
}

var _ domain.ChatClient = (*Client)(nil)

// NewClient creates a client posting to endpoint, the full chat-messages URL.
func NewClient(endpoint string, signer HeaderSigner, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:     endpoint,
		signer:       signer,
		responseMode: ResponseModeStreaming,
		httpClient:   http.DefaultClient,
		logger:       slog.Default(),
		newUserID:    func() string { return uuid.New().String() },
		now:          time.Now,

		requiredInputs: slices.Clone(RequiredInputs),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResponseMode returns the configured response mode.
func (c *Client) ResponseMode() string {
	return c.responseMode
}

// BuildRequest constructs the outbound body for turn.
func (c *Client) BuildRequest(turn *domain.ChatTurn) *ChatMessageRequest {
	return &ChatMessageRequest{
		Inputs:         map[string]string{},
		Query:          turn.Message,
		ConversationID: turn.SessionID,
		ResponseMode:   c.responseMode,
		User:           c.newUserID(),
	}
}

// Send posts turn to the chat service and returns the aggregated answer.
// Errors are *domain.Error of kind connectivity, remote_service or
// configuration.
func (c *Client) Send(ctx context.Context, turn *domain.ChatTurn) (*domain.AggregatedAnswer, error) {
	req := c.BuildRequest(turn)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	c.logger.Debug("sending chat request",
		slog.String("endpoint", c.endpoint),
		slog.String("response_mode", req.ResponseMode),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.ErrConnectivityCause("request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.ErrConnectivityCause("failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, toCanonical(resp.StatusCode, respBody, c.requiredInputs)
	}

	var answer *domain.AggregatedAnswer
	if req.ResponseMode == ResponseModeStreaming {
		answer = c.fromStream(string(respBody))
	} else {
		answer, err = c.fromBlocking(respBody)
		if err != nil {
			return nil, err
		}
	}
	answer.RequestBody = string(body)
	return answer, nil
}

func (c *Client) fromBlocking(body []byte) (*domain.AggregatedAnswer, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, domain.ErrRemoteServicef("empty response body")
	}
	var result ChatMessageResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, domain.NewError(domain.ErrorKindRemoteService, "failed to unmarshal response").WithCause(err)
	}
	if msg := result.RemoteError(); msg != "" {
		c.logger.Warn("chat service reported an error in a successful response", slog.String("error", msg))
	}
	return result.ToAnswer(), nil
}

func (c *Client) fromStream(body string) *domain.AggregatedAnswer {
	if strings.TrimSpace(body) == "" {
		c.logger.Warn("chat service returned an empty stream")
		return &domain.AggregatedAnswer{Text: EmptyAnswer}
	}

	agg := Aggregate(body)
	for _, msg := range agg.RemoteErrors {
		c.logger.Warn("chat service reported an error in the stream", slog.String("error", msg))
	}
	if agg.Skipped > 0 {
		c.logger.Debug("skipped undecodable stream blocks", slog.Int("skipped", agg.Skipped))
	}

	answer := agg.Answer()
	if !agg.Complete() && agg.Text == nil {
		answer.Text = IncompleteAnswer
	}
	return answer
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "twin-gateway/1.0")
	if c.responseMode == ResponseModeStreaming {
		req.Header.Set("Accept", "text/event-stream")
	}
	if c.signer == nil {
		return
	}
	for k, vs := range c.signer.Headers(c.now()) {
		for i, v := range vs {
			if i == 0 {
				req.Header.Set(k, v)
			} else {
				req.Header.Add(k, v)
			}
		}
	}
}
