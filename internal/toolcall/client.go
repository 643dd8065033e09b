// Package toolcall wraps MCP tool calls with independent connect and call budgets.
package toolcall

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/metrics"
)

const (
	// DefaultConnectTimeout bounds session start and initialize.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultCallTimeout bounds long-running analytical queries.
	DefaultCallTimeout = 180 * time.Second

	// DefaultLightCallTimeout bounds small single-metric queries.
	DefaultLightCallTimeout = 120 * time.Second
)

// MCPClient is the subset of *client.Client used by a session
type MCPClient interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Dialer creates a new, unstarted MCP client
type Dialer func() (MCPClient, error)

// Client opens one scoped MCP session per tool call.
type Client struct {
	url              string
	clientName       string
	clientVersion    string
	headers          map[string]string
	connectTimeout   time.Duration
	callTimeout      time.Duration
	lightCallTimeout time.Duration
	dialer           Dialer
	logger           arbor.ILogger
	metrics          *metrics.Metrics
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithClientInfo sets the name and version sent on initialize.
func WithClientInfo(name, version string) ClientOption {
	return func(c *Client) {
		c.clientName = name
		c.clientVersion = version
	}
}

// WithHeaders sets extra HTTP headers on the streamable transport.
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		c.headers = headers
	}
}

// WithTimeouts overrides the connect, heavy call and light call budgets. Zero keeps the default.
func WithTimeouts(connect, call, lightCall time.Duration) ClientOption {
	return func(c *Client) {
		if connect > 0 {
			c.connectTimeout = connect
		}
		if call > 0 {
			c.callTimeout = call
		}
		if lightCall > 0 {
			c.lightCallTimeout = lightCall
		}
	}
}

// WithDialer replaces the streamable HTTP transport, e.g. with an in-process server.
func WithDialer(dialer Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = dialer
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics records call outcomes.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a tool-call client for the MCP endpoint at url.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:              url,
		clientName:       "vigil",
		clientVersion:    "1.0.0",
		connectTimeout:   DefaultConnectTimeout,
		callTimeout:      DefaultCallTimeout,
		lightCallTimeout: DefaultLightCallTimeout,
		logger:           arbor.NewLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.dialer == nil {
		c.dialer = c.streamableDialer
	}

	return c
}

func (c *Client) streamableDialer() (MCPClient, error) {
	var opts []transport.StreamableHTTPCOption
	if len(c.headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(c.headers))
	}
	return client.NewStreamableHttpClient(c.url, opts...)
}

// Budget returns the call budget for a weight
func (c *Client) Budget(weight interfaces.CallWeight) time.Duration {
	if weight == interfaces.CallLight {
		return c.lightCallTimeout
	}
	return c.callTimeout
}

// Connect starts and initializes a session within the connect budget.
// The caller must Close the returned session.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	mc, err := c.dialer()
	if err != nil {
		return nil, &ConnectError{URL: c.url, Err: err}
	}

	_, err = race(ctx, c.connectTimeout, func(ctx context.Context) (struct{}, error) {
		if err := mc.Start(ctx); err != nil {
			return struct{}{}, err
		}
		req := mcp.InitializeRequest{}
		req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		req.Params.ClientInfo = mcp.Implementation{
			Name:    c.clientName,
			Version: c.clientVersion,
		}
		_, err := mc.Initialize(ctx, req)
		return struct{}{}, err
	})
	if err != nil {
		if closeErr := mc.Close(); closeErr != nil {
			c.logger.Debug().Err(closeErr).Msg("Failed to close MCP client after connect failure")
		}
		if te, ok := err.(*TimeoutError); ok {
			te.Op = OpConnect
			return nil, te
		}
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &ConnectError{URL: c.url, Err: err}
	}

	return &Session{client: mc, owner: c}, nil
}

// CallTool connects, calls the tool and always closes the session.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}, weight interfaces.CallWeight) (string, error) {
	start := time.Now()

	text, err := c.callScoped(ctx, name, args, weight)

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
		if IsTimeout(err) {
			outcome = metrics.OutcomeTimeout
		}
	}
	c.metrics.RecordToolCall(name, outcome, time.Since(start))

	return text, err
}

func (c *Client) callScoped(ctx context.Context, name string, args map[string]interface{}, weight interfaces.CallWeight) (string, error) {
	session, err := c.Connect(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Str("tool", name).Str("url", c.url).Msg("MCP connect failed")
		return "", err
	}
	defer func() {
		if err := session.Close(); err != nil {
			c.logger.Debug().Err(err).Str("tool", name).Msg("Failed to close MCP session")
		}
	}()

	return session.Call(ctx, name, args, weight)
}

// Session is one connected MCP client.
type Session struct {
	client MCPClient
	owner  *Client
}

// Call invokes a tool within the budget for weight and returns the first text part.
func (s *Session) Call(ctx context.Context, name string, args map[string]interface{}, weight interfaces.CallWeight) (string, error) {
	budget := s.owner.Budget(weight)

	s.owner.logger.Debug().
		Str("tool", name).
		Str("weight", string(weight)).
		Dur("budget", budget).
		Msg("Calling MCP tool")

	result, err := race(ctx, budget, func(ctx context.Context) (*mcp.CallToolResult, error) {
		req := mcp.CallToolRequest{}
		req.Params.Name = name
		req.Params.Arguments = args
		return s.client.CallTool(ctx, req)
	})
	if err != nil {
		if te, ok := err.(*TimeoutError); ok {
			te.Op = OpCall
			te.Tool = name
			return "", te
		}
		return "", fmt.Errorf("call %s: %w", name, err)
	}

	return extractText(name, result)
}

// Close releases the session's transport
func (s *Session) Close() error {
	return s.client.Close()
}

func extractText(tool string, result *mcp.CallToolResult) (string, error) {
	if result == nil || len(result.Content) == 0 {
		return "", &ResponseError{Tool: tool, Reason: "no content"}
	}

	var text string
	switch tc := result.Content[0].(type) {
	case mcp.TextContent:
		text = tc.Text
	case *mcp.TextContent:
		text = tc.Text
	default:
		return "", &ResponseError{Tool: tool, Reason: fmt.Sprintf("first content part is %T, want text", tc)}
	}

	if result.IsError {
		return "", &ToolError{Tool: tool, Message: text}
	}

	return text, nil
}

// race runs fn with a derived context and returns whichever comes first:
// fn's result, the budget expiring, or ctx being done. On expiry the derived
// context is cancelled and fn's eventual result is dropped.
func race[T any](ctx context.Context, budget time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		v, err := fn(opCtx)
		done <- outcome{value: v, err: err}
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.value, o.err
	case <-timer.C:
		return zero, &TimeoutError{Budget: budget}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
