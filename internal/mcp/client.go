// Package mcp connects to Model Context Protocol servers over the SSE
// transport and exposes their tools as integration skills.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned to callers waiting on a reply when the client shuts down.
var ErrClosed = errors.New("mcp client closed")

const defaultCallTimeout = 30 * time.Second

// Tool describes a tool advertised by a server's tools/list reply.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

type rpcReply struct {
	result json.RawMessage
	err    error
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Client speaks JSON-RPC to one MCP server. Requests are POSTed to the
// endpoint announced on the event stream and replies arrive on that stream.
type Client struct {
	name    string
	sseURL  string
	rpcURL  string
	http    *http.Client
	timeout time.Duration
	logger  *zap.Logger

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan rpcReply
	tools   []Tool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. The client must not set a
// total timeout, since the event stream stays open for the client's lifetime.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCallTimeout bounds how long a single request waits for its reply.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates a client for the server's SSE endpoint. Connect must be
// called before any tool is listed or called.
func NewClient(name, sseURL string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		name:    name,
		sseURL:  sseURL,
		http:    &http.Client{},
		timeout: defaultCallTimeout,
		logger:  logger,
		pending: make(map[int64]chan rpcReply),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.name }

// Tools returns the tools discovered during Connect.
func (c *Client) Tools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tool(nil), c.tools...)
}

// Connect opens the event stream, waits for the endpoint announcement,
// performs the initialize handshake and lists the server's tools.
func (c *Client) Connect(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.sseURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("mcp %s: %w", c.name, err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("mcp %s: open stream: %w", c.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("mcp %s: stream status %d", c.name, resp.StatusCode)
	}

	endpoint := make(chan string, 1)
	c.cancel = cancel
	go c.readStream(resp.Body, endpoint)

	select {
	case ep, ok := <-endpoint:
		if !ok {
			c.Close()
			return fmt.Errorf("mcp %s: stream ended before endpoint event", c.name)
		}
		rpcURL, err := c.resolve(ep)
		if err != nil {
			c.Close()
			return fmt.Errorf("mcp %s: endpoint: %w", c.name, err)
		}
		c.rpcURL = rpcURL
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}
	c.logger.Debug("mcp endpoint announced", zap.String("server", c.name), zap.String("rpc", c.rpcURL))

	if _, err := c.call(ctx, "initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]interface{}{},
		"clientInfo":      map[string]string{"name": "skillchat", "version": "1.0"},
	}); err != nil {
		c.Close()
		return fmt.Errorf("mcp %s: initialize: %w", c.name, err)
	}
	if err := c.notify(ctx, "notifications/initialized"); err != nil {
		c.logger.Warn("mcp initialized notification failed", zap.String("server", c.name), zap.Error(err))
	}

	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		c.Close()
		return fmt.Errorf("mcp %s: tools/list: %w", c.name, err)
	}
	var list struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		c.Close()
		return fmt.Errorf("mcp %s: decode tools/list: %w", c.name, err)
	}
	c.mu.Lock()
	c.tools = list.Tools
	c.mu.Unlock()

	c.logger.Info("mcp server connected", zap.String("server", c.name), zap.Int("tools", len(list.Tools)))
	return nil
}

// resolve turns the announced endpoint into an absolute URL relative to the
// stream URL.
func (c *Client) resolve(endpoint string) (string, error) {
	base, err := url.Parse(c.sseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// readStream consumes the event stream until it closes. The first endpoint
// event is handed to Connect; message events are routed to pending calls.
func (c *Client) readStream(body io.ReadCloser, endpoint chan<- string) {
	defer close(c.done)
	defer body.Close()

	announced := false
	defer func() {
		if !announced {
			close(endpoint)
		}
		c.failPending(ErrClosed)
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var event string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			payload := strings.Join(data, "\n")
			switch {
			case event == "endpoint" && !announced:
				endpoint <- payload
				announced = true
			case event == "" || event == "message":
				if payload != "" {
					c.deliver([]byte(payload))
				}
			}
			event, data = "", nil
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

func (c *Client) deliver(payload []byte) {
	var msg struct {
		ID     *int64          `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil || msg.ID == nil {
		c.logger.Debug("mcp ignoring stream message", zap.String("server", c.name))
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[*msg.ID]
	delete(c.pending, *msg.ID)
	c.mu.Unlock()
	if !ok {
		return
	}
	if msg.Error != nil {
		ch <- rpcReply{err: fmt.Errorf("rpc error %d: %s", msg.Error.Code, msg.Error.Message)}
		return
	}
	ch <- rpcReply{result: msg.Result}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- rpcReply{err: err}
		delete(c.pending, id)
	}
}

func (c *Client) post(ctx context.Context, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("rpc post status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) notify(ctx context.Context, method string) error {
	return c.post(ctx, map[string]string{"jsonrpc": "2.0", "method": method})
}

// call sends one request and waits for the matching reply on the stream.
func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan rpcReply, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	select {
	case <-c.done:
		forget()
		return nil, ErrClosed
	default:
	}

	req := map[string]interface{}{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		req["params"] = params
	}
	if err := c.post(ctx, req); err != nil {
		forget()
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-timer.C:
		forget()
		return nil, fmt.Errorf("%s timed out after %s", method, c.timeout)
	}
}

// CallTool invokes a tool and returns its text content. Text blocks are
// joined by newlines; a result flagged isError is returned as an error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	raw, err := c.call(ctx, "tools/call", map[string]interface{}{"name": name, "arguments": args})
	if err != nil {
		return "", fmt.Errorf("mcp %s/%s: %w", c.name, name, err)
	}

	var res struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return string(raw), nil
	}
	var parts []string
	for _, block := range res.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if res.IsError {
		return "", fmt.Errorf("mcp %s/%s: %s", c.name, name, text)
	}
	if len(parts) == 0 {
		return string(raw), nil
	}
	return text, nil
}

// Close stops the event stream. Calls still waiting fail with ErrClosed.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}
