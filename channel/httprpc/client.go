package httprpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/causalverse/weave/channel"
)

// envelope mirrors tygor's wire format: a successful call wraps its
// payload in {"result": ...}, a failed one in {"error": {...}}.
type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// Client is a hand-written HTTP caller implementing channel.Transport
// against a Server mounted at baseURL, in the style of
// cmd/demo/demo.go's own JSON request handlers (tygor itself only
// generates a TypeScript client, so the Go peer side is authored
// directly against the named-endpoint wire contract).
type Client struct {
	baseURL   string
	http      *http.Client
	channelID string

	events chan json.RawMessage
	state  chan bool

	mu        sync.Mutex
	streaming bool
	cancel    context.CancelFunc
}

// NewClient returns a Client calling the "channel" service mounted at
// baseURL for the given channel id.
func NewClient(baseURL, channelID string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      http.DefaultClient,
		channelID: channelID,
		events:    make(chan json.RawMessage, 64),
		state:     make(chan bool, 4),
	}
}

// Connect marks the transport up and starts consuming the server's
// event_<id> SSE stream in the background.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.streaming {
		c.mu.Unlock()
		return
	}
	streamCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.streaming = true
	c.mu.Unlock()

	c.state <- true
	go c.readEvents(streamCtx)
}

// Disconnect stops the event stream and marks the transport down.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.streaming = false
	c.mu.Unlock()
	c.state <- false
}

func (c *Client) endpointURL(endpoint string) string {
	return fmt.Sprintf("%s/channel/%s", c.baseURL, endpoint)
}

// Call implements channel.Transport.
func (c *Client) Call(ctx context.Context, endpoint string, req, resp interface{}) error {
	c.mu.Lock()
	up := c.streaming
	c.mu.Unlock()
	if !up {
		return channel.ErrDisconnected
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("httprpc client: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(endpoint), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("httprpc client: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("httprpc client: %w", err)
	}
	defer httpResp.Body.Close()

	var env envelope
	if err := json.NewDecoder(httpResp.Body).Decode(&env); err != nil {
		return fmt.Errorf("httprpc client: decode response: %w", err)
	}
	if env.Error != nil {
		return env.Error
	}
	if resp == nil || len(env.Result) == 0 {
		return nil
	}
	return json.Unmarshal(env.Result, resp)
}

// Emit implements channel.Transport by POSTing to emit_<channelID>,
// the server-to-client counterpart of the event_<id> SSE stream.
// While disconnected, the event is dropped.
func (c *Client) Emit(endpoint string, event json.RawMessage) {
	c.mu.Lock()
	up := c.streaming
	c.mu.Unlock()
	if !up {
		return
	}
	go c.Call(context.Background(), "emit_"+c.channelID, event, nil)
}

// Events implements channel.Transport.
func (c *Client) Events() <-chan json.RawMessage { return c.events }

// StateChanges implements channel.Transport.
func (c *Client) StateChanges() <-chan bool { return c.state }

func (c *Client) readEvents(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL("event_"+c.channelID), nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var env envelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			continue
		}
		if env.Error != nil || len(env.Result) == 0 {
			continue
		}
		select {
		case c.events <- env.Result:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return
	}
}
