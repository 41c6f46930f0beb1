package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
)

// Transport moves JSON-RPC frames between a client and one server.
type Transport interface {
	Send(ctx context.Context, message Message) error
	Receive(ctx context.Context) (Message, error)
	Close(ctx context.Context) error
}

// Options sets what the client announces in the initialize handshake.
// Empty fields fall back to ProtocolVersion and a visioncraft-mcp
// client identity.
type Options struct {
	ProtocolVersion string
	ClientInfo      ClientInfo
	Capabilities    map[string]any
}

// Client drives one MCP session over a Transport. Requests are
// serialized: a request holds the line until its response arrives.
type Client struct {
	transport Transport
	opts      Options
	lastID    atomic.Int64

	inflight sync.Mutex

	sessionMu sync.Mutex
	session   *InitializeResult
}

// NewClient wraps transport. No frames are sent until the first call.
func NewClient(transport Transport, opts Options) *Client {
	if opts.ProtocolVersion == "" {
		opts.ProtocolVersion = ProtocolVersion
	}
	if opts.ClientInfo.Name == "" {
		opts.ClientInfo.Name = "visioncraft-mcp"
	}
	if opts.ClientInfo.Version == "" {
		opts.ClientInfo.Version = "dev"
	}
	return &Client{transport: transport, opts: opts}
}

// Initialize runs the handshake once and remembers the server's answer.
// Later calls return that answer without touching the transport.
func (c *Client) Initialize(ctx context.Context) (InitializeResult, error) {
	if c == nil {
		return InitializeResult{}, errors.New("mcp: client is nil")
	}
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.session != nil {
		return *c.session, nil
	}

	result, err := request[InitializeResult](ctx, c, "initialize", InitializeParams{
		ProtocolVersion: c.opts.ProtocolVersion,
		Capabilities:    maps.Clone(c.opts.Capabilities),
		ClientInfo:      c.opts.ClientInfo,
	})
	if err != nil {
		return InitializeResult{}, err
	}
	if err := c.announce(ctx, "notifications/initialized"); err != nil {
		return InitializeResult{}, err
	}
	c.session = &result
	return result, nil
}

// Ping round-trips an empty request.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.roundTrip(ctx, "ping", struct{}{})
	return err
}

// ListTools fetches the server's tool catalogue.
func (c *Client) ListTools(ctx context.Context) (ToolsListResult, error) {
	return request[ToolsListResult](ctx, c, "tools/list", struct{}{})
}

// CallTool invokes name with arguments. A tool-level failure is not an
// error here; it comes back as a result with IsError set. Raw holds the
// full result so callers can read fields beyond content.
func (c *Client) CallTool(ctx context.Context, name string, arguments any) (ToolsCallResult, error) {
	args, err := encodeParams(arguments)
	if err != nil {
		return ToolsCallResult{}, &RequestError{Method: "tools/call", Err: err}
	}
	raw, err := c.roundTrip(ctx, "tools/call", ToolsCallParams{Name: name, Arguments: args})
	if err != nil {
		return ToolsCallResult{}, err
	}

	var result ToolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ToolsCallResult{}, &RequestError{Method: "tools/call", Err: fmt.Errorf("decode result: %w", err)}
	}
	result.Raw = raw
	return result, nil
}

// Close ends the session by closing the transport. For a stdio server
// that closes its stdin, which is its cue to exit.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.transport == nil {
		return nil
	}
	return c.transport.Close(ctx)
}

// request performs a round trip and decodes the result into T. An empty
// result leaves T at its zero value.
func request[T any](ctx context.Context, c *Client, method string, params any) (T, error) {
	var out T
	raw, err := c.roundTrip(ctx, method, params)
	if err != nil || len(raw) == 0 {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &RequestError{Method: method, Err: fmt.Errorf("decode result: %w", err)}
	}
	return out, nil
}

func (c *Client) roundTrip(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c == nil || c.transport == nil {
		return nil, &RequestError{Method: method, Err: errors.New("transport is nil")}
	}
	body, err := encodeParams(params)
	if err != nil {
		return nil, &RequestError{Method: method, Err: err}
	}
	id := NumericID(c.lastID.Add(1))

	c.inflight.Lock()
	defer c.inflight.Unlock()

	err = c.transport.Send(ctx, Message{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: body})
	if err != nil {
		return nil, &RequestError{Method: method, Err: err}
	}
	result, err := c.awaitResponse(ctx, id)
	if err != nil {
		return nil, &RequestError{Method: method, Err: err}
	}
	return result, nil
}

// awaitResponse reads frames until the response for id arrives. Server
// requests, notifications and responses to other ids are dropped.
func (c *Client) awaitResponse(ctx context.Context, id json.RawMessage) (json.RawMessage, error) {
	for {
		msg, err := c.transport.Receive(ctx)
		if err != nil {
			return nil, err
		}
		switch {
		case msg.JSONRPC != "" && msg.JSONRPC != jsonRPCVersion:
			return nil, fmt.Errorf("unsupported jsonrpc version %q", msg.JSONRPC)
		case msg.Method != "" || !sameID(msg.ID, id):
			continue
		case msg.Error != nil:
			return nil, msg.Error
		default:
			return msg.Result, nil
		}
	}
}

func (c *Client) announce(ctx context.Context, method string) error {
	if err := c.transport.Send(ctx, Message{JSONRPC: jsonRPCVersion, Method: method}); err != nil {
		return &RequestError{Method: method, Err: err}
	}
	return nil
}

func encodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return data, nil
}
