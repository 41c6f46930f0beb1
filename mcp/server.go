package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/sync/errgroup"
)

// maxFrameSize bounds a single newline-delimited request frame.
const maxFrameSize = 1024 * 1024

// ToolHandler executes one tool call. Arguments have already been
// validated against the tool's input schema. The returned value is
// encoded as the tools/call result; a non-nil error is reported to the
// caller as a failed tool call.
type ToolHandler func(ctx context.Context, arguments json.RawMessage) (any, error)

// ToolDefinition declares a tool and binds it to a handler.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     ToolHandler
}

// ServerConfig configures an MCP server.
type ServerConfig struct {
	Info         ServerInfo
	Instructions string
	// Logger receives diagnostics. It must not write to the protocol
	// output. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Server is an MCP server that exposes registered tools over JSON-RPC
// 2.0 on newline-delimited stdio.
type Server struct {
	info         ServerInfo
	instructions string
	logger       *slog.Logger

	mu          sync.RWMutex
	tools       []*registeredTool
	toolsByName map[string]*registeredTool

	initialized atomic.Bool
}

type registeredTool struct {
	def    ToolDefinition
	schema *jsonschema.Schema
}

// NewServer creates a server with no tools registered.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		info:         cfg.Info,
		instructions: cfg.Instructions,
		logger:       logger,
		toolsByName:  map[string]*registeredTool{},
	}
}

// RegisterTool adds a tool. The input schema is compiled once here and
// applied to every tools/call for the tool.
func (s *Server) RegisterTool(def ToolDefinition) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return errors.New("mcp: tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("mcp: tool %q has no handler", name)
	}
	if def.InputSchema == nil {
		def.InputSchema = map[string]any{"type": "object"}
	}

	schema, err := compileSchema(def.InputSchema)
	if err != nil {
		return fmt.Errorf("mcp: tool %q input schema: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.toolsByName[name]; exists {
		return fmt.Errorf("mcp: tool %q already registered", name)
	}
	def.Name = name
	registered := &registeredTool{def: def, schema: schema}
	s.tools = append(s.tools, registered)
	s.toolsByName[name] = registered
	return nil
}

func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// Serve runs the server on os.Stdin and os.Stdout.
func (s *Server) Serve(ctx context.Context) error {
	return s.Run(ctx, os.Stdin, os.Stdout)
}

// Run processes JSON-RPC requests from input and writes responses to
// output until input reaches EOF. Each frame occupies a single line; a
// line longer than maxFrameSize is answered with an invalid-request error
// and skipped. Tool calls run concurrently; Run returns once all of them
// have written their responses.
func (s *Server) Run(ctx context.Context, input io.Reader, output io.Writer) error {
	reader := bufio.NewReaderSize(input, 64*1024)
	out := &frameWriter{encoder: json.NewEncoder(output)}
	group, groupCtx := errgroup.WithContext(ctx)

	for groupCtx.Err() == nil {
		frame, oversized, readErr := readFrame(reader)
		if oversized {
			s.logger.Warn("mcp: discarding oversized frame", "limit_bytes", maxFrameSize)
			if err := out.writeError(leadingID(frame), CodeInvalidRequest,
				fmt.Sprintf("request exceeds %d bytes", maxFrameSize)); err != nil {
				return s.finish(group, err)
			}
		} else if line := bytes.TrimSpace(frame); len(line) > 0 {
			if err := s.handleFrame(groupCtx, group, out, line); err != nil {
				return s.finish(group, err)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			_ = group.Wait()
			return fmt.Errorf("mcp: read request: %w", readErr)
		}
	}

	return group.Wait()
}

// readFrame reads one newline-terminated frame. At most maxFrameSize+1
// bytes are kept; the rest of a longer line is consumed and dropped, and
// oversized reports that this happened.
func readFrame(r *bufio.Reader) (frame []byte, oversized bool, err error) {
	size := 0
	for {
		chunk, readErr := r.ReadSlice('\n')
		size += len(chunk)
		if keep := min(len(chunk), maxFrameSize+1-len(frame)); keep > 0 {
			frame = append(frame, chunk[:keep]...)
		}
		if errors.Is(readErr, bufio.ErrBufferFull) {
			continue
		}
		if readErr == nil {
			size-- // newline
		}
		return frame, size > maxFrameSize, readErr
	}
}

// leadingID recovers the request id from the start of a truncated frame.
// It finds the id only when it appears before the value that was cut off.
func leadingID(prefix []byte) json.RawMessage {
	dec := json.NewDecoder(bytes.NewReader(prefix))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, ok := tok.(string)
		if !ok {
			return nil
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil
		}
		if key == "id" {
			return value
		}
	}
	return nil
}

// handleFrame decodes and answers one request line. Only failures to
// write a response are returned.
func (s *Server) handleFrame(ctx context.Context, group *errgroup.Group, out *frameWriter, line []byte) error {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		s.logger.Warn("mcp: discarding unparsable frame", "error", err)
		return out.writeError(nil, CodeParseError, "parse error: "+err.Error())
	}

	if msg.JSONRPC != jsonRPCVersion {
		if msg.hasID() {
			return out.writeError(msg.ID, CodeInvalidRequest, "unsupported JSON-RPC version")
		}
		return nil
	}

	// Responses from the client and notifications get no reply.
	if msg.Method == "" || msg.IsNotification() {
		if msg.Method != "" {
			s.logger.Debug("mcp: notification", "method", msg.Method)
		}
		return nil
	}

	if msg.Method == "tools/call" && s.initialized.Load() {
		group.Go(func() error {
			return s.handleToolsCall(ctx, out, msg)
		})
		return nil
	}

	return s.dispatch(out, msg)
}

func (s *Server) finish(group *errgroup.Group, err error) error {
	_ = group.Wait()
	return fmt.Errorf("mcp: write response: %w", err)
}

func (s *Server) dispatch(out *frameWriter, msg Message) error {
	s.logger.Debug("mcp: request", "method", msg.Method)

	switch msg.Method {
	case "initialize":
		return s.handleInitialize(out, msg)
	case "ping":
		return out.writeResult(msg.ID, map[string]any{})
	case "tools/list":
		if !s.initialized.Load() {
			return out.writeError(msg.ID, CodeInvalidRequest, "server not initialized (call initialize first)")
		}
		return out.writeResult(msg.ID, ToolsListResult{Tools: s.listTools()})
	case "tools/call":
		return out.writeError(msg.ID, CodeInvalidRequest, "server not initialized (call initialize first)")
	default:
		return out.writeError(msg.ID, CodeMethodNotFound, "unknown method: "+msg.Method)
	}
}

func (s *Server) handleInitialize(out *frameWriter, msg Message) error {
	if len(msg.Params) == 0 {
		return out.writeError(msg.ID, CodeInvalidParams, "params required for initialize")
	}
	var params InitializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return out.writeError(msg.ID, CodeInvalidParams, "invalid initialize params: "+err.Error())
	}

	// The server answers with its own protocol version; the client
	// decides whether it can proceed.
	s.initialized.Store(true)
	s.logger.Info("mcp: client connected",
		"client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
		"protocol_version", params.ProtocolVersion,
	)

	return out.writeResult(msg.ID, InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: map[string]any{
			"tools": map[string]any{},
		},
		ServerInfo:   s.info,
		Instructions: s.instructions,
	})
}

func (s *Server) listTools() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]Tool, 0, len(s.tools))
	for _, t := range s.tools {
		tools = append(tools, Tool{
			Name:        t.def.Name,
			Description: t.def.Description,
			InputSchema: t.def.InputSchema,
		})
	}
	return tools
}

func (s *Server) handleToolsCall(ctx context.Context, out *frameWriter, msg Message) error {
	if len(msg.Params) == 0 {
		return out.writeError(msg.ID, CodeInvalidParams, "params required for tools/call")
	}
	var params ToolsCallParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return out.writeError(msg.ID, CodeInvalidParams, "invalid tools/call params: "+err.Error())
	}

	s.mu.RLock()
	t, ok := s.toolsByName[params.Name]
	s.mu.RUnlock()
	if !ok {
		return out.writeError(msg.ID, CodeInvalidParams, "unknown tool: "+params.Name)
	}

	arguments := params.Arguments
	if trimmed := bytes.TrimSpace(arguments); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		arguments = json.RawMessage("{}")
	}
	if err := validateArguments(t.schema, arguments); err != nil {
		s.logger.Warn("mcp: rejected tool arguments", "tool", params.Name, "error", err)
		return out.writeError(msg.ID, CodeInvalidParams,
			fmt.Sprintf("invalid arguments for tool %s: %v", params.Name, err))
	}

	result, err := t.def.Handler(ctx, arguments)
	if err != nil {
		return out.writeResult(msg.ID, ToolsCallResult{
			Content: []ContentBlock{TextContent(err.Error())},
			IsError: true,
		})
	}
	if result == nil {
		result = ToolsCallResult{Content: []ContentBlock{}}
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("mcp: encoding tool result failed", "tool", params.Name, "error", err)
		return out.writeError(msg.ID, CodeInternalError, "tool result could not be encoded")
	}
	return out.writeResult(msg.ID, json.RawMessage(encoded))
}

func validateArguments(schema *jsonschema.Schema, arguments json.RawMessage) error {
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(arguments))
	if err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return schema.Validate(value)
}

// response is the outgoing JSON-RPC response shape. ID is always
// present; it is null when the request id could not be read.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// frameWriter serializes frames onto the protocol output so that
// concurrent tool calls never interleave bytes.
type frameWriter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func (w *frameWriter) writeResult(id json.RawMessage, result any) error {
	return w.write(response{JSONRPC: jsonRPCVersion, ID: normalizeID(id), Result: result})
}

func (w *frameWriter) writeError(id json.RawMessage, code int, message string) error {
	return w.write(response{
		JSONRPC: jsonRPCVersion,
		ID:      normalizeID(id),
		Error:   &RPCError{Code: code, Message: message},
	})
}

func (w *frameWriter) write(resp response) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.encoder.Encode(resp)
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(id)) == 0 {
		return json.RawMessage("null")
	}
	return id
}
