package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/augmentedstartups/visioncraft-mcp/bridge"
	"github.com/augmentedstartups/visioncraft-mcp/mcp"
)

const (
	// VisionQueryName is the tool name exposed over MCP.
	VisionQueryName = "vision-query"

	visionQueryDescription = "Query the VisionCraft knowledge base for information about AI topics."
	queryFieldDescription  = "The query to search for in the VisionCraft knowledge base."

	// errorCodeInvocationFailed is reported for failures that carry no bridge code.
	errorCodeInvocationFailed = "INVOCATION_FAILED"
)

// Resolver turns a query into a tool result.
type Resolver interface {
	Resolve(ctx context.Context, query string) (bridge.ToolResult, error)
}

// VisionQueryInput is the decoded argument object of vision-query.
type VisionQueryInput struct {
	Query string `json:"query"`
}

// VisionQueryConfig configures the vision-query tool.
type VisionQueryConfig struct {
	Resolver Resolver
	// Observer is notified after every invocation. Optional.
	Observer Observer
	// Logger receives diagnostics. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// VisionQuerySchema returns the JSON Schema of the tool input.
func VisionQuerySchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": queryFieldDescription,
			},
		},
		"required": []string{"query"},
	}
}

// NewVisionQuery builds the vision-query tool definition.
func NewVisionQuery(cfg VisionQueryConfig) (mcp.ToolDefinition, error) {
	if cfg.Resolver == nil {
		return mcp.ToolDefinition{}, errors.New("tool: vision-query resolver is nil")
	}
	h := &visionQuery{
		resolver: cfg.Resolver,
		observer: cfg.Observer,
		logger:   cfg.Logger,
	}
	if h.observer == nil {
		h.observer = noopObserver{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}

	return mcp.ToolDefinition{
		Name:        VisionQueryName,
		Description: visionQueryDescription,
		InputSchema: VisionQuerySchema(),
		Handler:     h.handle,
	}, nil
}

// RegisterVisionQuery adds the vision-query tool to server.
func RegisterVisionQuery(server *mcp.Server, cfg VisionQueryConfig) error {
	if server == nil {
		return errors.New("tool: mcp server is nil")
	}
	def, err := NewVisionQuery(cfg)
	if err != nil {
		return err
	}
	return server.RegisterTool(def)
}

type visionQuery struct {
	resolver Resolver
	observer Observer
	logger   *slog.Logger
}

func (h *visionQuery) handle(ctx context.Context, arguments json.RawMessage) (any, error) {
	invocationID := uuid.NewString()
	logger := h.logger.With("tool", VisionQueryName, "invocation_id", invocationID)

	var input VisionQueryInput
	if err := json.Unmarshal(arguments, &input); err != nil {
		logger.Error("decoding tool arguments failed", "error", err)
		return nil, fmt.Errorf("tool: decode %s arguments: %w", VisionQueryName, err)
	}

	logger.Info("handling vision-query", "query", input.Query)
	start := time.Now()
	result, err := h.resolver.Resolve(ctx, input.Query)
	observation := InvokeObservation{
		ToolName:     VisionQueryName,
		InvocationID: invocationID,
		DurationMS:   time.Since(start).Milliseconds(),
		Success:      err == nil,
	}
	if err != nil {
		observation.ErrorCode = bridge.ErrorCode(err)
		if observation.ErrorCode == "" {
			observation.ErrorCode = errorCodeInvocationFailed
		}
		h.observer.ObserveInvoke(observation)
		logger.Error("tool handler error", "error", err, "error_code", observation.ErrorCode)
		return nil, err
	}

	observation.ResultCount = len(result.Results)
	h.observer.ObserveInvoke(observation)
	logger.Info("handled vision-query", "query", input.Query, "results", len(result.Results))
	logger.Debug("returning result", "duration_ms", observation.DurationMS)
	return result, nil
}
