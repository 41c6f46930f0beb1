// Package bridge forwards knowledge-base queries to the remote
// VisionCraft RAG endpoint and reshapes its answers into MCP tool
// results.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/augmentedstartups/visioncraft-mcp/mcp"
)

const (
	// DefaultEndpoint is the production RAG query endpoint.
	DefaultEndpoint = "https://visioncraft.augmentedstartups.com/rag-query"
	// DefaultTopK is the number of results requested per query.
	DefaultTopK = 5
	// APIKeyHeader carries the configured credentials.
	APIKeyHeader = "X-VC-API-Key"
	// UnknownSource replaces a missing or empty result source.
	UnknownSource = "Unknown"
)

// Config configures a Bridge. It is read once by New; later changes
// have no effect.
type Config struct {
	// Endpoint defaults to DefaultEndpoint.
	Endpoint string
	// APIKey is sent verbatim in the X-VC-API-Key header when set.
	APIKey string
	// TopK defaults to DefaultTopK.
	TopK int
	// Client defaults to a shared client without an overall timeout.
	Client *http.Client
	// SessionIDs generates the per-request session id. Defaults to NewSessionID.
	SessionIDs func() string
	// Logger receives diagnostics. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// RemoteResult is one retrieved item, in the endpoint's relevance order.
type RemoteResult struct {
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

// ToolResult is the tools/call payload: one text content block per
// result, plus the structured results themselves.
type ToolResult struct {
	Results []RemoteResult     `json:"results"`
	Content []mcp.ContentBlock `json:"content"`
}

// Bridge resolves queries against the remote endpoint. It is safe for
// concurrent use; every call owns its request and response.
type Bridge struct {
	endpoint   string
	apiKey     string
	topK       int
	client     *http.Client
	sessionIDs func() string
	logger     *slog.Logger
}

// New creates a Bridge from cfg.
func New(cfg Config) *Bridge {
	b := &Bridge{
		endpoint:   strings.TrimSpace(cfg.Endpoint),
		apiKey:     cfg.APIKey,
		topK:       cfg.TopK,
		client:     cfg.Client,
		sessionIDs: cfg.SessionIDs,
		logger:     cfg.Logger,
	}
	if b.endpoint == "" {
		b.endpoint = DefaultEndpoint
	}
	if b.topK <= 0 {
		b.topK = DefaultTopK
	}
	if b.client == nil {
		b.client = sharedHTTPClient
	}
	if b.sessionIDs == nil {
		b.sessionIDs = NewSessionID
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Endpoint returns the URL queries are sent to.
func (b *Bridge) Endpoint() string {
	return b.endpoint
}

type searchRequest struct {
	Query     string `json:"query"`
	TopK      int    `json:"top_k"`
	SessionID string `json:"session_id,omitempty"`
}

type searchResponse struct {
	Results json.RawMessage `json:"results"`
	Status  string          `json:"status,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

type remoteItem struct {
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source *string `json:"source"`
}

// Resolve sends query to the endpoint exactly once and maps the answer.
// Failures are returned as *TransportError, *RemoteStatusError,
// *RemoteLogicError or *DecodeError; no partial result is ever returned.
func (b *Bridge) Resolve(ctx context.Context, query string) (ToolResult, error) {
	if b == nil {
		return ToolResult{}, errors.New("bridge: bridge is nil")
	}

	sessionID := b.sessionIDs()
	logger := b.logger.With("session_id", sessionID)
	logger.Info("querying knowledge base", "query", query)

	body, err := json.Marshal(searchRequest{
		Query:     query,
		TopK:      b.topK,
		SessionID: sessionID,
	})
	if err != nil {
		return ToolResult{}, fmt.Errorf("bridge: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return ToolResult{}, fmt.Errorf("bridge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if b.apiKey != "" {
		req.Header.Set(APIKeyHeader, b.apiKey)
	} else {
		logger.Warn("no API key configured; sending unauthenticated request")
	}

	logger.Debug("sending request", "endpoint", b.endpoint)
	resp, err := b.client.Do(req)
	if err != nil {
		logger.Error("knowledge base request failed", "error", err)
		return ToolResult{}, &TransportError{Endpoint: b.endpoint, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("reading knowledge base response failed", "error", err)
		return ToolResult{}, &TransportError{Endpoint: b.endpoint, Err: err}
	}
	logger.Debug("received response", "status", resp.StatusCode, "bytes", len(respBody))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		text := strings.TrimSpace(string(respBody))
		if text == "" {
			text = http.StatusText(resp.StatusCode)
		}
		logger.Error("knowledge base returned error status", "status", resp.StatusCode, "body", text)
		return ToolResult{}, &RemoteStatusError{StatusCode: resp.StatusCode, Body: text}
	}

	result, err := decodeSearchResponse(respBody)
	if err != nil {
		logger.Error("knowledge base response rejected", "error", err)
		return ToolResult{}, err
	}

	logger.Info("retrieved results", "count", len(result.Results))
	logger.Debug("mapped results", "results", result.Results)
	return result, nil
}

func decodeSearchResponse(raw []byte) (ToolResult, error) {
	var payload searchResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ToolResult{}, &DecodeError{Err: err}
	}
	if payload.Status == "error" {
		return ToolResult{}, &RemoteLogicError{Message: remoteMessage(payload.Message)}
	}

	trimmed := bytes.TrimSpace(payload.Results)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ToolResult{}, &DecodeError{Err: errors.New("response has no results")}
	}
	var items []remoteItem
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return ToolResult{}, &DecodeError{Err: fmt.Errorf("results: %w", err)}
	}

	return mapResults(items), nil
}

// remoteMessage unquotes a JSON string message; any other JSON value is
// kept as its raw text.
func remoteMessage(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return text
	}
	return string(trimmed)
}

// mapResults converts items one-to-one, preserving order.
func mapResults(items []remoteItem) ToolResult {
	out := ToolResult{
		Results: make([]RemoteResult, 0, len(items)),
		Content: make([]mcp.ContentBlock, 0, len(items)),
	}
	for _, item := range items {
		source := UnknownSource
		if item.Source != nil && *item.Source != "" {
			source = *item.Source
		}
		out.Results = append(out.Results, RemoteResult{
			Text:   item.Text,
			Score:  item.Score,
			Source: source,
		})
		out.Content = append(out.Content, mcp.TextContent(item.Text))
	}
	return out
}
