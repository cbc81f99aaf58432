package function

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voxbridge/pkg/voiceagent"
)

// MCPBackend exposes the tools of one MCP server as agent functions. Tool
// names, descriptions and input schemas become the function catalogue;
// invocations become tool calls.
type MCPBackend struct {
	session *mcpsdk.ClientSession

	mu      sync.RWMutex
	schemas []voiceagent.FunctionSchema
	names   map[string]struct{}
}

var _ Backend = (*MCPBackend)(nil)

// NewMCPBackend connects to the streamable-HTTP MCP server at endpoint and
// loads its tool list.
func NewMCPBackend(ctx context.Context, endpoint string) (*MCPBackend, error) {
	if endpoint == "" {
		return nil, errors.New("function: mcp endpoint is required")
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "voxbridge", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcpsdk.StreamableClientTransport{Endpoint: endpoint}, nil)
	if err != nil {
		return nil, fmt.Errorf("function: mcp connect %q: %w", endpoint, err)
	}
	b, err := NewMCPBackendSession(ctx, session)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	return b, nil
}

// NewMCPBackendSession wraps an established client session. The backend
// takes ownership of session and closes it in [MCPBackend.Close].
func NewMCPBackendSession(ctx context.Context, session *mcpsdk.ClientSession) (*MCPBackend, error) {
	b := &MCPBackend{session: session}
	if err := b.Refresh(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Refresh reloads the tool list from the server.
func (b *MCPBackend) Refresh(ctx context.Context) error {
	var schemas []voiceagent.FunctionSchema
	names := make(map[string]struct{})
	for tool, err := range b.session.Tools(ctx, nil) {
		if err != nil {
			return fmt.Errorf("function: mcp list tools: %w", err)
		}
		schemas = append(schemas, voiceagent.FunctionSchema{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schemaToMap(tool.InputSchema),
		})
		names[tool.Name] = struct{}{}
	}

	b.mu.Lock()
	b.schemas = schemas
	b.names = names
	b.mu.Unlock()
	return nil
}

// Schemas implements [Catalog].
func (b *MCPBackend) Schemas(context.Context) ([]voiceagent.FunctionSchema, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]voiceagent.FunctionSchema, len(b.schemas))
	copy(out, b.schemas)
	return out, nil
}

// Call implements [Handler]. Text content of the tool result is concatenated;
// JSON text is passed through and anything else is wrapped as a JSON string.
// A result flagged as an error is returned as an error.
func (b *MCPBackend) Call(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	b.mu.RLock()
	_, ok := b.names[inv.Name]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, inv.Name)
	}

	args := inv.Arguments
	if args == nil {
		args = map[string]any{}
	}
	res, err := b.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      inv.Name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("function: mcp call %q: %w", inv.Name, err)
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return nil, fmt.Errorf("function: mcp tool %q: %s", inv.Name, sb.String())
	}
	return normalizeResult([]byte(sb.String())), nil
}

// Close implements [Backend].
func (b *MCPBackend) Close() error {
	return b.session.Close()
}

// schemaToMap converts a tool input schema to a plain JSON object.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}
