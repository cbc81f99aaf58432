// Package function is the boundary between a call session and the business
// logic behind the agent's function calls.
//
// A [Handler] maps a function name and its arguments to a JSON result. The
// session treats it as opaque: one attempt per invocation, and any failure is
// turned into an {"error": "..."} payload by [ErrorPayload] rather than
// propagated. A [Catalog] supplies the function schemas advertised to the
// agent in its Settings message.
//
// Two remote backends are provided: [HTTPBackend] posts each invocation to a
// REST endpoint, and [MCPBackend] forwards it as an MCP tool call. Both
// implement [Backend].
package function

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/MrWong99/voxbridge/internal/tenant"
	"github.com/MrWong99/voxbridge/pkg/voiceagent"
)

// ErrUnknownFunction is returned when an invocation names a function the
// backend does not provide.
var ErrUnknownFunction = errors.New("function: unknown function")

// Invocation is one function call requested by the agent.
type Invocation struct {
	// CallID and TenantID identify the call the invocation belongs to.
	CallID   string
	TenantID string

	// ID is the agent's correlation token, echoed in the response.
	ID string

	Name      string
	Arguments map[string]any
}

// Handler executes function invocations. Implementations must be safe for
// concurrent use; a single call session invokes them sequentially.
type Handler interface {
	Call(ctx context.Context, inv Invocation) (json.RawMessage, error)
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(ctx context.Context, inv Invocation) (json.RawMessage, error)

// Call implements [Handler].
func (f HandlerFunc) Call(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	return f(ctx, inv)
}

// Catalog lists the functions the agent may call.
type Catalog interface {
	Schemas(ctx context.Context) ([]voiceagent.FunctionSchema, error)
}

// Backend is a function provider: it both advertises and executes functions.
type Backend interface {
	Handler
	Catalog
	Close() error
}

// StaticCatalog is a fixed list of schemas, typically from configuration.
type StaticCatalog []voiceagent.FunctionSchema

// Schemas implements [Catalog].
func (c StaticCatalog) Schemas(context.Context) ([]voiceagent.FunctionSchema, error) {
	out := make([]voiceagent.FunctionSchema, len(c))
	copy(out, c)
	return out, nil
}

// ForProfile returns the schemas the tenant is allowed to use, in catalogue
// order.
func ForProfile(schemas []voiceagent.FunctionSchema, p tenant.Profile) []voiceagent.FunctionSchema {
	out := make([]voiceagent.FunctionSchema, 0, len(schemas))
	for _, s := range schemas {
		if p.Allows(s.Name) {
			out = append(out, s)
		}
	}
	return out
}

// ErrorPayload renders err as the {"error": "..."} result sent to the agent
// in place of a handler result.
func ErrorPayload(err error) json.RawMessage {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	data, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{msg})
	return data
}

// normalizeResult returns data if it is valid JSON and otherwise encodes it
// as a JSON string. An empty result becomes an empty object.
func normalizeResult(data []byte) json.RawMessage {
	if len(data) == 0 {
		return json.RawMessage(`{}`)
	}
	if json.Valid(data) {
		return json.RawMessage(data)
	}
	s, _ := json.Marshal(string(data))
	return s
}
