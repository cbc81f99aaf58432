package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/voxbridge/internal/function"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/voiceagent"
)

// Function call outcomes recorded in metrics.
const (
	statusOK      = "ok"
	statusError   = "error"
	statusPanic   = "panic"
	statusBadArgs = "bad_arguments"
)

// Responder is the upstream leg as seen by the dispatcher.
type Responder interface {
	WriteJSON(ctx context.Context, v any) error
}

// CallRef identifies the call a batch belongs to.
type CallRef struct {
	CallID   string
	TenantID string
}

// Dispatcher answers function-call batches. Each invocation gets exactly one
// handler attempt and exactly one FunctionCallResponse; handler failures,
// timeouts, panics and malformed results become {"error": "..."} payloads.
//
// Dispatcher holds no per-batch state and is safe for concurrent use. The
// caller is responsible for suppressing keep-alives for the duration of
// [Dispatcher.Dispatch].
type Dispatcher struct {
	handler function.Handler
	timeout time.Duration
	metrics *observe.Metrics
	log     *slog.Logger
}

// NewDispatcher returns a Dispatcher calling h with a per-invocation timeout.
func NewDispatcher(h function.Handler, timeout time.Duration, m *observe.Metrics, log *slog.Logger) *Dispatcher {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{handler: h, timeout: timeout, metrics: m, log: log}
}

// Dispatch answers invs in order and returns the number of responses
// written. It stops at the first write failure, since the upstream leg is
// then gone.
func (d *Dispatcher) Dispatch(ctx context.Context, ref CallRef, invs []voiceagent.FunctionInvocation, out Responder) (int, error) {
	ctx, span := observe.StartSpan(ctx, "call.function_batch")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.id", ref.CallID),
		attribute.Int("function.count", len(invs)),
	)

	for i, inv := range invs {
		id := inv.ID
		if id == "" {
			id = uuid.NewString()
			d.log.Warn("function invocation without id", "function", inv.Name, "generated_id", id)
		}
		payload := d.invoke(ctx, ref, id, inv)

		resp := voiceagent.FunctionCallResponse{
			Type:    voiceagent.TypeFunctionCallResponse,
			ID:      id,
			Name:    inv.Name,
			Content: string(payload),
		}
		if err := out.WriteJSON(ctx, resp); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "write response")
			return i, fmt.Errorf("call: send function response %q: %w", id, err)
		}
	}
	return len(invs), nil
}

// invoke runs one handler call and always returns a JSON payload.
func (d *Dispatcher) invoke(ctx context.Context, ref CallRef, id string, fi voiceagent.FunctionInvocation) (payload json.RawMessage) {
	start := time.Now()
	status := statusOK
	log := d.log.With("function", fi.Name, "function_call_id", id)

	defer func() {
		if r := recover(); r != nil {
			status = statusPanic
			log.Error("function handler panicked", "panic", r)
			payload = function.ErrorPayload(fmt.Errorf("function %s failed", fi.Name))
		}
		d.metrics.RecordFunctionCall(ctx, fi.Name, status, time.Since(start))
	}()

	args, err := voiceagent.DecodeArguments(fi.Arguments)
	if err != nil {
		status = statusBadArgs
		log.Warn("function arguments are not a JSON object", "size", len(fi.Arguments), "err", err)
		return function.ErrorPayload(errors.New("arguments must be a JSON object"))
	}

	callCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	res, err := d.handler.Call(callCtx, function.Invocation{
		CallID:    ref.CallID,
		TenantID:  ref.TenantID,
		ID:        id,
		Name:      fi.Name,
		Arguments: args,
	})
	switch {
	case err != nil:
		status = statusError
		log.Warn("function handler failed", "err", err, "elapsed", time.Since(start))
		return function.ErrorPayload(err)
	case len(res) == 0:
		return json.RawMessage(`{}`)
	case !json.Valid(res):
		status = statusError
		log.Warn("function handler returned malformed output", "size", len(res))
		return function.ErrorPayload(errors.New("malformed function result"))
	}
	log.Debug("function call answered", "elapsed", time.Since(start), "size", len(res))
	return res
}
