package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/guillermoBallester/joinest/internal/core/port"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type callState struct {
	start time.Time
	span  trace.Span
}

// joinArgs extracts the relation names of a tool call, if any.
func joinArgs(req *mcp.CallToolRequest) (left, right string) {
	args := req.GetArguments()
	left, _ = args["left_table"].(string)
	right, _ = args["right_table"].(string)
	return left, right
}

func callAttrs(req *mcp.CallToolRequest) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("rpc.method", "tools/call"),
		slog.String("mcp.tool", req.Params.Name),
	}
	if left, right := joinArgs(req); left != "" || right != "" {
		attrs = append(attrs, slog.String("join.left", left), slog.String("join.right", right))
	}
	return attrs
}

// ToolCallHooks creates MCP hooks that log every tool call and, when tracer
// and inst are set, record a span and the call duration.
func ToolCallHooks(logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.Hooks {
	hooks := &server.Hooks{}
	var calls sync.Map // request id -> *callState

	hooks.AddBeforeCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest) {
		state := &callState{start: time.Now()}

		if tracer != nil {
			spanAttrs := []attribute.KeyValue{attribute.String("mcp.tool", req.Params.Name)}
			if left, right := joinArgs(req); left != "" || right != "" {
				spanAttrs = append(spanAttrs,
					attribute.String("join.left", left),
					attribute.String("join.right", right),
				)
			}
			_, span := tracer.Start(ctx, "mcp.tool.call", trace.WithAttributes(spanAttrs...))
			state.span = span
		}

		calls.Store(id, state)
	})

	hooks.AddAfterCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest, result any) {
		state := finish(&calls, id)

		level := slog.LevelInfo
		isErr := false
		if r, ok := result.(*mcp.CallToolResult); ok && r.IsError {
			level = slog.LevelError
			isErr = true
		}

		attrs := append(callAttrs(req),
			slog.Duration("duration", state.elapsed()),
			slog.Bool("error", isErr),
		)
		logger.LogAttrs(ctx, level, "tool call", attrs...)

		if inst != nil {
			inst.RecordToolDuration(ctx, float64(state.elapsed().Milliseconds()))
		}

		if state.span != nil {
			if isErr {
				state.span.SetStatus(codes.Error, "tool returned error")
				state.span.RecordError(fmt.Errorf("tool %s returned error", req.Params.Name))
			}
			state.span.End()
		}
	})

	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		state := finish(&calls, id)

		if req, ok := message.(*mcp.CallToolRequest); ok {
			attrs := append(callAttrs(req),
				slog.Duration("duration", state.elapsed()),
				slog.Bool("error", true),
				slog.String("error.message", err.Error()),
			)
			logger.LogAttrs(ctx, slog.LevelError, "tool call", attrs...)
		}

		if state.span != nil {
			state.span.RecordError(err)
			state.span.SetStatus(codes.Error, err.Error())
			state.span.End()
		}
	})

	return hooks
}

// finish removes the state stored for id. A missing entry yields an empty
// state with no span.
func finish(calls *sync.Map, id any) *callState {
	if v, ok := calls.LoadAndDelete(id); ok {
		return v.(*callState)
	}
	return &callState{}
}

func (s *callState) elapsed() time.Duration {
	if s.start.IsZero() {
		return 0
	}
	return time.Since(s.start)
}
