package mcp

import (
	"log/slog"

	"github.com/guillermoBallester/joinest/internal/core/port"
	"github.com/guillermoBallester/joinest/internal/core/service"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
)

// NewServer creates an MCPServer exposing join estimation tools with logging
// and tracing hooks. tables may be nil, in which case list_tables is not
// registered.
func NewServer(version string, svc *service.ComparisonService, tables port.TableLister, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(ToolCallHooks(logger, tracer, inst)),
	)

	RegisterTools(s, svc, tables, logger)

	return s
}
