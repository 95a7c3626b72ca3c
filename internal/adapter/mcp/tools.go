package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/guillermoBallester/joinest/internal/core/domain"
	"github.com/guillermoBallester/joinest/internal/core/port"
	"github.com/guillermoBallester/joinest/internal/core/service"
	"github.com/guillermoBallester/joinest/internal/report"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server metadata
const serverName = "joinest"

// Tool descriptions
const (
	descEstimateJoinSize = "Estimate the number of rows produced by the natural join of two tables " +
		"without executing it. The estimate is derived from the tables' columns, keys, foreign keys and " +
		"distinct-value counts, and the response names which rule produced it: " +
		"case 1 (no shared columns, cartesian product), case 2 (shared columns are a key of the left table), " +
		"case 3 (shared columns are a foreign key between the tables), " +
		"case 4 (exactly one shared non-key column, |r|*|s|/max(V)). " +
		"estimated_size is -1 when no rule applies."

	descCompareJoinSize = "Estimate the natural join of two tables and then execute it to count the real result. " +
		"Returns the estimate, the actual size and the signed estimation error. " +
		"The real join is a full count and can be slow on large tables; prefer estimate_join_size when only the estimate is needed."

	descListTables = "List the tables that can be passed to estimate_join_size and compare_join_size, " +
		"with schema and the planner's row estimate (-1 when the table was never analyzed)."

	descLeftTable  = "Name of the left relation (case-insensitive)"
	descRightTable = "Name of the right relation (case-insensitive)"
	descPlanner    = "Also report the PostgreSQL planner's own row estimate for the join. Defaults to false."
)

// RegisterTools adds the join estimation tools to s. list_tables is skipped
// when tables is nil.
func RegisterTools(s *server.MCPServer, svc *service.ComparisonService, tables port.TableLister, logger *slog.Logger) {
	s.AddTool(
		mcp.NewTool("estimate_join_size",
			mcp.WithDescription(descEstimateJoinSize),
			mcp.WithString("left_table",
				mcp.Required(),
				mcp.Description(descLeftTable),
			),
			mcp.WithString("right_table",
				mcp.Required(),
				mcp.Description(descRightTable),
			),
		),
		estimateHandler(svc, logger),
	)

	s.AddTool(
		mcp.NewTool("compare_join_size",
			mcp.WithDescription(descCompareJoinSize),
			mcp.WithString("left_table",
				mcp.Required(),
				mcp.Description(descLeftTable),
			),
			mcp.WithString("right_table",
				mcp.Required(),
				mcp.Description(descRightTable),
			),
			mcp.WithBoolean("with_planner",
				mcp.Description(descPlanner),
			),
		),
		compareHandler(svc, logger),
	)

	if tables != nil {
		s.AddTool(
			mcp.NewTool("list_tables",
				mcp.WithDescription(descListTables),
			),
			listTablesHandler(tables, logger),
		)
	}
}

func tableArgs(request mcp.CallToolRequest) (left, right string, errResult *mcp.CallToolResult) {
	left, _ = request.GetArguments()["left_table"].(string)
	if left == "" {
		return "", "", mcp.NewToolResultError("left_table is required")
	}
	right, _ = request.GetArguments()["right_table"].(string)
	if right == "" {
		return "", "", mcp.NewToolResultError("right_table is required")
	}
	return left, right, nil
}

func estimateHandler(svc *service.ComparisonService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		left, right, errResult := tableArgs(request)
		if errResult != nil {
			return errResult, nil
		}

		ctx = service.WithSource(ctx, "estimate_join_size")
		cmp, err := svc.Estimate(ctx, left, right)
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "estimate join size")), nil
		}

		return documentResult(cmp)
	}
}

func compareHandler(svc *service.ComparisonService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		left, right, errResult := tableArgs(request)
		if errResult != nil {
			return errResult, nil
		}

		withPlanner, _ := request.GetArguments()["with_planner"].(bool)

		ctx = service.WithSource(ctx, "compare_join_size")
		cmp, err := svc.Compare(ctx, left, right, service.CompareOptions{WithPlanner: withPlanner})
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "compare join size")), nil
		}

		return documentResult(cmp)
	}
}

func listTablesHandler(tables port.TableLister, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		list, err := tables.ListTables(ctx)
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "list tables")), nil
		}

		data, err := json.Marshal(list)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func documentResult(cmp *domain.Comparison) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(report.NewDocument(cmp))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// sanitizeError turns err into a message safe to show a client. Errors about
// the caller's input pass through; anything else is logged and replaced by a
// generic message.
func sanitizeError(logger *slog.Logger, err error, op string) string {
	var unknown *domain.UnknownTableError
	if errors.As(err, &unknown) {
		return unknown.Error()
	}

	for _, passthrough := range []error{
		domain.ErrEmptyQuery,
		domain.ErrNotAllowed,
		domain.ErrMultiStatement,
		domain.ErrParseFailed,
	} {
		if errors.Is(err, passthrough) {
			return passthrough.Error()
		}
	}

	var pgErr *pgconn.PgError
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &pgErr) && pgErr.Code == "57014") {
		return op + ": query timed out"
	}

	logger.Error("tool failed",
		slog.String("operation", op),
		slog.String("error.message", err.Error()),
	)
	return fmt.Sprintf("%s: internal error, check server logs", op)
}
