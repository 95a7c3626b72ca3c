package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/guillermoBallester/joinest/internal/core/domain"
	"github.com/guillermoBallester/joinest/internal/core/port"
	"github.com/guillermoBallester/joinest/internal/core/service"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// --- stub database ---

type stubTable struct {
	columns  []string
	rows     int64
	keys     [][]string
	distinct map[string]int64
	fks      map[string][]string // target table -> referencing columns
}

// stubDB implements port.Catalog, port.Statistics and port.TableLister from
// declared metadata.
type stubDB struct {
	tables map[string]*stubTable
	err    error
}

func (db *stubDB) lookup(name string) *stubTable {
	return db.tables[strings.ToLower(name)]
}

func (db *stubDB) TableExists(_ context.Context, name string) (bool, error) {
	if db.err != nil {
		return false, db.err
	}
	return db.lookup(name) != nil, nil
}

func (db *stubDB) ColumnsOf(_ context.Context, table string) (domain.AttributeSet, error) {
	return domain.NewAttributeSet(db.lookup(table).columns...), nil
}

func (db *stubDB) ForeignKeysReferencing(_ context.Context, fromTable, toTable string) (domain.AttributeSet, error) {
	return domain.NewAttributeSet(db.lookup(fromTable).fks[strings.ToLower(toTable)]...), nil
}

func (db *stubDB) RowCount(_ context.Context, table string) (int64, error) {
	return db.lookup(table).rows, nil
}

func (db *stubDB) DistinctProjectionCount(_ context.Context, table, column string) (int64, error) {
	return db.lookup(table).distinct[column], nil
}

func (db *stubDB) IsKeyFor(_ context.Context, table string, attrs domain.AttributeSet) (bool, error) {
	if attrs.IsEmpty() {
		return false, nil
	}
	want := strings.Join(attrs.Sorted(), ",")
	for _, key := range db.lookup(table).keys {
		sorted := append([]string(nil), key...)
		sort.Strings(sorted)
		if strings.Join(sorted, ",") == want {
			return true, nil
		}
	}
	return false, nil
}

func (db *stubDB) ListTables(_ context.Context) ([]port.TableInfo, error) {
	if db.err != nil {
		return nil, db.err
	}
	var out []port.TableInfo
	for name, t := range db.tables {
		out = append(out, port.TableInfo{Schema: "public", Name: name, RowEstimate: t.rows})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func universityStub() *stubDB {
	return &stubDB{tables: map[string]*stubTable{
		"instructor": {
			columns:  []string{"id", "name", "dept_name"},
			rows:     100,
			keys:     [][]string{{"id"}},
			distinct: map[string]int64{"dept_name": 10},
		},
		"teaches": {
			columns: []string{"id", "course_id", "semester"},
			rows:    300,
			keys:    [][]string{{"id", "course_id", "semester"}},
			fks:     map[string][]string{"instructor": {"id"}},
		},
		"classroom": {
			columns: []string{"building", "room"},
			rows:    50,
			keys:    [][]string{{"building", "room"}},
		},
		"advisor": {
			columns:  []string{"student_id", "instructor_id"},
			rows:     200,
			distinct: map[string]int64{"student_id": 20},
		},
		"takes": {
			columns:  []string{"student_id", "course_id"},
			rows:     100,
			distinct: map[string]int64{"student_id": 10},
		},
	}}
}

// --- mock JoinProber ---

type mockProber struct {
	actual       int64
	planner      int64
	err          error
	plannerCalls int
}

func (m *mockProber) ActualJoinSize(_ context.Context, _, _ string) (int64, error) {
	return m.actual, m.err
}

func (m *mockProber) PlannerJoinSize(_ context.Context, _, _ string) (int64, error) {
	m.plannerCalls++
	return m.planner, nil
}

// --- recording auditor ---

type recordingAuditor struct {
	mu      sync.Mutex
	entries []port.AuditEntry
}

func (a *recordingAuditor) Record(_ context.Context, e port.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *recordingAuditor) Close() error { return nil }

// --- helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(db *stubDB, prober *mockProber, auditor port.Auditor) *service.ComparisonService {
	logger := discardLogger()
	est := service.NewEstimator(db, db, logger, nil, nil)
	return service.NewComparisonService(est, prober, auditor, logger, nil)
}

func setupServer(db *stubDB, prober *mockProber, auditor port.Auditor) *server.MCPServer {
	if prober == nil {
		prober = &mockProber{}
	}
	if auditor == nil {
		auditor = &recordingAuditor{}
	}
	s := server.NewMCPServer("test", "0.1.0", server.WithToolCapabilities(true))
	RegisterTools(s, newTestService(db, prober, auditor), db, discardLogger())
	return s
}

func callTool(t *testing.T, s *server.MCPServer, toolName string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	session := server.NewInProcessSession("test", nil)
	require.NoError(t, s.RegisterSession(ctx, session))
	sessionCtx := s.WithContext(ctx, session)

	// Initialize session.
	initBytes, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "init", "method": "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "test", "version": "1.0"},
		},
	})
	s.HandleMessage(sessionCtx, initBytes)

	// Call tool.
	reqBytes, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "call-1", "method": "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": args,
		},
	})
	resp := s.HandleMessage(sessionCtx, reqBytes)
	respBytes, _ := json.Marshal(resp)

	var rpc struct {
		Result *mcp.CallToolResult       `json:"result"`
		Error  *struct{ Message string } `json:"error,omitempty"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpc))
	require.Nil(t, rpc.Error, "unexpected RPC error: %v", rpc.Error)
	require.NotNil(t, rpc.Result)
	return rpc.Result
}

func toolText(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return ""
	}
	return tc.Text
}

func decodeDocument(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.False(t, result.IsError, toolText(result))
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &doc))
	return doc
}

// --- estimate_join_size ---

func TestEstimateJoinSize_KeyInLeft(t *testing.T) {
	auditor := &recordingAuditor{}
	s := setupServer(universityStub(), nil, auditor)

	doc := decodeDocument(t, callTool(t, s, "estimate_join_size", map[string]any{
		"left_table": "instructor", "right_table": "teaches",
	}))

	assert.Equal(t, "key_in_left", doc["case"])
	assert.Equal(t, float64(2), doc["case_number"])
	assert.Equal(t, float64(300), doc["estimated_size"])
	assert.Nil(t, doc["actual_size"])
	assert.Nil(t, doc["estimation_error"])

	require.Len(t, auditor.entries, 1)
	assert.Equal(t, "estimate_join_size", auditor.entries[0].Source)
	assert.Equal(t, domain.UnknownSize, auditor.entries[0].ActualSize)
}

func TestEstimateJoinSize_ForeignKey(t *testing.T) {
	s := setupServer(universityStub(), nil, nil)

	doc := decodeDocument(t, callTool(t, s, "estimate_join_size", map[string]any{
		"left_table": "teaches", "right_table": "instructor",
	}))

	assert.Equal(t, "foreign_key_reference", doc["case"])
	assert.Equal(t, float64(300), doc["estimated_size"])
	diag, ok := doc["diagnostic"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "left_references_right", diag["foreign_key"])
}

func TestEstimateJoinSize_SingleNonKeyAttribute(t *testing.T) {
	s := setupServer(universityStub(), nil, nil)

	doc := decodeDocument(t, callTool(t, s, "estimate_join_size", map[string]any{
		"left_table": "takes", "right_table": "advisor",
	}))

	assert.Equal(t, "single_non_key_attribute", doc["case"])
	// min(100*200/10, 100*200/20)
	assert.Equal(t, float64(1000), doc["estimated_size"])
}

func TestEstimateJoinSize_Disjoint(t *testing.T) {
	s := setupServer(universityStub(), nil, nil)

	doc := decodeDocument(t, callTool(t, s, "estimate_join_size", map[string]any{
		"left_table": "INSTRUCTOR", "right_table": "classroom",
	}))

	assert.Equal(t, "disjoint", doc["case"])
	assert.Equal(t, float64(5000), doc["estimated_size"])
}

func TestEstimateJoinSize_MissingArguments(t *testing.T) {
	s := setupServer(universityStub(), nil, nil)

	result := callTool(t, s, "estimate_join_size", map[string]any{"right_table": "teaches"})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "left_table is required")

	result = callTool(t, s, "estimate_join_size", map[string]any{"left_table": "teaches"})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "right_table is required")
}

func TestEstimateJoinSize_UnknownTable(t *testing.T) {
	s := setupServer(universityStub(), nil, nil)

	result := callTool(t, s, "estimate_join_size", map[string]any{
		"left_table": "ghost", "right_table": "teaches",
	})
	assert.True(t, result.IsError)
	assert.Equal(t, `table "ghost" does not exist in this database`, toolText(result))
}

func TestEstimateJoinSize_CatalogError(t *testing.T) {
	db := universityStub()
	db.err = fmt.Errorf("%w: connection refused on 10.0.0.5", domain.ErrCatalogUnavailable)
	s := setupServer(db, nil, nil)

	result := callTool(t, s, "estimate_join_size", map[string]any{
		"left_table": "instructor", "right_table": "teaches",
	})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "internal error")
	assert.NotContains(t, toolText(result), "10.0.0.5")
}

// --- compare_join_size ---

func TestCompareJoinSize_HappyPath(t *testing.T) {
	prober := &mockProber{actual: 290, planner: 310}
	auditor := &recordingAuditor{}
	s := setupServer(universityStub(), prober, auditor)

	doc := decodeDocument(t, callTool(t, s, "compare_join_size", map[string]any{
		"left_table": "teaches", "right_table": "instructor", "with_planner": true,
	}))

	assert.Equal(t, float64(300), doc["estimated_size"])
	assert.Equal(t, float64(290), doc["actual_size"])
	assert.Equal(t, float64(10), doc["estimation_error"])
	assert.Equal(t, float64(310), doc["planner_size"])
	assert.Equal(t, 1, prober.plannerCalls)

	require.Len(t, auditor.entries, 1)
	assert.Equal(t, "compare_join_size", auditor.entries[0].Source)
	assert.Equal(t, int64(290), auditor.entries[0].ActualSize)
}

func TestCompareJoinSize_PlannerOffByDefault(t *testing.T) {
	prober := &mockProber{actual: 300, planner: 310}
	s := setupServer(universityStub(), prober, nil)

	doc := decodeDocument(t, callTool(t, s, "compare_join_size", map[string]any{
		"left_table": "teaches", "right_table": "instructor",
	}))

	assert.Nil(t, doc["planner_size"])
	assert.Equal(t, float64(0), doc["estimation_error"])
	assert.Equal(t, 0, prober.plannerCalls)
}

func TestCompareJoinSize_Timeout(t *testing.T) {
	prober := &mockProber{err: context.DeadlineExceeded}
	s := setupServer(universityStub(), prober, nil)

	result := callTool(t, s, "compare_join_size", map[string]any{
		"left_table": "teaches", "right_table": "instructor",
	})
	assert.True(t, result.IsError)
	assert.Equal(t, "compare join size: query timed out", toolText(result))
}

// --- list_tables ---

func TestListTables_HappyPath(t *testing.T) {
	s := setupServer(universityStub(), nil, nil)

	result := callTool(t, s, "list_tables", nil)
	require.False(t, result.IsError)

	var tables []port.TableInfo
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &tables))
	require.Len(t, tables, 5)
	assert.Equal(t, "advisor", tables[0].Name)
	assert.Equal(t, int64(200), tables[0].RowEstimate)
}

func TestListTables_Error(t *testing.T) {
	db := universityStub()
	db.err = fmt.Errorf("permission denied for pg_class")
	s := setupServer(db, nil, nil)

	result := callTool(t, s, "list_tables", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "list tables: internal error")
}

func TestRegisterTools_WithoutLister(t *testing.T) {
	db := universityStub()
	s := server.NewMCPServer("test", "0.1.0", server.WithToolCapabilities(true))
	RegisterTools(s, newTestService(db, &mockProber{}, &recordingAuditor{}), nil, discardLogger())

	assert.NotNil(t, s.GetTool("estimate_join_size"))
	assert.NotNil(t, s.GetTool("compare_join_size"))
	assert.Nil(t, s.GetTool("list_tables"))
}

// --- hooks ---

func TestNewServer_RecordsToolSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	db := universityStub()

	s := NewServer("0.1.0", newTestService(db, &mockProber{}, &recordingAuditor{}), db,
		discardLogger(), tp.Tracer("test"), port.NoopInstrumentation{})

	callTool(t, s, "estimate_join_size", map[string]any{
		"left_table": "instructor", "right_table": "teaches",
	})

	var toolSpan sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "mcp.tool.call" {
			toolSpan = span
		}
	}
	require.NotNil(t, toolSpan)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range toolSpan.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "estimate_join_size", attrs["mcp.tool"].AsString())
	assert.Equal(t, "instructor", attrs["join.left"].AsString())
	assert.Equal(t, "teaches", attrs["join.right"].AsString())
}

func TestNewServer_ErrorResultMarksSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	db := universityStub()

	s := NewServer("0.1.0", newTestService(db, &mockProber{}, &recordingAuditor{}), db,
		discardLogger(), tp.Tracer("test"), nil)

	result := callTool(t, s, "estimate_join_size", map[string]any{
		"left_table": "ghost", "right_table": "teaches",
	})
	require.True(t, result.IsError)

	var found bool
	for _, span := range recorder.Ended() {
		if span.Name() == "mcp.tool.call" {
			found = true
			assert.Equal(t, "tool returned error", span.Status().Description)
		}
	}
	assert.True(t, found)
}

// --- sanitizeError tests ---

func TestSanitizeError_Passthrough(t *testing.T) {
	logger := discardLogger()

	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"unknown table", fmt.Errorf("wrapped: %w", &domain.UnknownTableError{Tables: []string{"a", "b"}}), `tables "a", "b" do not exist`},
		{"not allowed", fmt.Errorf("rejecting generated statement: %w", domain.ErrNotAllowed), "only SELECT"},
		{"multi statement", domain.ErrMultiStatement, "multiple statements"},
		{"parse error", fmt.Errorf("%w: syntax error", domain.ErrParseFailed), "failed to parse SQL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := sanitizeError(logger, tt.err, "estimate join size")
			assert.Contains(t, msg, tt.contains)
		})
	}
}

func TestSanitizeError_Timeout(t *testing.T) {
	logger := discardLogger()

	msg := sanitizeError(logger, context.DeadlineExceeded, "compare join size")
	assert.Contains(t, msg, "query timed out")

	pgErr := &pgconn.PgError{Code: "57014", Message: "canceling statement due to statement timeout"}
	msg = sanitizeError(logger, fmt.Errorf("measuring actual join size: %w", pgErr), "compare join size")
	assert.Contains(t, msg, "query timed out")
}

func TestSanitizeError_Generic(t *testing.T) {
	logger := discardLogger()

	msg := sanitizeError(logger, fmt.Errorf("unexpected pg error: relation OID 12345"), "estimate join size")
	assert.Contains(t, msg, "internal error")
	assert.Contains(t, msg, "check server logs")
	assert.NotContains(t, msg, "OID")
}
