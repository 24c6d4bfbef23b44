package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newTestServer(t *testing.T, env map[string]string) *MCPServer {
	t.Helper()
	s := NewMCPServer(context.Background(), envFrom(env), testLogger())
	t.Cleanup(s.Shutdown)
	return s
}

func TestRenderOutcome(t *testing.T) {
	tests := []struct {
		name     string
		outcome  Outcome
		expected string
		isError  bool
	}{
		{
			name:     "rows",
			outcome:  Outcome{Kind: OutcomeRows, Columns: []string{"id"}, Rows: [][]any{{1}}},
			expected: "id\n1",
		},
		{
			name:     "rows affected",
			outcome:  Outcome{Kind: OutcomeRowsAffected, Affected: 7},
			expected: "Query executed successfully. Rows affected: 7",
		},
		{
			name:     "transaction committed",
			outcome:  Outcome{Kind: OutcomeTransactionCommitted},
			expected: "Transaction completed successfully",
		},
		{
			name:     "permission denied",
			outcome:  Outcome{Kind: OutcomeError, ErrKind: ErrPermissionDenied, Message: "denied"},
			expected: "Permission denied: denied",
			isError:  true,
		},
		{
			name:     "transaction failure",
			outcome:  Outcome{Kind: OutcomeError, ErrKind: ErrTransactionFailure, Message: "mid-block"},
			expected: "Transaction error: mid-block",
			isError:  true,
		},
		{
			name:     "unknown",
			outcome:  Outcome{Kind: OutcomeError, ErrKind: ErrUnknown, Message: "boom"},
			expected: "Error: boom",
			isError:  true,
		},
		{
			name:     "transient surfaces as plain error",
			outcome:  Outcome{Kind: OutcomeError, ErrKind: ErrTransient, Message: "busy (40501)"},
			expected: "Error: busy (40501)",
			isError:  true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			text, isErr := renderOutcome(tc.outcome)
			if text != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, text)
			}
			if isErr != tc.isError {
				t.Errorf("Expected isError=%v, got %v", tc.isError, isErr)
			}
		})
	}
}

func TestExecuteSQL_MissingQueryParameter(t *testing.T) {
	s := newTestServer(t, nil)

	_, rpcErr := s.executeSQL(map[string]any{})
	if rpcErr == nil || rpcErr.Code != InvalidParams {
		t.Errorf("Expected InvalidParams, got %+v", rpcErr)
	}
}

func TestExecuteSQL_MissingConfigurationFailsFast(t *testing.T) {
	// No connection attempt should happen; the combined configuration error
	// comes back as the tool payload.
	s := newTestServer(t, map[string]string{EnvUser: "sa"})

	result, rpcErr := s.executeSQL(map[string]any{"query": "SELECT 1"})
	if rpcErr != nil {
		t.Fatalf("Expected tool-level error, got protocol error: %+v", rpcErr)
	}
	if !result.IsError {
		t.Fatal("Expected IsError result")
	}
	text := result.Content[0].Text
	if !strings.HasPrefix(text, "Error: ") {
		t.Errorf("Expected Error prefix, got %q", text)
	}
	for _, name := range []string{EnvPassword, EnvDatabase} {
		if !strings.Contains(text, name) {
			t.Errorf("Expected %s to be named in %q", name, text)
		}
	}
}

func TestHandleCallTool_UnknownTool(t *testing.T) {
	s := newTestServer(t, nil)

	params, _ := json.Marshal(CallToolParams{Name: "drop_everything"})
	_, rpcErr := s.handleCallTool(params)
	if rpcErr == nil || rpcErr.Code != MethodNotFound {
		t.Errorf("Expected MethodNotFound, got %+v", rpcErr)
	}
}

func TestHandleListTools(t *testing.T) {
	s := newTestServer(t, nil)

	result, rpcErr := s.handleListTools()
	if rpcErr != nil {
		t.Fatalf("Unexpected error: %+v", rpcErr)
	}

	names := make(map[string]bool)
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	if !names["execute_sql"] || !names["list_tables"] {
		t.Errorf("Expected execute_sql and list_tables, got %v", names)
	}
}

func TestHandleReadResource_InvalidScheme(t *testing.T) {
	s := newTestServer(t, nil)

	params, _ := json.Marshal(ReadResourceParams{URI: "postgres://users/data"})
	_, rpcErr := s.handleReadResource(params)
	if rpcErr == nil || rpcErr.Code != InvalidParams {
		t.Errorf("Expected InvalidParams for foreign scheme, got %+v", rpcErr)
	}
}

func TestHandleReadResource_MissingTable(t *testing.T) {
	s := newTestServer(t, nil)

	params, _ := json.Marshal(ReadResourceParams{URI: "mssql:///data"})
	_, rpcErr := s.handleReadResource(params)
	if rpcErr == nil || rpcErr.Code != InvalidParams {
		t.Errorf("Expected InvalidParams for missing table, got %+v", rpcErr)
	}
}

func TestHandleListResources_ConfigFailureYieldsEmptyList(t *testing.T) {
	s := newTestServer(t, nil)

	result, rpcErr := s.handleListResources()
	if rpcErr != nil {
		t.Fatalf("Expected empty list, got protocol error: %+v", rpcErr)
	}
	if len(result.Resources) != 0 {
		t.Errorf("Expected no resources, got %d", len(result.Resources))
	}
}

func TestHandleMessage_ParseError(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.handleMessage([]byte("{not json"))
	if resp.Error == nil || resp.Error.Code != ParseError {
		t.Errorf("Expected ParseError, got %+v", resp.Error)
	}
}

func TestHandleMessage_WrongVersion(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.handleMessage([]byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`))
	if resp.Error == nil || resp.Error.Code != InvalidRequest {
		t.Errorf("Expected InvalidRequest, got %+v", resp.Error)
	}
}
