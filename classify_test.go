package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClassifyQuery_Read(t *testing.T) {
	queries := []string{
		"SELECT 1",
		"select * from users",
		"  SELECT id FROM orders WHERE id = 1",
		"SELECT name -- trailing comment\nFROM users",
	}

	for _, query := range queries {
		t.Run(query, func(t *testing.T) {
			got := classifyQuery(query)
			if got.Kind != QueryRead {
				t.Errorf("Expected QueryRead, got %v", got.Kind)
			}
			if len(got.Statements) != 1 || got.Statements[0] != query {
				t.Errorf("Read must execute the original text, got %q", got.Statements)
			}
		})
	}
}

func TestClassifyQuery_LeadingCommentStillRead(t *testing.T) {
	got := classifyQuery("-- comment\nSELECT 1")
	if got.Kind != QueryRead {
		t.Errorf("Expected QueryRead despite leading comment, got %v", got.Kind)
	}
	if !got.HasLeadingComments {
		t.Error("Expected HasLeadingComments to be set")
	}
	if got.Statements[0] != "-- comment\nSELECT 1" {
		t.Errorf("Original text with comments must be what executes, got %q", got.Statements[0])
	}
}

func TestClassifyQuery_Write(t *testing.T) {
	queries := []string{
		"INSERT INTO users VALUES (1, 'a')",
		"UPDATE users SET name = 'b' WHERE id = 1",
		"DELETE FROM users",
		"CREATE TABLE t (id INT)",
		"-- note\nINSERT INTO users VALUES (2, 'c')",
	}

	for _, query := range queries {
		t.Run(query, func(t *testing.T) {
			got := classifyQuery(query)
			if got.Kind != QueryWrite {
				t.Errorf("Expected QueryWrite, got %v", got.Kind)
			}
		})
	}
}

func TestClassifyQuery_TransactionBlock(t *testing.T) {
	query := "BEGIN TRANSACTION;\nINSERT INTO t VALUES (1);\nINSERT INTO t VALUES (2);\nCOMMIT;"

	got := classifyQuery(query)
	if got.Kind != QueryTransactionBlock {
		t.Fatalf("Expected QueryTransactionBlock, got %v", got.Kind)
	}

	executable := got.ExecutableStatements()
	want := []string{"INSERT INTO t VALUES (1)", "INSERT INTO t VALUES (2)"}
	if diff := cmp.Diff(want, executable); diff != "" {
		t.Errorf("Executable statements mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifyQuery_TransactionBlockCaseInsensitive(t *testing.T) {
	got := classifyQuery("begin transaction; insert into t values (1); commit;")
	if got.Kind != QueryTransactionBlock {
		t.Errorf("Expected QueryTransactionBlock, got %v", got.Kind)
	}
	if n := len(got.ExecutableStatements()); n != 1 {
		t.Errorf("Expected 1 executable statement, got %d", n)
	}
}

func TestClassifyQuery_CommentedTransactionKeywordIgnored(t *testing.T) {
	// BEGIN TRANSACTION appearing only inside a comment must not select
	// the transaction strategy.
	got := classifyQuery("-- BEGIN TRANSACTION\nINSERT INTO t VALUES (1)")
	if got.Kind != QueryWrite {
		t.Errorf("Expected QueryWrite, got %v", got.Kind)
	}
}

func TestStripLineComments(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "full-line comment removed",
			input:    "-- comment\nSELECT 1",
			expected: "\nSELECT 1",
		},
		{
			name:     "trailing comment removed",
			input:    "SELECT 1 -- trailing",
			expected: "SELECT 1 ",
		},
		{
			name:     "no comments unchanged",
			input:    "SELECT 1",
			expected: "SELECT 1",
		},
		{
			name:     "multiple lines",
			input:    "SELECT a, -- first\nb -- second\nFROM t",
			expected: "SELECT a, \nb \nFROM t",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := stripLineComments(tc.input); got != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("BEGIN TRANSACTION;\n INSERT INTO t VALUES (1) ;;\nCOMMIT;")
	want := []string{"BEGIN TRANSACTION", "INSERT INTO t VALUES (1)", "COMMIT"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Statement split mismatch (-want +got):\n%s", diff)
	}
}
