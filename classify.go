package main

import "strings"

// QueryKind is the execution strategy derived lexically from query text.
type QueryKind int

const (
	// QueryRead is a single SELECT; results are fetched and serialized.
	QueryRead QueryKind = iota
	// QueryWrite is a single non-SELECT statement, executed then committed.
	QueryWrite
	// QueryTransactionBlock is a BEGIN TRANSACTION .. COMMIT script whose
	// statements are executed sequentially inside one transaction.
	QueryTransactionBlock
)

func (k QueryKind) String() string {
	switch k {
	case QueryRead:
		return "read"
	case QueryWrite:
		return "write"
	case QueryTransactionBlock:
		return "transaction_block"
	default:
		return "unknown"
	}
}

const (
	beginMarker  = "BEGIN TRANSACTION"
	commitMarker = "COMMIT"
)

// ClassifiedQuery is the result of classifying one raw query. Statements
// holds the raw text to send for Read/Write, or the `;`-split cleaned
// statements (markers included) for a transaction block.
type ClassifiedQuery struct {
	Kind               QueryKind
	Statements         []string
	HasLeadingComments bool
}

// ExecutableStatements returns the statements that actually get sent to the
// driver: for transaction blocks the BEGIN TRANSACTION and COMMIT markers
// are excluded, since neither is executed as SQL text.
func (q ClassifiedQuery) ExecutableStatements() []string {
	if q.Kind != QueryTransactionBlock {
		return q.Statements
	}
	var out []string
	for _, stmt := range q.Statements {
		if isBeginMarker(stmt) || isCommitMarker(stmt) {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

// classifyQuery decides the execution strategy for a raw query. Detection
// runs on a comment-stripped copy; Read and Write execute the original text
// untouched so any comments the caller wrote reach the server.
func classifyQuery(raw string) ClassifiedQuery {
	cleaned := stripLineComments(raw)
	trimmed := strings.TrimSpace(cleaned)
	upper := strings.ToUpper(trimmed)

	if strings.HasPrefix(upper, "SELECT") {
		return ClassifiedQuery{
			Kind:               QueryRead,
			Statements:         []string{raw},
			HasLeadingComments: hasLeadingComment(raw),
		}
	}

	if strings.Contains(upper, beginMarker) {
		return ClassifiedQuery{
			Kind:               QueryTransactionBlock,
			Statements:         splitStatements(trimmed),
			HasLeadingComments: hasLeadingComment(raw),
		}
	}

	return ClassifiedQuery{
		Kind:               QueryWrite,
		Statements:         []string{raw},
		HasLeadingComments: hasLeadingComment(raw),
	}
}

// stripLineComments removes `--` to end-of-line on every line. Used only
// for detection, never for execution.
func stripLineComments(query string) string {
	lines := strings.Split(query, "\n")
	for i, line := range lines {
		if idx := strings.Index(line, "--"); idx != -1 {
			lines[i] = line[:idx]
		}
	}
	return strings.Join(lines, "\n")
}

// splitStatements splits cleaned text on `;`, trimming whitespace and
// dropping empties.
func splitStatements(cleaned string) []string {
	var out []string
	for _, part := range strings.Split(cleaned, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func hasLeadingComment(raw string) bool {
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		return strings.HasPrefix(trimmed, "--")
	}
	return false
}

func isBeginMarker(stmt string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(stmt)), beginMarker)
}

func isCommitMarker(stmt string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(stmt)), commitMarker)
}
