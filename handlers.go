package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	resourceScheme = "mssql://"

	// maxPreviewRows caps resource reads; execute_sql has no row limit.
	maxPreviewRows = 100

	listTablesQuery = "SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE'"
)

func (s *MCPServer) handleInitialize(params json.RawMessage) (*InitializeResult, *Error) {
	var initParams InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, &Error{
				Code:    InvalidParams,
				Message: "Invalid initialize parameters",
				Data:    err.Error(),
			}
		}
	}

	s.initialized = true

	return &InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools:     &ToolsCapability{},
			Resources: &ResourcesCapability{},
		},
		ServerInfo: ServerInfo{
			Name:    ServerName,
			Version: ServerVersion,
		},
	}, nil
}

func (s *MCPServer) handleListTools() (*ListToolsResult, *Error) {
	return &ListToolsResult{
		Tools: []Tool{
			{
				Name:        "execute_sql",
				Description: "Execute an SQL query on the MSSQL server",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"query": {
							Type:        "string",
							Description: "The SQL query to execute",
						},
					},
					Required: []string{"query"},
				},
			},
			{
				Name:        "list_tables",
				Description: "List all tables in the current database",
				InputSchema: InputSchema{
					Type:       "object",
					Properties: map[string]Property{},
					Required:   []string{},
				},
			},
		},
	}, nil
}

func (s *MCPServer) handleCallTool(params json.RawMessage) (*CallToolResult, *Error) {
	var callParams CallToolParams
	if err := json.Unmarshal(params, &callParams); err != nil {
		return nil, &Error{
			Code:    InvalidParams,
			Message: "Invalid parameters",
			Data:    err.Error(),
		}
	}

	switch callParams.Name {
	case "execute_sql":
		return s.executeSQL(callParams.Arguments)
	case "list_tables":
		return s.listTables()
	default:
		return nil, &Error{
			Code:    MethodNotFound,
			Message: fmt.Sprintf("Unknown tool: %s", callParams.Name),
		}
	}
}

// executeSQL is the execute_sql tool: resolve configuration, obtain a
// connection through the retrying connector, classify the query, execute,
// and render the outcome. Every failure comes back as a message payload;
// no raw driver error escapes to the protocol layer.
func (s *MCPServer) executeSQL(args map[string]any) (*CallToolResult, *Error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, &Error{
			Code:    InvalidParams,
			Message: "Missing or invalid 'query' parameter",
		}
	}

	log := s.log.WithFields(logrus.Fields{
		"request_id": uuid.NewString(),
		"tool":       "execute_sql",
	})

	ctx, cancel := context.WithTimeout(s.ctx, QueryTimeout)
	defer cancel()

	conn, errResult := s.openForRequest(ctx, log)
	if errResult != nil {
		return errResult, nil
	}

	classified := classifyQuery(query)
	log.WithField("query_kind", classified.Kind.String()).Info("Executing query")

	outcome := executeQuery(ctx, conn, classified)
	text, isErr := renderOutcome(outcome)
	if isErr {
		log.WithField("error_kind", outcome.ErrKind.String()).Error(text)
	}

	return &CallToolResult{
		Content: []Content{{Type: "text", Text: text}},
		IsError: isErr,
	}, nil
}

// listTables is the list_tables tool: the catalog's base tables under a
// Tables_in_<database> header.
func (s *MCPServer) listTables() (*CallToolResult, *Error) {
	log := s.log.WithFields(logrus.Fields{
		"request_id": uuid.NewString(),
		"tool":       "list_tables",
	})

	ctx, cancel := context.WithTimeout(s.ctx, QueryTimeout)
	defer cancel()

	cfg, err := LoadConfig(s.getenv)
	if err != nil {
		log.Errorf("Configuration error: %v", err)
		return toolError("Error: " + err.Error()), nil
	}

	conn, errResult := s.openForRequest(ctx, log)
	if errResult != nil {
		return errResult, nil
	}

	outcome := executeQuery(ctx, conn, ClassifiedQuery{
		Kind:       QueryRead,
		Statements: []string{listTablesQuery},
	})
	if outcome.Kind == OutcomeError {
		text, _ := renderOutcome(outcome)
		log.WithField("error_kind", outcome.ErrKind.String()).Error(text)
		return toolError(text), nil
	}

	lines := []string{"Tables_in_" + cfg.Database}
	for _, row := range outcome.Rows {
		if len(row) > 0 {
			lines = append(lines, formatValue(row[0]))
		}
	}

	return &CallToolResult{
		Content: []Content{{Type: "text", Text: strings.Join(lines, "\n")}},
	}, nil
}

// openForRequest resolves live configuration into a descriptor and connects
// with retry. On failure it returns a rendered tool error instead of a
// connection.
func (s *MCPServer) openForRequest(ctx context.Context, log *logrus.Entry) (Conn, *CallToolResult) {
	cfg, err := LoadConfig(s.getenv)
	if err != nil {
		log.Errorf("Configuration error: %v", err)
		return nil, toolError("Error: " + err.Error())
	}

	desc := resolveDescriptor(cfg, s.probe)
	log.WithFields(logrus.Fields{
		"server":  desc.Host,
		"dialect": desc.Dialect.String(),
	}).Debug("Resolved connection descriptor")

	conn, err := s.connector.Connect(ctx, desc)
	if err != nil {
		log.Errorf("Connection failed: %v", err)
		return nil, toolError(fmt.Sprintf("Error: %v", err))
	}
	return conn, nil
}

func toolError(text string) *CallToolResult {
	return &CallToolResult{
		Content: []Content{{Type: "text", Text: text}},
		IsError: true,
	}
}

// renderOutcome converts an execution outcome into the caller-visible text
// and an error flag.
func renderOutcome(o Outcome) (string, bool) {
	switch o.Kind {
	case OutcomeRows:
		return serializeRows(o.Columns, o.Rows), false
	case OutcomeRowsAffected:
		return fmt.Sprintf("Query executed successfully. Rows affected: %d", o.Affected), false
	case OutcomeTransactionCommitted:
		return "Transaction completed successfully", false
	default:
		switch o.ErrKind {
		case ErrPermissionDenied:
			return "Permission denied: " + o.Message, true
		case ErrTransactionFailure:
			return "Transaction error: " + o.Message, true
		default:
			return "Error: " + o.Message, true
		}
	}
}

// handleListResources lists every base table as an addressable resource.
// Failures yield an empty list rather than a protocol error so a broken
// database does not break resource discovery.
func (s *MCPServer) handleListResources() (*ListResourcesResult, *Error) {
	ctx, cancel := context.WithTimeout(s.ctx, QueryTimeout)
	defer cancel()

	log := s.log.WithField("request_id", uuid.NewString())

	conn, errResult := s.openForRequest(ctx, log)
	if errResult != nil {
		return &ListResourcesResult{Resources: []Resource{}}, nil
	}

	outcome := executeQuery(ctx, conn, ClassifiedQuery{
		Kind:       QueryRead,
		Statements: []string{listTablesQuery},
	})
	if outcome.Kind == OutcomeError {
		log.Errorf("Failed to list resources: %s", outcome.Message)
		return &ListResourcesResult{Resources: []Resource{}}, nil
	}

	resources := make([]Resource, 0, len(outcome.Rows))
	for _, row := range outcome.Rows {
		if len(row) == 0 {
			continue
		}
		table := formatValue(row[0])
		resources = append(resources, Resource{
			URI:         resourceScheme + table + "/data",
			Name:        "Table: " + table,
			MimeType:    "text/plain",
			Description: "Data in table: " + table,
		})
	}

	return &ListResourcesResult{Resources: resources}, nil
}

// handleReadResource returns up to 100 rows of the named table. The table
// name is taken verbatim from the URI; it is not quoted or escaped, a
// documented limitation of the resource surface.
func (s *MCPServer) handleReadResource(params json.RawMessage) (*ReadResourceResult, *Error) {
	var readParams ReadResourceParams
	if err := json.Unmarshal(params, &readParams); err != nil {
		return nil, &Error{
			Code:    InvalidParams,
			Message: "Invalid parameters",
			Data:    err.Error(),
		}
	}

	uri := readParams.URI
	if !strings.HasPrefix(uri, resourceScheme) {
		return nil, &Error{
			Code:    InvalidParams,
			Message: fmt.Sprintf("Invalid URI scheme: %s", uri),
		}
	}

	table := strings.Split(strings.TrimPrefix(uri, resourceScheme), "/")[0]
	if table == "" {
		return nil, &Error{
			Code:    InvalidParams,
			Message: "Invalid resource URI: missing table name",
		}
	}

	ctx, cancel := context.WithTimeout(s.ctx, QueryTimeout)
	defer cancel()

	log := s.log.WithFields(logrus.Fields{
		"request_id": uuid.NewString(),
		"resource":   uri,
	})
	log.Info("Reading resource")

	conn, errResult := s.openForRequest(ctx, log)
	if errResult != nil {
		return nil, &Error{
			Code:    InternalError,
			Message: errResult.Content[0].Text,
		}
	}

	outcome := func() Outcome {
		defer conn.Close()
		return executeRead(ctx, conn, fmt.Sprintf("SELECT TOP %d * FROM %s", maxPreviewRows, table), maxPreviewRows)
	}()
	if outcome.Kind == OutcomeError {
		log.Errorf("Database error reading resource: %s", outcome.Message)
		return nil, &Error{
			Code:    InternalError,
			Message: fmt.Sprintf("Database error: %s", outcome.Message),
		}
	}

	return &ReadResourceResult{
		Contents: []ResourceContent{
			{
				URI:      uri,
				MimeType: "text/plain",
				Text:     serializeRows(outcome.Columns, outcome.Rows),
			},
		},
	}, nil
}
