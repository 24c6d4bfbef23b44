package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// QueryTimeout bounds a single tool invocation end to end, including the
// connection retry loop's backoff.
var QueryTimeout = 120 * time.Second

// MCPServer handles the MCP protocol over stdio. It holds no database
// state: every invocation resolves configuration, opens its own connection,
// and closes it before the response is written, so credential rotation
// takes effect immediately and concurrent invocations share nothing.
type MCPServer struct {
	getenv      func(string) string
	probe       DriverProbe
	connector   *Connector
	log         *logrus.Logger
	initialized bool
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewMCPServer creates a server reading configuration through getenv.
func NewMCPServer(ctx context.Context, getenv func(string) string, log *logrus.Logger) *MCPServer {
	serverCtx, serverCancel := context.WithCancel(ctx)
	return &MCPServer{
		getenv:    getenv,
		probe:     registryProbe{},
		connector: NewConnector(DefaultRetryPolicy(), log),
		log:       log,
		ctx:       serverCtx,
		cancel:    serverCancel,
	}
}

// Run starts the MCP server, reading requests from stdin and writing
// responses to stdout. All logging goes to stderr; stdout carries only
// protocol frames.
func (s *MCPServer) Run() error {
	reader := bufio.NewReader(os.Stdin)

	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		response := s.handleMessage([]byte(line))
		if response != nil {
			responseBytes, err := json.Marshal(response)
			if err != nil {
				s.log.Errorf("Failed to marshal response: %v", err)
				continue
			}
			fmt.Println(string(responseBytes))
		}
	}
}

func (s *MCPServer) handleMessage(data []byte) *JSONRPCResponse {
	var req JSONRPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      nil,
			Error: &Error{
				Code:    ParseError,
				Message: "Parse error",
				Data:    err.Error(),
			},
		}
	}

	if req.JSONRPC != "2.0" {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &Error{
				Code:    InvalidRequest,
				Message: "Invalid JSON-RPC version",
			},
		}
	}

	return s.handleRequest(&req)
}

func (s *MCPServer) handleRequest(req *JSONRPCRequest) *JSONRPCResponse {
	var result any
	var err *Error

	switch req.Method {
	case "initialize":
		result, err = s.handleInitialize(req.Params)
	case "initialized":
		// Notification, no response needed
		return nil
	case "tools/list":
		result, err = s.handleListTools()
	case "tools/call":
		result, err = s.handleCallTool(req.Params)
	case "resources/list":
		result, err = s.handleListResources()
	case "resources/read":
		result, err = s.handleReadResource(req.Params)
	case "ping":
		result = map[string]any{}
	default:
		err = &Error{
			Code:    MethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		}
	}

	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
		Error:   err,
	}
}

// Shutdown gracefully shuts down the server.
func (s *MCPServer) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
}
