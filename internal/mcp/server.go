// Package mcp serves the tools over JSON-RPC 2.0 on a stream, one message
// per line.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/account"
	"github.com/brandon/mailsync/internal/tools"
)

// JSON-RPC error codes
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

const protocolVersion = "2024-11-05"

// Server is the JSON-RPC server
type Server struct {
	logger  *logrus.Logger
	tools   *tools.Registry
	version string
}

// NewServer creates a server exposing the tools of manager
func NewServer(manager *account.Manager, logger *logrus.Logger, version string) *Server {
	return &Server{
		logger:  logger,
		tools:   tools.NewRegistry(manager, logger),
		version: version,
	}
}

// Run serves requests read from in until EOF or until ctx is done
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("Starting JSON-RPC server")

	decoder := json.NewDecoder(in)
	encoder := json.NewEncoder(out)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var req map[string]interface{}
		if err := decoder.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				s.logger.WithError(err).Error("Failed to decode request")
				if err := encoder.Encode(errorResponse(nil, codeParseError, err.Error())); err != nil {
					return fmt.Errorf("failed to encode response: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to read request: %w", err)
		}

		resp := s.handleRequest(ctx, req)
		if resp == nil {
			continue
		}
		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("failed to encode response: %w", err)
		}
	}
}

// handleRequest answers one request. Notifications, which carry no id, get
// no response.
func (s *Server) handleRequest(ctx context.Context, req map[string]interface{}) map[string]interface{} {
	method, _ := req["method"].(string)
	id, hasID := req["id"]

	log := s.logger.WithField("method", method)
	log.Debug("Handling request")

	if !hasID {
		return nil
	}

	switch method {
	case "initialize":
		return resultResponse(id, map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "mailsync",
				"version": s.version,
			},
		})

	case "ping":
		return resultResponse(id, map[string]interface{}{})

	case "tools/list":
		return resultResponse(id, map[string]interface{}{
			"tools": s.tools.GetToolDefinitions(),
		})

	case "tools/call":
		params, _ := req["params"].(map[string]interface{})
		toolName, _ := params["name"].(string)
		arguments, _ := params["arguments"].(map[string]interface{})
		if arguments == nil {
			arguments = map[string]interface{}{}
		}

		tool, exists := s.tools.GetTool(toolName)
		if !exists {
			return errorResponse(id, codeMethodNotFound, fmt.Sprintf("Tool not found: %s", toolName))
		}

		result, err := tool.Execute(ctx, arguments)
		if err != nil {
			log.WithError(err).WithField("tool", toolName).Warn("Tool failed")
			return errorResponse(id, codeInternalError, err.Error())
		}

		resultJSON, err := json.Marshal(result)
		if err != nil {
			return errorResponse(id, codeInternalError, fmt.Sprintf("failed to encode result: %v", err))
		}

		return resultResponse(id, map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": string(resultJSON),
				},
			},
		})

	default:
		return errorResponse(id, codeMethodNotFound, fmt.Sprintf("Method not found: %s", method))
	}
}

func resultResponse(id interface{}, result interface{}) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}
}

func errorResponse(id interface{}, code int, message string) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	}
}
