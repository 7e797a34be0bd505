// Package server exposes the relay as MCP tools over streamable HTTP.
//
// Two tools are registered:
//
//	submit_payment       submit a signed permit for execution
//	get_payment_status   look up a request by id
//
// Both forward to a facilitator.Interface, so the server can front either
// a local executor or a remote relay reached through the HTTP client.
package server

import (
	"context"
	"fmt"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/mark3labs/permit-relay/auth"
	"github.com/mark3labs/permit-relay/facilitator"
)

// Server wraps an MCP server whose tools drive a relay.
type Server struct {
	mcpServer *mcpserver.MCPServer
	relay     facilitator.Interface
	config    *Config
}

// NewServer creates an MCP server with the relay tools registered.
func NewServer(relay facilitator.Interface, config *Config) (*Server, error) {
	if relay == nil {
		return nil, fmt.Errorf("mcp server: relay is required")
	}
	if config == nil {
		config = DefaultConfig()
	}

	s := &Server{
		mcpServer: mcpserver.NewMCPServer(config.Name, config.Version,
			mcpserver.WithToolCapabilities(false),
		),
		relay:  relay,
		config: config,
	}

	s.mcpServer.AddTool(submitPaymentTool(), s.handleSubmitPayment)
	s.mcpServer.AddTool(paymentStatusTool(), s.handlePaymentStatus)
	return s, nil
}

// Handler returns the streamable HTTP handler. With Config.Auth set every
// request needs a valid bearer token, and the verified claims reach the
// tool handlers for the per-tool scope check.
func (s *Server) Handler() http.Handler {
	streamable := mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if claims, ok := auth.FromContext(r.Context()); ok {
				return auth.WithClaims(ctx, claims)
			}
			return ctx
		}),
	)
	if s.config.Auth == nil {
		return streamable
	}
	return auth.Middleware(s.config.Auth, "", s.config.logger())(streamable)
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
