package server

import (
	"log/slog"

	"github.com/mark3labs/permit-relay/auth"
)

// Config holds configuration for the relay MCP server.
type Config struct {
	// Name and Version are reported to MCP clients during initialization.
	Name    string
	Version string

	// Logger receives tool call logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Auth, when set, requires a bearer token on every MCP HTTP request and
	// enforces ToolScopes on each tool call.
	Auth *auth.Authenticator

	// ToolScopes maps tool names to the token scope they require.
	ToolScopes map[string]string
}

// DefaultConfig returns a Config with the relay's tool scopes.
func DefaultConfig() *Config {
	return &Config{
		Name:    "permit-relay",
		Version: "1.0.0",
		ToolScopes: map[string]string{
			ToolSubmitPayment:    auth.ScopeWrite,
			ToolGetPaymentStatus: auth.ScopeRead,
		},
	}
}

// SetToolScope sets the scope required to call toolName.
func (c *Config) SetToolScope(toolName, scope string) {
	if c.ToolScopes == nil {
		c.ToolScopes = make(map[string]string)
	}
	c.ToolScopes[toolName] = scope
}

// RequiredScope returns the scope toolName requires, or "" if none.
func (c *Config) RequiredScope(toolName string) string {
	if c.ToolScopes == nil {
		return ""
	}
	return c.ToolScopes[toolName]
}

func (c *Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
