package codedrop

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/codedrop/internal/kit"
)

// RegisterMCP registers the codedrop tools of a running daemon on srv.
func (d *Daemon) RegisterMCP(srv *mcp.Server) {
	registerMCP(srv, d.endpoints(), d.logger)
}

// RegisterMCP registers the codedrop tools over svc alone, without a
// running daemon (as served by "codedrop mcp").
func (s *Service) RegisterMCP(srv *mcp.Server) {
	registerMCP(srv, newEndpoints(s), s.logger)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var (
	sessionProp     = map[string]any{"type": "string", "description": "Chat session (tab) id"}
	fingerprintProp = map[string]any{"type": "string", "description": "Block fingerprint (signed 32-bit decimal)"}
	portProp        = map[string]any{"type": "integer", "minimum": 1025, "maximum": 65535, "description": "Backend TCP port"}
)

func sessionDecode[T any](id func(*T) string) func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return kit.DecodeJSON(func(r *T) func(context.Context) context.Context {
		return withSession(id(r))
	})
}

func registerMCP(srv *mcp.Server, e *endpoints, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	tool := func(name, desc string, schema map[string]any, ep kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
		kit.RegisterMCPTool(srv, &mcp.Tool{
			Name:        "codedrop_" + name,
			Description: desc,
			InputSchema: schema,
		}, kit.Logging(logger, name)(ep), decode)
	}

	tool("get_port", "Get the backend port of a session. Unset sessions get the default port (5000).",
		inputSchema(map[string]any{"session_id": sessionProp}, []string{"session_id"}),
		e.getPort, sessionDecode(func(r *sessionRequest) string { return r.SessionID }))

	tool("store_port", "Set the backend port of a session. Ports outside 1025-65535 are rejected.",
		inputSchema(map[string]any{"session_id": sessionProp, "port": portProp}, []string{"session_id", "port"}),
		e.storePort, sessionDecode(func(r *storePortRequest) string { return r.SessionID }))

	tool("get_activation", "Get the process-wide activation flag. When inactive, no block is submitted.",
		inputSchema(map[string]any{}, nil),
		e.getActivation, kit.DecodeJSON[struct{}](nil))

	tool("store_activation", "Turn automatic submission on or off for every session.",
		inputSchema(map[string]any{
			"isActive": map[string]any{"type": "boolean", "description": "true to enable submission"},
		}, []string{"isActive"}),
		e.storeActivation, kit.DecodeJSON[activationRequest](nil))

	tool("get_block_status", "Get the submission status (absent, pending, sent, error) of a block fingerprint in a session.",
		inputSchema(map[string]any{"session_id": sessionProp, "fingerprint": fingerprintProp}, []string{"session_id", "fingerprint"}),
		e.getBlockStatus, sessionDecode(func(r *blockRequest) string { return r.SessionID }))

	tool("set_block_status", "Record the submission status of a block fingerprint. sent and error are final.",
		inputSchema(map[string]any{
			"session_id":  sessionProp,
			"fingerprint": fingerprintProp,
			"status":      map[string]any{"type": "string", "enum": []any{"absent", "pending", "sent", "error"}},
		}, []string{"session_id", "fingerprint", "status"}),
		e.setBlockStatus, sessionDecode(func(r *blockRequest) string { return r.SessionID }))

	tool("list_block_statuses", "List every recorded block status of a session, most recent first.",
		inputSchema(map[string]any{"session_id": sessionProp}, []string{"session_id"}),
		e.listBlockStatuses, sessionDecode(func(r *sessionRequest) string { return r.SessionID }))

	tool("submit_code", "Post code to the backend of a session. Does not check or record block status.",
		inputSchema(map[string]any{
			"session_id": sessionProp,
			"code":       map[string]any{"type": "string", "description": "Block text, starting with the filename marker"},
		}, []string{"session_id", "code"}),
		e.submitCode, sessionDecode(func(r *submitRequest) string { return r.SessionID }))

	tool("test_connection", "Check that a backend answers on a port.",
		inputSchema(map[string]any{"port": portProp}, []string{"port"}),
		e.testConnection, kit.DecodeJSON[testConnectionRequest](nil))

	tool("end_session", "End a session: delete its port and every block status.",
		inputSchema(map[string]any{"session_id": sessionProp}, []string{"session_id"}),
		e.endSession, sessionDecode(func(r *sessionRequest) string { return r.SessionID }))

	tool("sessions", "List stored sessions and the tabs currently watched.",
		inputSchema(map[string]any{}, nil),
		e.sessions, kit.DecodeJSON[struct{}](nil))
}
