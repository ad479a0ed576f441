package mcp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/paularlott/mcp"

	"github.com/martinsuchenak/nmconsole/internal/api"
	"github.com/martinsuchenak/nmconsole/internal/log"
	"github.com/martinsuchenak/nmconsole/internal/model"
	"github.com/martinsuchenak/nmconsole/internal/nm"
	"github.com/martinsuchenak/nmconsole/internal/settings"
)

const serverVersion = "1.0.0"

// Server wraps the MCP server with the NetworkManager model
type Server struct {
	mcpServer   *mcp.Server
	model       api.Model
	overlay     *settings.Overlay
	bearerToken string
}

// NewServer creates a new MCP server for the console
func NewServer(m api.Model, overlay *settings.Overlay, bearerToken string) *Server {
	s := &Server{
		mcpServer:   mcp.NewServer("nmconsole", serverVersion),
		model:       m,
		overlay:     overlay,
		bearerToken: bearerToken,
	}
	s.registerTools()
	return s
}

// registerTools registers all console tools
func (s *Server) registerTools() {
	// Device tools

	s.mcpServer.RegisterTool(
		mcp.NewTool("device_list", "List network devices with their state and addresses. Loopback is hidden unless all is true.",
			mcp.String("all", "Set to true to include the loopback device"),
		),
		s.handleDeviceList,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("device_get", "Get a network device by interface name, including its available connections",
			mcp.String("interface", "Interface name (e.g., eth0)", mcp.Required()),
		),
		s.handleDeviceGet,
	)

	// Connection tools

	s.mcpServer.RegisterTool(
		mcp.NewTool("connection_get", "Get a connection's settings: authoritative, pending edits and effective result",
			mcp.String("id", "Connection object path, UUID or name", mcp.Required()),
		),
		s.handleConnectionGet,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("connection_set", "Stage a settings value on a connection. Nothing changes until connection_apply is called.",
			mcp.String("id", "Connection object path, UUID or name", mcp.Required()),
			mcp.String("group", "Settings group (e.g., ipv4, ethernet)", mcp.Required()),
			mcp.String("key", "Settings key (e.g., method, mtu)", mcp.Required()),
			mcp.String("value", "New value; converted to the type of the current value", mcp.Required()),
		),
		s.handleConnectionSet,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("connection_discard", "Discard all staged edits of a connection",
			mcp.String("id", "Connection object path, UUID or name", mcp.Required()),
		),
		s.handleConnectionDiscard,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("connection_apply", "Submit the staged edits of a connection to NetworkManager",
			mcp.String("id", "Connection object path, UUID or name", mcp.Required()),
		),
		s.handleConnectionApply,
	)
}

// HandleRequest handles MCP HTTP requests with optional bearer token authentication
func (s *Server) HandleRequest(w http.ResponseWriter, r *http.Request) {
	log.Debug("MCP request received", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

	if s.bearerToken != "" {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			log.Warn("MCP request missing Authorization header", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Missing Authorization header", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			log.Warn("MCP request invalid Authorization format", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid Authorization format", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(auth, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.bearerToken)) != 1 {
			log.Warn("MCP request invalid token", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
	}

	s.mcpServer.HandleRequest(w, r)
}

// Device tool handlers

func (s *Server) handleDeviceList(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	all := strings.EqualFold(req.StringOr("all", "false"), "true")
	devices := api.FilterDevices(s.model.Devices(), all)

	log.Debug("MCP device list completed", "count", len(devices))
	if len(devices) == 0 {
		return mcp.NewToolResponseText("No devices found"), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Found %d devices:\n\n", len(devices)))
	for _, d := range devices {
		result.WriteString(formatDeviceSummary(d))
		result.WriteString("\n")
	}
	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) handleDeviceGet(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	iface, err := req.String("interface")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("interface is required: " + err.Error())
	}

	d, err := s.model.FindDevice(iface)
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("device not found: " + iface)
	}

	var result strings.Builder
	result.WriteString(formatDeviceSummary(d))
	for _, path := range d.AvailableConnections {
		c, err := s.model.Connection(path)
		if err != nil {
			continue
		}
		result.WriteString(fmt.Sprintf("  Connection: %s (%s)\n", c.ID, c.UUID))
	}
	return mcp.NewToolResponseText(result.String()), nil
}

// Connection tool handlers

func (s *Server) connection(req *mcp.ToolRequest) (model.Connection, error) {
	id, err := req.String("id")
	if err != nil {
		return model.Connection{}, mcp.NewToolErrorInvalidParams("id is required: " + err.Error())
	}
	c, err := s.model.Connection(id)
	if err != nil {
		return model.Connection{}, mcp.NewToolErrorInvalidParams("connection not found: " + id)
	}
	return c, nil
}

func (s *Server) handleConnectionGet(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	c, err := s.connection(req)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResponseText(formatConnection(s.overlay.View(c))), nil
}

func (s *Server) handleConnectionSet(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	c, err := s.connection(req)
	if err != nil {
		return nil, err
	}
	group, err := req.String("group")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("group is required: " + err.Error())
	}
	key, err := req.String("key")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("key is required: " + err.Error())
	}
	value, err := req.String("value")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("value is required: " + err.Error())
	}

	var staged any = value
	if current, ok := c.Settings.Get(group, key); ok {
		staged = settings.Coerce(value, current)
	}
	if err := s.overlay.Set(ctx, c.Path, group, key, staged); err != nil {
		if errors.Is(err, settings.ErrEmptyGroup) || errors.Is(err, settings.ErrEmptyKey) {
			return nil, mcp.NewToolErrorInvalidParams(err.Error())
		}
		log.Error("MCP connection set failed", "error", err, "connection", c.Path)
		return nil, mcp.NewToolErrorInternal("failed to stage setting: " + err.Error())
	}

	log.Info("MCP staged setting", "connection", c.Path, "group", group, "key", key)
	return mcp.NewToolResponseText(fmt.Sprintf("Staged %s.%s on %s. Call connection_apply to submit.", group, key, c.ID)), nil
}

func (s *Server) handleConnectionDiscard(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	c, err := s.connection(req)
	if err != nil {
		return nil, err
	}
	if err := s.overlay.Discard(ctx, c.Path); err != nil {
		return nil, mcp.NewToolErrorInternal("failed to discard edits: " + err.Error())
	}
	return mcp.NewToolResponseText(fmt.Sprintf("Discarded pending edits of %s", c.ID)), nil
}

func (s *Server) handleConnectionApply(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	c, err := s.connection(req)
	if err != nil {
		return nil, err
	}
	if !s.overlay.HasPending(c.Path) {
		return mcp.NewToolResponseText(fmt.Sprintf("%s has no pending edits", c.ID)), nil
	}
	if err := s.overlay.Apply(ctx, c.Path); err != nil {
		var remote *nm.RemoteError
		if errors.As(err, &remote) {
			log.Warn("MCP connection apply rejected", "connection", c.Path, "error", err)
			return nil, mcp.NewToolErrorInternal("unexpected error: " + remote.Err.Error() + " (pending edits kept)")
		}
		return nil, mcp.NewToolErrorInternal("unexpected error: " + err.Error())
	}

	log.Info("MCP applied connection", "connection", c.Path)
	return mcp.NewToolResponseText(fmt.Sprintf("Applied pending edits of %s", c.ID)), nil
}

// Formatting

func formatDeviceSummary(d model.Device) string {
	var result strings.Builder
	result.WriteString(fmt.Sprintf("%s\n", d.Interface))
	if d.State != "" {
		result.WriteString(fmt.Sprintf("  State: %s\n", d.State))
	}
	if d.HwAddress != "" {
		result.WriteString(fmt.Sprintf("  Hardware address: %s\n", d.HwAddress))
	}
	if d.IdVendor != "" || d.IdModel != "" {
		result.WriteString(fmt.Sprintf("  Hardware: %s %s\n", d.IdVendor, d.IdModel))
	}
	if addrs := d.Addresses(); len(addrs) > 0 {
		result.WriteString(fmt.Sprintf("  Addresses: %s\n", strings.Join(addrs, ", ")))
	}
	return result.String()
}

func formatConnection(c model.Connection) string {
	var result strings.Builder
	result.WriteString(fmt.Sprintf("%s (%s, %s)\n", c.ID, c.UUID, c.Type))
	result.WriteString(fmt.Sprintf("  Path: %s\n", c.Path))
	if c.Unsaved {
		result.WriteString("  Unsaved: yes\n")
	}
	writeTree(&result, "Effective settings", c.Effective)
	if len(c.Pending) > 0 {
		writeTree(&result, "Pending edits", c.Pending)
	}
	return result.String()
}

func writeTree(b *strings.Builder, title string, s model.Settings) {
	b.WriteString(fmt.Sprintf("  %s:\n", title))
	groups := make([]string, 0, len(s))
	for g := range s {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	for _, g := range groups {
		keys := make([]string, 0, len(s[g]))
		for k := range s[g] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(fmt.Sprintf("    %s.%s = %v\n", g, k, s[g][k]))
		}
	}
}

// GetHTTPHandler returns the HTTP handler for the MCP server
func (s *Server) GetHTTPHandler() http.HandlerFunc {
	return s.HandleRequest
}

// LogStartup logs MCP server startup information
func (s *Server) LogStartup() {
	log.Info("MCP Server initialized", "version", serverVersion)
	if s.bearerToken != "" {
		log.Info("MCP authentication enabled", "type", "Bearer token")
	} else {
		log.Info("MCP authentication disabled")
	}
	tools := s.mcpServer.ListTools()
	log.Info("MCP tools registered", "count", len(tools))
	for _, tool := range tools {
		log.Debug("MCP tool registered", "name", tool.Name, "description", tool.Description)
	}
}
