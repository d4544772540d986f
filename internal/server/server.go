// Package server exposes the calendar manager as MCP tools over stdio.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/beekhof/mcp-ical/internal/calendar"
	"github.com/beekhof/mcp-ical/internal/datetime"
	"github.com/beekhof/mcp-ical/internal/metrics"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// CalendarService is the calendar API the tools are built on. It is
// implemented by *calendar.Manager.
type CalendarService interface {
	ListCalendars(ctx context.Context) ([]calendar.Calendar, error)
	ListEvents(ctx context.Context, calendarName string, start, end time.Time) ([]calendar.Event, error)
	ResolveEvent(ctx context.Context, calendarName, identifier string) (*calendar.Event, error)
	CreateEvent(ctx context.Context, calendarName string, fields calendar.EventFields) (*calendar.MutationResult, error)
	UpdateEvent(ctx context.Context, calendarName, identifier string, u calendar.EventUpdate) (*calendar.MutationResult, error)
	DeleteEvent(ctx context.Context, calendarName, identifier string) (*calendar.MutationResult, error)
}

// Options configures a Server.
type Options struct {
	Name    string
	Version string
	// Timeout bounds each tool call. Zero means no deadline beyond the client's.
	Timeout  time.Duration
	Location *time.Location
}

// Server registers the calendar tools and the calendars://list resource.
type Server struct {
	svc     CalendarService
	mcp     *mcpserver.MCPServer
	parser  *datetime.Parser
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// toolFunc is a tool body. Errors are turned into error results by instrument.
type toolFunc func(ctx context.Context, args arguments) (string, error)

// New creates a Server with every tool registered.
func New(svc CalendarService, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = "mcp-ical"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	s := &Server{
		svc:     svc,
		parser:  datetime.NewParser(loc),
		timeout: opts.Timeout,
		logger:  logger,
		now:     time.Now,
	}
	s.mcp = mcpserver.NewMCPServer(
		opts.Name,
		opts.Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithRecovery(),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcp)
}

// instrument adapts a toolFunc to an MCP handler. It applies the per-call
// timeout, records metrics and converts errors into error results.
func (s *Server) instrument(name string, fn toolFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		args, _ := req.Params.Arguments.(map[string]any)
		start := time.Now()
		text, err := fn(ctx, arguments(args))
		elapsed := time.Since(start)

		outcome := calendar.KindName(err)
		metrics.ObserveToolCall(name, outcome, elapsed)

		if err != nil {
			s.logger.Warn("Tool call failed", "tool", name, "kind", outcome, "duration", elapsed, "error", err)
			return mcp.NewToolResultError(errorText(err)), nil
		}
		s.logger.Info("Tool call completed", "tool", name, "duration", elapsed)
		return mcp.NewToolResultText(text), nil
	}
}

func (s *Server) registerResources() {
	s.mcp.AddResource(
		mcp.NewResource("calendars://list", "Calendars",
			mcp.WithResourceDescription("List all available calendars that can be used with calendar operations."),
			mcp.WithMIMEType("text/plain"),
		),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			text, err := s.listCalendars(ctx, nil)
			if err != nil {
				text = errorText(err)
			}
			return []mcp.ResourceContents{
				mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "text/plain", Text: text},
			}, nil
		},
	)
}
