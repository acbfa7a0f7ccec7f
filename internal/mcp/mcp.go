// Package mcp implements the Model Context Protocol server for inquest.
//
// It exposes the investigation bridge as an MCP tool, so MCP-compatible
// agents can launch an investigation and receive the final report without
// speaking the SSE protocol. Step progress is collapsed; the tool returns
// once the investigation is terminal.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/opsgrid/inquest/internal/bridge"
	"github.com/opsgrid/inquest/internal/model"
	"github.com/opsgrid/inquest/internal/registry"
)

// Server wraps the MCP server around the investigation bridge.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	supervisor *bridge.Supervisor // nil when no runtime is configured
	reg        *registry.Registry // nil when no capability file is configured
	logger     *slog.Logger
}

// New creates and configures a new MCP server with its tools.
// supervisor and reg may be nil; the affected tools report the gap at call time.
func New(supervisor *bridge.Supervisor, reg *registry.Registry, version string, logger *slog.Logger) *Server {
	s := &Server{
		supervisor: supervisor,
		reg:        reg,
		logger:     logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"inquest",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("investigate",
			mcplib.WithDescription(`Run an operational investigation and return the final report.

The input is a free-form incident description or question, e.g.
"why are BGP sessions flapping on edge-router-12". The investigation
delegates to the deployment's registered capabilities and may take
minutes; this tool blocks until it finishes.

WHAT YOU GET BACK: a JSON object with the final report, the terminal
status, the number of completed steps, and the attempt count.`),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("input",
				mcplib.Description("The incident description or question to investigate"),
				mcplib.Required(),
			),
		),
		s.handleInvestigate,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("list_capabilities",
			mcplib.WithDescription(`List the delegated capabilities registered on this deployment.

Each entry names one function an investigation can call out to (e.g.
GraphExplorer, RunbookKB) and the agent it resolves to.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleListCapabilities,
	)
}

func (s *Server) handleListCapabilities(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.reg == nil {
		return errorResult("no capability registry configured"), nil
	}
	snap, err := s.reg.Snapshot()
	if err != nil {
		return errorResult(fmt.Sprintf("registry unavailable: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(snap.Capabilities, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

// investigateResult is the tool's JSON payload.
type investigateResult struct {
	InvestigationID string `json:"investigation_id"`
	Status          string `json:"status"`
	Report          string `json:"report,omitempty"`
	FailureDetail   string `json:"failure_detail,omitempty"`
	Steps           int    `json:"steps"`
	Attempts        int    `json:"attempts"`
}

func (s *Server) handleInvestigate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	input := request.GetString("input", "")
	if err := model.ValidateInput(input); err != nil {
		return errorResult(err.Error()), nil
	}
	if s.supervisor == nil {
		return errorResult("no agent runtime configured; investigations run in demo mode over HTTP only"), nil
	}

	inv := model.NewInvestigation(input)
	relay := bridge.NewRelay()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.supervisor.Run(ctx, inv, relay)
	}()

	// Drain the relay so the run can make progress; only the report and the
	// terminal error matter here.
	var report, failure string
	for {
		env, ok, err := relay.Drain(ctx)
		if err != nil {
			return errorResult(fmt.Sprintf("investigation cancelled: %v", err)), nil
		}
		if !ok {
			break
		}
		switch p := env.Payload.(type) {
		case model.MessagePayload:
			report = p.Content
		case model.ErrorPayload:
			failure = p.Message
		}
	}
	<-done

	resultData, _ := json.MarshalIndent(investigateResult{
		InvestigationID: inv.ID.String(),
		Status:          string(inv.Status),
		Report:          report,
		FailureDetail:   failure,
		Steps:           inv.Steps,
		Attempts:        inv.Attempts,
	}, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		IsError: true,
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
	}
}
