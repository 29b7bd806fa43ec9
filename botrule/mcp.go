package botrule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/botrule/kit"
)

// RegisterMCP registers the rule tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerListTool(srv)
	s.registerReplaceTool(srv)
	s.registerDeleteTool(srv)
	s.registerHostsTool(srv)
	s.registerPreviewTool(srv)
}

// register wraps endpoint in the tool middleware chain and adds it to srv.
func (s *Service) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	chain := kit.Chain(toolTraceID, s.toolLogging(tool.Name), toolRecover(tool.Name))
	kit.RegisterMCPTool(srv, tool, chain(endpoint), decode)
}

// toolTraceID gives MCP calls the trace id HTTP requests get from shield, so
// their events and SQL traces correlate the same way.
func toolTraceID(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		if kit.GetTraceID(ctx) == "" {
			ctx = kit.WithTraceID(ctx, kit.NewTraceID())
		}
		return next(ctx, req)
	}
}

func (s *Service) toolLogging(name string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			l := s.logger.With("tool", name, "transport", kit.GetTransport(ctx),
				"trace_id", kit.GetTraceID(ctx), "duration", time.Since(start))
			if err != nil {
				l.Warn("botrule: tool failed", "error", err)
			} else {
				l.Info("botrule: tool call")
			}
			return resp, err
		}
	}
}

// toolRecover turns a panic into a tool error instead of killing the session.
func toolRecover(name string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (resp any, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp, err = nil, fmt.Errorf("%s: panic: %v", name, r)
				}
			}()
			return next(ctx, req)
		}
	}
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

type hostRequest struct {
	Host string `json:"host"`
}

func decodeHost(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r hostRequest
	if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}

var hostProperty = map[string]any{"type": "string", "description": "Website host, e.g. www.example.com"}

func (s *Service) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "botrule_list",
		Description: "List the scraping rules stored for a host, in insertion order.",
		InputSchema: inputSchema(map[string]any{"host": hostProperty}, []string{"host"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.List(ctx, req.(*hostRequest).Host)
	}
	s.register(srv, tool, endpoint, decodeHost)
}

// --- replace ---

type replaceRequest struct {
	Rules []RuleInput
}

func (s *Service) registerReplaceTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "botrule_replace",
		Description: "Replace the whole rule set of one host. Every rule must carry the same host.",
		InputSchema: inputSchema(map[string]any{
			"rules": map[string]any{
				"type": "array",
				"items": inputSchema(map[string]any{
					"host":             hostProperty,
					"ruleName":         map[string]any{"type": "string", "description": "BookName, ChapterList, ChapterTitle, Content, IndexNextPage or ContentNextPage"},
					"selector":         map[string]any{"type": "string", "description": "CSS selector"},
					"removeSelector":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"getContentAction": map[string]any{"type": "string", "description": "text, html or markdown"},
					"getUrlAction":     map[string]any{"type": "string", "description": "attribute holding the URL, or none"},
					"type":             map[string]any{"type": "string", "description": "Object (first match) or List (all matches)"},
					"checkSetting":     map[string]any{"type": "string"},
				}, []string{"host", "ruleName", "selector"}),
			},
		}, []string{"rules"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*replaceRequest)
		if err := s.Replace(ctx, r.Rules); err != nil {
			return nil, err
		}
		return map[string]any{"host": r.Rules[0].Host, "count": len(r.Rules)}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var args struct {
			Rules json.RawMessage `json:"rules"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return nil, err
		}
		if len(args.Rules) == 0 {
			return nil, errors.New("rules is required")
		}
		p, err := ParseAndValidate(string(args.Rules), "host", "ruleName", "selector")
		if err != nil {
			return nil, err
		}
		inputs, err := DecodeInputs(p)
		if err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &replaceRequest{Rules: inputs}}, nil
	}

	s.register(srv, tool, endpoint, decode)
}

func (s *Service) registerDeleteTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "botrule_delete",
		Description: "Delete every rule stored for a host. Unknown hosts succeed.",
		InputSchema: inputSchema(map[string]any{"host": hostProperty}, []string{"host"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		host := req.(*hostRequest).Host
		if err := s.Delete(ctx, host); err != nil {
			return nil, err
		}
		return map[string]any{"host": host, "deleted": true}, nil
	}
	s.register(srv, tool, endpoint, decodeHost)
}

func (s *Service) registerHostsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "botrule_hosts",
		Description: "List the distinct hosts that have rules.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		return s.Hosts(ctx)
	}
	decode := func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	}
	s.register(srv, tool, endpoint, decode)
}

func (s *Service) registerPreviewTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "botrule_preview",
		Description: "Apply the rules of the URL's host to a page and return what each rule extracts. The page is fetched when html is omitted.",
		InputSchema: inputSchema(map[string]any{
			"url":  map[string]any{"type": "string", "description": "Page URL; its host selects the rules"},
			"html": map[string]any{"type": "string", "description": "Optional page HTML"},
		}, []string{"url"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Preview(ctx, *req.(*PreviewRequest))
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r PreviewRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}
	s.register(srv, tool, endpoint, decode)
}
