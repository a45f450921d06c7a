package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/colthorp/sol-cli-go/internal/catalog"
	"github.com/colthorp/sol-cli-go/internal/core"
	"github.com/colthorp/sol-cli-go/internal/logging"
	"github.com/colthorp/sol-cli-go/internal/report"
)

// MCP Protocol types
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type MCPToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type MCPInitializeResult struct {
	ProtocolVersion string        `json:"protocolVersion"`
	ServerInfo      MCPServerInfo `json:"serverInfo"`
	Capabilities    interface{}   `json:"capabilities"`
}

// ImagesParams are the parameters for the list_images and prefetch_images tools
type ImagesParams struct {
	DaySpec    string `json:"day_spec"`
	ImageSet   string `json:"image_set"`
	Resolution string `json:"resolution"`
	PFSS       *bool  `json:"pfss"`
}

// ReportParams are the parameters for the get_report tool
type ReportParams struct {
	Kind string `json:"kind"`
}

// mcpServer answers JSON-RPC requests read line by line from in.
type mcpServer struct {
	app *app
	in  io.Reader

	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func newMCPServer(a *app, in io.Reader, out io.Writer) *mcpServer {
	return &mcpServer{app: a, in: in, out: out, now: time.Now}
}

// run serves requests until in is exhausted.
func (s *mcpServer) run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	// Increase buffer size for large messages
	const maxCapacity = 10 * 1024 * 1024 // 10MB
	buf := make([]byte, maxCapacity)
	scanner.Buffer(buf, maxCapacity)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			// No ID to answer to
			logging.Logger.Warn("MCP parse error", zap.Error(err))
			continue
		}

		s.handle(ctx, &req)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}
	return nil
}

func (s *mcpServer) handle(ctx context.Context, req *MCPRequest) {
	switch req.Method {
	case "initialize":
		s.sendResponse(req.ID, MCPInitializeResult{
			ProtocolVersion: "2024-11-05",
			ServerInfo: MCPServerInfo{
				Name:    "sol-cli",
				Version: core.Version,
			},
			Capabilities: map[string]interface{}{
				"tools": map[string]interface{}{},
			},
		})
	case "initialized", "notifications/initialized":
		return
	case "tools/list":
		s.sendResponse(req.ID, map[string]interface{}{"tools": mcpTools()})
	case "tools/call":
		s.handleToolsCall(ctx, req)
	default:
		// Notifications (no ID) are ignored
		if req.ID != nil {
			s.sendError(req.ID, -32601, "Method not found", req.Method)
		}
	}
}

func selectionSchema() map[string]interface{} {
	return map[string]interface{}{
		"day_spec": map[string]interface{}{
			"type":        "string",
			"description": "Day - YYYY-MM-DD, YYYYMMDD, 'today', 'yesterday' or d-N",
			"default":     "today",
		},
		"image_set": map[string]interface{}{
			"type":        "string",
			"description": "Image set code such as 0171, 0304 or HMIB",
		},
		"resolution": map[string]interface{}{
			"type":        "string",
			"description": "Resolution in pixels: 512, 1024, 2048 or 4096",
		},
		"pfss": map[string]interface{}{
			"type":        "boolean",
			"description": "Select images with the PFSS field-line overlay",
		},
	}
}

func mcpTools() []MCPToolInfo {
	return []MCPToolInfo{
		{
			Name:        "list_images",
			Description: "List SDO images for a day, newest first, with their cache state.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": selectionSchema(),
			},
		},
		{
			Name:        "prefetch_images",
			Description: "Download every SDO image for a day that is not cached yet and report the outcome.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": selectionSchema(),
			},
		},
		{
			Name:        "get_report",
			Description: "Return the current SWPC report, revalidated against the server's ETag.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"kind": map[string]interface{}{
						"type":        "string",
						"description": "Report kind",
						"enum":        []string{report.ForecastKind.String(), report.AlertKind.String()},
					},
				},
				"required": []string{"kind"},
			},
		},
	}
}

func (s *mcpServer) handleToolsCall(ctx context.Context, req *MCPRequest) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}
	if len(params.Arguments) == 0 {
		params.Arguments = json.RawMessage("{}")
	}

	var (
		result interface{}
		err    error
	)
	switch params.Name {
	case "list_images":
		result, err = s.listImages(ctx, params.Arguments)
	case "prefetch_images":
		result, err = s.prefetchImages(ctx, params.Arguments)
	case "get_report":
		result, err = s.getReport(ctx, params.Arguments)
	default:
		s.sendError(req.ID, -32602, "Unknown tool", params.Name)
		return
	}
	if err != nil {
		s.sendToolError(req.ID, fmt.Sprintf("%s failed (%s): %v", params.Name, core.KindOf(err), err))
		return
	}
	s.sendToolResult(req.ID, result)
}

func (s *mcpServer) selection(argsJSON json.RawMessage) (time.Time, catalog.Selection, error) {
	var args ImagesParams
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return time.Time{}, catalog.Selection{}, fmt.Errorf("invalid arguments: %w", err)
	}
	day, err := core.ParseDaySpec(args.DaySpec, s.now())
	if err != nil {
		return time.Time{}, catalog.Selection{}, err
	}

	sel := s.app.cfg.Selection
	if args.ImageSet != "" {
		if sel.ImageSet, err = catalog.ParseImageSet(args.ImageSet); err != nil {
			return day, sel, err
		}
	}
	if args.Resolution != "" {
		if sel.Resolution, err = catalog.ParseResolution(args.Resolution); err != nil {
			return day, sel, err
		}
	}
	if args.PFSS != nil {
		sel.PFSS = *args.PFSS
	}
	return day, sel, sel.Validate()
}

func (s *mcpServer) listImages(ctx context.Context, argsJSON json.RawMessage) (interface{}, error) {
	day, sel, err := s.selection(argsJSON)
	if err != nil {
		return nil, err
	}
	images, err := s.app.images.ListImages(ctx, day, sel)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"day":       core.FormatDate(day),
		"selection": sel.String(),
		"count":     len(images),
		"images":    imageRows(s.app, images),
	}, nil
}

func (s *mcpServer) prefetchImages(ctx context.Context, argsJSON json.RawMessage) (interface{}, error) {
	day, sel, err := s.selection(argsJSON)
	if err != nil {
		return nil, err
	}
	return s.app.images.Prefetch(ctx, day, sel)
}

func (s *mcpServer) getReport(ctx context.Context, argsJSON json.RawMessage) (interface{}, error) {
	var args ReportParams
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	kind, err := report.ParseKind(args.Kind)
	if err != nil {
		return nil, err
	}
	return s.app.reports.Get(ctx, kind)
}

func (s *mcpServer) write(resp MCPResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		logging.Logger.Error("MCP marshal failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, string(data))
}

func (s *mcpServer) sendResponse(id interface{}, result interface{}) {
	s.write(MCPResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *mcpServer) sendError(id interface{}, code int, message, data string) {
	s.write(MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

func (s *mcpServer) sendToolResult(id interface{}, result interface{}) {
	s.sendResponse(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": mustMarshal(result),
			},
		},
	})
}

func (s *mcpServer) sendToolError(id interface{}, message string) {
	s.sendResponse(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": message,
			},
		},
		"isError": true,
	})
}

func mustMarshal(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return string(data)
}
