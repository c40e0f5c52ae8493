package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/deckexplain/internal/service"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Uploads Uploads
	Reports Reports
	Version string
	// MaxUploadBytes bounds the deck size; 0 uses the default of 50MB.
	MaxUploadBytes int64
}

// NewMCPServer creates an MCP server exposing deck uploads and status lookups
// as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"deckexplain",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("deckexplain generates per-slide explanations of presentation decks. Upload a deck, then poll its status until it is done."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("upload_deck",
			mcp.WithDescription("Upload a local .pptx or .pdf deck for explanation. Returns the upload uid."),
			mcp.WithString("path", mcp.Description("Path of the deck on the local filesystem"), mcp.Required()),
			mcp.WithString("email", mcp.Description("Optional owner email, used by get_latest_upload")),
		),
		mcpUploadDeck(deps),
	)

	s.AddTool(
		mcp.NewTool("get_status",
			mcp.WithDescription("Get the processing status of an upload and, once done, its slide explanations."),
			mcp.WithString("uid", mcp.Description("Upload uid returned by upload_deck"), mcp.Required()),
		),
		mcpGetStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("get_latest_upload",
			mcp.WithDescription("Get the status of the most recent upload of a file by a user."),
			mcp.WithString("filename", mcp.Description("Original filename of the deck"), mcp.Required()),
			mcp.WithString("email", mcp.Description("Email the deck was uploaded with"), mcp.Required()),
		),
		mcpGetLatestUpload(deps),
	)

	return s
}

func mcpUploadDeck(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}
		email := req.GetString("email", "")

		f, err := os.Open(path)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to open deck: %v", err)), nil
		}
		defer f.Close()

		limit := deps.MaxUploadBytes
		if limit <= 0 {
			limit = defaultMaxUploadBytes
		}
		info, err := f.Stat()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to stat deck: %v", err)), nil
		}
		if info.Size() > limit {
			return mcpError(fmt.Sprintf("upload exceeds %d bytes", limit)), nil
		}

		// The file may grow between Stat and the read.
		body := &limitedBody{r: io.LimitReader(f, limit+1), max: limit}
		uid, err := deps.Uploads.Upload(ctx, service.UploadRequest{
			Filename: filepath.Base(path),
			Body:     body,
			Email:    email,
		})
		if errors.Is(err, errUploadTooLarge) {
			return mcpError(fmt.Sprintf("upload exceeds %d bytes", limit)), nil
		}
		if errors.Is(err, service.ErrUnsupportedFile) {
			return mcpError(err.Error()), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("upload failed: %v", err)), nil
		}
		return mcpText(uid), nil
	}
}

var errUploadTooLarge = errors.New("upload too large")

// limitedBody fails the read once more than max bytes have been consumed.
type limitedBody struct {
	r   io.Reader
	n   int64
	max int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.n += int64(n)
	if b.n > b.max {
		return n, errUploadTooLarge
	}
	return n, err
}

func mcpGetStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		uid, err := req.RequireString("uid")
		if err != nil {
			return mcpError("uid is required"), nil
		}

		rep, err := deps.Reports.Status(ctx, uid)
		if err != nil {
			return mcpError(fmt.Sprintf("status lookup failed: %v", err)), nil
		}
		return mcpJSON(rep)
	}
}

func mcpGetLatestUpload(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filename, err := req.RequireString("filename")
		if err != nil {
			return mcpError("filename is required"), nil
		}
		email, err := req.RequireString("email")
		if err != nil {
			return mcpError("email is required"), nil
		}

		rep, err := deps.Reports.Latest(ctx, email, filename)
		if err != nil {
			return mcpError(fmt.Sprintf("status lookup failed: %v", err)), nil
		}
		return mcpJSON(rep)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
