package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/deckexplain/internal/status"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	e := newTestEnv(t, 0)
	return MCPDeps{Uploads: e.deps.Uploads, Reports: e.deps.Reports, Version: "test"}
}

func TestNewMCPServer(t *testing.T) {
	if s := NewMCPServer(newTestMCPDeps(t)); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_UploadAndStatus(t *testing.T) {
	deps := newTestMCPDeps(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "Deck.pptx")
	if err := os.WriteFile(path, []byte("deck"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := mcpUploadDeck(deps)(ctx, makeCallToolRequest("upload_deck", map[string]interface{}{
		"path":  path,
		"email": "a@example.com",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	uid := toolText(t, result)

	result, err = mcpGetStatus(deps)(ctx, makeCallToolRequest("get_status", map[string]interface{}{"uid": uid}))
	if err != nil || result.IsError {
		t.Fatalf("get_status: %v %v", err, result)
	}
	var rep status.Report
	if err := json.Unmarshal([]byte(toolText(t, result)), &rep); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if rep.Status != status.Pending || rep.Filename != "Deck.pptx" {
		t.Errorf("report = %+v", rep)
	}

	result, err = mcpGetLatestUpload(deps)(ctx, makeCallToolRequest("get_latest_upload", map[string]interface{}{
		"filename": "Deck.pptx",
		"email":    "a@example.com",
	}))
	if err != nil || result.IsError {
		t.Fatalf("get_latest_upload: %v %v", err, result)
	}
	if !strings.Contains(toolText(t, result), `"pending"`) {
		t.Errorf("latest = %s", toolText(t, result))
	}
}

func TestMCPTool_UploadRejectsUnsupported(t *testing.T) {
	deps := newTestMCPDeps(t)

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := mcpUploadDeck(deps)(context.Background(), makeCallToolRequest("upload_deck", map[string]interface{}{"path": path}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Errorf("expected tool error, got %s", toolText(t, result))
	}
}

func TestMCPTool_MissingArguments(t *testing.T) {
	deps := newTestMCPDeps(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]interface{}
	}{
		{"upload_deck", mcpUploadDeck(deps), map[string]interface{}{}},
		{"get_status", mcpGetStatus(deps), map[string]interface{}{}},
		{"get_latest_upload", mcpGetLatestUpload(deps), map[string]interface{}{"filename": "deck.pptx"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.handler(ctx, makeCallToolRequest(tt.name, tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Errorf("expected tool error, got %s", toolText(t, result))
			}
		})
	}
}

func TestMCPTool_StatusNotFound(t *testing.T) {
	deps := newTestMCPDeps(t)

	result, err := mcpGetStatus(deps)(context.Background(), makeCallToolRequest("get_status", map[string]interface{}{"uid": "nope"}))
	if err != nil || result.IsError {
		t.Fatalf("get_status: %v %v", err, result)
	}
	if !strings.Contains(toolText(t, result), "not found") {
		t.Errorf("result = %s", toolText(t, result))
	}
}

func TestMCPTool_UploadRejectsOversized(t *testing.T) {
	e := newTestEnv(t, 0)
	deps := MCPDeps{Uploads: e.deps.Uploads, Reports: e.deps.Reports, MaxUploadBytes: 8}

	path := filepath.Join(t.TempDir(), "Big.pptx")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := mcpUploadDeck(deps)(context.Background(), makeCallToolRequest("upload_deck", map[string]interface{}{"path": path}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected tool error, got %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "exceeds 8 bytes") {
		t.Errorf("error text = %q", toolText(t, result))
	}

	pending, err := e.store.ListPendingUploads(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("oversized deck created %d jobs", len(pending))
	}
}

func TestLimitedBody(t *testing.T) {
	b := &limitedBody{r: io.LimitReader(strings.NewReader("0123456789"), 5), max: 4}
	if _, err := io.ReadAll(b); !errors.Is(err, errUploadTooLarge) {
		t.Errorf("err = %v, want errUploadTooLarge", err)
	}

	b = &limitedBody{r: io.LimitReader(strings.NewReader("0123"), 5), max: 4}
	data, err := io.ReadAll(b)
	if err != nil || string(data) != "0123" {
		t.Errorf("ReadAll = %q, %v", data, err)
	}
}
