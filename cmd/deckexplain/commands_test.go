package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/deckexplain/internal/client"
	"github.com/kalambet/deckexplain/internal/config"
	"github.com/kalambet/deckexplain/internal/explain"
	"github.com/kalambet/deckexplain/internal/status"
)

type recordedRequest struct {
	Method string
	Path   string
	Email  string
	File   string
}

type testServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

// newTestServer answers each "METHOD /path" key with the queued bodies in
// order, repeating the last one.
func newTestServer(t *testing.T, responses map[string][]string) *testServer {
	t.Helper()
	ts := &testServer{}
	served := map[string]int{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.RequestURI()}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			if err := r.ParseMultipartForm(1 << 20); err == nil {
				rec.Email = r.FormValue("email")
				if _, h, err := r.FormFile("file"); err == nil {
					rec.File = h.Filename
				}
			}
		}

		ts.mu.Lock()
		ts.requests = append(ts.requests, rec)
		key := r.Method + " " + r.URL.Path
		bodies, ok := responses[key]
		i := served[key]
		served[key]++
		ts.mu.Unlock()

		if !ok || len(bodies) == 0 {
			w.WriteHeader(404)
			w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
			return
		}
		if i >= len(bodies) {
			i = len(bodies) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(bodies[i]))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) recorded() []recordedRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]recordedRequest(nil), ts.requests...)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	}()
	err := rootCmd.Execute()
	return out.String(), err
}

func writeDeck(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("deck bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUploadCommand(t *testing.T) {
	ts := newTestServer(t, map[string][]string{
		"POST /upload": {`{"uid":"3f2b9c"}`},
	})
	path := writeDeck(t, "Quarterly.pptx")

	out, err := execute(t, "--server", ts.server.URL, "upload", path, "--email", "ana@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "3f2b9c" {
		t.Errorf("output = %q, want uid", out)
	}

	reqs := ts.recorded()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if reqs[0].File != "Quarterly.pptx" {
		t.Errorf("file = %q, want Quarterly.pptx", reqs[0].File)
	}
	if reqs[0].Email != "ana@example.com" {
		t.Errorf("email = %q, want ana@example.com", reqs[0].Email)
	}
}

func TestUploadCommand_UnsupportedExtension(t *testing.T) {
	ts := newTestServer(t, map[string][]string{})
	path := writeDeck(t, "notes.txt")

	_, err := execute(t, "--server", ts.server.URL, "upload", path)
	if !errors.Is(err, client.ErrUnsupportedFile) {
		t.Fatalf("err = %v, want ErrUnsupportedFile", err)
	}
	if n := len(ts.recorded()); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestLatestCommand_MissingFlags(t *testing.T) {
	_, err := execute(t, "latest")
	if err == nil {
		t.Fatal("expected error for missing flags")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "deckexplain version "+version) {
		t.Errorf("output = %q", out)
	}
}

func TestWaitAndPrint_PollsUntilDone(t *testing.T) {
	ts := newTestServer(t, map[string][]string{
		"GET /status/abc": {
			`{"status":"pending","filename":"a.pptx","timestamp":"2024-03-01T10:00:00Z"}`,
			`{"status":"pending","filename":"a.pptx","timestamp":"2024-03-01T10:00:00Z"}`,
			`{"status":"done","filename":"a.pptx","timestamp":"2024-03-01T10:00:00Z","finish_time":"2024-03-01T10:01:00Z","explanation":[{"slide_number":1,"explanation":"Intro"}]}`,
		},
	})

	c := client.New(ts.server.URL)
	if err := waitAndPrint(context.Background(), c, "abc", time.Millisecond, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(ts.recorded()); n != 3 {
		t.Errorf("requests = %d, want 3", n)
	}
}

func TestWaitAndPrint_NotFound(t *testing.T) {
	ts := newTestServer(t, map[string][]string{
		"GET /status/nope": {`{"status":"not found"}`},
	})

	c := client.New(ts.server.URL)
	err := waitAndPrint(context.Background(), c, "nope", time.Millisecond, false)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestWaitAndPrint_Timeout(t *testing.T) {
	ts := newTestServer(t, map[string][]string{
		"GET /status/slow": {`{"status":"pending","filename":"a.pptx"}`},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := client.New(ts.server.URL)
	err := waitAndPrint(ctx, c, "slow", 5*time.Millisecond, false)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestPrintReport(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	var buf bytes.Buffer
	printReport(&buf, status.Report{
		Status:   status.Done,
		Filename: "a.pptx",
		Explanation: []explain.SlideExplanation{
			{SlideNumber: 1, Explanation: "Opening slide."},
			{SlideNumber: 2, Explanation: ""},
		},
	})

	out := buf.String()
	for _, want := range []string{"Slide 1", "Opening slide.", "Slide 2", "(no explanation)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintReport_PendingHasNoSlides(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, status.Report{Status: status.Pending, Filename: "a.pptx"})
	if buf.Len() != 0 {
		t.Errorf("expected no slide output for a pending report, got %q", buf.String())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.OpenAI.Model = "gpt-3.5-turbo-instruct"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}
