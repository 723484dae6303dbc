// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/stepflow/internal/provider"
)

// newTestProvider returns a Provider whose model always answers with the
// given content, plus a pointer that captures the last chat request.
func newTestProvider(t *testing.T, content string) (*Provider, *ChatRequest) {
	t.Helper()
	lastReq := &ChatRequest{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(lastReq)
		json.NewEncoder(w).Encode(ChatResponse{
			Model:   lastReq.Model,
			Message: NewAssistantMessage(content),
			Done:    true,
		})
	}))
	t.Cleanup(srv.Close)

	client := NewClientWithConfig(&ClientConfig{
		BaseURL:    srv.URL,
		Timeout:    5 * time.Second,
		MaxRetries: 1,
		RetryDelay: 10 * time.Millisecond,
	})

	return NewProvider(client, "test-model", 0.2, 4096), lastReq
}

// =============================================================================
// DECOMPOSITION TESTS
// =============================================================================

func TestDecomposeTask_FencedJSON(t *testing.T) {
	content := "Here is the plan:\n```json\n" + `[
  {"name": "clone repo", "description": "Clone the repository", "command": "git clone https://example.com/app.git", "dependencies": []},
  {"name": "critical install deps", "description": "Install dependencies", "command": "cd app && npm install", "dependencies": [1]},
  {"name": "run tests", "description": "Run the test suite", "command": "cd app && npm test", "dependencies": ["2", "clone repo"]}
]` + "\n```\nLet me know if you need anything else."

	p, _ := newTestProvider(t, content)

	steps, err := p.DecomposeTask(context.Background(), "clone the app and run its tests")
	if err != nil {
		t.Fatalf("DecomposeTask() error = %v", err)
	}

	if len(steps) != 3 {
		t.Fatalf("steps length = %d, want 3", len(steps))
	}
	if steps[0].Name != "clone repo" {
		t.Errorf("steps[0].Name = %q", steps[0].Name)
	}
	if steps[1].Command != "cd app && npm install" {
		t.Errorf("steps[1].Command = %q", steps[1].Command)
	}
	if len(steps[0].Dependencies) != 0 {
		t.Errorf("steps[0].Dependencies = %v, want none", steps[0].Dependencies)
	}
	if !reflect.DeepEqual(steps[1].Dependencies, []string{"1"}) {
		t.Errorf("steps[1].Dependencies = %v, want [1]", steps[1].Dependencies)
	}
	if !reflect.DeepEqual(steps[2].Dependencies, []string{"2", "clone repo"}) {
		t.Errorf("steps[2].Dependencies = %v", steps[2].Dependencies)
	}
}

func TestDecomposeTask_BareStringArray(t *testing.T) {
	p, _ := newTestProvider(t, `["download the archive", "verify the checksum"]`)

	steps, err := p.DecomposeTask(context.Background(), "fetch the release")
	if err != nil {
		t.Fatalf("DecomposeTask() error = %v", err)
	}

	if len(steps) != 2 {
		t.Fatalf("steps length = %d, want 2", len(steps))
	}
	if steps[0].Description != "download the archive" {
		t.Errorf("steps[0].Description = %q", steps[0].Description)
	}
	if steps[0].Command != "" {
		t.Errorf("steps[0].Command = %q, want empty", steps[0].Command)
	}
}

func TestDecomposeTask_EmptyPlan(t *testing.T) {
	p, _ := newTestProvider(t, `[]`)

	if _, err := p.DecomposeTask(context.Background(), "do nothing"); err == nil {
		t.Error("DecomposeTask() should reject an empty plan")
	}
}

func TestDecomposeTask_NotAnArray(t *testing.T) {
	p, _ := newTestProvider(t, "I cannot help with that request.")

	if _, err := p.DecomposeTask(context.Background(), "do something"); err == nil {
		t.Error("DecomposeTask() should reject prose output")
	}
}

func TestDecomposeTask_TooManySteps(t *testing.T) {
	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < 51; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"name":"step","description":"a step","command":"true","dependencies":[]}`)
	}
	b.WriteString("]")

	p, _ := newTestProvider(t, b.String())

	if _, err := p.DecomposeTask(context.Background(), "do everything"); err == nil {
		t.Error("DecomposeTask() should reject oversized plans")
	}
}

func TestDecomposeTask_SkipsEmptyEntries(t *testing.T) {
	p, _ := newTestProvider(t, `[
  {"name": "", "description": "", "command": "", "dependencies": []},
  {"name": "list files", "description": "List the directory", "command": "ls -la", "dependencies": []}
]`)

	steps, err := p.DecomposeTask(context.Background(), "list files")
	if err != nil {
		t.Fatalf("DecomposeTask() error = %v", err)
	}

	if len(steps) != 1 {
		t.Fatalf("steps length = %d, want 1", len(steps))
	}
	if steps[0].Name != "list files" {
		t.Errorf("steps[0].Name = %q", steps[0].Name)
	}
}

func TestDecomposeTask_SendsPrompt(t *testing.T) {
	p, lastReq := newTestProvider(t, `[{"name":"n","description":"d","command":"true","dependencies":[]}]`)

	if _, err := p.DecomposeTask(context.Background(), "compress the logs"); err != nil {
		t.Fatalf("DecomposeTask() error = %v", err)
	}

	if lastReq.Model != "test-model" {
		t.Errorf("request model = %q, want test-model", lastReq.Model)
	}
	if len(lastReq.Messages) != 2 {
		t.Fatalf("messages length = %d, want 2", len(lastReq.Messages))
	}
	if lastReq.Messages[0].Role != "system" {
		t.Errorf("first message role = %q, want system", lastReq.Messages[0].Role)
	}
	if lastReq.Messages[1].Content != "compress the logs" {
		t.Errorf("user message = %q", lastReq.Messages[1].Content)
	}
	if lastReq.Options == nil || lastReq.Options.Temperature != 0.2 {
		t.Errorf("options not forwarded: %+v", lastReq.Options)
	}
}

// =============================================================================
// EXECUTION AND RECOVERY TESTS
// =============================================================================

func TestExecute_ReturnsResponseVerbatim(t *testing.T) {
	content := "Checked the service status.\n" + provider.MarkerSuccess
	p, _ := newTestProvider(t, content)

	out, err := p.Execute(context.Background(), "check whether nginx is healthy")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if out != content {
		t.Errorf("Execute() = %q, want the raw response", out)
	}
	if provider.Classify(out) != provider.OutcomeSuccess {
		t.Errorf("Classify() = %v, want success", provider.Classify(out))
	}
}

func TestHandleError_SendsFailureContext(t *testing.T) {
	p, lastReq := newTestProvider(t, "The port is already bound; try: fuser -k 8080/tcp")

	advice, err := p.HandleError(context.Background(), "start the server", "bind: address already in use")
	if err != nil {
		t.Fatalf("HandleError() error = %v", err)
	}

	if advice == "" {
		t.Error("HandleError() returned empty advice")
	}
	userMsg := lastReq.Messages[len(lastReq.Messages)-1].Content
	if !strings.Contains(userMsg, "start the server") {
		t.Errorf("user message missing instruction: %q", userMsg)
	}
	if !strings.Contains(userMsg, "address already in use") {
		t.Errorf("user message missing error output: %q", userMsg)
	}
}

func TestNewProvider_DefaultModel(t *testing.T) {
	client := NewClientWithConfig(&ClientConfig{DefaultModel: "fallback:7b"})
	p := NewProvider(client, "", 0, 0)

	if p.Model() != "fallback:7b" {
		t.Errorf("Model() = %q, want fallback:7b", p.Model())
	}
}

// =============================================================================
// PARSING TESTS
// =============================================================================

func TestParsePlan_DescriptionFallbacks(t *testing.T) {
	steps, err := parsePlan(`[
  {"name": "build", "description": "", "command": "make", "dependencies": []},
  {"name": "", "description": "", "command": "make install", "dependencies": [1]}
]`)
	if err != nil {
		t.Fatalf("parsePlan() error = %v", err)
	}

	if steps[0].Description != "build" {
		t.Errorf("steps[0].Description = %q, want the name", steps[0].Description)
	}
	if steps[1].Description != "make install" {
		t.Errorf("steps[1].Description = %q, want the command", steps[1].Description)
	}
}

func TestExtractJSONArray(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare array", `[1, 2]`, `[1, 2]`},
		{"prose wrapped", `Sure thing: [1, 2] done.`, `[1, 2]`},
		{"fenced with tag", "```json\n[1, 2]\n```", `[1, 2]`},
		{"fenced no tag", "```\n[1, 2]\n```", `[1, 2]`},
		{"unclosed fence", "```json\n[1, 2]", `[1, 2]`},
		{"no array", "hello", "hello"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := strings.TrimSpace(extractJSONArray(tc.input))
			if got != tc.want {
				t.Errorf("extractJSONArray(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestDepString(t *testing.T) {
	if got := depString("  3 "); got != "3" {
		t.Errorf("depString(string) = %q, want 3", got)
	}
	if got := depString(float64(2)); got != "2" {
		t.Errorf("depString(float64) = %q, want 2", got)
	}
	if got := depString(true); got != "" {
		t.Errorf("depString(bool) = %q, want empty", got)
	}
}
