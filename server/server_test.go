// ABOUTME: Tests for the control room HTTP API using httptest against a real runner and run store.
// ABOUTME: Tools are stubbed so runs complete instantly and deterministically.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/2389-research/controlroom/pipeline"
	"github.com/2389-research/controlroom/pipeline/index"
)

type testEnv struct {
	srv     *Server
	runner  *pipeline.Runner
	store   *pipeline.FSRunStore
	release chan struct{}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, withIndex bool) *testEnv {
	t.Helper()
	ws := t.TempDir()
	if err := os.MkdirAll(filepath.Join(ws, "recipes"), 0o755); err != nil {
		t.Fatal(err)
	}
	recipes := map[string]string{
		"echo.json": `{"id":"echo","description":"echo twice","phase_a":[
			{"id":"one","tool":"echo","output":"first","args":{"text":{"$ref":"task.args.text"}}},
			{"id":"two","tool":"echo","output":"second","args":{"text":{"$ref":"first.text"}}}]}`,
		"slow.json": `{"id":"slow","phase_a":[
			{"id":"wait","tool":"block","output":"w"},
			{"id":"after","tool":"echo","output":"a"}]}`,
	}
	for name, body := range recipes {
		if err := os.WriteFile(filepath.Join(ws, "recipes", name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	store, err := pipeline.NewFSRunStore(filepath.Join(ws, "runs"), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	registry := pipeline.NewRecipeRegistry(nil, ws, quietLogger())
	registry.Reload()

	release := make(chan struct{})
	tools := pipeline.ToolExecutorFunc(func(_ context.Context, call pipeline.ToolCall) (*pipeline.ToolResult, error) {
		if call.Tool == "block" {
			<-release
		}
		out, _ := json.Marshal(map[string]any{"text": call.Args["text"]})
		return &pipeline.ToolResult{Output: string(out), ReceiptID: "r-" + call.StepID}, nil
	})

	cfg := pipeline.RunnerConfig{Recipes: registry, Store: store, Tools: tools, Logger: quietLogger()}
	var idx *index.Index
	if withIndex {
		idx, err = index.Open(filepath.Join(ws, "runs.db"), quietLogger())
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = idx.Close() })
		cfg.Observer = idx
	}
	runner := pipeline.NewRunner(cfg)

	srv, err := New(Config{Runner: runner, Store: store, Recipes: registry, Index: idx, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env := &testEnv{srv: srv, runner: runner, store: store, release: release}
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
		runner.Wait()
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestStartRunAndInspect(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/runs", StartRequest{
		RecipeID:    "echo",
		Args:        map[string]any{"text": "hello"},
		Description: "say hello",
		SessionID:   "sess-1",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /runs status = %d body = %s", rec.Code, rec.Body)
	}
	var started StartResponse
	decodeBody(t, rec, &started)
	if started.RunID == "" {
		t.Fatal("empty run_id")
	}
	env.runner.Wait()

	rec = env.do(t, http.MethodGet, "/runs/"+started.RunID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET run status = %d", rec.Code)
	}
	var m pipeline.Manifest
	decodeBody(t, rec, &m)
	if m.Status != pipeline.StatusDone || m.SessionID != "sess-1" || m.Task.Description != "say hello" {
		t.Errorf("manifest = %+v", m)
	}

	rec = env.do(t, http.MethodGet, "/runs/"+started.RunID+"/steps", nil)
	var steps []pipeline.StepRecord
	decodeBody(t, rec, &steps)
	if len(steps) != 2 {
		t.Fatalf("steps = %+v", steps)
	}

	rec = env.do(t, http.MethodGet, "/runs/"+started.RunID+"/cache", nil)
	var cache map[string]pipeline.CacheSlot
	decodeBody(t, rec, &cache)
	second, ok := cache["second"].Data.(map[string]any)
	if !ok || second["text"] != "hello" {
		t.Errorf("second slot = %#v, want text carried through refs", cache["second"])
	}
}

func TestStartRunErrors(t *testing.T) {
	env := newTestEnv(t, false)
	tests := []struct {
		name string
		body any
		want int
	}{
		{"unknown recipe", StartRequest{RecipeID: "ghost"}, http.StatusNotFound},
		{"missing recipe id", StartRequest{}, http.StatusBadRequest},
		{"bad json", "{not json", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/runs", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
			var body map[string]string
			decodeBody(t, rec, &body)
			if body["error"] == "" {
				t.Error("error body missing")
			}
		})
	}

	runs, err := env.store.ListRuns(pipeline.RunFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("%d runs created by failed starts", len(runs))
	}
}

func TestUnknownRunIs404(t *testing.T) {
	env := newTestEnv(t, false)
	for _, path := range []string{"/runs/nope", "/runs/nope/steps", "/runs/nope/cache", "/runs/nope/graph"} {
		if rec := env.do(t, http.MethodGet, path, nil); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, rec.Code)
		}
	}
}

func TestCancelRun(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/runs/not-a-run/cancel", nil)
	var resp CancelResponse
	decodeBody(t, rec, &resp)
	if resp.Cancelled {
		t.Error("cancel of unknown run reported true")
	}

	rec = env.do(t, http.MethodPost, "/runs", StartRequest{RecipeID: "slow"})
	var started StartResponse
	decodeBody(t, rec, &started)

	rec = env.do(t, http.MethodPost, "/runs/"+started.RunID+"/cancel", nil)
	decodeBody(t, rec, &resp)
	if !resp.Cancelled {
		t.Fatal("cancel of live run reported false")
	}
	close(env.release)
	env.runner.Wait()

	m, err := env.store.ReadManifest(started.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != pipeline.StatusCancelled {
		t.Errorf("Status = %s, want cancelled", m.Status)
	}
}

func TestListRunsFilters(t *testing.T) {
	env := newTestEnv(t, false)
	for i := 0; i < 2; i++ {
		env.do(t, http.MethodPost, "/runs", StartRequest{RecipeID: "echo", Args: map[string]any{"text": "x"}})
	}
	env.runner.Wait()

	tests := []struct {
		query string
		code  int
		count int
	}{
		{"", http.StatusOK, 2},
		{"?status=done", http.StatusOK, 2},
		{"?status=failed", http.StatusOK, 0},
		{"?recipe=echo", http.StatusOK, 2},
		{"?recipe=slow", http.StatusOK, 0},
		{"?status=exploded", http.StatusBadRequest, -1},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/runs"+tt.query, nil)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d", rec.Code, tt.code)
			}
			if tt.count < 0 {
				return
			}
			var runs []pipeline.Manifest
			decodeBody(t, rec, &runs)
			if len(runs) != tt.count {
				t.Errorf("got %d runs, want %d", len(runs), tt.count)
			}
		})
	}
}

func TestRecipes(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/recipes", nil)
	var list []pipeline.Recipe
	decodeBody(t, rec, &list)
	if len(list) != 2 || list[0].ID != "echo" || list[1].ID != "slow" {
		t.Errorf("recipes = %+v", list)
	}

	rec = env.do(t, http.MethodGet, "/recipes/echo", nil)
	var one pipeline.Recipe
	decodeBody(t, rec, &one)
	if one.Description != "echo twice" || len(one.PhaseA) != 2 {
		t.Errorf("recipe = %+v", one)
	}

	if rec := env.do(t, http.MethodGet, "/recipes/ghost", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown recipe status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/recipes/reload", nil)
	var report pipeline.ReloadReport
	decodeBody(t, rec, &report)
	if report.Project != 2 {
		t.Errorf("reload report = %+v", report)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, false)
	if rec := env.do(t, http.MethodGet, "/stats", nil); rec.Code != http.StatusNotFound {
		t.Errorf("stats without index status = %d, want 404", rec.Code)
	}

	env = newTestEnv(t, true)
	env.do(t, http.MethodPost, "/runs", StartRequest{RecipeID: "echo", Args: map[string]any{"text": "x"}})
	env.runner.Wait()

	rec := env.do(t, http.MethodGet, "/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats StatsResponse
	decodeBody(t, rec, &stats)
	if stats.Counts[pipeline.StatusDone] != 1 {
		t.Errorf("counts = %v", stats.Counts)
	}
	if len(stats.Active) != 0 {
		t.Errorf("active = %v", stats.Active)
	}
}

func TestGraphs(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/runs", StartRequest{RecipeID: "echo", Args: map[string]any{"text": "hi"}})
	var started StartResponse
	decodeBody(t, rec, &started)
	env.runner.Wait()

	rec = env.do(t, http.MethodGet, "/runs/"+started.RunID+"/graph", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("run graph status = %d body = %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/vnd.graphviz") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "one -> two") || !strings.Contains(body, "#4CAF50") {
		t.Errorf("run graph = %s", body)
	}

	rec = env.do(t, http.MethodGet, "/recipes/echo/graph", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `one -> two [label="first", style="dashed"]`) {
		t.Errorf("recipe graph %d: %s", rec.Code, rec.Body)
	}

	if rec := env.do(t, http.MethodGet, "/recipes/echo/graph?format=gif", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("gif status = %d, want 400", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/recipes/nope/graph", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown recipe graph status = %d, want 404", rec.Code)
	}
}
