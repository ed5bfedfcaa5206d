// ABOUTME: Runner drives one run per goroutine through the running → done/failed/cancelled state machine.
// ABOUTME: Each Phase A step resolves its args, calls the ToolExecutor, then persists cache, step log and manifest.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// RecipeSource looks recipes up by identifier. *RecipeRegistry satisfies it.
type RecipeSource interface {
	Get(id string) (*Recipe, bool)
}

// ManifestObserver is notified after every successful manifest write.
type ManifestObserver interface {
	ManifestWritten(m Manifest)
}

// RunnerConfig wires a Runner to its collaborators.
type RunnerConfig struct {
	Recipes RecipeSource
	Store   RunStore
	Tools   ToolExecutor
	Logger  *slog.Logger

	// Observer is optional.
	Observer ManifestObserver

	// BaseContext is handed to tool calls. Cancelling a run never cancels it;
	// run cancellation is observed only between steps.
	BaseContext context.Context

	// PreviewLimit bounds step previews in runes (default DefaultPreviewLimit).
	PreviewLimit int

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Runner starts and tracks pipeline runs.
type Runner struct {
	cfg RunnerConfig

	mu    sync.Mutex
	flags map[string]*atomic.Bool

	wg sync.WaitGroup
}

// StartOption customizes a single Start call.
type StartOption func(*Manifest)

// WithSessionID records the caller's session on the run manifest.
func WithSessionID(id string) StartOption {
	return func(m *Manifest) {
		if id != "" {
			m.SessionID = id
		}
	}
}

// NewRunner creates a Runner. Recipes, Store and Tools are required.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.PreviewLimit <= 0 {
		cfg.PreviewLimit = DefaultPreviewLimit
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Runner{
		cfg:   cfg,
		flags: make(map[string]*atomic.Bool),
	}
}

// run is the state owned by one background worker.
type run struct {
	recipe   Recipe
	manifest Manifest
	cache    Cache
	cancel   *atomic.Bool
}

// Start begins a run of the named recipe and returns its identifier without
// waiting for any step to execute. An unknown recipe is an error wrapping
// ErrRecipeNotFound and creates nothing.
func (r *Runner) Start(recipeID string, args map[string]any, description string, opts ...StartOption) (string, error) {
	recipe, ok := r.cfg.Recipes.Get(recipeID)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrRecipeNotFound, recipeID)
	}
	if args == nil {
		args = map[string]any{}
	}

	now := r.cfg.Now()
	m := Manifest{
		RunID:     GenerateRunID(),
		RecipeID:  recipe.ID,
		SessionID: uuid.NewString(),
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
		Task: TaskMeta{
			Description: description,
			InitialArgs: args,
			Args:        args,
		},
		CurrentStepIndex: 0,
		TotalSteps:       len(recipe.PhaseA),
		Phase:            PhaseA,
	}
	for _, opt := range opts {
		opt(&m)
	}

	if err := r.cfg.Store.CreateRun(&m); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	r.notify(m)

	flag := &atomic.Bool{}
	r.mu.Lock()
	r.flags[m.RunID] = flag
	r.mu.Unlock()

	state := &run{
		recipe:   snapshotRecipe(recipe),
		manifest: m,
		cache:    Cache{},
		cancel:   flag,
	}

	r.cfg.Logger.Info("pipeline: run started",
		"run_id", m.RunID, "recipe_id", recipe.ID, "steps", m.TotalSteps)

	r.wg.Add(1)
	go r.execute(state)

	return m.RunID, nil
}

// Cancel flags a live run for cancellation and reports whether one was found.
// The run stops before its next step; an in-flight tool call always finishes.
func (r *Runner) Cancel(runID string) bool {
	r.mu.Lock()
	flag, ok := r.flags[runID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	flag.Store(true)
	r.cfg.Logger.Info("pipeline: cancellation requested", "run_id", runID)
	return true
}

// Active returns the identifiers of runs that have not reached a terminal state.
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.flags))
	for id := range r.flags {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wait blocks until every started run has reached a terminal state.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) execute(st *run) {
	defer r.wg.Done()
	defer r.release(st.manifest.RunID)

	runID := st.manifest.RunID
	for i, step := range st.recipe.PhaseA {
		if st.cancel.Load() {
			r.finish(st, StatusCancelled, "")
			return
		}

		st.manifest.CurrentStepIndex = i
		r.persistManifest(st)

		started := r.cfg.Now()
		args, err := ResolveArgs(step.Args, st.manifest.Task.node(), st.cache.nodes())
		if err != nil {
			r.failStep(st, i, step, started, err)
			return
		}

		result, err := r.callTool(ToolCall{
			Tool:      step.Tool,
			Args:      args,
			RunID:     runID,
			StepID:    step.ID,
			StepIndex: i,
		})
		if err != nil {
			r.failStep(st, i, step, started, err)
			return
		}

		hash := OutputHash(result.Output)
		preview := Preview(result.Output, r.cfg.PreviewLimit)
		st.cache[step.OutputSlot] = CacheSlot{
			Type:      "pointer",
			ReceiptID: result.ReceiptID,
			Hash:      hash,
			Summary:   preview,
			Data:      parseOutput(result.Output),
		}
		if err := r.cfg.Store.WriteCache(runID, st.cache); err != nil {
			r.cfg.Logger.Warn("pipeline: persist cache", "run_id", runID, "step", step.ID, "error", err)
		}

		r.appendStep(st, StepRecord{
			StepIndex:     i,
			StepID:        step.ID,
			Phase:         PhaseA,
			Tool:          step.Tool,
			Status:        StepSucceeded,
			OutputSlot:    step.OutputSlot,
			ReceiptID:     result.ReceiptID,
			OutputHash:    hash,
			OutputPreview: preview,
			StartedAt:     started,
			CompletedAt:   r.cfg.Now(),
		})
		r.cfg.Logger.Debug("pipeline: step completed",
			"run_id", runID, "step", step.ID, "index", i, "tool", step.Tool)
	}

	if len(st.recipe.PhaseB) > 0 {
		// Phase B is acknowledged, never executed.
		st.manifest.Phase = PhaseAComplete
	}
	r.finish(st, StatusDone, "")
}

// callTool invokes the executor, converting a panic into a step failure.
func (r *Runner) callTool(call ToolCall) (result *ToolResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = &ToolError{Code: "panic", Message: fmt.Sprint(p)}
		}
	}()
	result, err = r.cfg.Tools.ExecuteTool(r.cfg.BaseContext, call)
	if err == nil && result == nil {
		result = &ToolResult{}
	}
	return result, err
}

func (r *Runner) failStep(st *run, index int, step Step, started time.Time, cause error) {
	msg := cause.Error()
	r.appendStep(st, StepRecord{
		StepIndex:   index,
		StepID:      step.ID,
		Phase:       PhaseA,
		Tool:        step.Tool,
		Status:      StepFailed,
		OutputSlot:  step.OutputSlot,
		StartedAt:   started,
		CompletedAt: r.cfg.Now(),
		Error:       &msg,
	})
	r.cfg.Logger.Warn("pipeline: step failed",
		"run_id", st.manifest.RunID, "step", step.ID, "index", index, "error", msg)
	r.finish(st, StatusFailed, fmt.Sprintf("step %q (index %d) failed: %s", step.ID, index, msg))
}

func (r *Runner) appendStep(st *run, rec StepRecord) {
	if err := r.cfg.Store.AppendStep(st.manifest.RunID, rec); err != nil {
		r.cfg.Logger.Warn("pipeline: append step record",
			"run_id", st.manifest.RunID, "step", rec.StepID, "error", err)
	}
}

// finish moves the run into a terminal state exactly once and persists it.
func (r *Runner) finish(st *run, status Status, errMsg string) {
	if st.manifest.Status.Terminal() {
		return
	}
	now := r.cfg.Now()
	st.manifest.Status = status
	st.manifest.CompletedAt = &now
	if errMsg != "" {
		st.manifest.Error = &errMsg
	}
	r.persistManifest(st)
	r.cfg.Logger.Info("pipeline: run finished",
		"run_id", st.manifest.RunID, "status", status, "phase", st.manifest.Phase)
}

func (r *Runner) persistManifest(st *run) {
	st.manifest.UpdatedAt = r.cfg.Now()
	m := st.manifest
	if err := r.cfg.Store.UpdateManifest(&m); err != nil {
		r.cfg.Logger.Warn("pipeline: persist manifest", "run_id", m.RunID, "error", err)
		return
	}
	r.notify(m)
}

func (r *Runner) notify(m Manifest) {
	if r.cfg.Observer != nil {
		r.cfg.Observer.ManifestWritten(m)
	}
}

func (r *Runner) release(runID string) {
	r.mu.Lock()
	delete(r.flags, runID)
	r.mu.Unlock()
}

// parseOutput returns the output decoded as JSON when it parses, otherwise
// the raw text. Raw text is kept as a string so field paths into it fail.
func parseOutput(output string) any {
	var data any
	if err := json.Unmarshal([]byte(output), &data); err != nil {
		return output
	}
	return data
}

func snapshotRecipe(recipe *Recipe) Recipe {
	cp := *recipe
	cp.PhaseA = append([]Step(nil), recipe.PhaseA...)
	cp.PhaseB = append([]Step(nil), recipe.PhaseB...)
	return cp
}
