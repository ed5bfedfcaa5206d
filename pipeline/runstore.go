// ABOUTME: Defines the persisted run model (Manifest, StepRecord, CacheSlot) and the RunStore interface.
// ABOUTME: Provides run ID generation using monotonic ULIDs and the status/phase vocabulary of a run.
package pipeline

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the lifecycle state of a run. Anything other than StatusRunning is terminal.
type Status string

const (
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusRunning || s.Terminal()
}

// Phase markers recorded on the manifest.
const (
	PhaseA         = "a"
	PhaseAComplete = "a_complete"
)

// Step record statuses.
const (
	StepSucceeded = "success"
	StepFailed    = "failed"
)

// ErrRunNotFound is returned when a run directory does not exist.
var ErrRunNotFound = errors.New("run not found")

// TaskMeta is the task metadata a run was started with. InitialArgs and Args
// hold the same map so references spelled either way resolve identically.
type TaskMeta struct {
	Description string         `json:"description"`
	InitialArgs map[string]any `json:"initial_args"`
	Args        map[string]any `json:"args"`
}

// node returns the metadata as a resolvable tree for the "task" namespace.
func (t TaskMeta) node() map[string]any {
	initial := t.InitialArgs
	if initial == nil {
		initial = map[string]any{}
	}
	args := t.Args
	if args == nil {
		args = initial
	}
	return map[string]any{
		"description":  t.Description,
		"initial_args": initial,
		"args":         args,
	}
}

// Manifest is the status/progress record of one run, stored as manifest.json.
type Manifest struct {
	RunID            string     `json:"run_id"`
	RecipeID         string     `json:"recipe_id"`
	SessionID        string     `json:"session_id"`
	Status           Status     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	Task             TaskMeta   `json:"task"`
	CurrentStepIndex int        `json:"current_step_index"`
	TotalSteps       int        `json:"total_steps"`
	Phase            string     `json:"phase"`
	Error            *string    `json:"error"`
}

// StepRecord is one immutable line of the append-only step log.
type StepRecord struct {
	StepIndex     int       `json:"step_index"`
	StepID        string    `json:"step_id"`
	Phase         string    `json:"phase"`
	Tool          string    `json:"tool"`
	Status        string    `json:"status"`
	OutputSlot    string    `json:"output_slot"`
	ReceiptID     string    `json:"receipt_id"`
	OutputHash    string    `json:"output_hash"`
	OutputPreview string    `json:"output_preview"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	Error         *string   `json:"error"`
}

// CacheSlot is the persisted result of one successful step. Data holds the
// parsed JSON output when the output parses, otherwise the raw text.
type CacheSlot struct {
	Type      string `json:"type"`
	ReceiptID string `json:"receipt_id"`
	Hash      string `json:"hash"`
	Summary   string `json:"summary"`
	Data      any    `json:"data"`
}

// Cache maps output slot names to their slots.
type Cache map[string]CacheSlot

// nodes converts the cache into the tree shape the resolver walks.
func (c Cache) nodes() map[string]any {
	out := make(map[string]any, len(c))
	for name, slot := range c {
		out[name] = map[string]any{
			"type":       slot.Type,
			"receipt_id": slot.ReceiptID,
			"hash":       slot.Hash,
			"summary":    slot.Summary,
			"data":       slot.Data,
		}
	}
	return out
}

// RunFilter holds optional equality filters for ListRuns. Empty fields match everything.
type RunFilter struct {
	Status   Status
	RecipeID string
}

// Match reports whether m passes the filter.
func (f RunFilter) Match(m *Manifest) bool {
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.RecipeID != "" && m.RecipeID != f.RecipeID {
		return false
	}
	return true
}

// RunStore persists run state isolated by run identifier.
type RunStore interface {
	CreateRun(m *Manifest) error
	UpdateManifest(m *Manifest) error
	ReadManifest(runID string) (*Manifest, error)
	AppendStep(runID string, rec StepRecord) error
	ReadSteps(runID string) ([]StepRecord, error)
	WriteCache(runID string, cache Cache) error
	ReadCache(runID string) (Cache, error)
	ListRuns(filter RunFilter) ([]*Manifest, error)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// GenerateRunID returns a new lowercase ULID. ULIDs sort by creation time and
// carry 80 bits of randomness, so concurrent starts never collide.
func GenerateRunID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String())
}
