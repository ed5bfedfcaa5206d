// ABOUTME: Receipt storage for tool outputs, one text file per successful call.
// ABOUTME: Receipt identifiers are UUIDs and double as the file name under <workspace>/receipts.
package toolbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrReceiptNotFound is returned by Load for unknown receipt identifiers.
var ErrReceiptNotFound = errors.New("receipt not found")

// ReceiptStore writes tool outputs to disk and reads them back by identifier.
type ReceiptStore struct {
	dir string
}

// NewReceiptStore creates a store rooted at dir. The directory is created lazily.
func NewReceiptStore(dir string) *ReceiptStore {
	return &ReceiptStore{dir: dir}
}

// Dir returns the receipts directory.
func (s *ReceiptStore) Dir() string {
	return s.dir
}

// Store persists output and returns its new receipt identifier.
func (s *ReceiptStore) Store(output string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create receipts dir: %w", err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(s.path(id), []byte(output), 0o644); err != nil {
		return "", fmt.Errorf("write receipt %s: %w", id, err)
	}
	return id, nil
}

// Load returns the output recorded under id.
func (s *ReceiptStore) Load(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: %s", ErrReceiptNotFound, id)
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrReceiptNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("read receipt %s: %w", id, err)
	}
	return string(data), nil
}

func (s *ReceiptStore) path(id string) string {
	return filepath.Join(s.dir, id+".txt")
}
