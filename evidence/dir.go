package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IndexFile lists every attachment written by a Dir recorder, one JSON object per line.
const IndexFile = "attachments.jsonl"

// IndexEntry is one line of IndexFile.
type IndexEntry struct {
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// Dir writes Allure-style attachment files into a results directory.
type Dir struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewDir creates the results directory if needed.
func NewDir(path string) (*Dir, error) {
	if path == "" {
		return nil, fmt.Errorf("evidence: empty results directory")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("evidence: create %s: %w", path, err)
	}
	return &Dir{path: path, now: time.Now}, nil
}

// Path returns the results directory.
func (d *Dir) Path() string { return d.path }

// Attach implements Recorder
func (d *Dir) Attach(ctx context.Context, name, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	source := uuid.NewString() + "-attachment.txt"
	if err := os.WriteFile(filepath.Join(d.path, source), []byte(content), 0o644); err != nil {
		return fmt.Errorf("evidence: write %s: %w", name, err)
	}

	line, err := json.Marshal(IndexEntry{
		Name:      name,
		Source:    source,
		Type:      "text/plain",
		CreatedAt: d.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("evidence: encode index entry: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(d.path, IndexFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("evidence: open index: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("evidence: append index: %w", err)
	}
	return nil
}
