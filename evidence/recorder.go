// Package evidence records request/response artifacts for test reports.
//
// Recording is best effort: callers go through SafeAttach, which never lets a
// recorder failure change the outcome of the call being recorded.
package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gaborage/apiprobe/config"
)

// ErrRecorderPanic wraps a panic raised by a Recorder.
var ErrRecorderPanic = errors.New("evidence recorder panicked")

// Recorder stores named text attachments.
type Recorder interface {
	Attach(ctx context.Context, name, content string) error
}

// Nop discards attachments. It is used when reporting is unavailable.
type Nop struct{}

// Attach implements Recorder
func (Nop) Attach(context.Context, string, string) error { return nil }

// Attachment is one recorded artifact.
type Attachment struct {
	Name    string
	Content string
}

// Memory keeps attachments in memory. It is safe for concurrent use.
type Memory struct {
	mu          sync.Mutex
	attachments []Attachment
}

// NewMemory creates an empty in-memory recorder.
func NewMemory() *Memory {
	return &Memory{}
}

// Attach implements Recorder
func (m *Memory) Attach(_ context.Context, name, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachments = append(m.attachments, Attachment{Name: name, Content: content})
	return nil
}

// Attachments returns a copy of everything recorded, in order.
func (m *Memory) Attachments() []Attachment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.attachments)
}

// Find returns the attachments called name.
func (m *Memory) Find(name string) []Attachment {
	var out []Attachment
	for _, a := range m.Attachments() {
		if a.Name == name {
			out = append(out, a)
		}
	}
	return out
}

// Reset drops all attachments.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.attachments = nil
	m.mu.Unlock()
}

// SafeAttach calls rec.Attach, converting panics into errors. A nil recorder
// is a no-op. The returned error is meant for logging only.
func SafeAttach(ctx context.Context, rec Recorder, name, content string) (err error) {
	if rec == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrRecorderPanic, r)
		}
	}()
	return rec.Attach(ctx, name, content)
}

// AttachJSON records v as indented JSON through SafeAttach.
func AttachJSON(ctx context.Context, rec Recorder, name string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return SafeAttach(ctx, rec, name, string(raw))
}

// FromConfig returns a Dir recorder when reporting is enabled and Nop otherwise.
// Enabled reporting without a directory yields Nop and an error wrapping
// config.ErrNotConfigured.
func FromConfig(cfg config.ReportingConfig) (Recorder, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if cfg.AllureDir == "" {
		return Nop{}, fmt.Errorf("evidence: %w", config.NewNotConfiguredError("reporting", "reporting.allure_dir"))
	}
	d, err := NewDir(cfg.AllureDir)
	if err != nil {
		return Nop{}, err
	}
	return d, nil
}
