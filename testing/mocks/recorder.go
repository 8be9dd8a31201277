package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockRecorder provides a testify-based mock implementation of evidence.Recorder.
//
// Example usage:
//
//	rec := &mocks.MockRecorder{}
//	rec.On("Attach", mock.Anything, "HTTP request", mock.Anything).Return(nil)
//	rec.On("Attach", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))
type MockRecorder struct {
	mock.Mock
}

// Attach implements evidence.Recorder
func (m *MockRecorder) Attach(ctx context.Context, name, content string) error {
	arguments := m.Called(ctx, name, content)
	return arguments.Error(0)
}

// AttachedNames returns the attachment names passed to Attach, in call order.
func (m *MockRecorder) AttachedNames() []string {
	var names []string
	for _, call := range m.Calls {
		if call.Method == "Attach" {
			names = append(names, call.Arguments.String(1))
		}
	}
	return names
}
