package mocks

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerCapturesEntries(t *testing.T) {
	log := NewLogger()
	boom := errors.New("boom")

	log.Warn().Str("operation", "GET /get").Int("attempt", 1).Err(boom).Msgf("[RETRY %d/%d]", 1, 3)
	log.Info().Msg("done")

	entries := log.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "warn", entries[0].Level)
	assert.Equal(t, "[RETRY 1/3]", entries[0].Message)
	assert.Equal(t, "GET /get", entries[0].Fields["operation"])
	assert.Equal(t, 1, entries[0].Fields["attempt"])
	assert.Same(t, boom, entries[0].Err)
	assert.True(t, log.Contains("info", "done"))
	assert.False(t, log.Contains("error", "done"))

	log.Reset()
	assert.Empty(t, log.Entries())
}

func TestLoggerWithFieldsSharesSink(t *testing.T) {
	log := NewLogger()
	child := log.WithFields(map[string]any{"logger": "retry"})

	child.Error().Msg("gave up")

	entries := log.EntriesAt("error")
	require.Len(t, entries, 1)
	assert.Equal(t, "retry", entries[0].Fields["logger"])
}

func TestLoggerConcurrentUse(t *testing.T) {
	log := NewLogger()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Debug().Msg("tick")
		}()
	}
	wg.Wait()
	assert.Len(t, log.EntriesAt("debug"), 20)
}
