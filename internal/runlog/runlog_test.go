package runlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchid/internal/engine/ports"
)

func entry(runID, stage, event string) ports.RunLogEntry {
	return ports.RunLogEntry{
		RunID:   runID,
		AgentID: "analyst",
		Stage:   stage,
		Event:   event,
		At:      time.Now().UTC(),
	}
}

func TestAppendAndReadBack(t *testing.T) {
	log, err := NewFileLog(t.TempDir(), nil)
	require.NoError(t, err)
	defer func() { _ = log.Close() }()

	ctx := context.Background()
	require.NoError(t, log.Append(ctx, entry("run-1", "start", "start")))
	require.NoError(t, log.Append(ctx, entry("run-1", "plan", "end")))
	require.NoError(t, log.Append(ctx, entry("run-1", "respond", "end")))

	entries, err := log.ReadRun("run-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "start", entries[0].Stage)
	assert.Equal(t, "plan", entries[1].Stage)
	assert.Equal(t, "respond", entries[2].Stage)
}

func TestRunsAreIsolated(t *testing.T) {
	log, err := NewFileLog(t.TempDir(), nil)
	require.NoError(t, err)
	defer func() { _ = log.Close() }()

	ctx := context.Background()
	require.NoError(t, log.Append(ctx, entry("run-a", "start", "start")))
	require.NoError(t, log.Append(ctx, entry("run-b", "start", "start")))
	require.NoError(t, log.Append(ctx, entry("run-a", "plan", "end")))

	a, err := log.ReadRun("run-a")
	require.NoError(t, err)
	b, err := log.ReadRun("run-b")
	require.NoError(t, err)
	assert.Len(t, a, 2)
	assert.Len(t, b, 1)
}

func TestAppendAfterCloseReopens(t *testing.T) {
	dir := t.TempDir()
	log, err := NewFileLog(dir, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, log.Append(ctx, entry("run-1", "start", "start")))
	require.NoError(t, log.Close())

	// Entries survive and later appends extend the same file.
	require.NoError(t, log.Append(ctx, entry("run-1", "respond", "end")))
	entries, err := log.ReadRun("run-1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestTerminalEntryReleasesHandle(t *testing.T) {
	log, err := NewFileLog(t.TempDir(), nil)
	require.NoError(t, err)
	defer func() { _ = log.Close() }()

	openHandles := func() int {
		log.mu.Lock()
		defer log.mu.Unlock()
		return len(log.files)
	}

	ctx := context.Background()
	require.NoError(t, log.Append(ctx, entry("run-1", "start", "start")))
	require.NoError(t, log.Append(ctx, entry("run-2", "start", "start")))
	require.Equal(t, 2, openHandles())

	require.NoError(t, log.Append(ctx, entry("run-1", "respond", "end")))
	assert.Equal(t, 1, openHandles(), "finished run's handle is released")

	// A straggler append reopens the file; the record stays intact.
	require.NoError(t, log.Append(ctx, entry("run-1", "respond", "error")))
	entries, err := log.ReadRun("run-1")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestMissingRunIDRejected(t *testing.T) {
	log, err := NewFileLog(t.TempDir(), nil)
	require.NoError(t, err)
	defer func() { _ = log.Close() }()

	assert.Error(t, log.Append(context.Background(), ports.RunLogEntry{Stage: "start"}))
}

func TestSanitizeKeepsPathsInsideDir(t *testing.T) {
	log, err := NewFileLog(t.TempDir(), nil)
	require.NoError(t, err)
	defer func() { _ = log.Close() }()

	require.NoError(t, log.Append(context.Background(), entry("../../etc/passwd", "start", "start")))
	entries, err := log.ReadRun("../../etc/passwd")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
