package outbox

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSignal_AppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.jsonl")
	ob, err := New(path, 90)
	require.NoError(t, err)

	require.NoError(t, ob.WriteSignal("key-1", map[string]string{"ticker": "AAPL"}))
	require.NoError(t, ob.WriteSignal("key-2", map[string]string{"ticker": "MSFT"}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "signal", entries[0].Type)
	assert.Equal(t, "key-1", entries[0].IdempotencyKey)
	assert.Equal(t, "key-2", entries[1].IdempotencyKey)
}

func TestHasRecent_WithinWindow(t *testing.T) {
	ob, err := New(filepath.Join(t.TempDir(), "signals.jsonl"), 90)
	require.NoError(t, err)

	require.NoError(t, ob.WriteSignal("key-1", "payload"))

	dup, err := ob.HasRecent("key-1")
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = ob.HasRecent("key-2")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestHasRecent_ZeroWindowNeverMatches(t *testing.T) {
	ob, err := New(filepath.Join(t.TempDir(), "signals.jsonl"), 0)
	require.NoError(t, err)

	require.NoError(t, ob.WriteSignal("key-1", "payload"))

	dup, err := ob.HasRecent("key-1")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestHasRecent_MissingFile(t *testing.T) {
	ob, err := New(filepath.Join(t.TempDir(), "never-written.jsonl"), 90)
	require.NoError(t, err)

	dup, err := ob.HasRecent("key-1")
	require.NoError(t, err)
	assert.False(t, dup)
}
