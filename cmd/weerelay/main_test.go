package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhoran/weerelay/internal/state"
	"github.com/mhoran/weerelay/internal/storage"
)

func testObserverFixture(t *testing.T) (*storage.Storage, *state.App) {
	t.Helper()

	store, err := storage.OpenAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	app := &state.App{Buffers: map[string]*state.Buffer{
		"aaa1": {Pointer: "aaa1", FullName: "irc.libera.#go-nuts"},
	}}

	return store, app
}

func TestObserver_PersistsOffCommitPath(t *testing.T) {
	store, app := testObserverFixture(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	persistCh := make(chan func(), 4)

	obs := observer(logger, store, persistCh)

	obs(state.SetVersion{Version: "4.4.2", Ordinal: 0x04040200}, app)
	obs(state.LastReadLines{Markers: map[string]string{
		"aaa1": "4a7f",
		"zzz9": "dead", // unknown pointer, never persisted
	}}, app)

	// The commit path only enqueues; the database is untouched until
	// the persist goroutine drains the queue.
	assert.Empty(t, store.ServerVersion())
	assert.Empty(t, store.ReadMarker("irc.libera.#go-nuts"))

	require.Len(t, persistCh, 2)

	for i := 0; i < 2; i++ {
		(<-persistCh)()
	}

	assert.Equal(t, "4.4.2", store.ServerVersion())
	assert.Equal(t, "4a7f", store.ReadMarker("irc.libera.#go-nuts"))

	markers, err := store.AllReadMarkers()
	require.NoError(t, err)
	assert.Len(t, markers, 1)
}

func TestObserver_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	store, app := testObserverFixture(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// No capacity and no drainer: the enqueue must give up immediately.
	obs := observer(logger, store, make(chan func()))

	obs(state.SetVersion{Version: "4.4.2"}, app)

	assert.Empty(t, store.ServerVersion())
}
