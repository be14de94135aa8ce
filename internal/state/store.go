package state

import (
	"context"
	"log/slog"
	"sync"
)

// App is the complete projected application state. It is owned by the
// store's run loop; mutations receive it directly and may read it
// before writing, which is how state-dependent updates (snapshot diffs,
// hotlist clears) observe pre-mutation state.
type App struct {
	Connected      bool
	Version        string
	VersionOrdinal uint32
	CurrentBuffer  string
	Notification   *Notification

	Buffers   map[string]*Buffer
	Lines     map[string][]Line
	Nicklists map[string][]Nick
	Hotlists  map[string]Hotlist
}

func newApp() *App {
	return &App{
		Buffers:   make(map[string]*Buffer),
		Lines:     make(map[string][]Line),
		Nicklists: make(map[string][]Nick),
		Hotlists:  make(map[string]Hotlist),
	}
}

// closeBuffer removes a buffer and everything derived from it in one
// logical transaction: unread counters, presence list, message log, and
// the current-buffer reference when it pointed here.
func (a *App) closeBuffer(pointer string) {
	delete(a.Buffers, pointer)
	delete(a.Hotlists, pointer)
	delete(a.Nicklists, pointer)
	delete(a.Lines, pointer)

	if a.CurrentBuffer == pointer {
		a.CurrentBuffer = ""
	}
}

// Mutation is one atomic state change. Apply runs only on the store's
// run loop goroutine, so it may freely read app before writing.
type Mutation interface {
	Apply(app *App)
}

// Store serializes mutation application behind a single-writer queue
// and provides locked read access for every other goroutine.
type Store struct {
	logger *slog.Logger

	mu  sync.RWMutex
	app *App

	mutCh chan Mutation

	// snapshotCh is closed and replaced each time a full buffers
	// snapshot commits, waking everyone blocked in WaitForSnapshot.
	snapshotCh chan struct{}

	// observer, when set, is invoked after each mutation commits.
	// Runs on the run loop goroutine; keep it fast.
	observer func(Mutation, *App)
}

// NewStore creates an empty store. Run must be started before Apply
// will make progress.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		logger:     logger,
		app:        newApp(),
		mutCh:      make(chan Mutation, 256),
		snapshotCh: make(chan struct{}),
	}
}

// SetObserver installs the post-commit hook. Call before Run.
func (s *Store) SetObserver(fn func(Mutation, *App)) {
	s.observer = fn
}

// Apply enqueues a mutation. Mutations commit in enqueue order; the
// call itself is fire-and-forget.
func (s *Store) Apply(m Mutation) {
	if m == nil {
		return
	}

	s.mutCh <- m
}

// Run drains the mutation queue until ctx is cancelled. It is the only
// goroutine that writes to the app state.
func (s *Store) Run(ctx context.Context) error {
	for {
		select {
		case m := <-s.mutCh:
			s.commit(m)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Store) commit(m Mutation) {
	s.mu.Lock()

	m.Apply(s.app)

	var wake chan struct{}

	if _, ok := m.(BuffersSnapshot); ok {
		wake = s.snapshotCh
		s.snapshotCh = make(chan struct{})
	}

	if s.observer != nil {
		s.observer(m, s.app)
	}

	s.mu.Unlock()

	if wake != nil {
		close(wake)
	}
}

// WaitForSnapshot blocks until the next full buffers snapshot commits
// or ctx is cancelled. There is deliberately no timeout; liveness is
// the connection's contract, not the waiter's.
func (s *Store) WaitForSnapshot(ctx context.Context) error {
	s.mu.RLock()
	ch := s.snapshotCh
	s.mu.RUnlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View runs fn with read access to the app state.
func (s *Store) View(fn func(app *App)) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fn(s.app)
}

// Connected reports the projected connectivity flag.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.app.Connected
}

// Version returns the negotiated server version string.
func (s *Store) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.app.Version
}

// Buffer returns a copy of the buffer at pointer.
func (s *Store) Buffer(pointer string) (Buffer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.app.Buffers[pointer]
	if !ok {
		return Buffer{}, false
	}

	return *b, true
}

// BufferByID returns a copy of the buffer whose numeric identifier
// matches id. Used by notification reconciliation, where the alert
// references an identifier that may predate this session's pointers.
func (s *Store) BufferByID(id int64) (Buffer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.app.Buffers {
		if b.ID == id {
			return *b, true
		}
	}

	return Buffer{}, false
}

// BufferByName returns a copy of the buffer whose full or short name
// matches name.
func (s *Store) BufferByName(name string) (Buffer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.app.Buffers {
		if b.FullName == name || b.ShortName == name {
			return *b, true
		}
	}

	return Buffer{}, false
}

// Lines returns a copy of a buffer's message log, newest first.
func (s *Store) Lines(pointer string) []Line {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := s.app.Lines[pointer]
	out := make([]Line, len(lines))
	copy(out, lines)

	return out
}

// Nicklist returns a copy of a buffer's presence list.
func (s *Store) Nicklist(pointer string) []Nick {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nicks := s.app.Nicklists[pointer]
	out := make([]Nick, len(nicks))
	copy(out, nicks)

	return out
}

// Hotlist returns a buffer's unread counters.
func (s *Store) Hotlist(pointer string) (Hotlist, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.app.Hotlists[pointer]

	return h, ok
}

// Notification returns the current notification record, or nil.
func (s *Store) Notification() *Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.app.Notification == nil {
		return nil
	}

	n := *s.app.Notification

	return &n
}

// CurrentBuffer returns the pointer of the buffer in focus, or "".
func (s *Store) CurrentBuffer() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.app.CurrentBuffer
}
