package state

import "strconv"

// LineIDMinVersion is the packed server version (4.4.0) from which the
// line hdata carries a trustworthy explicit id. Below it the id is
// always derived from the line pointer, even when an id key is present.
const LineIDMinVersion uint32 = 0x04040000

// derivePointerID parses a session pointer as a base-16 integer, the
// fallback identity for servers that omit explicit ids.
func derivePointerID(pointer string) int64 {
	id, err := strconv.ParseInt(pointer, 16, 64)
	if err != nil {
		return 0
	}

	return id
}

// SetConnected flips the projected connectivity flag.
type SetConnected struct {
	Connected bool
}

func (m SetConnected) Apply(app *App) {
	app.Connected = m.Connected
}

// SetVersion records the negotiated server version.
type SetVersion struct {
	Version string
	Ordinal uint32
}

func (m SetVersion) Apply(app *App) {
	app.Version = m.Version
	app.VersionOrdinal = m.Ordinal
}

// BuffersSnapshot replaces the conversation collection with server
// truth. Buffers known locally but absent from the snapshot are closed
// first, against pre-replacement state, so their cascades (hotlist,
// nicklist, lines, current-buffer clearing) observe the old world.
type BuffersSnapshot struct {
	Buffers map[string]*Buffer
}

func (m BuffersSnapshot) Apply(app *App) {
	for pointer := range app.Buffers {
		if _, kept := m.Buffers[pointer]; !kept {
			app.closeBuffer(pointer)
		}
	}

	app.Buffers = make(map[string]*Buffer, len(m.Buffers))

	for pointer, b := range m.Buffers {
		copied := *b
		copied.Pointer = pointer
		app.Buffers[pointer] = &copied
	}
}

// BufferOpened inserts a newly opened buffer.
type BufferOpened struct {
	Buffer Buffer
}

func (m BufferOpened) Apply(app *App) {
	b := m.Buffer
	app.Buffers[b.Pointer] = &b
}

// BufferClosed removes a buffer and cascades.
type BufferClosed struct {
	Pointer string
}

func (m BufferClosed) Apply(app *App) {
	app.closeBuffer(m.Pointer)
}

// BufferRenamed updates a buffer's names.
type BufferRenamed struct {
	Pointer   string
	FullName  string
	ShortName string
}

func (m BufferRenamed) Apply(app *App) {
	b, ok := app.Buffers[m.Pointer]
	if !ok {
		return
	}

	b.FullName = m.FullName
	b.ShortName = m.ShortName
}

// BufferTitleChanged updates a buffer's title.
type BufferTitleChanged struct {
	Pointer string
	Title   string
}

func (m BufferTitleChanged) Apply(app *App) {
	if b, ok := app.Buffers[m.Pointer]; ok {
		b.Title = m.Title
	}
}

// BufferLocalVarsChanged replaces a buffer's local variable map.
type BufferLocalVarsChanged struct {
	Pointer string
	Vars    map[string]string
}

func (m BufferLocalVarsChanged) Apply(app *App) {
	if b, ok := app.Buffers[m.Pointer]; ok {
		b.LocalVariables = m.Vars
	}
}

// BufferHiddenChanged flips a buffer's hidden flag.
type BufferHiddenChanged struct {
	Pointer string
	Hidden  bool
}

func (m BufferHiddenChanged) Apply(app *App) {
	if b, ok := app.Buffers[m.Pointer]; ok {
		b.Hidden = m.Hidden
	}
}

// BufferCleared drops a buffer's message log without closing it.
type BufferCleared struct {
	Pointer string
}

func (m BufferCleared) Apply(app *App) {
	if _, ok := app.Buffers[m.Pointer]; ok {
		app.Lines[m.Pointer] = nil
	}
}

// resolveLineID applies the version-gated identity rule: trust an
// explicit id from servers at or above 4.4.0, otherwise derive from
// the terminal pointer-chain element.
func resolveLineID(line *Line, hasExplicitID bool, ordinal uint32) {
	if hasExplicitID && ordinal >= LineIDMinVersion {
		return
	}

	if len(line.Pointers) > 0 {
		line.ID = derivePointerID(line.Pointers[len(line.Pointers)-1])
	}
}

// LinesFetched replaces a buffer's message log with a fresh fetch,
// newest first. Line ids resolve against the negotiated version at
// apply time.
type LinesFetched struct {
	Pointer     string
	Lines       []Line
	ExplicitIDs []bool
}

func (m LinesFetched) Apply(app *App) {
	if _, ok := app.Buffers[m.Pointer]; !ok {
		// Lines never exist independently of their owning buffer.
		return
	}

	lines := make([]Line, len(m.Lines))

	for i, l := range m.Lines {
		explicit := i < len(m.ExplicitIDs) && m.ExplicitIDs[i]
		resolveLineID(&l, explicit, app.VersionOrdinal)
		lines[i] = l
	}

	app.Lines[m.Pointer] = lines
}

// LineAdded appends one incoming line, newest first, and bumps the
// owning buffer's unread counters when the line lands outside the
// current buffer.
type LineAdded struct {
	Line       Line
	ExplicitID bool
}

func (m LineAdded) Apply(app *App) {
	line := m.Line

	buffer, ok := app.Buffers[line.BufferPointer]
	if !ok {
		return
	}

	resolveLineID(&line, m.ExplicitID, app.VersionOrdinal)

	app.Lines[line.BufferPointer] = append([]Line{line}, app.Lines[line.BufferPointer]...)

	if !line.Displayed || line.BufferPointer == app.CurrentBuffer {
		return
	}

	h := app.Hotlists[line.BufferPointer]

	switch {
	case line.Highlight:
		h.Highlight++
	case buffer.IsPrivate():
		h.Private++
	default:
		h.Message++
	}

	h.Sum++
	app.Hotlists[line.BufferPointer] = h
}

// LastReadLines records per-buffer read markers from the snapshot.
type LastReadLines struct {
	Markers map[string]string
}

func (m LastReadLines) Apply(app *App) {
	for pointer, line := range m.Markers {
		if b, ok := app.Buffers[pointer]; ok {
			b.LastReadLine = line
		}
	}
}

// HotlistSnapshot replaces the unread counters. Entries referencing
// unknown buffers are dropped to keep the collection consistent with
// the primary one.
type HotlistSnapshot struct {
	Hotlists map[string]Hotlist
}

func (m HotlistSnapshot) Apply(app *App) {
	app.Hotlists = make(map[string]Hotlist, len(m.Hotlists))

	for pointer, h := range m.Hotlists {
		if _, ok := app.Buffers[pointer]; ok {
			app.Hotlists[pointer] = h
		}
	}
}

// HotlistCleared removes one buffer's unread counters, the local echo
// of the mark-read commands.
type HotlistCleared struct {
	Pointer string
}

func (m HotlistCleared) Apply(app *App) {
	delete(app.Hotlists, m.Pointer)
}

// CurrentBufferChanged moves focus. Focusing a buffer clears its
// unread counters locally.
type CurrentBufferChanged struct {
	Pointer string
}

func (m CurrentBufferChanged) Apply(app *App) {
	if m.Pointer == "" {
		app.CurrentBuffer = ""

		return
	}

	if _, ok := app.Buffers[m.Pointer]; !ok {
		return
	}

	app.CurrentBuffer = m.Pointer
	delete(app.Hotlists, m.Pointer)
}

// NicklistFetched replaces a buffer's presence list. Group headers are
// expected to be filtered out before the mutation is built.
type NicklistFetched struct {
	Pointer string
	Nicks   []Nick
}

func (m NicklistFetched) Apply(app *App) {
	if _, ok := app.Buffers[m.Pointer]; !ok {
		return
	}

	app.Nicklists[m.Pointer] = m.Nicks
}

// NicklistDiff applies an incremental presence delta: removals first,
// then adds keyed by member name plus pointer chain. A duplicate add
// within one batch leaves the last writer's attributes.
type NicklistDiff struct {
	Pointer string
	Added   []Nick
	Removed []Nick
}

func (m NicklistDiff) Apply(app *App) {
	if _, ok := app.Buffers[m.Pointer]; !ok {
		return
	}

	list := app.Nicklists[m.Pointer]

	for _, gone := range m.Removed {
		key := gone.Key()

		for i := 0; i < len(list); i++ {
			if list[i].Key() == key {
				list = append(list[:i], list[i+1:]...)
				i--
			}
		}
	}

	for _, added := range m.Added {
		key := added.Key()
		replaced := false

		for i := range list {
			if list[i].Key() == key {
				list[i] = added
				replaced = true

				break
			}
		}

		if !replaced {
			list = append(list, added)
		}
	}

	app.Nicklists[m.Pointer] = list
}

// PendingNotification stores a provisional alert awaiting
// reconciliation, displacing any previous record.
type PendingNotification struct {
	Notification Notification
}

func (m PendingNotification) Apply(app *App) {
	n := m.Notification
	n.BufferPointer = ""
	app.Notification = &n
}

// ConfirmedNotification publishes a reconciled alert keyed by the
// conversation's current session pointer.
type ConfirmedNotification struct {
	Notification Notification
}

func (m ConfirmedNotification) Apply(app *App) {
	n := m.Notification
	app.Notification = &n
}

// NotificationCleared drops the notification record, used both after
// consumption and when reconciliation finds no matching conversation.
type NotificationCleared struct{}

func (m NotificationCleared) Apply(app *App) {
	app.Notification = nil
}
