// Package state holds the locally projected application state and the
// mutation types that are the only way to change it. Mutations are
// applied by a single-writer run loop in the order their triggering
// relay messages arrived.
package state

import "time"

// Buffer is one conversation (channel, query, or server console).
// Pointer is the opaque session handle assigned by the relay for the
// lifetime of the connection and equals the buffer's key in the store.
// ID is the stable numeric identifier: server-supplied when the relay
// sends one, otherwise the pointer parsed as base-16.
type Buffer struct {
	Pointer        string
	ID             int64
	Number         int
	FullName       string
	ShortName      string
	Title          string
	Notify         int
	Hidden         bool
	Type           int
	LocalVariables map[string]string
	LastReadLine   string
}

// Name returns the best display name for the buffer.
func (b *Buffer) Name() string {
	if b.ShortName != "" {
		return b.ShortName
	}

	return b.FullName
}

// IsPrivate reports whether the buffer is a private conversation,
// judged by its local variables.
func (b *Buffer) IsPrivate() bool {
	return b.LocalVariables["type"] == "private"
}

// Line is one message line. Pointers is the wire pointer chain; the
// terminal element identifies the line itself.
type Line struct {
	ID            int64
	BufferPointer string
	Prefix        string
	Message       string
	Date          time.Time
	DatePrinted   time.Time
	Highlight     bool
	Displayed     bool
	Tags          []string
	Pointers      []string
}

// Nick is one presence-list member. Group headers (Group > 0) are
// filtered out before they reach the store.
type Nick struct {
	Pointers []string
	Name     string
	Prefix   string
	Color    string
	Group    int
}

// Key identifies a nick within one buffer's list: the member name plus
// its pointer chain.
func (n Nick) Key() string {
	key := n.Name

	for _, p := range n.Pointers {
		key += "/" + p
	}

	return key
}

// Hotlist is the unread counter for one buffer, reduced from the wire's
// 4-tuple of priority counts. Sum excludes the lowest priority.
type Hotlist struct {
	Message   int
	Private   int
	Highlight int
	Sum       int
}

// Notification is the at-most-one pending or confirmed alert record.
// BufferPointer is empty while pending and set to the conversation's
// current session pointer once reconciled.
type Notification struct {
	Identifier    string
	BufferID      int64
	LineID        int64
	BufferPointer string
}

// Pending reports whether the notification still awaits reconciliation.
func (n *Notification) Pending() bool {
	return n.BufferPointer == ""
}
