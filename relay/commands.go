package relay

import (
	"fmt"
	"strings"
)

// Request tags the client uses for snapshot fetches. The relay echoes
// them as the id of the corresponding response message.
const (
	tagVersion       = "version"
	tagBuffers       = "buffers"
	tagHotlist       = "hotlist"
	tagLastReadLines = "last_read_lines"
	tagLines         = "lines"
	tagNicklist      = "nicklist"
)

// bufferKeys lists the hdata columns requested for the buffers snapshot.
const bufferKeys = "id,local_variables,notify,number,full_name,short_name,title,hidden,type"

// lineKeys lists the hdata columns requested for line fetches.
const lineKeys = "id,buffer,date,date_printed,displayed,highlight,message,prefix,tags_array"

// escapeInitValue escapes commas and backslashes in init option values
// as required by the relay's init command syntax.
func escapeInitValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)

	return strings.ReplaceAll(v, ",", `\,`)
}

// InitCommand builds the plaintext-password init line.
func InitCommand(password, compression string) string {
	return fmt.Sprintf("init password=%s,compression=%s", escapeInitValue(password), compression)
}

// InitHashCommand builds the hashed-password init line used after a
// handshake exchange (relay 2.9+).
func InitHashCommand(algo, saltHex string, iterations int, hashHex, compression string) string {
	return fmt.Sprintf("init password_hash=%s:%s:%d:%s,compression=%s",
		algo, saltHex, iterations, hashHex, compression)
}

// HandshakeCommand negotiates hashed-password authentication.
func HandshakeCommand() string {
	return "handshake password_hash_algo=pbkdf2+sha256"
}

// VersionCommand probes the server version.
func VersionCommand() string {
	return fmt.Sprintf("(%s) info version", tagVersion)
}

// BuffersCommand requests the full conversation snapshot.
func BuffersCommand() string {
	return fmt.Sprintf("(%s) hdata buffer:gui_buffers(*) %s", tagBuffers, bufferKeys)
}

// HotlistCommand requests the unread counters.
func HotlistCommand() string {
	return fmt.Sprintf("(%s) hdata hotlist:gui_hotlist(*) buffer,count", tagHotlist)
}

// LastReadLinesCommand requests the per-buffer read markers.
func LastReadLinesCommand() string {
	return fmt.Sprintf("(%s) hdata buffer:gui_buffers(*)/own_lines/last_read_line/data buffer", tagLastReadLines)
}

// SyncCommand starts the incremental update stream.
func SyncCommand() string {
	return "sync"
}

// LinesCommand requests the most recent count lines of one buffer. The
// pointer is rendered as a 0x-prefixed hex literal and the negative
// count selects from the end of the log.
func LinesCommand(pointer string, count int) string {
	return fmt.Sprintf("(%s) hdata buffer:0x%s/own_lines/last_line(-%d)/data %s",
		tagLines, pointer, count, lineKeys)
}

// NicklistCommand requests the presence list of one buffer.
func NicklistCommand(pointer string) string {
	return fmt.Sprintf("(%s) nicklist 0x%s", tagNicklist, pointer)
}

// InputCommand sends text to a buffer identified by pointer or name.
func InputCommand(target, text string) string {
	return fmt.Sprintf("input %s %s", target, text)
}

// MarkReadCommands clears a buffer's hotlist entry server-side and
// moves its read marker to the end.
func MarkReadCommands(pointer string) []string {
	return []string{
		fmt.Sprintf("input 0x%s /buffer set hotlist -1", pointer),
		fmt.Sprintf("input 0x%s /input set_unread_current_buffer", pointer),
	}
}

// PingCommand sends a liveness probe; the relay answers with _pong
// echoing the argument.
func PingCommand(token string) string {
	return "ping " + token
}

// QuitCommand closes the session gracefully.
func QuitCommand() string {
	return "quit"
}
