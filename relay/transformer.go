package relay

import (
	"log/slog"
	"strconv"

	"github.com/mhoran/weerelay/internal/state"
)

// Transformer turns decoded envelopes into state mutations. It is
// total over message kinds: anything it does not understand is logged
// and dropped, since the relay stream is a superset of what this
// client consumes.
type Transformer struct {
	logger *slog.Logger
}

// NewTransformer creates a transformer.
func NewTransformer(logger *slog.Logger) *Transformer {
	return &Transformer{logger: logger}
}

// Transform maps one envelope to zero or one mutation. Nil means the
// message either needs no state change or is handled elsewhere (pong
// replies are consumed by the connection's liveness waiters).
func (t *Transformer) Transform(env *Envelope) state.Mutation {
	switch env.ID {
	case "version":
		return t.version(env)
	case "buffers", "listbuffers":
		return t.buffersSnapshot(env)
	case "_buffer_opened":
		return t.bufferOpened(env)
	case "_buffer_closing":
		return t.bufferClosing(env)
	case "_buffer_renamed":
		return t.bufferRenamed(env)
	case "_buffer_title_changed":
		return t.bufferTitleChanged(env)
	case "_buffer_localvar_added", "_buffer_localvar_changed", "_buffer_localvar_removed":
		return t.bufferLocalVars(env)
	case "_buffer_hidden":
		return t.bufferHidden(env, true)
	case "_buffer_unhidden":
		return t.bufferHidden(env, false)
	case "_buffer_cleared":
		return t.bufferCleared(env)
	case "lines":
		return t.linesFetched(env)
	case "_buffer_line_added":
		return t.lineAdded(env)
	case "last_read_lines":
		return t.lastReadLines(env)
	case "hotlist":
		return t.hotlist(env)
	case "nicklist", "_nicklist":
		return t.nicklist(env)
	case "_nicklist_diff":
		return t.nicklistDiff(env)
	case "_pong":
		return nil
	case "_upgrade":
		// The relay is restarting in place; project a disconnect and
		// let the lifecycle layer drive the reconnect.
		return state.SetConnected{Connected: false}
	default:
		t.logger.Debug("ignoring unhandled message kind", slog.String("id", env.ID))

		return nil
	}
}

// firstHda returns the first hdata object of the envelope, or nil.
func firstHda(env *Envelope) *Hda {
	for _, obj := range env.Objects {
		if obj.Type == typeHda && obj.Hda != nil {
			return obj.Hda
		}
	}

	return nil
}

func (t *Transformer) version(env *Envelope) state.Mutation {
	for _, obj := range env.Objects {
		if obj.Type == typeInf && obj.Inf != nil {
			return state.SetVersion{
				Version: obj.Inf.Value,
				Ordinal: VersionOrdinal(obj.Inf.Value),
			}
		}
	}

	return nil
}

// bufferID resolves a conversation's numeric identifier: the explicit
// id when the server sends one, otherwise the session pointer parsed
// as base-16.
func bufferID(it HdaItem) int64 {
	if id, ok := itemInt64(it, "id"); ok {
		return id
	}

	id, _ := strconv.ParseInt(it.Pointers[0], 16, 64)

	return id
}

func localVars(it HdaItem) map[string]string {
	raw, ok := it.Values["local_variables"].(map[string]any)
	if !ok {
		return map[string]string{}
	}

	vars := make(map[string]string, len(raw))

	for k, v := range raw {
		if s, ok := v.(string); ok {
			vars[k] = s
		}
	}

	return vars
}

func bufferFromItem(it HdaItem) state.Buffer {
	number, _ := itemInt64(it, "number")
	notify, _ := itemInt64(it, "notify")
	btype, _ := itemInt64(it, "type")

	return state.Buffer{
		Pointer:        it.Pointers[0],
		ID:             bufferID(it),
		Number:         int(number),
		FullName:       itemString(it, "full_name"),
		ShortName:      itemString(it, "short_name"),
		Title:          itemString(it, "title"),
		Notify:         int(notify),
		Hidden:         itemBool(it, "hidden"),
		Type:           int(btype),
		LocalVariables: localVars(it),
	}
}

func (t *Transformer) buffersSnapshot(env *Envelope) state.Mutation {
	hda := firstHda(env)
	if hda == nil {
		return nil
	}

	buffers := make(map[string]*state.Buffer, len(hda.Items))

	for _, it := range hda.Items {
		if len(it.Pointers) == 0 {
			continue
		}

		b := bufferFromItem(it)
		buffers[b.Pointer] = &b
	}

	return state.BuffersSnapshot{Buffers: buffers}
}

func (t *Transformer) bufferOpened(env *Envelope) state.Mutation {
	hda := firstHda(env)
	if hda == nil || len(hda.Items) == 0 || len(hda.Items[0].Pointers) == 0 {
		return nil
	}

	return state.BufferOpened{Buffer: bufferFromItem(hda.Items[0])}
}

func (t *Transformer) bufferClosing(env *Envelope) state.Mutation {
	hda := firstHda(env)
	if hda == nil || len(hda.Items) == 0 || len(hda.Items[0].Pointers) == 0 {
		return nil
	}

	return state.BufferClosed{Pointer: hda.Items[0].Pointers[0]}
}

func (t *Transformer) bufferRenamed(env *Envelope) state.Mutation {
	hda := firstHda(env)
	if hda == nil || len(hda.Items) == 0 || len(hda.Items[0].Pointers) == 0 {
		return nil
	}

	it := hda.Items[0]

	return state.BufferRenamed{
		Pointer:   it.Pointers[0],
		FullName:  itemString(it, "full_name"),
		ShortName: itemString(it, "short_name"),
	}
}

func (t *Transformer) bufferTitleChanged(env *Envelope) state.Mutation {
	hda := firstHda(env)
	if hda == nil || len(hda.Items) == 0 || len(hda.Items[0].Pointers) == 0 {
		return nil
	}

	it := hda.Items[0]

	return state.BufferTitleChanged{
		Pointer: it.Pointers[0],
		Title:   itemString(it, "title"),
	}
}

func (t *Transformer) bufferLocalVars(env *Envelope) state.Mutation {
	hda := firstHda(env)
	if hda == nil || len(hda.Items) == 0 || len(hda.Items[0].Pointers) == 0 {
		return nil
	}

	it := hda.Items[0]

	return state.BufferLocalVarsChanged{
		Pointer: it.Pointers[0],
		Vars:    localVars(it),
	}
}

func (t *Transformer) bufferHidden(env *Envelope, hidden bool) state.Mutation {
	hda := firstHda(env)
	if hda == nil || len(hda.Items) == 0 || len(hda.Items[0].Pointers) == 0 {
		return nil
	}

	return state.BufferHiddenChanged{Pointer: hda.Items[0].Pointers[0], Hidden: hidden}
}

func (t *Transformer) bufferCleared(env *Envelope) state.Mutation {
	hda := firstHda(env)
	if hda == nil || len(hda.Items) == 0 || len(hda.Items[0].Pointers) == 0 {
		return nil
	}

	return state.BufferCleared{Pointer: hda.Items[0].Pointers[0]}
}

func lineFromItem(it HdaItem) (state.Line, bool) {
	line := state.Line{
		BufferPointer: itemString(it, "buffer"),
		Prefix:        itemString(it, "prefix"),
		Message:       itemString(it, "message"),
		Date:          itemTime(it, "date"),
		DatePrinted:   itemTime(it, "date_printed"),
		Highlight:     itemBool(it, "highlight"),
		Displayed:     itemBool(it, "displayed"),
		Tags:          itemStrings(it, "tags_array"),
		Pointers:      it.Pointers,
	}

	id, explicit := itemInt64(it, "id")
	line.ID = id

	return line, explicit
}

func (t *Transformer) linesFetched(env *Envelope) state.Mutation {
	hda := firstHda(env)
	if hda == nil || len(hda.Items) == 0 {
		return nil
	}

	lines := make([]state.Line, 0, len(hda.Items))
	explicit := make([]bool, 0, len(hda.Items))

	var pointer string

	for _, it := range hda.Items {
		line, hasID := lineFromItem(it)
		if line.BufferPointer == "" {
			continue
		}

		if pointer == "" {
			pointer = line.BufferPointer
		}

		lines = append(lines, line)
		explicit = append(explicit, hasID)
	}

	if pointer == "" {
		return nil
	}

	return state.LinesFetched{Pointer: pointer, Lines: lines, ExplicitIDs: explicit}
}

func (t *Transformer) lineAdded(env *Envelope) state.Mutation {
	hda := firstHda(env)
	if hda == nil || len(hda.Items) == 0 {
		return nil
	}

	line, explicit := lineFromItem(hda.Items[0])
	if line.BufferPointer == "" {
		return nil
	}

	return state.LineAdded{Line: line, ExplicitID: explicit}
}

func (t *Transformer) lastReadLines(env *Envelope) state.Mutation {
	hda := firstHda(env)
	if hda == nil {
		return nil
	}

	markers := make(map[string]string, len(hda.Items))

	for _, it := range hda.Items {
		buffer := itemString(it, "buffer")
		if buffer == "" || it.LastPointer() == "" {
			continue
		}

		markers[buffer] = it.LastPointer()
	}

	return state.LastReadLines{Markers: markers}
}

func (t *Transformer) hotlist(env *Envelope) state.Mutation {
	hda := firstHda(env)
	if hda == nil {
		return nil
	}

	hotlists := make(map[string]state.Hotlist, len(hda.Items))

	for _, it := range hda.Items {
		buffer := itemString(it, "buffer")
		if buffer == "" {
			continue
		}

		counts, _ := it.Values["count"].([]any)

		hotlists[buffer] = reduceCounts(counts)
	}

	return state.HotlistSnapshot{Hotlists: hotlists}
}

// reduceCounts folds the wire's 4-tuple of priority counts into the
// three named tallies plus their sum. Priority 0 (joins/parts) is
// excluded from the sum.
func reduceCounts(counts []any) state.Hotlist {
	at := func(i int) int {
		if i >= len(counts) {
			return 0
		}

		switch v := counts[i].(type) {
		case int:
			return v
		case int64:
			return int(v)
		}

		return 0
	}

	h := state.Hotlist{
		Message:   at(1),
		Private:   at(2),
		Highlight: at(3),
	}
	h.Sum = h.Message + h.Private + h.Highlight

	return h
}

func nickFromItem(it HdaItem) state.Nick {
	group, _ := itemInt64(it, "group")

	return state.Nick{
		Pointers: it.Pointers,
		Name:     itemString(it, "name"),
		Prefix:   itemString(it, "prefix"),
		Color:    itemString(it, "color"),
		Group:    int(group),
	}
}

func (t *Transformer) nicklist(env *Envelope) state.Mutation {
	hda := firstHda(env)
	if hda == nil || len(hda.Items) == 0 {
		return nil
	}

	pointer := hda.Items[0].Pointers[0]
	nicks := make([]state.Nick, 0, len(hda.Items))

	for _, it := range hda.Items {
		nick := nickFromItem(it)
		if nick.Group != 0 {
			// Group headers are display structure, not members.
			continue
		}

		nicks = append(nicks, nick)
	}

	return state.NicklistFetched{Pointer: pointer, Nicks: nicks}
}

func (t *Transformer) nicklistDiff(env *Envelope) state.Mutation {
	hda := firstHda(env)
	if hda == nil || len(hda.Items) == 0 {
		return nil
	}

	pointer := hda.Items[0].Pointers[0]

	var added, removed []state.Nick

	for _, it := range hda.Items {
		nick := nickFromItem(it)
		if nick.Group != 0 {
			continue
		}

		op, _ := itemInt64(it, "_diff")

		switch byte(op) {
		case '+':
			added = append(added, nick)
		case '-':
			removed = append(removed, nick)
		}
	}

	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	return state.NicklistDiff{Pointer: pointer, Added: added, Removed: removed}
}
