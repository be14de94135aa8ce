// Package relay implements a client for the WeeChat relay protocol: a
// binary-framed message codec, a connection state machine, and the
// transformer that projects relay messages into application state.
package relay

import "time"

// Envelope is one decoded relay message. ID is the message-kind tag:
// tags prefixed with "_" are server-pushed incremental events, all
// other tags echo the identifier the client chose when issuing the
// request the message answers.
type Envelope struct {
	ID         string
	Length     int
	Compressed bool
	Objects    []Object
}

// Object is one typed object inside an envelope. Exactly one of Hda,
// Inf, or Value is populated depending on Type.
type Object struct {
	Type  string
	Hda   *Hda
	Inf   *Inf
	Value any
}

// Hda is a decoded hdata object: a keyed table of items, each carrying
// its pointer path plus the values named in Keys.
type Hda struct {
	HPath string
	Keys  []HdaKey
	Items []HdaItem
}

// HdaKey names one column of an hdata and its wire type tag.
type HdaKey struct {
	Name string
	Type string
}

// HdaItem is one hdata row. Pointers holds the p-path (one pointer per
// h-path element, without the 0x prefix); Values is keyed by HdaKey
// name.
type HdaItem struct {
	Pointers []string
	Values   map[string]any
}

// LastPointer returns the terminal element of the item's pointer chain,
// or "" when the chain is empty.
func (it HdaItem) LastPointer() string {
	if len(it.Pointers) == 0 {
		return ""
	}

	return it.Pointers[len(it.Pointers)-1]
}

// Inf is a decoded info object: a named string value.
type Inf struct {
	Name  string
	Value string
}

// Scalar accessors tolerate the wire's mix of int, lon, and chr for
// numeric fields and return the zero value for absent keys.

func itemString(it HdaItem, key string) string {
	if v, ok := it.Values[key].(string); ok {
		return v
	}

	return ""
}

func itemInt64(it HdaItem, key string) (int64, bool) {
	switch v := it.Values[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case byte:
		return int64(v), true
	}

	return 0, false
}

func itemBool(it HdaItem, key string) bool {
	n, _ := itemInt64(it, key)

	return n != 0
}

func itemTime(it HdaItem, key string) time.Time {
	if v, ok := it.Values[key].(time.Time); ok {
		return v
	}

	return time.Time{}
}

func itemStrings(it HdaItem, key string) []string {
	arr, ok := it.Values[key].([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(arr))

	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}

	return out
}
