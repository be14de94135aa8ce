package relay

import "strings"

// Span is a run of text with uniform styling extracted from a raw relay
// string. Fg and Bg are WeeChat palette indices, -1 when unset.
type Span struct {
	Text      string
	Fg        int
	Bg        int
	Bold      bool
	Reverse   bool
	Italic    bool
	Underline bool
}

// Raw string escape bytes used by WeeChat for inline styling.
const (
	escColor     = 0x19
	escSetAttr   = 0x1a
	escUnsetAttr = 0x1b
	escReset     = 0x1c
)

// StripStyles returns the text with all styling escapes removed.
func StripStyles(raw string) string {
	spans := ParseStyles(raw)

	var b strings.Builder

	for _, s := range spans {
		b.WriteString(s.Text)
	}

	return b.String()
}

// ParseStyles splits a raw relay string into styled spans, interpreting
// the 0x19/0x1A/0x1B/0x1C escape family. Unknown or truncated escape
// sequences are dropped rather than rendered.
func ParseStyles(raw string) []Span {
	var spans []Span

	cur := Span{Fg: -1, Bg: -1}

	var text strings.Builder

	flush := func() {
		if text.Len() == 0 {
			return
		}

		cur.Text = text.String()
		spans = append(spans, cur)
		text.Reset()
	}

	i := 0
	for i < len(raw) {
		c := raw[i]

		switch c {
		case escColor:
			flush()
			i = parseColor(raw, i+1, &cur)

		case escSetAttr:
			flush()

			if i+1 < len(raw) {
				applyAttr(raw[i+1], &cur, true)
			}

			i += 2

		case escUnsetAttr:
			flush()

			if i+1 < len(raw) {
				applyAttr(raw[i+1], &cur, false)
			}

			i += 2

		case escReset:
			flush()
			cur = Span{Fg: -1, Bg: -1}
			i++

		default:
			text.WriteByte(c)
			i++
		}
	}

	flush()

	return spans
}

func applyAttr(c byte, s *Span, on bool) {
	switch c {
	case '*', 0x01:
		s.Bold = on
	case '!', 0x02:
		s.Reverse = on
	case '/', 0x03:
		s.Italic = on
	case '_', 0x04:
		s.Underline = on
	}
}

// parseColor consumes one color sequence starting at raw[i] (the byte
// after 0x19) and returns the index of the first byte after it.
func parseColor(raw string, i int, s *Span) int {
	if i >= len(raw) {
		return i
	}

	switch raw[i] {
	case 'F':
		return parseColorValue(raw, i+1, s, true)

	case 'B':
		return parseColorValue(raw, i+1, s, false)

	case '*':
		// Combined foreground,background.
		i = parseColorValue(raw, i+1, s, true)
		if i < len(raw) && (raw[i] == ',' || raw[i] == '~') {
			i = parseColorValue(raw, i+1, s, false)
		}

		return i

	case 'E':
		// Emphasis marker, no palette payload.
		return i + 1

	case 'b':
		// Bar-specific codes carry one selector byte.
		return i + 2

	default:
		// Bare option color: two-digit palette index.
		return parseColorValue(raw, i, s, true)
	}
}

// parseColorValue reads attribute flags plus a standard (2-digit) or
// extended ("@" + 5-digit) color index.
func parseColorValue(raw string, i int, s *Span, fg bool) int {
	for i < len(raw) {
		if applied := raw[i]; applied == '*' || applied == '!' || applied == '/' || applied == '_' || applied == '|' || applied == '%' || applied == '.' {
			if fg {
				applyAttr(applied, s, true)
			}

			i++

			continue
		}

		break
	}

	digits := 2

	if i < len(raw) && raw[i] == '@' {
		i++
		digits = 5
	}

	if i+digits > len(raw) {
		return len(raw)
	}

	n := 0

	for _, c := range []byte(raw[i : i+digits]) {
		if c < '0' || c > '9' {
			return i
		}

		n = n*10 + int(c-'0')
	}

	if fg {
		s.Fg = n
	} else {
		s.Bg = n
	}

	return i + digits
}
