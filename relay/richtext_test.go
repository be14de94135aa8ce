package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStyles_PlainText(t *testing.T) {
	spans := ParseStyles("hello world")
	require.Len(t, spans, 1)
	assert.Equal(t, "hello world", spans[0].Text)
	assert.Equal(t, -1, spans[0].Fg)
	assert.Equal(t, -1, spans[0].Bg)
}

func TestParseStyles_ForegroundColor(t *testing.T) {
	spans := ParseStyles("\x19F05red text")
	require.Len(t, spans, 1)
	assert.Equal(t, "red text", spans[0].Text)
	assert.Equal(t, 5, spans[0].Fg)
}

func TestParseStyles_ExtendedColor(t *testing.T) {
	spans := ParseStyles("\x19F@00214orange")
	require.Len(t, spans, 1)
	assert.Equal(t, 214, spans[0].Fg)
}

func TestParseStyles_CombinedFgBg(t *testing.T) {
	spans := ParseStyles("\x19*08,05alert")
	require.Len(t, spans, 1)
	assert.Equal(t, "alert", spans[0].Text)
	assert.Equal(t, 8, spans[0].Fg)
	assert.Equal(t, 5, spans[0].Bg)
}

func TestParseStyles_BoldAttr(t *testing.T) {
	spans := ParseStyles("plain \x1a*bold\x1b* normal")
	require.Len(t, spans, 3)
	assert.Equal(t, "plain ", spans[0].Text)
	assert.False(t, spans[0].Bold)
	assert.Equal(t, "bold", spans[1].Text)
	assert.True(t, spans[1].Bold)
	assert.Equal(t, " normal", spans[2].Text)
	assert.False(t, spans[2].Bold)
}

func TestParseStyles_ResetClearsEverything(t *testing.T) {
	spans := ParseStyles("\x19F05\x1a_styled\x1cplain")
	require.Len(t, spans, 2)
	assert.Equal(t, 5, spans[0].Fg)
	assert.True(t, spans[0].Underline)
	assert.Equal(t, -1, spans[1].Fg)
	assert.False(t, spans[1].Underline)
}

func TestParseStyles_TruncatedEscape(t *testing.T) {
	spans := ParseStyles("text\x19F0")
	require.Len(t, spans, 1)
	assert.Equal(t, "text", spans[0].Text)
}

func TestStripStyles(t *testing.T) {
	assert.Equal(t, "nick | hello", StripStyles("\x19F08nick\x1c | \x19F05hello"))
	assert.Equal(t, "", StripStyles(""))
}
