package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhoran/weerelay/internal/state"
)

// scriptedConn is a channel-driven socket double: tests feed inbound
// frames and read back every written line.
type scriptedConn struct {
	inbound chan []byte
	errs    chan error
	writes  chan string

	closeOnce sync.Once
	done      chan struct{}
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{
		inbound: make(chan []byte, 16),
		errs:    make(chan error, 1),
		writes:  make(chan string, 64),
		done:    make(chan struct{}),
	}
}

func (c *scriptedConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case data := <-c.inbound:
		return websocket.MessageBinary, data, nil
	case err := <-c.errs:
		return 0, nil, err
	case <-c.done:
		return 0, nil, errors.New("use of closed network connection")
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *scriptedConn) Write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	c.writes <- string(data)

	return nil
}

func (c *scriptedConn) Close(code websocket.StatusCode, reason string) error {
	c.closeOnce.Do(func() { close(c.done) })

	return nil
}

func (c *scriptedConn) nextWrite(t *testing.T) string {
	t.Helper()

	select {
	case w := <-c.writes:
		return w
	case <-time.After(time.Second):
		t.Fatal("expected a write")
		return ""
	}
}

// scriptedDialer hands out one scripted conn per dial attempt.
type scriptedDialer struct {
	mu    sync.Mutex
	conns []*scriptedConn
	dials chan *scriptedConn
}

func newScriptedDialer() *scriptedDialer {
	return &scriptedDialer{dials: make(chan *scriptedConn, 4)}
}

func (d *scriptedDialer) dial(ctx context.Context, url string) (Conn, error) {
	conn := newScriptedConn()

	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()

	d.dials <- conn

	return conn, nil
}

func (d *scriptedDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.conns)
}

func clientFixture(t *testing.T) (*Client, *state.Store, *scriptedDialer) {
	t.Helper()

	s := reconStore(t)
	dialer := newScriptedDialer()

	c := NewClient(ClientConfig{
		Host:           "relay.example.com:9001",
		Password:       "s3cret",
		Compression:    "zlib",
		FetchLineCount: 50,
	}, s, dialer.dial, discardLogger())

	return c, s, dialer
}

// connectFixture drives the client through a full session start: dial,
// init, first server message, snapshot fetches.
func connectFixture(t *testing.T, c *Client, dialer *scriptedDialer) *scriptedConn {
	t.Helper()

	require.NoError(t, c.Connect(context.Background()))

	conn := <-dialer.dials

	assert.Contains(t, conn.nextWrite(t), "init password=")
	assert.Equal(t, VersionCommand()+"\n", conn.nextWrite(t))

	conn.inbound <- versionFrame()

	assert.Equal(t, BuffersCommand()+"\n", conn.nextWrite(t))
	assert.Equal(t, HotlistCommand()+"\n", conn.nextWrite(t))
	assert.Equal(t, LastReadLinesCommand()+"\n", conn.nextWrite(t))
	assert.Equal(t, SyncCommand()+"\n", conn.nextWrite(t))

	require.Eventually(t, c.IsConnected, time.Second, 5*time.Millisecond)

	return conn
}

func TestClient_ConnectIssuesSnapshotFetches(t *testing.T) {
	c, s, dialer := clientFixture(t)

	connectFixture(t, c, dialer)

	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.Version() == "4.4.2" }, time.Second, 5*time.Millisecond)
}

func TestClient_MessagesFlowIntoStore(t *testing.T) {
	c, s, dialer := clientFixture(t)
	conn := connectFixture(t, c, dialer)

	var w wire

	w.str("buffers")
	w.typ("hda").str("buffer").str("id:lon,full_name:str").i32(1)
	w.ptr("83a41cd80")
	w.lon(42)
	w.str("core.weechat")

	conn.inbound <- frame(w.Bytes(), false)

	require.Eventually(t, func() bool {
		b, ok := s.Buffer("83a41cd80")
		return ok && b.ID == 42 && b.FullName == "core.weechat"
	}, time.Second, 5*time.Millisecond)
}

func TestClient_InitialHotlistSurvivesSnapshotOrdering(t *testing.T) {
	c, s, dialer := clientFixture(t)
	conn := connectFixture(t, c, dialer)

	// The relay answers in request order: the buffers snapshot lands
	// before the hotlist, so the counters attach to known buffers.
	var buffers wire

	buffers.str("buffers")
	buffers.typ("hda").str("buffer").str("id:lon,full_name:str").i32(1)
	buffers.ptr("aaa1")
	buffers.lon(1)
	buffers.str("irc.libera.#go-nuts")

	conn.inbound <- frame(buffers.Bytes(), false)

	var hotlist wire

	hotlist.str("hotlist")
	hotlist.typ("hda").str("hotlist").str("buffer:ptr,count:arr").i32(1)
	hotlist.ptr("h1")
	hotlist.ptr("aaa1")
	hotlist.typ("int").i32(4)
	hotlist.i32(0).i32(3).i32(0).i32(1)

	conn.inbound <- frame(hotlist.Bytes(), false)

	require.Eventually(t, func() bool {
		h, ok := s.Hotlist("aaa1")
		return ok && h.Message == 3 && h.Highlight == 1 && h.Sum == 4
	}, time.Second, 5*time.Millisecond)
}

func TestClient_SendMessageToBuffer(t *testing.T) {
	c, s, dialer := clientFixture(t)
	conn := connectFixture(t, c, dialer)

	seedBuffers(t, s, state.Buffer{Pointer: "aaa1", ID: 1, FullName: "irc.libera.#go-nuts"})

	// Known pointers are rendered as hex literals.
	c.SendMessageToBuffer("aaa1", "hello there")
	assert.Equal(t, "input 0xaaa1 hello there\n", conn.nextWrite(t))

	// Anything else passes through as a name.
	c.SendMessageToBuffer("irc.libera.#go-nuts", "hi")
	assert.Equal(t, "input irc.libera.#go-nuts hi\n", conn.nextWrite(t))
}

func TestClient_FetchBufferInfo(t *testing.T) {
	c, _, dialer := clientFixture(t)
	conn := connectFixture(t, c, dialer)

	c.FetchBufferInfo("aaa1", 0)

	assert.Equal(t, LinesCommand("aaa1", 50)+"\n", conn.nextWrite(t))
	assert.Equal(t, NicklistCommand("aaa1")+"\n", conn.nextWrite(t))

	c.FetchBufferInfo("aaa1", 500)
	assert.Equal(t, LinesCommand("aaa1", 500)+"\n", conn.nextWrite(t))
}

func TestClient_ClearUnreadForBuffer(t *testing.T) {
	c, s, dialer := clientFixture(t)
	conn := connectFixture(t, c, dialer)

	seedBuffers(t, s, state.Buffer{Pointer: "aaa1", ID: 1})
	s.Apply(state.HotlistSnapshot{Hotlists: map[string]state.Hotlist{
		"aaa1": {Message: 3, Sum: 3},
	}})
	require.Eventually(t, func() bool {
		_, ok := s.Hotlist("aaa1")
		return ok
	}, time.Second, 5*time.Millisecond)

	c.ClearUnreadForBuffer("aaa1")

	for _, want := range MarkReadCommands("aaa1") {
		assert.Equal(t, want+"\n", conn.nextWrite(t))
	}

	require.Eventually(t, func() bool {
		_, ok := s.Hotlist("aaa1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestClient_PingAndWaitPong(t *testing.T) {
	c, _, dialer := clientFixture(t)
	conn := connectFixture(t, c, dialer)

	result := make(chan error, 1)

	go func() { result <- c.PingAndWaitPong(context.Background()) }()

	assert.Contains(t, conn.nextWrite(t), "ping ")

	var w wire

	w.str("_pong")
	w.typ("str").str("1")

	conn.inbound <- frame(w.Bytes(), false)

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pong never arrived")
	}
}

func TestClient_PingLosesRaceToDisconnect(t *testing.T) {
	c, _, dialer := clientFixture(t)
	conn := connectFixture(t, c, dialer)

	result := make(chan error, 1)

	go func() { result <- c.PingAndWaitPong(context.Background()) }()

	conn.nextWrite(t) // the ping itself

	conn.errs <- errors.New("connection reset")

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(time.Second):
		t.Fatal("disconnect never broke the wait")
	}
}

func TestClient_TransportFailureReconnectsOnce(t *testing.T) {
	c, s, dialer := clientFixture(t)
	conn := connectFixture(t, c, dialer)

	conn.errs <- errors.New("connection reset")

	// Exactly one automatic redial.
	var second *scriptedConn

	select {
	case second = <-dialer.dials:
	case <-time.After(time.Second):
		t.Fatal("no automatic reconnect")
	}

	assert.Contains(t, second.nextWrite(t), "init password=")
	assert.Equal(t, VersionCommand()+"\n", second.nextWrite(t))

	second.inbound <- versionFrame()

	require.Eventually(t, c.IsConnected, time.Second, 5*time.Millisecond)
	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, dialer.dialCount())
}

func TestClient_AuthFailureDoesNotReconnect(t *testing.T) {
	c, s, dialer := clientFixture(t)

	require.NoError(t, c.Connect(context.Background()))

	conn := <-dialer.dials
	conn.nextWrite(t) // init
	conn.nextWrite(t) // version probe

	// The relay drops the socket before answering: a rejected password.
	conn.errs <- errors.New("EOF")

	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, dialer.dialCount())
	assert.False(t, c.IsConnected())
	assert.False(t, s.Connected())
}

func TestClient_ExplicitReconnectAfterAuthFailure(t *testing.T) {
	c, _, dialer := clientFixture(t)

	require.NoError(t, c.Connect(context.Background()))

	conn := <-dialer.dials
	conn.nextWrite(t)
	conn.nextWrite(t)
	conn.errs <- errors.New("EOF")

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, dialer.dialCount())

	// The user fixed the password; an external trigger dials again.
	require.NoError(t, c.Reconnect(context.Background()))
	require.Equal(t, 2, dialer.dialCount())
}

func TestClient_DisconnectIsFinal(t *testing.T) {
	c, s, dialer := clientFixture(t)
	conn := connectFixture(t, c, dialer)

	c.Disconnect()

	assert.Equal(t, QuitCommand()+"\n", conn.nextWrite(t))

	require.Eventually(t, func() bool { return !s.Connected() }, time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount(), "a deliberate disconnect never redials")
}

func TestClient_HandlePushAlert(t *testing.T) {
	c, s, dialer := clientFixture(t)

	connectFixture(t, c, dialer)
	seedBuffers(t, s, state.Buffer{Pointer: "aaa1", ID: 42})

	confirmed := make(chan state.Notification, 1)
	c.OnConfirmedNotification(func(n state.Notification) { confirmed <- n })

	c.HandlePushAlert([]byte(`{"identifier":"tag-123","bufferId":42,"lineId":7}`))

	// Reconciliation races a ping; answer it.
	var got state.Notification

	require.Eventually(t, func() bool {
		select {
		case w := <-dialer.conns[0].writes:
			if len(w) > 5 && w[:5] == "ping " {
				var pong wire

				pong.str("_pong")
				pong.typ("str").str("1")
				dialer.conns[0].inbound <- frame(pong.Bytes(), false)
			}
		default:
		}

		select {
		case got = <-confirmed:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "tag-123", got.Identifier)
	assert.Equal(t, "aaa1", got.BufferPointer)
	assert.Equal(t, int64(7), got.LineID)
}

func TestClient_HandlePushAlertWithoutIdentifierIsDropped(t *testing.T) {
	c, s, _ := clientFixture(t)

	c.HandlePushAlert([]byte(`{"bufferId":42}`))

	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, s.Notification())
}
