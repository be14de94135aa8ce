package relay

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mhoran/weerelay/internal/relayerr"
	"github.com/mhoran/weerelay/internal/state"
)

// ErrDisconnected is returned by a liveness wait that lost the race to
// a disconnect event.
var ErrDisconnected = errors.New("disconnected while waiting for pong")

// ClientConfig is the facade's configuration.
type ClientConfig struct {
	Host           string
	Password       string
	UseTLS         bool
	Compression    string
	HashPassword   bool
	FetchLineCount int
}

// Client wires the connection through the transformer into the store
// and exposes the operations the presentation layer calls. Every
// operation is fire-and-forget; completion is observed through store
// mutations.
type Client struct {
	logger *slog.Logger
	cfg    ClientConfig
	store  *state.Store
	trans  *Transformer
	conn   *Connection
	recon  *Reconciler

	runCtx context.Context

	mu              sync.Mutex
	autoReconnected bool
	pongWaiters     []chan struct{}
	disconnectCh    chan struct{}
	disconnected    bool
}

// NewClient builds the facade. dial may be nil to use the default
// websocket dialer.
func NewClient(cfg ClientConfig, store *state.Store, dial Dialer, logger *slog.Logger) *Client {
	if cfg.FetchLineCount <= 0 {
		cfg.FetchLineCount = 100
	}

	c := &Client{
		logger:       logger,
		cfg:          cfg,
		store:        store,
		trans:        NewTransformer(logger),
		disconnectCh: make(chan struct{}),
		disconnected: true,
	}

	c.conn = NewConnection(ConnectionConfig{
		Host:         cfg.Host,
		Password:     cfg.Password,
		UseTLS:       cfg.UseTLS,
		Compression:  cfg.Compression,
		HashPassword: cfg.HashPassword,
	}, dial, logger, c.handleMessage, c.handleConnect, c.handleError)

	c.recon = NewReconciler(store, c, logger)

	return c
}

// OnConfirmedNotification installs a hook invoked after a notification
// reconciles; used to persist it. Call before Connect.
func (c *Client) OnConfirmedNotification(fn func(state.Notification)) {
	c.recon.onConfirmed = fn
}

// Connect dials the relay and starts the serve loop in the background.
// ctx bounds the lifetime of the whole session.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()

	if c.disconnected {
		c.disconnectCh = make(chan struct{})
		c.disconnected = false
	}

	c.runCtx = ctx
	c.mu.Unlock()

	if err := c.conn.Connect(ctx); err != nil {
		c.signalDisconnect()

		return err
	}

	go func() {
		if err := c.conn.Serve(ctx); err != nil {
			c.logger.Debug("serve loop ended", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Disconnect closes the session gracefully. It never triggers the
// reconnect path.
func (c *Client) Disconnect() {
	ctx := c.currentCtx()

	c.conn.Disconnect(ctx)
	c.store.Apply(state.SetConnected{Connected: false})
	c.signalDisconnect()
}

// Reconnect tears down any live socket and dials again. This is the
// externally triggered retry: calling it re-arms the single automatic
// reconnect for the next transport failure.
func (c *Client) Reconnect(ctx context.Context) error {
	c.conn.Disconnect(ctx)
	c.signalDisconnect()

	c.mu.Lock()
	c.autoReconnected = false
	c.mu.Unlock()

	return c.Connect(ctx)
}

// IsConnected reports whether the session is authenticated and live.
func (c *Client) IsConnected() bool {
	return c.conn.State() == StateConnected
}

// IsDisconnected reports the inverse of IsConnected.
func (c *Client) IsDisconnected() bool {
	return !c.IsConnected()
}

// Send writes one raw command line; dropped silently while not
// connected.
func (c *Client) Send(raw string) {
	c.conn.Send(c.currentCtx(), raw)
}

// SendMessageToBuffer sends input text to a buffer addressed by session
// pointer or by name. Pointers are rendered as 0x-prefixed literals.
func (c *Client) SendMessageToBuffer(pointerOrName, text string) {
	target := pointerOrName

	if _, ok := c.store.Buffer(pointerOrName); ok {
		target = "0x" + pointerOrName
	}

	c.Send(InputCommand(target, text))
}

// FetchBufferInfo requests the most recent lines and the presence list
// for one buffer. lineCount <= 0 uses the configured default.
func (c *Client) FetchBufferInfo(pointer string, lineCount int) {
	if lineCount <= 0 {
		lineCount = c.cfg.FetchLineCount
	}

	c.Send(LinesCommand(pointer, lineCount))
	c.Send(NicklistCommand(pointer))
}

// ClearUnreadForBuffer marks a buffer read server-side and clears its
// local unread counters.
func (c *Client) ClearUnreadForBuffer(pointer string) {
	for _, cmd := range MarkReadCommands(pointer) {
		c.Send(cmd)
	}

	c.store.Apply(state.HotlistCleared{Pointer: pointer})
}

// SetCurrentBuffer moves presentation focus, clearing the buffer's
// unread counters.
func (c *Client) SetCurrentBuffer(pointer string) {
	c.store.Apply(state.CurrentBufferChanged{Pointer: pointer})
}

// HandlePushAlert ingests a background notification payload from the
// push layer and starts reconciliation against the local buffer list.
// The payload's conversation identifier is numeric and may predate this
// session's pointer assignment.
func (c *Client) HandlePushAlert(payload []byte) {
	parsed := gjson.ParseBytes(payload)

	identifier := parsed.Get("identifier").String()
	bufferID := parsed.Get("bufferId").Int()
	lineID := parsed.Get("lineId").Int()

	if identifier == "" {
		c.logger.Warn("push alert missing identifier, dropping")

		return
	}

	pending := state.Notification{
		Identifier: identifier,
		BufferID:   bufferID,
		LineID:     lineID,
	}

	c.store.Apply(state.PendingNotification{Notification: pending})
	c.recon.Reconcile(c.currentCtx(), pending)
}

// PingAndWaitPong sends a liveness probe and races the pong reply
// against a disconnect event. The loser's wait is abandoned.
func (c *Client) PingAndWaitPong(ctx context.Context) error {
	pong := make(chan struct{})

	c.mu.Lock()
	c.pongWaiters = append(c.pongWaiters, pong)
	disconnect := c.disconnectCh
	c.mu.Unlock()

	c.Send(PingCommand(strconv.FormatInt(time.Now().UnixMilli(), 10)))

	select {
	case <-pong:
		return nil
	case <-disconnect:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) currentCtx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runCtx != nil {
		return c.runCtx
	}

	return context.Background()
}

// handleConnect runs on the first well-formed message of a session: it
// marks the state connected, re-arms the automatic reconnect, and
// issues the snapshot fetches followed by sync.
func (c *Client) handleConnect() {
	c.mu.Lock()
	c.autoReconnected = false
	c.mu.Unlock()

	c.store.Apply(state.SetConnected{Connected: true})

	ctx := c.currentCtx()

	// Replies arrive in request order, and the hotlist projection keeps
	// only entries whose buffer is already known. Buffers must land
	// first or the initial counters would be dropped wholesale.
	for _, cmd := range []string{
		BuffersCommand(),
		HotlistCommand(),
		LastReadLinesCommand(),
		SyncCommand(),
	} {
		c.conn.Send(ctx, cmd)
	}
}

// handleMessage feeds every envelope through the transformer. Pong
// replies additionally wake the liveness waiters.
func (c *Client) handleMessage(env *Envelope) {
	if env.ID == "_pong" {
		c.mu.Lock()
		waiters := c.pongWaiters
		c.pongWaiters = nil
		c.mu.Unlock()

		for _, w := range waiters {
			close(w)
		}

		return
	}

	if mut := c.trans.Transform(env); mut != nil {
		c.store.Apply(mut)
	}
}

// handleError projects the failure into the store and runs at most one
// automatic reconnect per external trigger.
func (c *Client) handleError(cerr *relayerr.ConnectionError) {
	c.store.Apply(state.SetConnected{Connected: false})
	c.signalDisconnect()

	if !cerr.Reconnect() {
		c.logger.Warn("not reconnecting", slog.String("error", cerr.Error()))

		return
	}

	c.mu.Lock()

	if c.autoReconnected {
		c.mu.Unlock()
		c.logger.Info("reconnect budget spent, waiting for external trigger")

		return
	}

	c.autoReconnected = true
	ctx := c.runCtx
	c.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		return
	}

	c.logger.Info("attempting single reconnect", slog.String("host", c.cfg.Host))

	go func() {
		c.mu.Lock()

		if c.disconnected {
			c.disconnectCh = make(chan struct{})
			c.disconnected = false
		}

		c.mu.Unlock()

		if err := c.Connect(ctx); err != nil {
			c.logger.Warn("reconnect failed", slog.String("error", err.Error()))
		}
	}()
}

// signalDisconnect closes the session's disconnect broadcast exactly
// once, releasing every liveness race.
func (c *Client) signalDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disconnected {
		return
	}

	c.disconnected = true
	close(c.disconnectCh)
}
