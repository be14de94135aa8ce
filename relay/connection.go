package relay

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"golang.org/x/crypto/pbkdf2"

	"github.com/mhoran/weerelay/internal/relayerr"
)

// ConnState is the connection lifecycle state.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateAuthFailed
	StateTransportError
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateAuthFailed:
		return "auth_failed"
	case StateTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Conn is the subset of *websocket.Conn the connection uses. Extracted
// so tests can drive the state machine with a mock.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens the websocket to the relay endpoint.
type Dialer func(ctx context.Context, url string) (Conn, error)

// DefaultDialer dials with coder/websocket and a generous read limit;
// an initial line fetch for a busy channel can run to megabytes.
func DefaultDialer(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(64 * 1024 * 1024)

	return conn, nil
}

// ConnectionConfig holds the parameters for one relay endpoint.
type ConnectionConfig struct {
	Host         string
	Password     string
	UseTLS       bool
	Compression  string
	HashPassword bool
}

// Connection owns the socket and the init/auth handshake, normalizes
// transport errors into the auth/transport classification, and feeds
// every inbound frame through one decode-and-deliver path.
type Connection struct {
	logger *slog.Logger
	cfg    ConnectionConfig
	dial   Dialer

	// onMessage receives every decoded envelope, including the first
	// one that flips the state to connected.
	onMessage func(*Envelope)

	// onConnect fires once per attempt, on the first well-formed
	// message received while authenticating.
	onConnect func()

	// onError receives the classified failure that ended the attempt.
	onError func(*relayerr.ConnectionError)

	mu            sync.Mutex
	conn          Conn
	state         ConnState
	everConnected bool
	received      int
	closing       bool
}

// NewConnection creates a connection for the given endpoint. The three
// callbacks may be nil.
func NewConnection(cfg ConnectionConfig, dial Dialer, logger *slog.Logger,
	onMessage func(*Envelope), onConnect func(), onError func(*relayerr.ConnectionError)) *Connection {
	if dial == nil {
		dial = DefaultDialer
	}

	return &Connection{
		logger:    logger,
		cfg:       cfg,
		dial:      dial,
		onMessage: onMessage,
		onConnect: onConnect,
		onError:   onError,
		state:     StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// URL renders the websocket endpoint for the configured host.
func (c *Connection) URL() string {
	scheme := "ws"
	if c.cfg.UseTLS {
		scheme = "wss"
	}

	return fmt.Sprintf("%s://%s/weechat", scheme, c.cfg.Host)
}

// Connect dials the relay, performs the init/auth exchange, and leaves
// the connection in the authenticating state. The caller then runs
// Serve to pump inbound messages.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()

		return fmt.Errorf("already connected to %s", c.cfg.Host)
	}

	c.state = StateConnecting
	c.closing = false
	c.received = 0
	c.mu.Unlock()

	conn, err := c.dial(ctx, c.URL())
	if err != nil {
		c.fail(relayerr.NewTransportError(c.cfg.Host, err, false), StateTransportError)

		return fmt.Errorf("dialing %s: %w", c.URL(), err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	init := InitCommand(c.cfg.Password, c.cfg.Compression)

	if c.cfg.HashPassword {
		init, err = c.handshakeInit(ctx, conn)
		if err != nil {
			c.teardown()
			c.fail(relayerr.NewTransportError(c.cfg.Host, err, false), StateTransportError)

			return fmt.Errorf("handshake with %s: %w", c.cfg.Host, err)
		}
	}

	for _, line := range []string{init, VersionCommand()} {
		if err := c.write(ctx, line); err != nil {
			c.teardown()
			c.fail(relayerr.NewTransportError(c.cfg.Host, err, false), StateTransportError)

			return fmt.Errorf("sending init: %w", err)
		}
	}

	c.mu.Lock()
	c.state = StateAuthenticating
	c.mu.Unlock()

	c.logger.Debug("init sent, authenticating", slog.String("host", c.cfg.Host))

	return nil
}

// handshakeInit negotiates hashed-password auth (relay 2.9+) and
// returns the init line carrying the PBKDF2 digest instead of the
// plaintext password.
func (c *Connection) handshakeInit(ctx context.Context, conn Conn) (string, error) {
	if err := c.write(ctx, HandshakeCommand()); err != nil {
		return "", fmt.Errorf("sending handshake: %w", err)
	}

	// The handshake reply is read inline, before the serve loop
	// starts, like the init exchange itself.
	_, data, err := conn.Read(ctx)
	if err != nil {
		return "", fmt.Errorf("reading handshake reply: %w", err)
	}

	env, err := Decode(data)
	if err != nil {
		return "", fmt.Errorf("decoding handshake reply: %w", err)
	}

	var reply map[string]any

	for _, obj := range env.Objects {
		if obj.Type == typeHtb {
			reply, _ = obj.Value.(map[string]any)
		}
	}

	algo, _ := reply["password_hash_algo"].(string)
	if algo != "pbkdf2+sha256" {
		return "", fmt.Errorf("relay does not support pbkdf2+sha256 (offered %q)", algo)
	}

	nonceHex, _ := reply["nonce"].(string)

	serverNonce, err := hex.DecodeString(nonceHex)
	if err != nil || len(serverNonce) == 0 {
		return "", fmt.Errorf("invalid handshake nonce %q", nonceHex)
	}

	iterations := 100000

	switch v := reply["password_hash_iterations"].(type) {
	case string:
		fmt.Sscanf(v, "%d", &iterations)
	case int:
		iterations = v
	}

	clientNonce := make([]byte, 16)
	if _, err := rand.Read(clientNonce); err != nil {
		return "", fmt.Errorf("generating client nonce: %w", err)
	}

	salt := append(append([]byte{}, serverNonce...), clientNonce...)
	digest := pbkdf2.Key([]byte(c.cfg.Password), salt, iterations, sha256.Size, sha256.New)

	return InitHashCommand("pbkdf2+sha256", hex.EncodeToString(salt), iterations,
		hex.EncodeToString(digest), c.cfg.Compression), nil
}

// Serve pumps inbound frames until the socket fails or Disconnect is
// called. Each frame is decoded and delivered once; decode or handler
// failures are logged per message and never end the loop.
func (c *Connection) Serve(ctx context.Context) error {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return nil
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			return c.handleReadError(err)
		}

		c.mu.Lock()
		c.received++

		if c.state == StateAuthenticating {
			c.state = StateConnected
			c.everConnected = true
			c.mu.Unlock()

			c.logger.Info("relay authenticated", slog.String("host", c.cfg.Host))

			if c.onConnect != nil {
				c.onConnect()
			}
		} else {
			c.mu.Unlock()
		}

		c.deliver(data)
	}
}

// deliver decodes one frame and hands it to the message callback,
// isolating any failure to this message.
func (c *Connection) deliver(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic handling relay message", slog.Any("panic", r))
		}
	}()

	env, err := Decode(data)
	if err != nil {
		c.logger.Warn("dropping malformed message",
			slog.Int("bytes", len(data)),
			slog.String("error", err.Error()),
		)

		return
	}

	if c.onMessage != nil {
		c.onMessage(env)
	}
}

// handleReadError classifies the error that ended the serve loop. A
// close with zero messages received is how a rejected password
// presents; anything later is a transport failure, retryable only when
// this connection had fully authenticated at least once.
func (c *Connection) handleReadError(err error) error {
	c.mu.Lock()
	closing := c.closing
	received := c.received
	everConnected := c.everConnected
	c.mu.Unlock()

	c.teardown()

	if closing {
		// Deliberate disconnect; not an error and never a reconnect.
		return nil
	}

	var cerr *relayerr.ConnectionError

	if received == 0 {
		cerr = relayerr.NewAuthError(c.cfg.Host)
		c.fail(cerr, StateAuthFailed)
	} else {
		cerr = relayerr.NewTransportError(c.cfg.Host, err, everConnected)
		c.fail(cerr, StateTransportError)
	}

	return cerr
}

func (c *Connection) fail(cerr *relayerr.ConnectionError, st ConnState) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()

	c.logger.Warn("connection failed",
		slog.String("host", c.cfg.Host),
		slog.String("state", st.String()),
		slog.Bool("reconnect", cerr.Reconnect()),
	)

	if c.onError != nil {
		c.onError(cerr)
	}
}

// Send writes one command line. Outside the connected state it is
// silently dropped.
func (c *Connection) Send(ctx context.Context, command string) {
	c.mu.Lock()
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		c.logger.Debug("dropping command while not connected", slog.String("state", c.State().String()))

		return
	}

	if err := c.write(ctx, command); err != nil {
		// The serve loop will observe the broken socket and classify
		// it; here the command is simply lost.
		c.logger.Warn("write failed", slog.String("error", err.Error()))
	}
}

// write sends one newline-terminated command regardless of state. Used
// for the init exchange before Connected is reached.
func (c *Connection) write(ctx context.Context, command string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	return conn.Write(ctx, websocket.MessageText, []byte(command+"\n"))
}

// Disconnect sends a graceful quit and closes the socket. The serve
// loop then returns nil rather than classifying the close as an error.
func (c *Connection) Disconnect(ctx context.Context) {
	c.mu.Lock()

	if c.conn == nil {
		c.mu.Unlock()

		return
	}

	c.closing = true
	conn := c.conn
	c.mu.Unlock()

	_ = conn.Write(ctx, websocket.MessageText, []byte(QuitCommand()+"\n"))

	c.teardown()

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

// teardown closes and forgets the socket. The old socket is fully
// released before any reconnect dials a new one.
func (c *Connection) teardown() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "closing")
	}
}
