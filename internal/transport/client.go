package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"palaver/internal/wire"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DialFunc establishes the underlying websocket connection.
type DialFunc func(ctx context.Context) (wsConn, error)

// Dialer returns a DialFunc for the given websocket URL.
func Dialer(url string) DialFunc {
	return func(ctx context.Context) (wsConn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

type Config struct {
	Dial              DialFunc
	KeepAliveInterval time.Duration
	SessionLifetime   time.Duration
	ReconnectDelay    time.Duration
	Log               *slog.Logger
}

// Client owns at most one live session at a time. Connection failures
// and mid-session closures funnel into the same reconnect path: clear
// the session slot, wait the fixed delay, connect again. Indefinitely;
// a chat client should keep trying.
type Client struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	current      *Session
	notify       chan struct{} // closed when a session is published
	reconnecting bool
}

func NewClient(cfg Config) *Client {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		notify: make(chan struct{}),
	}
}

// Connect establishes a new session and publishes it. On failure the
// disconnect handler takes over, so Connect never needs to be retried
// by the caller.
func (c *Client) Connect() {
	select {
	case <-c.ctx.Done():
		return
	default:
	}

	conn, err := c.cfg.Dial(c.ctx)
	if err != nil {
		c.cfg.Log.Warn("connect failed", "error", err)
		c.handleDisconnect(nil)
		return
	}

	session := newSession(conn, c.cfg.Log)

	setup := wire.Setup{
		SessionID:       uuid.NewString(),
		KeepAliveMillis: c.cfg.KeepAliveInterval.Milliseconds(),
		LifetimeMillis:  c.cfg.SessionLifetime.Milliseconds(),
		DataEncoding:    "application/json",
	}
	data, err := setup.MarshalBinary()
	if err != nil {
		c.cfg.Log.Error("failed to marshal setup", "error", err)
		session.fail(err)
		c.handleDisconnect(nil)
		return
	}
	frame := wire.Frame{Kind: wire.FrameSetup, Data: data}
	if err := session.writeFrame(&frame); err != nil {
		c.cfg.Log.Warn("setup write failed", "error", err)
		session.fail(err)
		c.handleDisconnect(nil)
		return
	}

	session.startKeepAlive(c.cfg.KeepAliveInterval)
	c.publish(session)
	c.cfg.Log.Info("connected", "session_id", setup.SessionID)

	c.wg.Add(1)
	go c.watch(session)
}

func (c *Client) publish(session *Session) {
	c.mu.Lock()
	c.current = session
	select {
	case <-c.notify:
	default:
		close(c.notify)
	}
	c.mu.Unlock()
}

// watch turns the session's own liveness feed into the disconnect path.
func (c *Client) watch(session *Session) {
	defer c.wg.Done()
	select {
	case <-session.Done():
		c.cfg.Log.Warn("session ended", "error", session.Err())
		c.handleDisconnect(session)
	case <-c.ctx.Done():
		_ = session.Close()
	}
}

// handleDisconnect clears the session slot and schedules a single
// reconnect after the fixed delay. The reconnecting flag stops
// concurrent disconnect signals from stacking reconnects.
func (c *Client) handleDisconnect(session *Session) {
	c.mu.Lock()
	if c.current != nil && (session == nil || c.current == session) {
		c.current = nil
		c.notify = make(chan struct{})
	}
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		timer := time.NewTimer(c.cfg.ReconnectDelay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-c.ctx.Done():
			return
		}

		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()

		c.cfg.Log.Info("reconnecting")
		c.Connect()
	}()
}

// Await blocks until a session is available. Callers must not proceed
// while the slot is empty; they wait for the next handle instead of
// erroring out.
func (c *Client) Await(ctx context.Context) (*Session, error) {
	for {
		c.mu.Lock()
		session := c.current
		notify := c.notify
		c.mu.Unlock()

		if session != nil {
			return session, nil
		}

		select {
		case <-notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.ctx.Done():
			return nil, c.ctx.Err()
		}
	}
}

// Close abandons any pending reconnect and closes the active session.
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	session := c.current
	c.current = nil
	c.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}

	c.wg.Wait()
	return nil
}
