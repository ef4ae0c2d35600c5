package server

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second

	// inboundQueue bounds messages waiting to be rendered per connection.
	inboundQueue = 32
)

// MessageRenderer turns raw chat text into markup.
type MessageRenderer interface {
	Render(ctx context.Context, raw string) string
}

// Client drives one WebSocket connection through the username handshake, then
// runs a read pump, a render loop that publishes to the hub, and a write pump.
type Client struct {
	conn        *websocket.Conn
	hub         *Hub
	renderer    MessageRenderer
	limiter     *tokenBucket
	maxUsername int
	addr        string
	log         zerolog.Logger

	session *Session
	ctx     context.Context
	cancel  context.CancelFunc
}

type clientOptions struct {
	maxMessageSize int64
	maxUsername    int
	rateBurst      int
	rateRefill     time.Duration
}

func newClient(conn *websocket.Conn, hub *Hub, renderer MessageRenderer, addr string, opts clientOptions, log zerolog.Logger) *Client {
	conn.SetReadLimit(opts.maxMessageSize)
	ctx, cancel := context.WithCancel(hub.Context())
	return &Client{
		conn:        conn,
		hub:         hub,
		renderer:    renderer,
		limiter:     newTokenBucket(opts.rateBurst, opts.rateRefill),
		maxUsername: opts.maxUsername,
		addr:        addr,
		log:         log.With().Str("component", "client").Str("remote", addr).Logger(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// serve runs the connection to completion. It is started by the upgrade
// handler once the hub has accepted the connection.
func (c *Client) serve() {
	defer c.hub.untrack(c)
	defer c.cancel()

	c.setupReadConnection()

	session, err := c.handshake()
	if err != nil {
		c.closeConn()
		return
	}
	c.session = session
	c.hub.attach(c)
	c.log = c.log.With().Str("user", session.Username).Stringer("session", session.ID).Logger()

	written := make(chan struct{})
	go func() {
		defer close(written)
		c.writePump()
	}()

	inbound := make(chan string, inboundQueue)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		c.renderLoop(inbound)
	}()

	c.readPump(inbound)

	c.cancel()
	close(inbound)
	<-rendered
	c.hub.Leave(session)
	c.closeConn()
	<-written
}

// handshake reads the first frame as the username and joins the hub. A
// rejected name gets a notice and a close frame.
func (c *Client) handshake() (*Session, error) {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		c.handleReadError(err)
		return nil, err
	}

	name, err := NormalizeUsername(string(raw), c.maxUsername)
	if err != nil {
		c.log.Info().Err(err).Msg("handshake rejected")
		c.hub.metrics.joinsRejected.Inc()
		c.reject(fmt.Sprintf("Invalid username: use 1 to %d printable characters", c.maxUsername))
		return nil, err
	}

	session, err := c.hub.Join(name)
	switch {
	case errors.Is(err, ErrUsernameTaken):
		c.reject(fmt.Sprintf(`User "%s" already exists`, html.EscapeString(name)))
		return nil, err
	case err != nil:
		c.log.Debug().Err(err).Msg("join failed")
		return nil, err
	}
	return session, nil
}

func (c *Client) reject(text string) {
	deadline := time.Now().Add(writeWait)
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, c.hub.notice(text)); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("error writing rejection notice")
		}
		return
	}
	closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, closeMsg, deadline); err != nil && !isExpectedCloseError(err) {
		c.log.Debug().Err(err).Msg("error writing close message")
	}
}

// setupReadConnection arms the pong deadline before the handshake frame is read.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Debug().Err(err).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs the reason the read loop is ending.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Msg("message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.log.Debug().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug().Err(err).Msg("connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Info().Err(err).Msg("unexpected websocket close")
	default:
		c.log.Debug().Err(err).Msg("websocket read error")
	}
}

// checkRateLimit spends a token for an inbound chat message, dropping it when
// the sender is over its budget.
func (c *Client) checkRateLimit() bool {
	if c.limiter != nil && !c.limiter.take() {
		c.log.Warn().Msg("rate limit exceeded; discarding message")
		return false
	}
	return true
}

// renderLoop processes queued messages in arrival order until inbound is
// closed. Messages still queued after a disconnect are dropped.
func (c *Client) renderLoop(inbound <-chan string) {
	for raw := range inbound {
		if c.ctx.Err() != nil {
			continue
		}
		c.processMessage(raw)
	}
}

// processMessage renders raw under the connection context and hands the
// result to the hub. A render that outlives the connection is discarded.
func (c *Client) processMessage(raw string) {
	rendered := c.renderer.Render(c.ctx, raw)
	if c.ctx.Err() != nil {
		c.log.Debug().Msg("discarding message rendered after disconnect")
		return
	}
	if err := c.hub.Publish(c.session, rendered); err != nil {
		c.log.Debug().Err(err).Msg("publish failed")
	}
}

// readPump keeps reading while earlier messages render, so a disconnect is
// noticed and cancels any probe still in flight.
func (c *Client) readPump(inbound chan<- string) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if len(raw) == 0 || !c.checkRateLimit() {
			continue
		}
		select {
		case inbound <- string(raw):
		default:
			c.log.Warn().Msg("render queue full; discarding message")
		}
	}
}

// writePump drains the session's outbound channel, one text frame per
// message, and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	outbound := c.session.Outbound()
	for {
		select {
		case message, ok := <-outbound:
			if !c.handleMessage(message, ok) {
				return
			}
		case <-ticker.C:
			if !c.handlePing() {
				return
			}
		}
	}
}

// handleMessage writes one outbound frame; false stops the write pump.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("error writing close message")
		}
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("error writing message")
		}
		return false
	}
	return true
}

// handlePing keeps the peer inside its read deadline.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("error writing ping")
		}
		return false
	}
	return true
}

func (c *Client) closeConn() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug().Err(err).Msg("error closing connection")
	}
}
