package server

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/agentchat/internal/logging"
)

const writeWait = 10 * time.Second

// Client is one live websocket session. The connection and pumps belong to
// the client; identity, joined rooms and liveness state are guarded by the
// hub's mutex.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	pings   chan struct{}
	hub     *Hub
	addr    string
	limiter *rate.Limiter
	log     zerolog.Logger

	closed       bool
	identity     string
	token        string
	rooms        map[string]struct{}
	awaitingPong bool
}

// NewClient creates a session for conn. conn may be nil for sessions that are
// driven directly by the hub without pumps.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	opts := hub.opts
	if conn != nil {
		conn.SetReadLimit(opts.MaxMessageSize)
	}
	id := uuid.NewString()
	every := opts.RateInterval / time.Duration(opts.RateBurst)

	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, opts.SendBuffer),
		pings:   make(chan struct{}, 1),
		hub:     hub,
		addr:    addr,
		limiter: rate.NewLimiter(rate.Every(every), opts.RateBurst),
		log: logging.Component("client").With().
			Str(logging.FieldClientID, id).
			Str(logging.FieldRemoteAddr, addr).
			Logger(),
		rooms: make(map[string]struct{}),
	}
}

// handleReadError logs the reason the read loop ended.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("limit", c.hub.opts.MaxMessageSize).Msg("frame exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug().Err(err).Msg("connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn().Err(err).Msg("unexpected websocket close")
	default:
		c.log.Warn().Err(err).Msg("websocket read error")
	}
}

// checkRateLimit reports whether the next frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.limiter.Allow() {
		return true
	}
	framesRateLimited.Inc()
	c.log.Warn().
		Int("burst", c.hub.opts.RateBurst).
		Dur("interval", c.hub.opts.RateInterval).
		Msg("rate limit exceeded; discarding frame")
	return false
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.closeConn()
	}()

	c.conn.SetPongHandler(func(string) error {
		c.hub.markAlive(c)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if !c.checkRateLimit() {
			continue
		}
		if c.hub.handler != nil {
			c.hub.handler(c, raw)
		}
	}
}

// writePump is the only writer on the connection. It drains the send channel
// one frame per event and sends the pings requested by the hub. When the hub
// closes the send channel it sends a close frame and shuts the connection.
func (c *Client) writePump() {
	defer c.closeConn()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.writeCloseMessage()
				return
			}
			if !c.writeTextMessage(message) {
				return
			}
		case <-c.pings:
			if !c.ping() {
				return
			}
		}
	}
}

// requestPing asks writePump for a liveness ping without blocking. A request
// still pending from an earlier tick is enough.
func (c *Client) requestPing() {
	select {
	case c.pings <- struct{}{}:
	default:
	}
}

func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug().Err(err).Msg("set write deadline")
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}
	return true
}

func (c *Client) writeCloseMessage() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("write close message")
		}
	}
}

func (c *Client) ping() bool {
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("write ping")
		}
		return false
	}
	return true
}

func (c *Client) closeConn() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug().Err(err).Msg("close connection")
	}
}
