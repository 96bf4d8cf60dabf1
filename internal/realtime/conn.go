package realtime

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ConnID identifies one live connection.
type ConnID string

// Handler receives decoded inbound events and disconnect notifications for
// a connection. The Router is the production Handler.
type Handler interface {
	HandleEvent(c *Conn, ev Event)
	HandleDisconnect(c *Conn)
}

// ConnInfo describes a connection at upgrade time.
type ConnInfo struct {
	Addr string
	// AuthUserID is the user proven by a token at upgrade, empty when the
	// client connected anonymously.
	AuthUserID string
}

// Conn is one client socket. It holds an outbound queue drained by the
// write pump; the read pump decodes frames and hands them to the Handler.
type Conn struct {
	id       ConnID
	ws       *websocket.Conn
	info     ConnInfo
	send     chan []byte
	quota    *eventQuota
	registry *Registry
	handler  Handler
	log      *zap.Logger

	mu     sync.Mutex
	userID string
	closed bool
}

// ID returns the connection identity.
func (c *Conn) ID() ConnID { return c.id }

// Addr returns the remote address.
func (c *Conn) Addr() string { return c.info.Addr }

// AuthUserID returns the user proven at upgrade, if any.
func (c *Conn) AuthUserID() string { return c.info.AuthUserID }

// UserID returns the user bound by setup, empty before setup.
func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Send exposes the outbound queue. Tests read from it when no socket is
// attached.
func (c *Conn) Send() <-chan []byte {
	return c.send
}

func (c *Conn) bindUser(userID string) (previous string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous = c.userID
	c.userID = userID
	return previous
}

// enqueue offers msg to the send queue without blocking. full reports a
// queue that could not take the message.
func (c *Conn) enqueue(msg []byte) (ok, full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, false
	}
	select {
	case c.send <- msg:
		return true, false
	default:
		return false, true
	}
}

// closeSend closes the queue once; the write pump then sends a close frame.
func (c *Conn) closeSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

func (c *Conn) closeSocket() {
	if c.ws == nil {
		return
	}
	if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error closing connection", zap.Error(err))
	}
}

// reply sends one event to this connection only.
func (c *Conn) reply(name EventName, payload any) {
	data, err := EncodeFrame(name, payload)
	if err != nil {
		c.log.Error("encode reply", zap.String("event", string(name)), zap.Error(err))
		return
	}
	if _, full := c.enqueue(data); full {
		c.log.Warn("send queue full, dropping reply", zap.String("event", string(name)))
	}
}

func (c *Conn) replyError(err error) {
	c.reply(EventError, ErrorPayload{Message: err.Error()})
}

func (c *Conn) setupReadConnection(maxMessageSize int64) {
	c.ws.SetReadLimit(maxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("error setting initial read deadline", zap.Error(err))
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs the read failure. Every read error ends the pump.
func (c *Conn) handleReadError(err error, maxMessageSize int64) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Info("message exceeded maximum size", zap.Int64("max", maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("connection closed", zap.Error(err))
	default:
		c.log.Warn("websocket read error", zap.Error(err))
	}
}

func (c *Conn) readPump(maxMessageSize int64) {
	defer func() {
		c.disconnect()
		c.closeSocket()
	}()

	c.setupReadConnection(maxMessageSize)

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.handleReadError(err, maxMessageSize)
			return
		}
		c.process(raw)
	}
}

// process decodes one inbound frame and dispatches it. Failures are
// isolated to the frame.
func (c *Conn) process(raw []byte) {
	if c.quota != nil && !c.quota.take() {
		c.log.Info("rate limit exceeded, discarding event")
		return
	}

	ev, err := DecodeEvent(raw)
	if err != nil {
		c.log.Info("dropping inbound frame", zap.Error(err))
		c.replyError(err)
		return
	}
	c.dispatch(ev)
}

func (c *Conn) dispatch(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("recovered from panic in event handler",
				zap.String("event", string(ev.Name())),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	if c.handler != nil {
		c.handler.HandleEvent(c, ev)
	}
}

func (c *Conn) disconnect() {
	if c.handler != nil {
		c.handler.HandleDisconnect(c)
	}
	c.registry.Disconnect(c)
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeSocket()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Warn("error setting write deadline", zap.Error(err))
				return
			}
			if !ok {
				c.writeCloseMessage()
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Warn("error writing message", zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Warn("error setting write deadline for ping", zap.Error(err))
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Info("error writing ping", zap.Error(err))
				return
			}
		}
	}
}

func (c *Conn) writeCloseMessage() {
	if err := c.ws.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Info("error writing close message", zap.Error(err))
	}
}

// isExpectedCloseError reports errors that occur during a normal close.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
