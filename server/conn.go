package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentbrowser/bap/protocol"
	"github.com/agentbrowser/bap/session"
)

const (
	writeWait = 10 * time.Second
	// outboundQueueCap bounds the per-connection write queue. Beyond it,
	// non-essential notifications are dropped before the socket is closed.
	outboundQueueCap = 256
)

type outbound struct {
	data      []byte
	essential bool
}

// conn ties a WebSocket to its session. One goroutine reads, one writes,
// and one worker executes requests in arrival order so the session's
// mutable state is only ever touched by a single logical actor.
type conn struct {
	srv  *Server
	ws   *websocket.Conn
	sess *session.Session
	ip   string

	writeCh   chan outbound
	requests  chan *protocol.Message
	done      chan struct{}
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

func newConn(s *Server, ws *websocket.Conn, sess *session.Session, ip string) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		srv:      s,
		ws:       ws,
		sess:     sess,
		ip:       ip,
		writeCh:  make(chan outbound, outboundQueueCap),
		requests: make(chan *protocol.Message, 32),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// readPump reads frames until the socket dies, feeding requests to the
// serialized worker. It runs on the HTTP handler goroutine.
func (c *conn) readPump() {
	go c.workPump()
	defer c.teardown()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.srv.logger.Debugf("server:conn", "read failed: %v", err)
			}
			return
		}
		c.sess.Touch()

		msg, err := protocol.Decode(data)
		if err != nil {
			c.reply(protocol.NewErrorResponse(nil, protocol.ErrParse()))
			continue
		}
		switch msg.Kind() {
		case protocol.FrameRequest:
			// Approval decisions and stream cancellation must not queue
			// behind a suspended request; they are handled out-of-band.
			if msg.Method == "approval/respond" || msg.Method == "stream/cancel" {
				c.dispatch(msg)
				continue
			}
			select {
			case c.requests <- msg:
			case <-c.done:
				return
			}
		case protocol.FrameNotification:
			c.handleNotification(msg)
		case protocol.FrameResponse:
			// Client-originated responses have no meaning here.
		default:
			c.reply(protocol.NewErrorResponse(msg.ID, protocol.ErrInvalidRequest("malformed frame")))
		}
	}
}

// workPump executes queued requests one at a time.
func (c *conn) workPump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.requests:
			c.dispatch(msg)
		}
	}
}

func (c *conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case out := <-c.writeCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, out.data); err != nil {
				c.srv.logger.Debugf("server:conn", "write failed: %v", err)
				c.closeSocket()
				return
			}
		}
	}
}

// reply queues a response frame. Responses are essential and block rather
// than drop.
func (c *conn) reply(msg *protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		c.srv.logger.Errorf("server:conn", "encode failed: %v", err)
		return
	}
	select {
	case c.writeCh <- outbound{data: data, essential: true}:
	case <-c.done:
	}
}

// notify queues a notification frame. When the queue is full the frame is
// dropped so a slow client only loses events, never responses.
func (c *conn) notify(method string, params any) {
	msg, err := protocol.NewNotification(method, params)
	if err != nil {
		c.srv.logger.Errorf("server:conn", "notification encode failed: %v", err)
		return
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	select {
	case c.writeCh <- outbound{data: data}:
	default:
		c.srv.logger.Warnf("server:conn", "queue full, dropping %s", method)
	}
}

// notifyEssential queues a frame that must not be dropped (stream and
// approval traffic).
func (c *conn) notifyEssential(method string, params any) {
	msg, err := protocol.NewNotification(method, params)
	if err != nil {
		return
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	select {
	case c.writeCh <- outbound{data: data, essential: true}:
	case <-c.done:
	}
}

func (c *conn) handleNotification(msg *protocol.Message) {
	switch msg.Method {
	case "notifications/initialized":
		c.srv.logger.Debugf("server:conn", "client initialized session=%s", c.sess.ID)
	default:
		c.srv.logger.Debugf("server:conn", "ignoring notification %s", msg.Method)
	}
}

// closeWithPolicy sends close code 1008 and tears the connection down.
func (c *conn) closeWithPolicy(reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, msg)
	c.closeSocket()
}

func (c *conn) closeSocket() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		_ = c.ws.Close()
	})
}

// teardown runs once the read loop exits: cancels outstanding work,
// rejects pending approvals and releases the session.
func (c *conn) teardown() {
	c.closeSocket()
	c.srv.unregisterConn(c)
	for _, pa := range c.sess.PendingApprovals() {
		select {
		case pa.Decision <- session.ApprovalDecision{Decision: "deny", Reason: "connection closed"}:
		default:
		}
	}
	c.srv.sessions.Close(c.sess, c.ip)
}
