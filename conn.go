package main

import (
	"github.com/gorilla/websocket"
)

// connection pumps frames between one websocket and the hub. The reader
// turns inbound frames into hub commands; the writer drains the session's
// send buffer and emits transport keepalive pings from the shared ticker.
// Neither pump touches hub state directly.
type connection struct {
	w    websocketManager
	sess *session
	h    *hub
}

func newConnection(ws *websocket.Conn, h *hub) *connection {
	return &connection{
		w:    websocketInteractor{ws: ws},
		sess: newSession(),
		h:    h,
	}
}

func (c *connection) run(keepalive *mTicker) {
	c.w.wsSetReadLimit()
	c.w.wsSetReadDeadline()
	c.w.wsSetPongHandler()
	incr("websockets", 1)

	c.h.queue <- command{cmd: REGISTER, sess: c.sess}
	ticks := keepalive.subscribe()
	defer func() {
		decr("websockets", 1)
		keepalive.unsubscribe(ticks)
		c.h.queue <- command{cmd: UNREGISTER, sess: c.sess}
	}()
	go c.writer(ticks)
	c.reader()
}

func (c *connection) reader() {
	for {
		if err := c.readMessage(); err != nil {
			break
		}
	}
	c.w.wsClose()
}

func (c *connection) readMessage() error {
	_, message, err := c.w.wsReadMessage()
	if err != nil {
		return err
	}
	incr("conn.recv", 1)
	c.h.queue <- command{cmd: FRAME, sess: c.sess, text: message}
	return nil
}

func (c *connection) writer(ticks *subscriber) {
	defer c.w.wsClose()
	for {
		select {
		case message, ok := <-c.sess.send:
			if !ok {
				return
			}
			c.w.wsSetWriteDeadline()
			if err := c.w.wsWriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			incr("conn.send", 1)
		case _, ok := <-ticks.tick:
			if !ok {
				return
			}
			c.w.wsSetWriteDeadline()
			if err := c.w.wsWriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
