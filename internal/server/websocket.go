package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/runhawk/engine/internal/bus"
	"github.com/runhawk/engine/pkg/api"
	"github.com/runhawk/engine/pkg/log"
)

// Client represents a WebSocket client connection streaming events for
// one execution at a time
type Client struct {
	server *Server
	bus    *bus.Bus
	conn   *websocket.Conn
	sub    *bus.Subscription
	execID api.ExecutionID
}

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 512
	wsBufferSize       = 1024
	incomingBufferSize = 16

	subscribeMessageType = "subscribe"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket upgrades the connection and starts streaming. The
// client selects an execution by sending a subscribe message; events
// published after the subscription arrive as WebSocketEvent frames
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed",
			log.Error(err))
		return
	}

	client := &Client{
		server: s,
		bus:    s.bus,
		conn:   conn,
	}
	s.registerWebSocket(client)

	go client.run()
}

// Close terminates the connection, unblocking the client's run loop
func (c *Client) Close() {
	_ = c.conn.Close()
}

func (c *Client) run() {
	defer func() {
		if c.sub != nil {
			c.sub.Close()
		}
		_ = c.conn.Close()
		c.server.unregisterWebSocket(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go c.readMessages(incoming)

	for {
		select {
		case message, ok := <-incoming:
			if !ok {
				return
			}
			c.handleSubscribe(message)

		case event, ok := <-c.events():
			if !ok {
				// the feed closes once the execution reaches a
				// terminal status and its buffered events drain
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.sendEvent(event) {
				return
			}

		case <-ticker.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

// events returns the current subscription channel. A nil channel
// blocks in select until the client subscribes
func (c *Client) events() <-chan *api.Event {
	if c.sub == nil {
		return nil
	}
	return c.sub.Receive()
}

func (c *Client) readMessages(incoming chan []byte) {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			close(incoming)
			return
		}
		incoming <- message
	}
}

func (c *Client) handleSubscribe(message []byte) {
	var sub api.SubscribeRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		slog.Error("Failed to parse WebSocket message",
			log.Error(err))
		return
	}

	if sub.Type != subscribeMessageType || sub.ExecutionID == "" {
		return
	}

	if c.sub != nil {
		c.sub.Close()
	}
	c.sub = c.bus.Subscribe(sub.ExecutionID)
	c.execID = sub.ExecutionID

	msg := api.SubscribedResult{
		Type:        "subscribed",
		ExecutionID: sub.ExecutionID,
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		slog.Error("WebSocket write failed",
			log.ExecutionID(sub.ExecutionID),
			log.Error(err))
	}
}

func (c *Client) sendEvent(ev *api.Event) bool {
	wsEvent := &api.WebSocketEvent{
		Type:        ev.Type,
		ExecutionID: ev.ExecutionID,
		Timestamp:   ev.Timestamp.UnixMilli(),
		Data:        ev.Data,
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(wsEvent); err != nil {
		slog.Error("WebSocket write failed",
			log.ExecutionID(c.execID),
			log.Error(err))
		return false
	}
	return true
}

func (c *Client) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}
