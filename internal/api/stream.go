package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"invoicex/internal/config"
	"invoicex/internal/sink"
	"invoicex/pkg/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// isOriginAllowed implements the browser origin policy for /ws. Requests
// without an Origin header (non-browser clients) always pass. With an
// allowlist configured only exact matches pass; otherwise same-host and
// localhost origins pass.
func isOriginAllowed(origin string, cfg config.ServerConfig, reqHost string) bool {
	if origin == "" {
		return true
	}
	if len(cfg.AllowedOrigins) > 0 {
		for _, allowed := range cfg.AllowedOrigins {
			if strings.EqualFold(origin, allowed) {
				return true
			}
		}
		return false
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, reqHost) {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Client is one WebSocket connection bound to a sink subscriber. The read
// pump parses control messages; the write pump forwards subscriber events.
type Client struct {
	conn   *websocket.Conn
	sink   *sink.Sink
	sub    *sink.Subscriber
	logger *slog.Logger
}

// HandleWebSocket upgrades the connection and binds it to a new subscriber
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sub, err := h.sink.Register(uuid.NewString())
	if err != nil {
		h.logger.Error("subscriber registration failed", "error", err)
		conn.Close()
		return
	}

	client := &Client{
		conn:   conn,
		sink:   h.sink,
		sub:    sub,
		logger: h.logger.With("subscriber", sub.ID()),
	}

	// Start pumps
	go client.writePump()
	go client.readPump()
}

// writePump pumps subscriber events to the websocket connection. When the
// sink drops the subscriber for falling behind, the final frame says why.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.Events():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Sink closed the channel
				if c.sub.DropReason() == sink.ReasonSlowConsumer {
					c.conn.WriteJSON(types.Event{
						Type:      types.EventSlowConsumer,
						Timestamp: time.Now(),
					})
				}
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump pumps control messages from the websocket connection to the sink
func (c *Client) readPump() {
	defer func() {
		c.sink.Close(c.sub.ID())
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "error", err)
			}
			return
		}

		var msg types.ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("malformed control message", "error", err)
			continue
		}
		c.handleControl(msg)
	}
}

// handleControl applies one control message. Replies are directed at this
// subscriber only and carry no sequence.
func (c *Client) handleControl(msg types.ControlMessage) {
	switch msg.Type {
	case types.MsgSubscribe:
		if err := c.sink.Subscribe(c.sub.ID(), msg.Channel); err != nil {
			c.logger.Warn("subscribe failed", "channel", msg.Channel, "error", err)
			return
		}
		c.sink.Send(c.sub.ID(), types.Event{
			Type:      types.EventSubscriptionConfirmed,
			Channel:   msg.Channel,
			Timestamp: time.Now(),
		})

	case types.MsgUnsubscribe:
		if err := c.sink.Unsubscribe(c.sub.ID(), msg.Channel); err != nil {
			c.logger.Warn("unsubscribe failed", "channel", msg.Channel, "error", err)
		}

	case types.MsgPing:
		c.sink.Send(c.sub.ID(), types.Event{
			Type:      types.EventPong,
			Timestamp: time.Now(),
		})

	default:
		c.logger.Debug("unknown control message", "type", msg.Type)
	}
}
