package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"peerdesk-server/internal/auth"
	"peerdesk-server/internal/hub"
	"peerdesk-server/internal/relay"
	"peerdesk-server/internal/store"
)

type RelayHandler struct {
	Hub         *hub.Hub
	Store       *store.Store
	TokenConfig auth.TokenConfig
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	pongWait   = 60 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

var errConnClosed = errors.New("connection closed")

// relayConn serializes all outbound traffic for one websocket through a
// buffered channel drained by a single write pump, so each recipient sees any
// one sender's messages in emission order. Write never blocks: a full buffer
// means the consumer is too slow and the message is dropped.
type relayConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool

	// joinMu orders room entry against departure: announceLeave flips gone
	// before touching the hub, and handleJoin registers under the same lock,
	// so a connection that already dropped never gains a membership.
	joinMu sync.Mutex
	gone   bool
}

func newRelayConn(ws *websocket.Conn) *relayConn {
	return &relayConn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, sendBuffer),
	}
}

func (c *relayConn) Write(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- message:
	default:
		// slow consumer, best-effort delivery: drop
	}
	return nil
}

func (c *relayConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	return c.ws.Close()
}

func (c *relayConn) writePump() {
	for message := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
			_ = c.ws.Close()
			return
		}
	}
}

func (h *RelayHandler) Serve(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}
	if _, err := auth.VerifyToken(tokenString, h.TokenConfig); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	conn := newRelayConn(ws)
	go conn.writePump()
	defer func() {
		h.announceLeave(conn)
		_ = conn.Close()
	}()

	ws.SetReadLimit(1024 * 1024)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker((pongWait * 9) / 10)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(writeWait)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg relay.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = conn.Write(relay.ErrorMessage("Malformed message"))
			continue
		}
		if err := msg.Validate(); err != nil {
			_ = conn.Write(relay.ErrorMessage(err.Error()))
			continue
		}

		switch msg.Type {
		case relay.TypePing:
			_ = conn.Write(relay.Encode(relay.ServerMessage{Type: relay.TypePong}))

		case relay.TypeJoinRoom:
			// Session validation is a blocking store read; run it off the
			// read loop so a slow join never stalls this room's traffic.
			go h.handleJoin(conn, msg)

		case relay.TypeControlEvent:
			m, ok := h.Hub.Get(conn.id)
			if !ok {
				continue
			}
			if err := msg.Event.Permitted(m.Permissions); err != nil {
				_ = conn.Write(relay.ErrorMessage(err.Error()))
				continue
			}
			h.Hub.Broadcast(m.RoomID, conn.id, relay.Forward(msg, conn.id))

		default:
			// offer, answer, ice-candidate, quality-change,
			// connection-stats, end-session: forward to the room.
			m, ok := h.Hub.Get(conn.id)
			if !ok {
				continue
			}
			h.Hub.Broadcast(m.RoomID, conn.id, relay.Forward(msg, conn.id))
			if msg.Type == relay.TypeEndSession {
				log.Info().Str("connId", conn.id).Str("roomId", m.RoomID).Msg("session end signaled")
			}
		}
	}
}

func (h *RelayHandler) handleJoin(conn *relayConn, msg relay.ClientMessage) {
	sess, err := h.Store.ResolveRoom(msg.SessionID, time.Now())
	if err != nil {
		_ = conn.Write(relay.ErrorMessage("Invalid session"))
		return
	}

	// The socket can drop between the read loop handing us the message and
	// this point; holding joinMu across the registration and the announcement
	// keeps user-joined/peer-left ordered for the peers either way.
	conn.joinMu.Lock()
	defer conn.joinMu.Unlock()
	if conn.gone {
		return
	}

	h.Hub.Join(&hub.Membership{
		ConnID:      conn.id,
		SessionID:   sess.ID,
		RoomID:      sess.RoomID,
		Role:        msg.Role,
		Permissions: sess.Permissions,
		Writer:      conn,
	})

	_ = conn.Write(relay.Encode(relay.ServerMessage{Type: relay.TypeJoined, RoomID: sess.RoomID, Role: msg.Role}))
	h.Hub.Broadcast(sess.RoomID, conn.id, relay.Encode(relay.ServerMessage{
		Type:   relay.TypeUserJoined,
		ConnID: conn.id,
		Role:   msg.Role,
	}))
	log.Debug().Str("connId", conn.id).Str("roomId", sess.RoomID).Str("role", msg.Role).Msg("joined room")
}

// announceLeave removes the membership and tells the remaining peers, so they
// can react immediately instead of waiting for a transport timeout.
func (h *RelayHandler) announceLeave(conn *relayConn) {
	conn.joinMu.Lock()
	conn.gone = true
	conn.joinMu.Unlock()

	m, remaining := h.Hub.Leave(conn.id)
	if m == nil {
		return
	}
	out := relay.Encode(relay.ServerMessage{Type: relay.TypePeerLeft, ConnID: m.ConnID, Role: m.Role})
	for _, other := range remaining {
		_ = other.Writer.Write(out)
	}
}
