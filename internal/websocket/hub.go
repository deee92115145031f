package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"emrcore/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client represents a single connected WebSocket client subscribed to one clinic.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	clinicID uuid.UUID
	userID   uuid.UUID
}

// Hub fans clinic events out to that clinic's connected clients.
type Hub struct {
	clients    map[uuid.UUID]map[*Client]struct{}
	events     chan service.Event
	register   chan *Client
	unregister chan *Client
	upgrader   websocket.Upgrader
}

// NewHub initializes a new WS Hub instance. allowedOrigins empty accepts any origin.
func NewHub(allowedOrigins []string) *Hub {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		events:     make(chan service.Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// Publish queues an event for delivery. It never blocks; events are dropped when the queue is full.
func (h *Hub) Publish(event service.Event) {
	select {
	case h.events <- event:
	default:
		log.Warn().Str("type", event.Type).Str("clinic_id", event.ClinicID.String()).Msg("websocket event queue full, dropping event")
	}
}

// Run starts the core dispatch loop for WebSocket events until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for client := range set {
					close(client.send)
				}
			}
			h.clients = map[uuid.UUID]map[*Client]struct{}{}
			return
		case client := <-h.register:
			set, ok := h.clients[client.clinicID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.clinicID] = set
			}
			set[client] = struct{}{}
			log.Debug().Str("clinic_id", client.clinicID.String()).Str("user_id", client.userID.String()).Msg("websocket client connected")
		case client := <-h.unregister:
			h.remove(client)
		case event := <-h.events:
			msg, err := json.Marshal(event)
			if err != nil {
				log.Error().Err(err).Str("type", event.Type).Msg("failed to encode websocket event")
				continue
			}
			for client := range h.clients[event.ClinicID] {
				select {
				case client.send <- msg:
				default:
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	set, ok := h.clients[client.clinicID]
	if !ok {
		return
	}
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	close(client.send)
	if len(set) == 0 {
		delete(h.clients, client.clinicID)
	}
	log.Debug().Str("clinic_id", client.clinicID.String()).Msg("websocket client disconnected")
}

// writePump handles writing messages from the Hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so pongs and close frames are processed.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
	}
}

// ServeWs authenticates via the token query parameter and subscribes the caller to
// clinic_id, which must be one of their clinics.
func ServeWs(hub *Hub, tokens *service.Tokens, authz service.AuthorizationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := tokens.Parse(c.Query("token"))
		if err != nil {
			log.Debug().Err(err).Msg("websocket connection rejected: invalid token")
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		var requested uuid.UUID
		if raw := c.Query("clinic_id"); raw != "" {
			if requested, err = uuid.Parse(raw); err != nil {
				c.AbortWithStatus(http.StatusBadRequest)
				return
			}
		}
		grant, err := authz.ResolveClinic(c.Request.Context(), p, requested)
		if err != nil || grant == nil {
			log.Debug().Err(err).Str("user_id", p.UserID.String()).Msg("websocket connection rejected: no clinic access")
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		conn, err := hub.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), clinicID: grant.ClinicID, userID: p.UserID}
		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}
