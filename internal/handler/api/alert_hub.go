package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"IntelWatch/internal/domain/models"
	domsvc "IntelWatch/internal/domain/service"
	xhttp "IntelWatch/pkg/http"
	"IntelWatch/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
)

// AlertHub fans persisted alerts out to the websocket clients of their owner.
type AlertHub struct {
	upgrader websocket.Upgrader
	log      *logger.Logger

	mu      sync.RWMutex
	clients map[string]map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	id      string
	ownerID string
	conn    *websocket.Conn
	send    chan []byte
	once    sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() { close(c.send) })
}

func NewAlertHub(lgr *logger.Logger) *AlertHub {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &AlertHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     lgr.With(logger.String("component", "alert_hub")),
		clients: make(map[string]map[*hubClient]struct{}),
	}
}

func (h *AlertHub) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/alerts", h.Serve)
}

// Serve upgrades the request and streams the owner's alerts until the peer
// goes away.
func (h *AlertHub) Serve(c echo.Context) error {
	ownerID := c.QueryParam("owner_id")
	if ownerID == "" {
		return xhttp.BadRequestResponse(c, []xhttp.ValidationError{{
			Code:    "ERR_REQUIRED",
			Field:   "owner_id",
			Message: "owner_id is required",
		}})
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logger.Error(err))
		return nil
	}
	client := &hubClient{
		id:      uuid.NewString(),
		ownerID: ownerID,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
	}
	if !h.register(client) {
		_ = conn.Close()
		return nil
	}
	h.log.Debug("feed client connected", logger.String("owner_id", ownerID), logger.String("client_id", client.id))

	go h.writePump(client)
	h.readPump(client)
	return nil
}

// Publish queues the alert for every client of ownerID. Slow clients whose
// buffer is full miss the message.
func (h *AlertHub) Publish(ownerID string, alert *models.Alert) {
	if alert == nil {
		return
	}
	b, err := json.Marshal(alert)
	if err != nil {
		h.log.Warn("alert not serializable", logger.String("alert_id", alert.ID), logger.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[ownerID] {
		select {
		case client.send <- b:
		default:
			h.log.Warn("feed client lagging, alert dropped",
				logger.String("client_id", client.id),
				logger.String("alert_id", alert.ID),
			)
		}
	}
}

// Clients returns the number of connected clients of ownerID.
func (h *AlertHub) Clients(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[ownerID])
}

// Close disconnects every client. Later connections are refused.
func (h *AlertHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for owner, set := range h.clients {
		for client := range set {
			client.close()
		}
		delete(h.clients, owner)
	}
}

func (h *AlertHub) register(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[c.ownerID]
	if !ok {
		set = make(map[*hubClient]struct{})
		h.clients[c.ownerID] = set
	}
	set[c] = struct{}{}
	return true
}

func (h *AlertHub) unregister(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[c.ownerID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			c.close()
		}
		if len(set) == 0 {
			delete(h.clients, c.ownerID)
		}
	}
}

// readPump only drains control frames; clients never send data.
func (h *AlertHub) readPump(c *hubClient) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("feed client read error", logger.String("client_id", c.id), logger.Error(err))
			}
			return
		}
	}
}

func (h *AlertHub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

var _ domsvc.AlertFeed = (*AlertHub)(nil)
