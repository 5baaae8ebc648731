package webserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/worldsio/detectbridge"
	"github.com/worldsio/detectbridge/domain"
	"go.uber.org/zap"
)

// Message types exchanged on /ws.
const (
	TypeJoinDevice       = "join_device"
	TypeLeaveDevice      = "leave_device"
	TypeDetectionData    = "detection_data"
	TypeConnectionStatus = "connection_status"
	TypeError            = "error"
)

const (
	sendBuffer     = 64
	maxMessageSize = 4096
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
)

// Subscriptions hands out device subscriptions to the rooms of a Hub.
type Subscriptions interface {
	Acquire(deviceID string) error
	Release(deviceID string) error
}

var _ Subscriptions = (*detectbridge.Bridge)(nil)

// Inbound is a message sent by a browser client.
type Inbound struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
}

// Outbound is a message pushed to browser clients.
type Outbound struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// StatusData is the payload of a connection_status message.
type StatusData struct {
	Status detectbridge.SubscriptionStatus `json:"status"`
	Error  string                          `json:"error,omitempty"`
}

// Hub keeps one room per device. A client joining a room holds a reference
// on the device subscription until it leaves or disconnects.
type Hub struct {
	subs     Subscriptions
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	rooms   map[string]map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	rooms map[string]struct{} // guarded by hub.mu
}

// NewHub returns a Hub acquiring subscriptions from subs.
func NewHub(subs Subscriptions, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   subs,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		rooms:   make(map[string]map[*client]struct{}),
	}
}

// HandleDetection pushes a stored detection to the room of deviceID. It is
// meant to be registered with detectbridge.WithDetectionHandler.
func (h *Hub) HandleDetection(deviceID string, detection *domain.Detection, activity *domain.DetectionActivity) error {
	h.Broadcast(deviceID, Outbound{Type: TypeDetectionData, DeviceID: deviceID, Data: activity})
	return nil
}

// HandleStatus pushes a subscription status to the room of deviceID. It is
// meant to be registered with detectbridge.WithStatusHandler.
func (h *Hub) HandleStatus(deviceID string, status detectbridge.SubscriptionStatus, err error) {
	data := StatusData{Status: status}
	if err != nil {
		data.Error = err.Error()
	}
	h.Broadcast(deviceID, Outbound{Type: TypeConnectionStatus, DeviceID: deviceID, Data: data})
}

// Broadcast sends msg to every client in the room of deviceID. Clients whose
// send buffer is full miss the message.
func (h *Hub) Broadcast(deviceID string, msg Outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshalling message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[deviceID] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping message for slow client", zap.String("device_id", deviceID), zap.String("type", msg.Type))
		}
	}
}

// Members returns the number of clients in the room of deviceID.
func (h *Hub) Members(deviceID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[deviceID])
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrading websocket", zap.Error(err))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		rooms: make(map[string]struct{}),
	}
	if !h.register(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	defer h.wg.Done()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()
	c.readPump()
	h.unregister(c)
	<-writerDone
}

// Close disconnects every client and waits for their handlers to return.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		c.conn.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	return true
}

// unregister removes c from every room and releases the subscriptions it held.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	rooms := make([]string, 0, len(c.rooms))
	for deviceID := range c.rooms {
		rooms = append(rooms, deviceID)
		h.leaveRoom(c, deviceID)
	}
	close(c.send)
	h.mu.Unlock()

	for _, deviceID := range rooms {
		h.release(deviceID)
	}
}

func (h *Hub) join(c *client, deviceID string) {
	h.mu.Lock()
	if _, ok := c.rooms[deviceID]; ok {
		h.mu.Unlock()
		return
	}
	c.rooms[deviceID] = struct{}{}
	room, ok := h.rooms[deviceID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[deviceID] = room
	}
	room[c] = struct{}{}
	h.mu.Unlock()

	if err := h.subs.Acquire(deviceID); err != nil {
		h.logger.Warn("acquiring subscription", zap.String("device_id", deviceID), zap.Error(err))
		h.mu.Lock()
		h.leaveRoom(c, deviceID)
		h.mu.Unlock()
		c.push(Outbound{Type: TypeError, DeviceID: deviceID, Data: err.Error()})
		return
	}
	h.logger.Info("client joined device room", zap.String("device_id", deviceID))
}

func (h *Hub) leave(c *client, deviceID string) {
	h.mu.Lock()
	if _, ok := c.rooms[deviceID]; !ok {
		h.mu.Unlock()
		return
	}
	h.leaveRoom(c, deviceID)
	h.mu.Unlock()

	h.release(deviceID)
	h.logger.Info("client left device room", zap.String("device_id", deviceID))
}

// leaveRoom removes c from the room of deviceID. h.mu must be held.
func (h *Hub) leaveRoom(c *client, deviceID string) {
	delete(c.rooms, deviceID)
	if room, ok := h.rooms[deviceID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, deviceID)
		}
	}
}

func (h *Hub) release(deviceID string) {
	if err := h.subs.Release(deviceID); err != nil {
		h.logger.Warn("releasing subscription", zap.String("device_id", deviceID), zap.Error(err))
	}
}

// push queues msg for c alone.
func (c *client) push(msg Outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.push(Outbound{Type: TypeError, Data: "invalid message"})
			continue
		}

		deviceID := strings.TrimSpace(msg.DeviceID)
		if deviceID == "" {
			c.push(Outbound{Type: TypeError, Data: "device_id is required"})
			continue
		}
		switch msg.Type {
		case TypeJoinDevice:
			c.hub.join(c, deviceID)
		case TypeLeaveDevice:
			c.hub.leave(c, deviceID)
		default:
			c.push(Outbound{Type: TypeError, DeviceID: deviceID, Data: "unknown message type " + msg.Type})
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
