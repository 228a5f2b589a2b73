package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/hzakaria/guardpoint_backend/internal/logger"
	"github.com/hzakaria/guardpoint_backend/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256

	// snapshotWindow bounds how far back persisted readings are reconciled
	// into a subscription snapshot.
	snapshotWindow = 5 * time.Minute
)

const (
	frameSnapshot = "snapshot"
	framePosition = "position-update"
	frameCheckIn  = "checkin"
	frameCheckOut = "checkout"
)

// Frame is the wire envelope pushed to observers.
type Frame struct {
	Type         string           `json:"type"`
	AssignmentID string           `json:"assignment_id"`
	Position     *Entry           `json:"position,omitempty"`
	Positions    []Entry          `json:"positions,omitempty"`
	Attendance   *AttendanceEvent `json:"attendance,omitempty"`
}

// AttendanceEvent is the discrete check-in/check-out payload, distinct from
// position updates.
type AttendanceEvent struct {
	AgentUID   string     `json:"agent_id"`
	CheckInAt  time.Time  `json:"check_in_at"`
	CheckOutAt *time.Time `json:"check_out_at,omitempty"`
	DistanceM  float64    `json:"distance_m"`
	ToleranceM float64    `json:"tolerance_m"`
}

type roomMessage struct {
	room    string
	payload []byte
}

type subChange struct {
	client *observerClient
	room   string
	join   bool
}

// PresenceHub maintains the observer registry, the live position cache, and
// the best-effort persistence of admitted readings. One hub per process,
// owned by main with explicit Start/Stop.
type PresenceHub struct {
	DB    *gorm.DB
	Log   *logger.Logger
	Cache *Cache

	persist    *persister
	register   chan *observerClient
	unregister chan *observerClient
	subscribe  chan subChange
	broadcast  chan roomMessage
	quit       chan struct{}
	done       chan struct{}
	clients    map[*observerClient]struct{}
}

func NewPresenceHub(db *gorm.DB, log *logger.Logger) *PresenceHub {
	return &PresenceHub{
		DB:         db,
		Log:        log,
		Cache:      NewCache(),
		persist:    newPersister(db, log),
		register:   make(chan *observerClient),
		unregister: make(chan *observerClient),
		subscribe:  make(chan subChange),
		broadcast:  make(chan roomMessage, 256),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		clients:    make(map[*observerClient]struct{}),
	}
}

func (h *PresenceHub) Start() {
	go h.persist.run()
	go h.run()
}

func (h *PresenceHub) Stop() {
	close(h.quit)
	<-h.done
	h.persist.stop()
}

func (h *PresenceHub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				close(client.send)
				client.conn.Close()
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				client.conn.Close()
			}
		case ch := <-h.subscribe:
			if _, ok := h.clients[ch.client]; ok {
				if ch.join {
					ch.client.rooms[ch.room] = struct{}{}
				} else {
					delete(ch.client.rooms, ch.room)
				}
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				if _, ok := client.rooms[msg.room]; !ok {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					delete(h.clients, client)
					close(client.send)
					client.conn.Close()
				}
			}
		}
	}
}

// Publish handles one admitted position update: cache write, best-effort
// persistence, then room fan-out. The durable write never blocks delivery.
func (h *PresenceHub) Publish(agentUID string, userRef uint, assignmentID string, lat, lon, accuracyM float64, at time.Time) Entry {
	entry := h.Cache.Update(agentUID, userRef, assignmentID, lat, lon, accuracyM, at)
	h.persist.enqueue(models.PositionReading{
		UserIDRef:       userRef,
		AssignmentIDRef: assignmentID,
		Lat:             lat,
		Lon:             lon,
		AccuracyM:       accuracyM,
		IsMoving:        entry.Moving,
		CapturedAt:      at,
	})
	h.send(assignmentID, Frame{Type: framePosition, AssignmentID: assignmentID, Position: &entry})
	return entry
}

// CheckedIn fans out a discrete check-in event to the assignment's room.
func (h *PresenceHub) CheckedIn(rec models.AttendanceRecord) {
	h.sendAttendance(frameCheckIn, rec)
}

// CheckedOut fans out a discrete check-out event.
func (h *PresenceHub) CheckedOut(rec models.AttendanceRecord) {
	h.sendAttendance(frameCheckOut, rec)
}

func (h *PresenceHub) sendAttendance(frameType string, rec models.AttendanceRecord) {
	var agent models.User
	if err := h.DB.First(&agent, rec.UserIDRef).Error; err != nil {
		h.Log.Error("presence: agent lookup failed", "agent_ref", rec.UserIDRef, "err", err)
		return
	}
	h.send(rec.AssignmentIDRef, Frame{
		Type:         frameType,
		AssignmentID: rec.AssignmentIDRef,
		Attendance: &AttendanceEvent{
			AgentUID:   agent.UserID,
			CheckInAt:  rec.CheckInAt,
			CheckOutAt: rec.CheckOutAt,
			DistanceM:  rec.DistanceM,
			ToleranceM: rec.ToleranceM,
		},
	})
}

// requestSubscribe forwards a room membership change to the run loop, giving
// up when the hub is stopping.
func (h *PresenceHub) requestSubscribe(c *observerClient, room string, join bool) {
	select {
	case h.subscribe <- subChange{client: c, room: room, join: join}:
	case <-h.quit:
	}
}

func (h *PresenceHub) send(room string, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.Log.Error("presence: marshal failed", "err", err)
		return
	}
	select {
	case h.broadcast <- roomMessage{room: room, payload: data}:
	case <-h.quit:
	}
}

// Snapshot returns the union of live cache entries and persisted readings
// from the snapshot window, deduplicated per agent with the cache winning.
func (h *PresenceHub) Snapshot(assignmentID string, now time.Time) []Entry {
	byAgent := make(map[string]Entry)
	for _, e := range h.Cache.ForAssignment(assignmentID) {
		byAgent[e.AgentUID] = e
	}

	type row struct {
		AgentUID   string
		UserIDRef  uint
		Lat        float64
		Lon        float64
		AccuracyM  float64
		IsMoving   bool
		CapturedAt time.Time
	}
	var rows []row
	err := h.DB.Table("position_readings pr").
		Select("u.user_id AS agent_uid, pr.user_id_ref, pr.lat, pr.lon, pr.accuracy_m, pr.is_moving, pr.captured_at").
		Joins("JOIN users u ON u.id = pr.user_id_ref").
		Where("pr.assignment_id_ref = ? AND pr.captured_at > ?", assignmentID, now.Add(-snapshotWindow)).
		Order("pr.captured_at DESC").
		Scan(&rows).Error
	if err != nil {
		h.Log.Error("presence: snapshot query failed", "assignment_id", assignmentID, "err", err)
	}
	seen := make(map[string]struct{})
	for _, r := range rows {
		if _, ok := seen[r.AgentUID]; ok {
			continue // rows are newest-first, keep the latest per agent
		}
		seen[r.AgentUID] = struct{}{}
		if _, ok := byAgent[r.AgentUID]; ok {
			continue // live entry wins over the stale persisted row
		}
		byAgent[r.AgentUID] = Entry{
			AgentUID:     r.AgentUID,
			UserIDRef:    r.UserIDRef,
			AssignmentID: assignmentID,
			Lat:          r.Lat,
			Lon:          r.Lon,
			AccuracyM:    r.AccuracyM,
			Moving:       r.IsMoving,
			UpdatedAt:    r.CapturedAt,
		}
	}

	out := make([]Entry, 0, len(byAgent))
	for _, e := range byAgent {
		out = append(out, e)
	}
	return out
}

type observerClient struct {
	hub          *PresenceHub
	conn         *websocket.Conn
	send         chan []byte
	allowAll     bool
	allowedRooms map[string]struct{}
	rooms        map[string]struct{}
}

func newObserverClient(hub *PresenceHub, conn *websocket.Conn, allowed map[string]struct{}, allowAll bool) *observerClient {
	return &observerClient{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		allowAll:     allowAll,
		allowedRooms: allowed,
		rooms:        make(map[string]struct{}),
	}
}

func (c *observerClient) allowed(room string) bool {
	if c.allowAll {
		return true
	}
	_, ok := c.allowedRooms[room]
	return ok
}

type observerCommand struct {
	Action       string `json:"action"`
	AssignmentID string `json:"assignment_id"`
}

func (c *observerClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var cmd observerCommand
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.AssignmentID == "" {
			continue
		}
		switch cmd.Action {
		case "subscribe":
			if !c.allowed(cmd.AssignmentID) {
				continue
			}
			c.hub.requestSubscribe(c, cmd.AssignmentID, true)
			snap := Frame{
				Type:         frameSnapshot,
				AssignmentID: cmd.AssignmentID,
				Positions:    c.hub.Snapshot(cmd.AssignmentID, time.Now().UTC()),
			}
			if payload, err := json.Marshal(snap); err == nil {
				select {
				case c.send <- payload:
				default:
				}
			}
		case "unsubscribe":
			c.hub.requestSubscribe(c, cmd.AssignmentID, false)
		}
	}
}

func (c *observerClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			if err := w.Close(); err != nil {
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
