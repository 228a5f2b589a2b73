package ws

import (
	"sync"
	"time"
)

// movementWindow classifies an agent as moving when differing fixes arrive
// within this span.
const movementWindow = 5 * time.Second

// Entry is one agent's live position. Written exclusively by the presence
// service; reconciled against persisted readings on every new subscription,
// never the sole source of truth.
type Entry struct {
	AgentUID     string    `json:"agent_id"`
	UserIDRef    uint      `json:"-"`
	AssignmentID string    `json:"assignment_id"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	AccuracyM    float64   `json:"accuracy_m"`
	Moving       bool      `json:"moving"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Cache holds live entries partitioned by agent key. Entries survive
// disconnects; persisted history remains the fallback source.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

// Update writes the agent's entry and classifies movement: a fix that differs
// from the previous one and lands within the movement window marks the agent
// moving.
func (c *Cache) Update(agentUID string, userRef uint, assignmentID string, lat, lon, accuracyM float64, at time.Time) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	moving := false
	if prev, ok := c.entries[agentUID]; ok {
		changed := prev.Lat != lat || prev.Lon != lon
		moving = changed && at.Sub(prev.UpdatedAt) <= movementWindow
	}
	e := &Entry{
		AgentUID:     agentUID,
		UserIDRef:    userRef,
		AssignmentID: assignmentID,
		Lat:          lat,
		Lon:          lon,
		AccuracyM:    accuracyM,
		Moving:       moving,
		UpdatedAt:    at,
	}
	c.entries[agentUID] = e
	return *e
}

// Get returns the live entry for one agent.
func (c *Cache) Get(agentUID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[agentUID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ForAssignment returns the live entries currently attached to an assignment.
func (c *Cache) ForAssignment(assignmentID string) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Entry
	for _, e := range c.entries {
		if e.AssignmentID == assignmentID {
			out = append(out, *e)
		}
	}
	return out
}
