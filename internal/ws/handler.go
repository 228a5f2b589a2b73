package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/hzakaria/guardpoint_backend/internal/models"
	"github.com/hzakaria/guardpoint_backend/internal/position"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins; rely on JWT auth.
		return true
	},
}

// ObserverHandler upgrades a supervisor/admin connection into an observer
// session. Supervisors are scoped to their assigned rooms; admins see all.
func ObserverHandler(hub *PresenceHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		uVal, ok := c.Get("user")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		user := uVal.(models.User)
		role := strings.ToLower(user.Role)
		if role != "admin" && role != "supervisor" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		allowAll := role == "admin"
		allowedRooms := map[string]struct{}{}
		if !allowAll {
			var memberships []models.AssignmentSupervisor
			if err := hub.DB.Where("user_id_ref = ?", user.ID).Find(&memberships).Error; err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			if len(memberships) == 0 {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "no assignments supervised"})
				return
			}
			for _, m := range memberships {
				allowedRooms[m.AssignmentIDRef] = struct{}{}
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := newObserverClient(hub, conn, allowedRooms, allowAll)
		hub.register <- client

		go client.writePump()
		client.readPump()
	}
}

type feedFrame struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	AccuracyM  float64   `json:"accuracy_m"`
	CapturedAt time.Time `json:"captured_at"`
}

// AgentFeedHandler receives an agent's raw telemetry stream for one
// assignment and publishes admitted fixes through the hub. The cache entry is
// retained after disconnect; persisted history remains the fallback.
func AgentFeedHandler(hub *PresenceHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		uVal, ok := c.Get("user")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		user := uVal.(models.User)
		if strings.ToLower(user.Role) != "agent" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		assignmentID := c.Query("assignment_id")
		if assignmentID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "assignment_id required"})
			return
		}
		var membership models.AssignmentAgent
		if err := hub.DB.Where("user_id_ref = ? AND assignment_id_ref = ?", user.ID, assignmentID).
			First(&membership).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not assigned"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		runAgentFeed(hub, conn, user, assignmentID)
	}
}

func runAgentFeed(hub *PresenceHub, conn *websocket.Conn, user models.User, assignmentID string) {
	defer conn.Close()

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
	defer close(stop)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		var frame feedFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.AccuracyM > position.AccuracyCeilingM {
			continue // noise, same ceiling as admission sampling
		}
		at := frame.CapturedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		hub.Publish(user.UserID, user.ID, assignmentID, frame.Lat, frame.Lon, frame.AccuracyM, at)
	}
}
