package notification

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func RegisterRoutes(e *gin.Engine, s *Service, hub *Hub) {
	g := e.Group("/notifications")

	g.GET("", func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}
		unreadOnly := c.Query("unread") == "true"
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

		out, err := s.List(c.Request.Context(), userID, unreadOnly, limit)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	g.GET("/unread-count", func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}

		n, err := s.UnreadCount(c.Request.Context(), userID)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": n})
	})

	g.POST("/:id/read", func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}

		if err := s.MarkRead(c.Request.Context(), c.Param("id"), userID); err != nil {
			c.Error(err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	e.GET("/ws/notifications/:user_id", func(c *gin.Context) {
		userID := c.Param("user_id")

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			zap.L().Error("failed to upgrade websocket", zap.Error(err))
			return
		}

		hub.Register(userID, conn)
		defer func() {
			hub.Unregister(userID, conn)
			conn.Close()
		}()

		// drain the read side; the connection is push-only and closes
		// when the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}
