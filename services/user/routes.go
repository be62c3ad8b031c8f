package user

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type createUserRequest struct {
	Username string `json:"username" binding:"required"`
}

func RegisterRoutes(e *gin.Engine, s *Service) {
	g := e.Group("/users")
	g.POST("", func(c *gin.Context) {
		var req createUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		u, err := s.Register(c.Request.Context(), req.Username)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, u.Profile())
	})

	g.GET("/:id", func(c *gin.Context) {
		profile, err := s.GetProfile(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, profile)
	})

	g.GET("/:id/stats", func(c *gin.Context) {
		stats, err := s.GetStats(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, stats)
	})
}
