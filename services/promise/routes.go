package promise

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

type createPromiseRequest struct {
	OwnerID     string    `json:"owner_id" binding:"required"`
	Title       string    `json:"title" binding:"required"`
	Description string    `json:"description"`
	Reward      string    `json:"reward"`
	Penalty     string    `json:"penalty"`
	Deadline    time.Time `json:"deadline" binding:"required"`
}

type submitEvidenceRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Report string `json:"report" binding:"required"`
}

type vouchRequest struct {
	ValidatorID string `json:"validator_id" binding:"required"`
}

type addCommentRequest struct {
	AuthorID string `json:"author_id" binding:"required"`
	Text     string `json:"text" binding:"required"`
}

func RegisterRoutes(e *gin.Engine, s *Service) {
	g := e.Group("/promises")

	g.POST("", func(c *gin.Context) {
		var req createPromiseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		p, err := s.Create(c.Request.Context(), req.OwnerID, CreateInput{
			Title:       req.Title,
			Description: req.Description,
			Reward:      req.Reward,
			Penalty:     req.Penalty,
			Deadline:    req.Deadline,
		})
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, p)
	})

	g.GET("", func(c *gin.Context) {
		if ownerID := c.Query("owner_id"); ownerID != "" {
			out, err := s.ListByOwner(c.Request.Context(), ownerID)
			if err != nil {
				c.Error(err)
				return
			}
			c.JSON(http.StatusOK, out)
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		out, err := s.List(c.Request.Context(), limit)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	g.GET("/:id", func(c *gin.Context) {
		view, err := s.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	g.POST("/:id/evidence", func(c *gin.Context) {
		var req submitEvidenceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		p, err := s.SubmitEvidence(c.Request.Context(), c.Param("id"), req.UserID, req.Report)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, p)
	})

	g.POST("/:id/vouch", func(c *gin.Context) {
		var req vouchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		res, err := s.Vouch(c.Request.Context(), c.Param("id"), req.ValidatorID)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	g.POST("/:id/comments", func(c *gin.Context) {
		var req addCommentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		comment, err := s.AddComment(c.Request.Context(), c.Param("id"), req.AuthorID, req.Text)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, comment)
	})

	g.GET("/:id/comments", func(c *gin.Context) {
		out, err := s.ListComments(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, out)
	})
}
