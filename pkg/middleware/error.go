package middleware

import (
	"errors"
	"net/http"

	"promisekeeper/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders errors attached via c.Error as JSON. Domain errors carry
// their own status code; everything else is an internal error.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil || c.Writer.Written() {
			return
		}

		var base errutil.BaseError
		if errors.As(err.Err, &base) {
			c.JSON(base.Code.HTTPStatus(), base.JSON())
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    errutil.StatusInternal,
				"message": err.Error(),
			},
		})
	}
}
