package middleware

import (
	"github.com/gin-gonic/gin"

	ierr "github.com/subkernel/subkernel/internal/errors"
)

// ErrorHandler renders the last error a handler attached via c.Error as a
// structured error response with the right status code
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		c.JSON(ierr.HTTPStatusFromErr(err), ierr.NewErrorResponse(err))
	}
}
