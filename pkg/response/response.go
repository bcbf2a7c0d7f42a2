package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorBody is the JSON shape of every user-visible failure.
type ErrorBody struct {
	Error string `json:"error"`
}

// Error sends an error response with the given status code.
func Error(c *gin.Context, statusCode int, message string) {
	c.AbortWithStatusJSON(statusCode, ErrorBody{Error: message})
}

// BadRequest sends a 400 error response.
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

// UnprocessableEntity sends a 422 error response.
func UnprocessableEntity(c *gin.Context, message string) {
	Error(c, http.StatusUnprocessableEntity, message)
}

// BadGateway sends a 502 error response.
func BadGateway(c *gin.Context, message string) {
	Error(c, http.StatusBadGateway, message)
}

// InternalError sends a 500 error response.
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, message)
}
