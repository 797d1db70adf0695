package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nail-dp-dev/naildp-realtime/pkg/apperr"
)

// Response represents a standard API response.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Page is the payload shape of every cursor-paged listing.
type Page[T any] struct {
	Items      []T    `json:"items"`
	HasNext    bool   `json:"has_next"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Success sends a successful response.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// Created sends a 201 created response.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    data,
	})
}

// Error sends an error response.
func Error(c *gin.Context, statusCode int, code, message string) {
	c.AbortWithStatusJSON(statusCode, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	})
}

// FromError maps a classified error onto a status code and stable error code.
// Unclassified errors become 500 without leaking their text.
func FromError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	msg := apperr.Message(err, "internal server error")

	switch kind {
	case apperr.KindValidation:
		Error(c, http.StatusBadRequest, kind.Code(), msg)
	case apperr.KindNotFound:
		Error(c, http.StatusNotFound, kind.Code(), msg)
	case apperr.KindConflict:
		Error(c, http.StatusConflict, kind.Code(), msg)
	case apperr.KindStorage, apperr.KindDelivery:
		_ = c.Error(err)
		Error(c, http.StatusInternalServerError, kind.Code(), msg)
	default:
		_ = c.Error(err)
		Error(c, http.StatusInternalServerError, apperr.CodeInternal, msg)
	}
}

// BadRequest sends a 400 error response.
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, apperr.CodeValidation, message)
}

// Unauthorized sends a 401 error response.
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// NotFound sends a 404 error response.
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, apperr.CodeNotFound, message)
}

// InternalError sends a 500 error response.
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, apperr.CodeInternal, message)
}
