package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// JSONResponse is the envelope every API reply uses. Code 0 means success;
// error codes embed the HTTP status in their first three digits (42920 is a
// 429 from the upload path), so a client can group failures without parsing
// the message.
type JSONResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Success writes a 200 envelope around data.
func Success(ctx *gin.Context, data any) {
	ctx.JSON(http.StatusOK, JSONResponse{Code: 0, Message: "success", Data: data})
}

// Error writes an error envelope. Message is user-facing; remote-API error
// text never goes through here.
func Error(ctx *gin.Context, status, code int, message string) {
	ctx.JSON(status, JSONResponse{Code: code, Message: message})
}
