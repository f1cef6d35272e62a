// Package response writes the {success, data | error} JSON envelope shared by
// every endpoint.
package response

import "github.com/gin-gonic/gin"

type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, Envelope{Success: true, Data: data})
}

// Error writes a failure envelope. code is a stable machine-readable string,
// message is for humans.
func Error(c *gin.Context, statusCode int, code string, message string) {
	ErrorWithDetails(c, statusCode, code, message, nil)
}

func ErrorWithDetails(c *gin.Context, statusCode int, code string, message string, details any) {
	body := &ErrorBody{Code: code, Message: message}
	// A typed nil map would still render as "details": null.
	if m, ok := details.(map[string]string); !ok || m != nil {
		body.Details = details
	}
	c.JSON(statusCode, Envelope{Success: false, Error: body})
}
