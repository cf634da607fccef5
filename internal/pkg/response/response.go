package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

func Error(c *gin.Context, status int, code string, message string) {
	c.JSON(status, errorBody{Success: false, Code: code, Error: message})
}

func Redirect(c *gin.Context, location string) {
	c.Redirect(http.StatusFound, location)
}
