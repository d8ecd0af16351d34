package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/snapmatch/pkg/dto"
)

// Header carries the photographer API key.
const Header = "X-API-Key"

// RequireKey guards photographer routes. An empty key turns the check off,
// which is only meant for local runs.
func RequireKey(key string) gin.HandlerFunc {
	want := []byte(key)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}

		got := c.GetHeader(Header)
		switch {
		case got == "":
			reject(c, http.StatusUnauthorized, "missing API key", "unauthorized")
		case subtle.ConstantTimeCompare([]byte(got), want) != 1:
			reject(c, http.StatusForbidden, "invalid API key", "forbidden")
		default:
			c.Next()
		}
	}
}

func reject(c *gin.Context, status int, msg, code string) {
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: msg, Code: code})
}
