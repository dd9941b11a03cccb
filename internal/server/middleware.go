package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/possync/internal/remote"
)

const contextLocationKey = "location_code"

// SyncTokenRequired checks the shared sync token. An empty token disables
// the check.
func SyncTokenRequired(token string) gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(token))
	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.Next()
			return
		}
		got := []byte(strings.TrimSpace(c.GetHeader(remote.HeaderSyncToken)))
		if subtle.ConstantTimeCompare(got, expected) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

// locationCode reads the locationCode query parameter and tags the request
// log with it.
func locationCode(c *gin.Context) (string, error) {
	code := strings.TrimSpace(c.Query("locationCode"))
	if code == "" {
		return "", newValidationError("locationCode", "required", "locationCode is required")
	}
	c.Set(contextLocationKey, code)
	return code, nil
}
