package rpc

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cyberdevstudio/internal/auth"
)

const (
	principalKey = "rpc.principal"
	requestIDKey = "rpc.request_id"
)

// RequestIDMiddleware assigns every request an id, reusing an inbound
// X-Request-ID header when the caller supplies one, and echoes it back on
// the response. Mirrors the request-id convention in the teacher's
// internal/middleware.Recovery, generalized into its own middleware so
// every handler's logging can be scoped to it, not just panic recovery.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = generateRequestID()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// RequestID returns the request id RequestIDMiddleware attached to c.
func RequestID(c *gin.Context) string {
	v, _ := c.Get(requestIDKey)
	id, _ := v.(string)
	return id
}

func generateRequestID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// AuthMiddleware accepts either a bearer JWT ("Authorization: Bearer <jwt>")
// or an opaque API key ("X-API-Key: <keyID>.<secret>") and stores the
// resolved auth.Principal in the gin context for handlers to read via
// Principal. Requests presenting neither, or failing verification, are
// rejected before reaching any method handler.
func AuthMiddleware(bearer *auth.BearerVerifier, apiKeys *auth.APIKeyVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader("X-API-Key"); key != "" && apiKeys != nil {
			principal, err := apiKeys.Verify(c.Request.Context(), key)
			if err != nil {
				abortUnauthorized(c, "invalid API key")
				return
			}
			c.Set(principalKey, principal)
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" || bearer == nil {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		claims, err := bearer.Verify(token)
		if err != nil {
			abortUnauthorized(c, err.Error())
			return
		}
		c.Set(principalKey, auth.Principal{UserID: claims.UserID, Role: claims.Role})
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, errorResponse(nil, CodeUnauthorized, message))
	c.Abort()
}

// Principal returns the auth.Principal AuthMiddleware attached to c.
func Principal(c *gin.Context) (auth.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return auth.Principal{}, false
	}
	p, ok := v.(auth.Principal)
	return p, ok
}
