// Package middleware provides session guards for resource servers that
// accept payauth session tokens. Adapters are provided for net/http, gin,
// and echo; all three validate the same Bearer token and expose the verified
// claims to the handler.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"

	"github.com/safu-labs/payauth/session"
)

// ContextKey is the gin/echo context key under which verified session claims
// are stored.
const ContextKey = "payauthSession"

type claimsKey struct{}

// ClaimsFromContext retrieves claims stored by the net/http guard.
func ClaimsFromContext(ctx context.Context) (*session.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*session.Claims)
	return claims, ok
}

func bearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	return token, ok && token != ""
}

// RequireSession wraps a net/http handler, rejecting requests without a
// valid session token.
func RequireSession(verifier *session.Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		claims, err := verifier.Verify(token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// GinRequireSession is the gin adapter of RequireSession. Verified claims
// are stored under ContextKey.
func GinRequireSession(verifier *session.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		claims, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(ContextKey, claims)
		c.Next()
	}
}

// EchoRequireSession is the echo adapter of RequireSession. Verified claims
// are stored under ContextKey.
func EchoRequireSession(verifier *session.Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request().Header.Get("Authorization"))
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			claims, err := verifier.Verify(token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			c.Set(ContextKey, claims)
			return next(c)
		}
	}
}
