package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"instaq/internal/apperr"
)

const (
	claimsKey    = "claims"
	principalKey = "principal"
)

// Resolver looks a principal up in the user directory.
type Resolver interface {
	Lookup(ctx context.Context, id string) (Principal, error)
}

// Authenticate enforces bearer access tokens signed with HS256. The principal
// is re-resolved from the directory on each request so deleted users and
// role changes take effect immediately.
func Authenticate(signingKey, issuer string, revoker Revoker, resolver Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c, "No token, authorization denied")
			return
		}
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil || claims.Type != TokenAccess {
			unauthorized(c, "Token is not valid")
			return
		}
		if revoker != nil {
			revoked, err := revoker.Revoked(c.Request.Context(), claims.ID)
			if err != nil {
				slog.Error("revocation lookup failed", "error", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Server error"})
				return
			}
			if revoked {
				unauthorized(c, "Token has been revoked")
				return
			}
		}

		principal := Principal{ID: claims.Subject, Role: claims.Role}
		if resolver != nil {
			principal, err = resolver.Lookup(c.Request.Context(), claims.Subject)
			if errors.Is(err, apperr.ErrNotFound) {
				unauthorized(c, "Token is not valid")
				return
			}
			if err != nil {
				slog.Error("principal lookup failed", "error", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Server error"})
				return
			}
		}

		c.Set(claimsKey, claims)
		c.Set(principalKey, &principal)
		c.Next()
	}
}

// PrincipalFrom returns the caller attached by Authenticate, or nil.
func PrincipalFrom(c *gin.Context) *Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*Principal)
	return p
}

// ClaimsFrom returns the token claims attached by Authenticate.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

func bearerToken(header string) (string, bool) {
	if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[len("bearer "):])
	return token, token != ""
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": message})
}
