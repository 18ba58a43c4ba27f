package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lepinkainen/librarian/internal/catalog"
)

const (
	userHeader = "X-User-ID"
	ctxUserKey = "user"
)

// actingUser loads the user named by the X-User-ID header. Requests without
// the header continue anonymously; an unknown or disabled user is rejected.
func (s *Server) actingUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(userHeader)
		if raw == "" {
			c.Next()
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, failure(codeUnauthorized, "invalid "+userHeader+" header"))
			return
		}
		user, err := s.deps.Store.GetUser(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, failure(codeUnauthorized, "unknown user"))
				return
			}
			respondError(c, err)
			return
		}
		if !user.Enabled {
			c.AbortWithStatusJSON(http.StatusForbidden, failure(codeForbidden, "user is disabled"))
			return
		}
		c.Set(ctxUserKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) *catalog.User {
	v, ok := c.Get(ctxUserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*catalog.User)
	return u
}

func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentUser(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, failure(codeUnauthorized, "missing "+userHeader+" header"))
			return
		}
		c.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		u := currentUser(c)
		if u == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, failure(codeUnauthorized, "missing "+userHeader+" header"))
			return
		}
		if !u.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, failure(codeForbidden, "admin only"))
			return
		}
		c.Next()
	}
}
