package server

import (
	"strings"

	"github.com/digitraceslab/koota/internal/adapter"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	HeaderAPIKey = "X-API-Key"

	contextAuthErrorKey = "koota.auth_error"
)

// LoginURL tells device facing handlers where to send anonymous users.
func (s *Server) LoginURL() gin.HandlerFunc {
	url := strings.TrimSpace(s.cfg.LoginURL)
	return func(c *gin.Context) {
		if url != "" {
			c.Set(adapter.ContextLoginURL, url)
		}
		c.Next()
	}
}

// Identify resolves an API key, if one is presented, to its owner. Requests
// without a key pass through anonymously; a rejected key is remembered so
// UserRequired can answer 401 instead of redirecting to the login page.
func (s *Server) Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := presentedKey(c)
		if raw == "" {
			c.Next()
			return
		}
		user, err := s.apiKeys.Authenticate(c.Request.Context(), raw)
		if err != nil {
			s.log.Debug("api key rejected", zap.Error(err))
			c.Set(contextAuthErrorKey, err)
			c.Next()
			return
		}
		c.Set(adapter.ContextUser, user)
		c.Next()
	}
}

// UserRequired rejects anonymous requests.
func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := adapter.CurrentUser(c); ok {
			c.Next()
			return
		}
		if _, rejected := c.Get(contextAuthErrorKey); rejected {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		AbortWithError(c, adapter.ErrLoginRequired)
	}
}

func presentedKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader(HeaderAPIKey)); key != "" {
		return key
	}
	parts := strings.Fields(c.GetHeader("Authorization"))
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

func currentUser(c *gin.Context) string {
	user, _ := adapter.CurrentUser(c)
	return user
}
