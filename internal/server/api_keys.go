package server

import (
	"net/http"

	apikeydomain "github.com/digitraceslab/koota/internal/apikey/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListAPIKeys(c *gin.Context) {
	keys, err := s.apiKeys.List(c.Request.Context(), currentUser(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, keys)
}

func (s *Server) CreateAPIKey(c *gin.Context) {
	var req apikeydomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.apiKeys.Create(c.Request.Context(), currentUser(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) RotateAPIKey(c *gin.Context) {
	resp, err := s.apiKeys.Rotate(c.Request.Context(), currentUser(c), c.Param("key_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) RevokeAPIKey(c *gin.Context) {
	if err := s.apiKeys.Revoke(c.Request.Context(), currentUser(c), c.Param("key_id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
