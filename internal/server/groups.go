package server

import (
	"net/http"
	"strings"

	"github.com/digitraceslab/koota/internal/authorization"
	"github.com/gin-gonic/gin"
)

type groupResponse struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

type joinGroupRequest struct {
	InviteCode string `json:"invite_code"`
}

type grantRequest struct {
	User string `json:"user"`
	Role string `json:"role"`
}

// ListGroups returns the groups the caller is currently an active subject of.
func (s *Server) ListGroups(c *gin.Context) {
	groups, err := s.groups.ActiveGroups(c.Request.Context(), currentUser(c), s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	out := make([]groupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupResponse{Slug: g.Slug, Name: g.Name, Priority: g.Priority})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) JoinGroup(c *gin.Context) {
	var req joinGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.InviteCode) == "" {
		AbortWithError(c, invalidRequestError())
		return
	}
	g, err := s.groups.JoinByInvite(c.Request.Context(), req.InviteCode, currentUser(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, groupResponse{Slug: g.Slug, Name: g.Name, Priority: g.Priority})
}

func (s *Server) LeaveGroup(c *gin.Context) {
	if err := s.groups.Leave(c.Request.Context(), c.Param("slug"), currentUser(c)); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GrantResearcher gives another user a role in the group. The caller needs
// the group management permission.
func (s *Server) GrantResearcher(c *gin.Context) {
	slug := c.Param("slug")
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Role == "" {
		req.Role = authorization.RoleResearcher
	}
	if err := s.requireGroupManager(c, slug); err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authz.Grant(c.Request.Context(), req.User, slug, req.Role); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) RevokeResearcher(c *gin.Context) {
	slug := c.Param("slug")
	role := c.DefaultQuery("role", authorization.RoleResearcher)
	if err := s.requireGroupManager(c, slug); err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authz.Revoke(c.Request.Context(), c.Param("user"), slug, role); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) requireGroupManager(c *gin.Context, slug string) error {
	if _, err := s.groups.Get(c.Request.Context(), slug); err != nil {
		return err
	}
	return s.authz.Authorize(c.Request.Context(), currentUser(c), slug, authorization.ObjectGroup, authorization.ActionGroupManage)
}
