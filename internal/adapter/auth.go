package adapter

import (
	"context"
	"errors"

	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	"github.com/gin-gonic/gin"
)

// Context keys set by the server.
const (
	ContextUser     = "koota.user"
	ContextLoginURL = "koota.login_url"
)

var (
	ErrLoginRequired      = errors.New("login_required")
	ErrNoDevicePermission = errors.New("no_device_permission")
	ErrNoGroupPermission  = errors.New("no_group_permission")
)

// Scraper is implemented by adapters that pull data from a remote service
// on behalf of linked devices.
type Scraper interface {
	Scrape(ctx context.Context, o *devicedomain.OAuthDevice) (int, error)
}

// CurrentUser returns the authenticated user of the request, if any.
func CurrentUser(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextUser)
	if !ok {
		return "", false
	}
	user, ok := v.(string)
	return user, ok && user != ""
}

// RequireOwner checks that the request is made by the owner of d.
func RequireOwner(c *gin.Context, d *devicedomain.Device) error {
	user, ok := CurrentUser(c)
	if !ok {
		return ErrLoginRequired
	}
	if user != d.Owner {
		return ErrNoDevicePermission
	}
	return nil
}

func loginURL(c *gin.Context) string {
	if v, ok := c.Get(ContextLoginURL); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "/login/"
}
