package oauthsvc

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digitraceslab/koota/internal/adapter"
	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errWrongService = &adapter.ProtocolError{Reason: "Device is not linked to this service", Status: http.StatusBadRequest}

// Routes mounts the linking dance under /<service>.
func (a *Adapter) Routes(r gin.IRouter) {
	g := r.Group("/" + a.name)
	g.POST("/link/:public_id", a.link)
	g.GET("/done", a.done)
	g.POST("/unlink/:public_id", a.unlink)
}

func (a *Adapter) ownedDevice(c *gin.Context) (*devicedomain.Device, error) {
	d, err := a.devices.GetByPublicID(c.Request.Context(), c.Param("public_id"))
	if err != nil {
		return nil, err
	}
	if err := adapter.RequireOwner(c, d); err != nil {
		return nil, err
	}
	if !a.owns(d) {
		return nil, errWrongService
	}
	return d, nil
}

func (a *Adapter) link(c *gin.Context) {
	ctx := c.Request.Context()
	d, err := a.ownedDevice(c)
	if err != nil {
		adapter.AbortWithError(c, err, "")
		return
	}
	o, err := a.devices.OAuth(ctx, d.ID)
	if err != nil {
		adapter.AbortWithError(c, err, "")
		return
	}

	state := strings.ReplaceAll(uuid.NewString(), "-", "")
	o.State = devicedomain.StateRequested
	o.RequestKey = state
	o.Error = ""
	if err := a.devices.SaveOAuth(ctx, o); err != nil {
		adapter.AbortWithError(c, err, "")
		return
	}

	q := url.Values{
		"client_id":     {a.provider.ClientID},
		"response_type": {"code"},
		"redirect_uri":  {a.redirectURI()},
		"state":         {state},
	}
	if len(a.provider.Scopes) > 0 {
		q.Set("scope", strings.Join(a.provider.Scopes, " "))
	}
	sep := "?"
	if strings.Contains(a.provider.AuthURL, "?") {
		sep = "&"
	}
	a.log.Info("oauth link requested", zap.String("public_id", d.PublicID))
	c.Redirect(http.StatusFound, a.provider.AuthURL+sep+q.Encode())
}

func (a *Adapter) done(c *gin.Context) {
	ctx := c.Request.Context()
	state := c.Query("state")
	o, err := a.devices.OAuthByRequestKey(ctx, state)
	if errors.Is(err, devicedomain.ErrNotFound) || (err == nil && o.State != devicedomain.StateRequested) {
		adapter.AbortWithError(c, adapter.NewProtocolError("Unknown or expired state"), "")
		return
	}
	if err != nil {
		adapter.AbortWithError(c, err, "")
		return
	}

	if reason := c.Query("error"); reason != "" {
		o.State = devicedomain.StateUnlinked
		o.RequestKey = ""
		o.Error = reason
		if err := a.devices.SaveOAuth(ctx, o); err != nil {
			adapter.AbortWithError(c, err, "")
			return
		}
		adapter.AbortWithError(c, adapter.NewProtocolError("Authorization denied"), "")
		return
	}
	code := c.Query("code")
	if code == "" {
		adapter.AbortWithError(c, adapter.NewProtocolError("No code given"), "")
		return
	}

	tok, err := a.client.exchange(ctx, code, a.redirectURI())
	if err != nil {
		a.log.Warn("token exchange failed", zap.String("device_id", o.DeviceID), zap.Error(err))
		adapter.AbortWithError(c, &adapter.ProtocolError{Reason: "Token exchange failed", Status: http.StatusBadGateway}, "")
		return
	}

	now := a.clock.Now().UTC()
	a.applyToken(o, tok, now)
	o.State = devicedomain.StateLinked
	o.RequestKey = ""
	o.TsLinked = &now
	o.Error = ""
	if err := a.devices.SaveOAuth(ctx, o); err != nil {
		adapter.AbortWithError(c, err, "")
		return
	}
	a.log.Info("oauth device linked", zap.String("device_id", o.DeviceID))
	c.JSON(http.StatusOK, gin.H{"ok": true, "state": o.State})
}

func (a *Adapter) unlink(c *gin.Context) {
	ctx := c.Request.Context()
	d, err := a.ownedDevice(c)
	if err != nil {
		adapter.AbortWithError(c, err, "")
		return
	}
	o, err := a.devices.OAuth(ctx, d.ID)
	if err != nil {
		adapter.AbortWithError(c, err, "")
		return
	}
	clearTokens(o)
	o.State = devicedomain.StateUnlinked
	if err := a.devices.SaveOAuth(ctx, o); err != nil {
		adapter.AbortWithError(c, err, "")
		return
	}
	a.log.Info("oauth device unlinked", zap.String("public_id", d.PublicID))
	c.JSON(http.StatusOK, gin.H{"ok": true, "state": o.State})
}

func (a *Adapter) applyToken(o *devicedomain.OAuthDevice, tok *Token, now time.Time) {
	o.ResourceKey = tok.AccessToken
	if tok.RefreshToken != "" {
		o.RefreshToken = tok.RefreshToken
	}
	o.TsRefresh = nil
	if tok.ExpiresIn > 0 {
		at := now.Add(time.Duration(tok.ExpiresIn) * time.Second)
		o.TsRefresh = &at
	}
}

func clearTokens(o *devicedomain.OAuthDevice) {
	o.RequestKey = ""
	o.RequestSecret = ""
	o.ResourceKey = ""
	o.ResourceSecret = ""
	o.RefreshToken = ""
	o.TsRefresh = nil
	o.TsLinked = nil
}
