package server

import (
	"net/http"
	"strings"

	"github.com/digitraceslab/koota/internal/adapter"
	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createDeviceRequest struct {
	Type    string         `json:"type"`
	Label   string         `json:"label"`
	Comment string         `json:"comment"`
	Config  map[string]any `json:"config"`
}

// createDeviceResponse is the only reply carrying the secret id besides the
// enrollment QR code.
type createDeviceResponse struct {
	devicedomain.Response
	DeviceID string `json:"device_id"`
}

type converterResponse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) ListDeviceTypes(c *gin.Context) {
	if c.Query("all") == "true" {
		c.JSON(http.StatusOK, s.registry.AllChoices())
		return
	}
	c.JSON(http.StatusOK, s.registry.DefaultChoices())
}

func (s *Server) ListDevices(c *gin.Context) {
	devices, err := s.devices.ListByOwner(c.Request.Context(), currentUser(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	out := make([]devicedomain.Response, 0, len(devices))
	for i := range devices {
		out = append(out, devicedomain.ToResponse(&devices[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) CreateDevice(c *gin.Context) {
	var body createDeviceRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	entry, ok := s.registry.Lookup(strings.TrimSpace(body.Type))
	if !ok && strings.TrimSpace(body.Type) != "" {
		AbortWithError(c, ErrUnknownType)
		return
	}

	req := devicedomain.CreateRequest{
		Type:    entry.Name,
		Owner:   currentUser(c),
		Label:   body.Label,
		Comment: body.Comment,
		Config:  body.Config,
	}
	if hook, ok := entry.Adapter.(adapter.CreateHooker); ok {
		if err := hook.CreateHook(c.Request.Context(), &req); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	d, err := s.devices.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.log.Info("device registered",
		zap.String("device", d.PublicID),
		zap.String("type", d.Type),
		zap.String("owner", d.Owner),
	)
	c.JSON(http.StatusCreated, createDeviceResponse{
		Response: devicedomain.ToResponse(d),
		DeviceID: d.ID,
	})
}

func (s *Server) GetDevice(c *gin.Context) {
	d, err := s.ownedDevice(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, devicedomain.ToResponse(d))
}

func (s *Server) ListConverters(c *gin.Context) {
	d, err := s.ownedDevice(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	entry, _ := s.registry.Lookup(d.Type)
	descs := entry.Adapter.Converters()
	out := make([]converterResponse, 0, len(descs))
	for _, desc := range descs {
		out = append(out, converterResponse{Name: desc.Name, Description: desc.Description})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) ownedDevice(c *gin.Context) (*devicedomain.Device, error) {
	d, err := s.devices.GetByPublicID(c.Request.Context(), c.Param("public_id"))
	if err != nil {
		return nil, err
	}
	if err := adapter.RequireOwner(c, d); err != nil {
		return nil, err
	}
	return d, nil
}
