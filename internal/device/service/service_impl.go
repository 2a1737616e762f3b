package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/digitraceslab/koota/internal/checkdigit"
	"github.com/digitraceslab/koota/internal/clock"
	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	"github.com/digitraceslab/koota/pkg/db"
	"github.com/goccy/go-json"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	idAttempts     = 20
	insertAttempts = 3
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  devicedomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  devicedomain.Repository
}

func New(p Params) devicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("device.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req devicedomain.CreateRequest) (*devicedomain.Device, error) {
	deviceType := strings.TrimSpace(req.Type)
	if deviceType == "" {
		return nil, devicedomain.ErrInvalidType
	}
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return nil, devicedomain.ErrInvalidOwner
	}
	config, err := encodeOverlay(req.Config)
	if err != nil {
		return nil, err
	}

	fixedID := strings.ToLower(strings.TrimSpace(req.ID))
	if fixedID != "" && !checkdigit.Valid(fixedID) {
		return nil, devicedomain.ErrInvalidDeviceID
	}

	if fixedID != "" {
		taken, err := s.idTaken(ctx, fixedID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, devicedomain.ErrIDTaken
		}
	}

	now := s.clock.Now().UTC()
	for attempt := 0; ; attempt++ {
		id := fixedID
		if id == "" {
			id, err = checkdigit.New(idAttempts, func(candidate string) (bool, error) {
				return s.idTaken(ctx, candidate)
			})
			if err != nil {
				return nil, err
			}
		}

		d := &devicedomain.Device{
			ID:        id,
			PublicID:  checkdigit.PublicID(id),
			Type:      deviceType,
			Owner:     owner,
			Label:     strings.TrimSpace(req.Label),
			Comment:   req.Comment,
			Config:    config,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = s.repo.Insert(ctx, s.db, d)
		if err == nil {
			s.log.Info("device created",
				zap.String("device", d.PublicID),
				zap.String("type", d.Type),
			)
			return d, nil
		}
		// A concurrent insert won the id between the check and the insert.
		if db.IsDuplicateKeyErr(err) {
			if fixedID == "" && attempt+1 < insertAttempts {
				continue
			}
			return nil, devicedomain.ErrIDTaken
		}
		return nil, fmt.Errorf("insert device: %w", err)
	}
}

// idTaken rejects a candidate whose id or public id is already in use, so
// every public id resolves to exactly one device.
func (s *Service) idTaken(ctx context.Context, id string) (bool, error) {
	return s.repo.Taken(ctx, s.db, id, checkdigit.PublicID(id))
}

func (s *Service) Get(ctx context.Context, id string) (*devicedomain.Device, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if !checkdigit.Valid(id) {
		return nil, devicedomain.ErrInvalidDeviceID
	}
	d, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, devicedomain.ErrNotFound
	}
	return d, nil
}

func (s *Service) GetByPublicID(ctx context.Context, publicID string) (*devicedomain.Device, error) {
	publicID = strings.ToLower(strings.TrimSpace(publicID))
	if len(publicID) != checkdigit.PublicIDLength || !checkdigit.IsHex(publicID) {
		return nil, devicedomain.ErrNotFound
	}
	d, err := s.repo.FindByPublicID(ctx, s.db, publicID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, devicedomain.ErrNotFound
	}
	return d, nil
}

func (s *Service) ListByOwner(ctx context.Context, owner string) ([]devicedomain.Device, error) {
	return s.repo.ListByOwner(ctx, s.db, owner)
}

func (s *Service) ChangeType(ctx context.Context, id, deviceType string) error {
	deviceType = strings.TrimSpace(deviceType)
	if deviceType == "" {
		return devicedomain.ErrInvalidType
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return devicedomain.ErrNotFound
		}
		if d.Type == deviceType {
			return nil
		}
		if d.HasData() {
			return devicedomain.ErrTypeLocked
		}
		return s.repo.Update(ctx, tx, id, map[string]any{
			"type":       deviceType,
			"updated_at": s.clock.Now().UTC(),
		})
	})
}

func (s *Service) SetOverlay(ctx context.Context, id string, overlay map[string]any) error {
	config, err := encodeOverlay(overlay)
	if err != nil {
		return err
	}
	return s.repo.Update(ctx, s.db, id, map[string]any{
		"config":     config,
		"updated_at": s.clock.Now().UTC(),
	})
}

func (s *Service) Archive(ctx context.Context, id string) error {
	return s.repo.Update(ctx, s.db, id, map[string]any{
		"archived":   true,
		"updated_at": s.clock.Now().UTC(),
	})
}

func (s *Service) MarkData(ctx context.Context, id string, at time.Time) error {
	return s.repo.MarkFirstData(ctx, s.db, id, at.UTC())
}

// OAuth returns the token state of a device, creating an unlinked record on
// first access.
func (s *Service) OAuth(ctx context.Context, id string) (*devicedomain.OAuthDevice, error) {
	o, err := s.repo.FindOAuth(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if o != nil {
		return o, nil
	}
	exists, err := s.repo.Exists(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, devicedomain.ErrNotFound
	}
	o = &devicedomain.OAuthDevice{
		DeviceID:  id,
		State:     devicedomain.StateUnlinked,
		UpdatedAt: s.clock.Now().UTC(),
	}
	if err := s.repo.SaveOAuth(ctx, s.db, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) OAuthByRequestKey(ctx context.Context, key string) (*devicedomain.OAuthDevice, error) {
	if strings.TrimSpace(key) == "" {
		return nil, devicedomain.ErrNotFound
	}
	o, err := s.repo.FindOAuthByRequestKey(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, devicedomain.ErrNotFound
	}
	return o, nil
}

func (s *Service) SaveOAuth(ctx context.Context, o *devicedomain.OAuthDevice) error {
	o.UpdatedAt = s.clock.Now().UTC()
	return s.repo.SaveOAuth(ctx, s.db, o)
}

func (s *Service) LinkedOAuth(ctx context.Context, types []string) ([]devicedomain.OAuthDevice, error) {
	return s.repo.ListOAuthByState(ctx, s.db, types, devicedomain.StateLinked)
}

func encodeOverlay(overlay map[string]any) (datatypes.JSON, error) {
	if len(overlay) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(overlay)
	if err != nil {
		return nil, fmt.Errorf("encode device config: %w", err)
	}
	return datatypes.JSON(raw), nil
}
