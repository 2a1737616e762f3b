package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/digitraceslab/koota/internal/apikey/domain"
	"github.com/digitraceslab/koota/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	apiKeyPrefix              = "koota_"
	apiKeySecretBytes         = 32
	apiKeyRotationGracePeriod = 24 * time.Hour
	// lastUsedResolution limits how often a busy key is written back.
	lastUsedResolution = time.Minute
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	GenID *snowflake.Node
	Repo  apikeydomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  apikeydomain.Repository
	genID *snowflake.Node
}

func New(p Params) apikeydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("apikey.service"),
		clock: p.Clock,
		repo:  p.Repo,
		genID: p.GenID,
	}
}

func (s *Service) List(ctx context.Context, owner string) ([]apikeydomain.Response, error) {
	owner, err := validOwner(owner)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.List(ctx, s.db, owner)
	if err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Create(ctx context.Context, owner string, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	owner, err := validOwner(owner)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}

	now := s.clock.Now().UTC()
	id := s.genID.Generate()
	keyID := newKeyID(id)
	plain, hash, err := generateAPIKey(keyID)
	if err != nil {
		return nil, err
	}

	key := &apikeydomain.APIKey{
		ID:        id,
		Owner:     owner,
		KeyID:     keyID,
		Name:      name,
		KeyHash:   hash,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, key); err != nil {
		return nil, err
	}
	s.log.Info("api key created", zap.String("owner", owner), zap.String("key_id", keyID))
	return &apikeydomain.SecretResponse{KeyID: key.KeyID, APIKey: plain}, nil
}

// Rotate issues a new key and lets the old one live for a grace period.
func (s *Service) Rotate(ctx context.Context, owner, keyID string) (*apikeydomain.SecretResponse, error) {
	owner, err := validOwner(owner)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(keyID)
	if trimmed == "" {
		return nil, apikeydomain.ErrInvalidKeyID
	}

	var result *apikeydomain.SecretResponse
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now().UTC()
		current, err := s.repo.FindByKeyID(ctx, tx, owner, trimmed)
		if err != nil {
			return err
		}
		if current == nil || !current.Usable(now) {
			return apikeydomain.ErrNotFound
		}

		grace := now.Add(apiKeyRotationGracePeriod)
		current.ExpiresAt = &grace
		current.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, current); err != nil {
			return err
		}

		id := s.genID.Generate()
		nextKeyID := newKeyID(id)
		plain, hash, err := generateAPIKey(nextKeyID)
		if err != nil {
			return err
		}
		rotatedFrom := current.KeyID
		next := &apikeydomain.APIKey{
			ID:               id,
			Owner:            owner,
			KeyID:            nextKeyID,
			Name:             current.Name,
			KeyHash:          hash,
			IsActive:         true,
			CreatedAt:        now,
			UpdatedAt:        now,
			RotatedFromKeyID: &rotatedFrom,
		}
		if err := s.repo.Insert(ctx, tx, next); err != nil {
			return err
		}
		result = &apikeydomain.SecretResponse{KeyID: next.KeyID, APIKey: plain}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) Revoke(ctx context.Context, owner, keyID string) error {
	owner, err := validOwner(owner)
	if err != nil {
		return err
	}
	trimmed := strings.TrimSpace(keyID)
	if trimmed == "" {
		return apikeydomain.ErrInvalidKeyID
	}

	key, err := s.repo.FindByKeyID(ctx, s.db, owner, trimmed)
	if err != nil {
		return err
	}
	if key == nil {
		return apikeydomain.ErrNotFound
	}

	now := s.clock.Now().UTC()
	key.IsActive = false
	key.UpdatedAt = now
	if key.ExpiresAt == nil || key.ExpiresAt.After(now) {
		key.ExpiresAt = &now
	}
	return s.repo.Update(ctx, s.db, key)
}

func (s *Service) Authenticate(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, apiKeyPrefix) {
		return "", apikeydomain.ErrInvalidKey
	}
	hash := apikeydomain.HashAPIKey(raw)
	key, err := s.repo.FindByHash(ctx, s.db, hash)
	if err != nil {
		return "", err
	}
	now := s.clock.Now().UTC()
	if key == nil || subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 || !key.Usable(now) {
		return "", apikeydomain.ErrInvalidKey
	}

	if key.LastUsedAt == nil || now.Sub(*key.LastUsedAt) >= lastUsedResolution {
		key.LastUsedAt = &now
		if err := s.repo.Update(ctx, s.db, key); err != nil {
			s.log.Warn("api key last use not recorded", zap.String("key_id", key.KeyID), zap.Error(err))
		}
	}
	return key.Owner, nil
}

func validOwner(owner string) (string, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return "", apikeydomain.ErrInvalidOwner
	}
	return owner, nil
}

func toResponse(key *apikeydomain.APIKey) apikeydomain.Response {
	return apikeydomain.Response{
		KeyID:            key.KeyID,
		Name:             key.Name,
		IsActive:         key.IsActive,
		CreatedAt:        key.CreatedAt,
		LastUsedAt:       key.LastUsedAt,
		ExpiresAt:        key.ExpiresAt,
		RotatedFromKeyID: key.RotatedFromKeyID,
	}
}

func generateAPIKey(keyID string) (string, string, error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", err
	}
	trimmed := strings.TrimPrefix(keyID, "key_")
	plain := fmt.Sprintf("%s%s_%s", apiKeyPrefix, trimmed, hex.EncodeToString(secret))
	return plain, apikeydomain.HashAPIKey(plain), nil
}

func newKeyID(id snowflake.ID) string {
	return "key_" + strings.ToUpper(strconv.FormatInt(int64(id), 36))
}
