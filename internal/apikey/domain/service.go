package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	Update(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByKeyID(ctx context.Context, db *gorm.DB, owner, keyID string) (*APIKey, error)
	FindByHash(ctx context.Context, db *gorm.DB, hash string) (*APIKey, error)
	List(ctx context.Context, db *gorm.DB, owner string) ([]APIKey, error)
}

type Service interface {
	List(ctx context.Context, owner string) ([]Response, error)
	Create(ctx context.Context, owner string, req CreateRequest) (*SecretResponse, error)
	Rotate(ctx context.Context, owner, keyID string) (*SecretResponse, error)
	Revoke(ctx context.Context, owner, keyID string) error
	// Authenticate resolves a presented key to its owner.
	Authenticate(ctx context.Context, raw string) (string, error)
}

type CreateRequest struct {
	Name string `json:"name"`
}

type Response struct {
	KeyID            string     `json:"key_id"`
	Name             string     `json:"name"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsedAt       *time.Time `json:"last_used_at"`
	ExpiresAt        *time.Time `json:"expires_at"`
	RotatedFromKeyID *string    `json:"rotated_from_key_id"`
}

type SecretResponse struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

var (
	ErrInvalidOwner = errors.New("invalid_owner")
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidKeyID = errors.New("invalid_key_id")
	ErrInvalidKey   = errors.New("invalid_api_key")
	ErrNotFound     = errors.New("not_found")
)
