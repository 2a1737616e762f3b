package repository

import (
	"context"

	apikeydomain "github.com/digitraceslab/koota/internal/apikey/domain"
	"github.com/digitraceslab/koota/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() apikeydomain.Repository {
	return &repo{}
}

func store(db *gorm.DB) repository.Repository[apikeydomain.APIKey] {
	return repository.ProvideStore[apikeydomain.APIKey](db)
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *apikeydomain.APIKey) error {
	return store(db).Create(ctx, key)
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, key *apikeydomain.APIKey) error {
	return store(db).Update(ctx, key.ID, map[string]any{
		"name":                key.Name,
		"key_hash":            key.KeyHash,
		"is_active":           key.IsActive,
		"updated_at":          key.UpdatedAt,
		"last_used_at":        key.LastUsedAt,
		"expires_at":          key.ExpiresAt,
		"rotated_from_key_id": key.RotatedFromKeyID,
	})
}

func (r *repo) FindByKeyID(ctx context.Context, db *gorm.DB, owner, keyID string) (*apikeydomain.APIKey, error) {
	return store(db).FindOne(ctx, &apikeydomain.APIKey{},
		repository.Where("owner = ? AND key_id = ?", owner, keyID))
}

func (r *repo) FindByHash(ctx context.Context, db *gorm.DB, hash string) (*apikeydomain.APIKey, error) {
	return store(db).FindOne(ctx, &apikeydomain.APIKey{},
		repository.Where("key_hash = ?", hash))
}

func (r *repo) List(ctx context.Context, db *gorm.DB, owner string) ([]apikeydomain.APIKey, error) {
	rows, err := store(db).Find(ctx, &apikeydomain.APIKey{},
		repository.Where("owner = ?", owner),
		repository.OrderBy("created_at DESC"),
	)
	if err != nil {
		return nil, err
	}
	keys := make([]apikeydomain.APIKey, 0, len(rows))
	for _, k := range rows {
		keys = append(keys, *k)
	}
	return keys, nil
}
