package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repository is a thin generic gorm store for models keyed by an "id" column.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Update(ctx context.Context, resourceID any, fields map[string]any) error
	Delete(ctx context.Context, resourceID any) error
	Count(ctx context.Context, query *T) (int64, error)
}

// QueryOption mutates a query before execution.
type QueryOption func(*gorm.DB) *gorm.DB

func OrderBy(clause string) QueryOption {
	return func(db *gorm.DB) *gorm.DB { return db.Order(clause) }
}

func Limit(n int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if n <= 0 {
			return db
		}
		return db.Limit(n)
	}
}

func Where(query any, args ...any) QueryOption {
	return func(db *gorm.DB) *gorm.DB { return db.Where(query, args...) }
}
