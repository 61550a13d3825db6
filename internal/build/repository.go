package build

import (
	"gorm.io/gorm"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(b *Build) error {
	return r.db.Create(b).Error
}

// List returns the most recent builds first.
func (r *Repository) List(limit int) ([]Build, error) {
	var builds []Build
	err := r.db.Order("created_at desc").Limit(clampLimit(limit)).Find(&builds).Error
	return builds, err
}

func (r *Repository) ListByKind(kind Kind, limit int) ([]Build, error) {
	var builds []Build
	err := r.db.Where("kind = ?", kind).Order("created_at desc").Limit(clampLimit(limit)).Find(&builds).Error
	return builds, err
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}
