package user

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// GormUserRepo is the UserRepository implementation backing gateway auth.
type GormUserRepo struct {
	db *gorm.DB
}

func (g *GormUserRepo) Create(u *User) error {
	entity := NewUserEntityFromDomain(u)
	if err := g.db.Create(entity).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	*u = *entity.ToDomain()
	return nil
}

func (g *GormUserRepo) GetByID(id string) (*User, error) {
	var entity UserEntity
	if err := g.db.Where("id = ?", id).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return entity.ToDomain(), nil
}

func (g *GormUserRepo) GetByEmail(email string) (*User, error) {
	var entity UserEntity
	if err := g.db.Where("email = ?", email).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return entity.ToDomain(), nil
}

func (g *GormUserRepo) EmailExists(email string) (bool, error) {
	var count int64
	if err := g.db.Model(&UserEntity{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	return count > 0, nil
}

// NewGormUserRepo creates a new gorm-backed user repository.
func NewGormUserRepo(db *gorm.DB) UserRepository {
	return &GormUserRepo{db: db}
}
