package user

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserEntity is the gorm-mapped row backing User.
type UserEntity struct {
	ID          string          `gorm:"primaryKey;type:char(36);not null"`
	DisplayName string          `gorm:"column:display_name;type:varchar(255);not null"`
	Email       string          `gorm:"uniqueIndex;type:varchar(191);not null"`
	Settings    json.RawMessage `gorm:"type:json"`
	Password    string          `gorm:"column:password_hash;type:char(60);not null"`
	CreatedAt   time.Time       `gorm:"autoCreateTime(3)"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime(3)"`
	DeletedAt   gorm.DeletedAt  `gorm:"index"`
}

func (UserEntity) TableName() string {
	return "users"
}

func (u *UserEntity) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

func (u *UserEntity) ToDomain() *User {
	return &User{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Settings:    u.Settings,
		Password:    u.Password,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func (u *UserEntity) FromDomain(domainUser *User) {
	u.ID = domainUser.ID
	u.DisplayName = domainUser.DisplayName
	u.Email = domainUser.Email
	u.Settings = domainUser.Settings
	u.Password = domainUser.Password
	u.CreatedAt = domainUser.CreatedAt
	u.UpdatedAt = domainUser.UpdatedAt
}

func NewUserEntityFromDomain(domainUser *User) *UserEntity {
	entity := &UserEntity{}
	entity.FromDomain(domainUser)
	return entity
}
