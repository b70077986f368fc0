package user

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User is the account behind a gateway session (§4.4 AwaitingAuth).
type User struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"displayName"`
	Email       string          `json:"email"`
	Settings    json.RawMessage `json:"settings"`
	Password    string          `json:"-"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// CreateUserRequest is the payload for registration.
type CreateUserRequest struct {
	DisplayName string `json:"displayName" binding:"required,min=2,max=100"`
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
}

// LoginRequest is the payload for login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// UserResponse is a User with sensitive fields stripped.
type UserResponse struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"displayName"`
	Email       string          `json:"email"`
	Settings    json.RawMessage `json:"settings"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Settings:    u.Settings,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func NewUser(req CreateUserRequest, hashedPassword string) *User {
	now := time.Now()
	return &User{
		ID:          uuid.New().String(),
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Password:    hashedPassword,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// UserRepository is the persistence boundary for gateway auth.
type UserRepository interface {
	Create(user *User) error
	GetByID(id string) (*User, error)
	GetByEmail(email string) (*User, error)
	EmailExists(email string) (bool, error)
}
