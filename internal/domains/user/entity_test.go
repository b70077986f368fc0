package user

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUserEntityFromDomainToDomainRoundTrip(t *testing.T) {
	u := &User{
		ID:          "user-1",
		DisplayName: "Ada",
		Email:       "ada@example.com",
		Password:    "hashed",
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	entity := NewUserEntityFromDomain(u)
	require.Equal(t, u.ID, entity.ID)
	require.Equal(t, u.Email, entity.Email)
	require.Equal(t, u.Password, entity.Password)

	back := entity.ToDomain()
	require.Equal(t, u.ID, back.ID)
	require.Equal(t, u.DisplayName, back.DisplayName)
	require.Equal(t, u.Email, back.Email)
}

func TestUserEntityBeforeCreateAssignsID(t *testing.T) {
	e := &UserEntity{}
	require.NoError(t, e.BeforeCreate(nil))
	require.NotEmpty(t, e.ID)
}

func TestUserEntityBeforeCreateKeepsExistingID(t *testing.T) {
	e := &UserEntity{ID: "fixed-id"}
	require.NoError(t, e.BeforeCreate(nil))
	require.Equal(t, "fixed-id", e.ID)
}

func TestUserEntityTableName(t *testing.T) {
	require.Equal(t, "users", UserEntity{}.TableName())
}

func TestToResponseStripsPassword(t *testing.T) {
	u := &User{ID: "u1", Email: "a@b.com", Password: "secret"}
	resp := u.ToResponse()
	require.Equal(t, "u1", resp.ID)
	require.Equal(t, "a@b.com", resp.Email)
}

func TestNewUserAssignsIDAndTimestamps(t *testing.T) {
	u := NewUser(CreateUserRequest{DisplayName: "Ada", Email: "ada@example.com"}, "hashed-pw")
	require.NotEmpty(t, u.ID)
	require.Equal(t, "ada@example.com", u.Email)
	require.Equal(t, "hashed-pw", u.Password)
	require.False(t, u.CreatedAt.IsZero())
}
