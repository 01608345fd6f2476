package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftmarket/backend/internal/models"
	"github.com/craftmarket/backend/internal/repository/memory"
)

func newTestService(t *testing.T) *service {
	t.Helper()
	return NewService(memory.New().Users(), "test-secret", time.Hour)
}

func TestRegister_CreatesUserWithHashedPassword(t *testing.T) {
	svc := newTestService(t)

	u, err := svc.Register(context.Background(), " Ann@Example.com ", "correct horse", "Ann", models.UserRoleBuyer)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, u.ID)
	assert.Equal(t, "ann@example.com", u.Email)
	assert.Equal(t, models.UserRoleBuyer, u.Role)
	assert.NotEqual(t, "correct horse", u.PasswordHash)
	assert.False(t, u.CreatedAt.IsZero())
}

func TestRegister_RejectsUnknownRole(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Register(context.Background(), "a@example.com", "password1", "", "admin")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "dup@example.com", "password1", "", models.UserRoleSeller)
	require.NoError(t, err)

	_, err = svc.Register(ctx, "DUP@example.com", "password2", "", models.UserRoleWorker)
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestLogin_IssuesTokenThatValidates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "w@example.com", "password1", "Wes", models.UserRoleWorker)
	require.NoError(t, err)

	token, err := svc.Login(ctx, "w@example.com", "password1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	id, err := svc.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id.UserID)
	assert.Equal(t, models.UserRoleWorker, id.Role)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "w@example.com", "password1", "", models.UserRoleWorker)
	require.NoError(t, err)

	_, err = svc.Login(ctx, "w@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "password1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "w@example.com", "password1", "", models.UserRoleWorker)
	require.NoError(t, err)
	token, err := svc.issueToken(u.ID, u.Role)
	require.NoError(t, err)

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateToken(ctx, "not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other secret", func(t *testing.T) {
		other := NewService(memory.New().Users(), "another-secret", time.Hour)
		_, err := other.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		later := NewService(memory.New().Users(), "test-secret", time.Hour)
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := later.ValidateToken(ctx, token)
		assert.True(t, errors.Is(err, ErrInvalidToken), "got %v", err)
	})
}
