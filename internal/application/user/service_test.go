package user

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainUser "github.com/barterhub/barterhub/internal/domain/user"
	"github.com/barterhub/barterhub/internal/infrastructure/memstore"
)

func TestRegisterNormalizesAndHashes(t *testing.T) {
	svc := NewService(memstore.NewUserRepository(), zerolog.Nop())
	ctx := context.Background()

	u, err := svc.Register(ctx, "  Alice_42 ", "Alice", "alice@example.org")
	require.NoError(t, err)
	assert.Equal(t, "alice_42", u.Username)
	assert.Equal(t, domainUser.StatusActive, u.Status)
	assert.NotEmpty(t, u.ContactHash)
	assert.NotContains(t, u.ContactHash, "alice@example.org")

	ok, err := svc.VerifyContact(ctx, u.UserID, "alice@example.org")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.VerifyContact(ctx, u.UserID, "mallory@example.org")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegisterRejectsBadUsername(t *testing.T) {
	svc := NewService(memstore.NewUserRepository(), zerolog.Nop())
	_, err := svc.Register(context.Background(), "a b!", "", "")
	require.Error(t, err)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	svc := NewService(memstore.NewUserRepository(), zerolog.Nop())
	ctx := context.Background()
	_, err := svc.Register(ctx, "bob", "", "")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "BOB", "", "")
	require.Error(t, err)
}

func TestSetStatusAndReputation(t *testing.T) {
	svc := NewService(memstore.NewUserRepository(), zerolog.Nop())
	ctx := context.Background()
	u, err := svc.Register(ctx, "carol", "", "")
	require.NoError(t, err)

	got, err := svc.SetStatus(ctx, u.UserID, domainUser.StatusDisabled)
	require.NoError(t, err)
	assert.False(t, got.IsActive())

	got, err = svc.AdjustReputation(ctx, u.UserID, 3.5)
	require.NoError(t, err)
	assert.Equal(t, 3.5, got.Reputation)

	_, err = svc.SetStatus(ctx, u.UserID, domainUser.Status("BANNED"))
	require.Error(t, err)
}
