package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/lookstudio/internal/apperr"
	"github.com/digkill/lookstudio/internal/models"
	"github.com/digkill/lookstudio/internal/testutil"
)

func TestVerify(t *testing.T) {
	users := testutil.NewUsers()
	active := users.Add("a@look.test", models.RoleAdmin)
	suspended := users.Add("s@look.test", models.RoleUser)
	require.NoError(t, users.SetStatus(context.Background(), suspended.ID, models.AccountSuspended))

	v := NewVerifier("secret", users)
	ctx := context.Background()

	token, err := v.Issue(active.ID, active.Role, time.Hour)
	require.NoError(t, err)
	got, err := v.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, active.ID, got.ID)
	assert.True(t, got.IsAdmin())

	token, err = v.Issue(suspended.ID, models.RoleUser, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(ctx, token)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	token, err = v.Issue(999, models.RoleUser, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(ctx, token)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestVerify_RejectsBadTokens(t *testing.T) {
	users := testutil.NewUsers()
	user := users.Add("a@look.test", models.RoleUser)
	v := NewVerifier("secret", users)
	ctx := context.Background()

	_, err := v.Verify(ctx, "")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	_, err = v.Verify(ctx, "not.a.jwt")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	other := NewVerifier("other-secret", users)
	forged, err := other.Issue(user.ID, models.RoleAdmin, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(ctx, forged)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	v.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := v.Issue(user.ID, models.RoleUser, time.Hour)
	require.NoError(t, err)
	v.now = time.Now
	_, err = v.Verify(ctx, expired)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "token expired", e.Message)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "1"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Verify(ctx, noExp)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}
