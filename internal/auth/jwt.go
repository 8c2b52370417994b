// Package auth verifies bearer tokens and resolves them to active accounts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/digkill/lookstudio/internal/apperr"
	"github.com/digkill/lookstudio/internal/models"
)

type UserFinder interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

// Claims carries the user id in sub. Role is informational; the stored role wins.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	users  UserFinder
	now    func() time.Time
}

func NewVerifier(secret string, users UserFinder) *Verifier {
	return &Verifier{secret: []byte(secret), users: users, now: time.Now}
}

// Issue signs an HS256 token for the user.
func (v *Verifier) Issue(userID int64, role models.Role, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token and returns the account it names. Bad tokens are
// Unauthorized; accounts that are not active are Forbidden.
func (v *Verifier) Verify(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, apperr.New(apperr.KindUnauthorized, "missing bearer token")
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithExpirationRequired())
	if err != nil {
		msg := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "token expired"
		}
		return nil, apperr.Wrap(apperr.KindUnauthorized, err, msg)
	}
	if !parsed.Valid {
		return nil, apperr.New(apperr.KindUnauthorized, "invalid token")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, apperr.New(apperr.KindUnauthorized, "token subject is not a user id")
	}
	user, err := v.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, apperr.New(apperr.KindUnauthorized, "unknown user")
	}
	if user.Status != models.AccountActive {
		return nil, apperr.Forbidden("account is %s", user.Status)
	}
	return user, nil
}
