// Package auth validates the access tokens issued by the POS login service.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/order-core/internal/enum"
)

// AccessTokenTTL matches the lifetime of tokens issued at login.
const AccessTokenTTL = 15 * time.Minute

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	OutletID uuid.UUID `json:"outlet_id"`
	Role     string    `json:"role"`
	jwt.RegisteredClaims
}

// CanAccessOutlet reports whether the holder may act on outletID.
// OWNER can access any outlet, everyone else only their own.
func (c *Claims) CanAccessOutlet(outletID uuid.UUID) bool {
	return c.Role == enum.UserRoleOwner || c.OutletID == outletID
}

// HasRole reports whether the holder has one of roles.
func (c *Claims) HasRole(roles ...string) bool {
	return slices.Contains(roles, c.Role)
}

// GenerateToken signs an access token. The login service owns issuance;
// this exists for tooling and tests.
func GenerateToken(secret string, userID, outletID uuid.UUID, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		OutletID: outletID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
