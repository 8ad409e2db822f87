// Package utils signs API access tokens and hashes admin API keys.
package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleCustomer is the only role the booking API accepts.
const RoleCustomer = "CUSTOMER"

// AccessToken is a signed JWT with its expiry.
type AccessToken struct {
	Token string    `json:"access_token"`
	Exp   time.Time `json:"expires_at"`
}

// NewAccessToken builds and signs an HS256 JWT with the standard sub,
// exp and iat claims plus role.  userID is the booking user id, the same
// string a chat channel would use (e.g. "whatsapp:+15551234567").
func NewAccessToken(secret, userID, role string, ttl time.Duration, now time.Time) (AccessToken, error) {
	if userID == "" {
		return AccessToken{}, errors.New("empty user id")
	}
	exp := now.UTC().Add(ttl)
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"exp":  exp.Unix(),
		"iat":  now.UTC().Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies an HS256 token and returns its subject and
// role claims.
func ParseAccessToken(secret, raw string) (userID, role string, err error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", "", err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return "", "", errors.New("invalid claims")
	}
	userID, _ = claims["sub"].(string)
	role, _ = claims["role"].(string)
	if userID == "" {
		return "", "", errors.New("token has no subject")
	}
	return userID, role, nil
}
