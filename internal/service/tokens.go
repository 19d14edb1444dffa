package service

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

var ErrInvalidToken = errors.New("token is not valid")

type tokenUser struct {
	Id string `json:"id"`
}

type tokenClaims struct {
	User tokenUser `json:"user"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 tokens carrying {"user":{"id":...}}.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) Tokens {
	return Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t Tokens) Issue(userId string) (string, error) {
	now := t.now()
	claims := tokenClaims{
		User: tokenUser{Id: userId},
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", errors.WithMessage(err, "sign token")
	}
	return token, nil
}

// Verify returns the user id of a valid token.
func (t Tokens) Verify(token string) (string, error) {
	claims := tokenClaims{}
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return "", errors.WithMessage(ErrInvalidToken, err.Error())
	}
	if claims.User.Id == "" {
		return "", errors.WithMessage(ErrInvalidToken, "no user in token")
	}
	return claims.User.Id, nil
}
