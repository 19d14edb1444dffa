package service

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const passwordCost = 10

type Passwords struct {
	cost int
}

func NewPasswords(cost int) Passwords {
	if cost == 0 {
		cost = passwordCost
	}
	return Passwords{cost: cost}
}

func (p Passwords) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", errors.WithMessage(err, "bcrypt hash")
	}
	return string(hash), nil
}

func (p Passwords) Matches(hash string, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
