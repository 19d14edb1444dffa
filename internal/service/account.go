// Package service holds the portal use cases: accounts and posts.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"patient-portal/internal/model"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const minPasswordLength = 6

// ValidationError carries a message meant for the client.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string { return e.Message }

func (e ValidationError) Is(target error) bool { return target == ErrValidation }

type UserRepo interface {
	Create(ctx context.Context, user model.User) error
	GetById(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

type Session struct {
	Token string           `json:"token"`
	User  model.PublicUser `json:"user"`
}

type Account struct {
	users     UserRepo
	tokens    Tokens
	passwords Passwords
	now       func() time.Time
}

func NewAccount(users UserRepo, tokens Tokens, passwords Passwords) Account {
	return Account{users: users, tokens: tokens, passwords: passwords, now: time.Now}
}

func (s Account) Register(ctx context.Context, name string, email string, password string) (*Session, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" || password == "" {
		return nil, ValidationError{Message: "Please enter all fields"}
	}
	if len(password) < minPasswordLength {
		return nil, ValidationError{Message: "Password should be at least 6 characters"}
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, err
	}
	user := model.User{
		Id:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	err = s.users.Create(ctx, user)
	if err != nil {
		return nil, errors.WithMessage(err, "create user")
	}
	return s.session(user)
}

func (s Account) Login(ctx context.Context, email string, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ValidationError{Message: "Please enter all fields"}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, model.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, errors.WithMessage(err, "get user by email")
	}
	if !s.passwords.Matches(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return s.session(*user)
}

// Verify resolves a token to the user it was issued for.
func (s Account) Verify(ctx context.Context, token string) (*model.PublicUser, error) {
	if token == "" {
		return nil, errors.WithMessage(ErrInvalidToken, "no token provided")
	}
	id, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetById(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return nil, errors.WithMessage(ErrInvalidToken, "unknown user")
	}
	if err != nil {
		return nil, errors.WithMessage(err, "get user by id")
	}
	public := user.Public()
	return &public, nil
}

func (s Account) session(user model.User) (*Session, error) {
	token, err := s.tokens.Issue(user.Id)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: user.Public()}, nil
}
