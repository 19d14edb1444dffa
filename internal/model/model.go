// Package model holds the portal documents and their public projections.
package model

import (
	"time"

	"github.com/pkg/errors"
)

var (
	ErrUserExists = errors.New("user already exists")
	ErrNotFound   = errors.New("not found")
)

type User struct {
	Id           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// PublicUser is what leaves the server: never the password hash.
type PublicUser struct {
	Id    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (u User) Public() PublicUser {
	return PublicUser{Id: u.Id, Name: u.Name, Email: u.Email}
}

type Post struct {
	Id          string    `json:"_id"`
	User        string    `json:"user"`
	Name        string    `json:"name"`
	Image       string    `json:"image"`
	Description string    `json:"description"`
	Review      string    `json:"review"`
	Date        time.Time `json:"date"`
}
