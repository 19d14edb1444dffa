package repository

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"patient-portal/internal/model"
)

// User stores users as JSON documents with a unique email index:
//
//	{prefix}:user:{id}            JSON document
//	{prefix}:user:email:{email}   id, set with SETNX
type User struct {
	cli    redis.UniversalClient
	prefix string
}

func NewUser(cli redis.UniversalClient, prefix string) User {
	return User{cli: cli, prefix: strings.TrimSuffix(prefix, ":")}
}

func (r User) Create(ctx context.Context, user model.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return errors.WithMessage(err, "marshal user")
	}

	emailKey := r.emailKey(user.Email)
	ok, err := r.cli.SetNX(ctx, emailKey, user.Id, 0).Result()
	if err != nil {
		return errors.WithMessage(err, "setnx email index")
	}
	if !ok {
		return model.ErrUserExists
	}

	err = r.cli.Set(ctx, r.userKey(user.Id), data, 0).Err()
	if err != nil {
		_ = r.cli.Del(ctx, emailKey).Err()
		return errors.WithMessage(err, "set user")
	}
	return nil
}

func (r User) GetById(ctx context.Context, id string) (*model.User, error) {
	data, err := r.cli.Get(ctx, r.userKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, errors.WithMessage(err, "get user")
	}

	user := model.User{}
	err = json.Unmarshal(data, &user)
	if err != nil {
		return nil, errors.WithMessagef(err, "unmarshal user %s", id)
	}
	return &user, nil
}

func (r User) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	id, err := r.cli.Get(ctx, r.emailKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, errors.WithMessage(err, "get email index")
	}
	return r.GetById(ctx, id)
}

func (r User) userKey(id string) string {
	return r.prefix + ":user:" + id
}

func (r User) emailKey(email string) string {
	return r.prefix + ":user:email:" + normalizeEmail(email)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
