package repository

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"patient-portal/internal/model"
)

// Post stores posts as JSON documents indexed by date:
//
//	{prefix}:post:{id}          JSON document
//	{prefix}:posts              zset id -> unix millis
//	{prefix}:posts:user:{user}  zset id -> unix millis
type Post struct {
	cli    redis.UniversalClient
	prefix string
}

func NewPost(cli redis.UniversalClient, prefix string) Post {
	return Post{cli: cli, prefix: strings.TrimSuffix(prefix, ":")}
}

func (r Post) Create(ctx context.Context, post model.Post) error {
	data, err := json.Marshal(post)
	if err != nil {
		return errors.WithMessage(err, "marshal post")
	}

	member := redis.Z{Score: float64(post.Date.UnixMilli()), Member: post.Id}
	_, err = r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.postKey(post.Id), data, 0)
		pipe.ZAdd(ctx, r.prefix+":posts", member)
		pipe.ZAdd(ctx, r.userIndexKey(post.User), member)
		return nil
	})
	if err != nil {
		return errors.WithMessage(err, "save post")
	}
	return nil
}

// List returns every post, newest first.
func (r Post) List(ctx context.Context) ([]model.Post, error) {
	return r.listIndex(ctx, r.prefix+":posts")
}

func (r Post) ListByUser(ctx context.Context, userId string) ([]model.Post, error) {
	return r.listIndex(ctx, r.userIndexKey(userId))
}

func (r Post) listIndex(ctx context.Context, index string) ([]model.Post, error) {
	ids, err := r.cli.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, errors.WithMessagef(err, "zrevrange %s", index)
	}
	if len(ids) == 0 {
		return []model.Post{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.postKey(id))
	}
	values, err := r.cli.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.WithMessage(err, "mget posts")
	}

	posts := make([]model.Post, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// index entry without document
			continue
		}
		post := model.Post{}
		err := json.Unmarshal([]byte(s), &post)
		if err != nil {
			return nil, errors.WithMessagef(err, "unmarshal post %s", ids[i])
		}
		posts = append(posts, post)
	}
	return posts, nil
}

func (r Post) postKey(id string) string {
	return r.prefix + ":post:" + id
}

func (r Post) userIndexKey(userId string) string {
	return r.prefix + ":posts:user:" + userId
}
