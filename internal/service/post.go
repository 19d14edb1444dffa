package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"patient-portal/internal/model"
)

type PostRepo interface {
	Create(ctx context.Context, post model.Post) error
	List(ctx context.Context) ([]model.Post, error)
	ListByUser(ctx context.Context, userId string) ([]model.Post, error)
}

type NewPost struct {
	Image       string `json:"image"`
	Description string `json:"description"`
	Review      string `json:"review"`
}

type Post struct {
	posts PostRepo
	now   func() time.Time
}

func NewPostService(posts PostRepo) Post {
	return Post{posts: posts, now: time.Now}
}

func (s Post) Create(ctx context.Context, author model.PublicUser, req NewPost) (*model.Post, error) {
	if strings.TrimSpace(req.Image) == "" ||
		strings.TrimSpace(req.Description) == "" ||
		strings.TrimSpace(req.Review) == "" {
		return nil, ValidationError{Message: "Please enter all fields"}
	}

	post := model.Post{
		Id:          uuid.NewString(),
		User:        author.Id,
		Name:        author.Name,
		Image:       req.Image,
		Description: req.Description,
		Review:      req.Review,
		Date:        s.now().UTC(),
	}
	err := s.posts.Create(ctx, post)
	if err != nil {
		return nil, errors.WithMessage(err, "create post")
	}
	return &post, nil
}

func (s Post) List(ctx context.Context) ([]model.Post, error) {
	posts, err := s.posts.List(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "list posts")
	}
	return posts, nil
}

func (s Post) ListByUser(ctx context.Context, userId string) ([]model.Post, error) {
	posts, err := s.posts.ListByUser(ctx, userId)
	if err != nil {
		return nil, errors.WithMessagef(err, "list posts of %s", userId)
	}
	return posts, nil
}
