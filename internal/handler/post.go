package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"patient-portal/internal/httperrors"
	"patient-portal/internal/model"
	"patient-portal/internal/service"
)

type PostService interface {
	Create(ctx context.Context, author model.PublicUser, req service.NewPost) (*model.Post, error)
	List(ctx context.Context) ([]model.Post, error)
	ListByUser(ctx context.Context, userId string) ([]model.Post, error)
}

type Post struct {
	posts PostService
}

func NewPost(posts PostService) Post {
	return Post{posts: posts}
}

// Create needs Authenticate in front of it.
func (h Post) Create(w http.ResponseWriter, r *http.Request) error {
	author, ok := UserFromContext(r.Context())
	if !ok {
		return httperrors.New(http.StatusUnauthorized, "No token, authorization denied", nil)
	}

	req := service.NewPost{}
	err := decodeBody(r, &req)
	if err != nil {
		return err
	}

	post, err := h.posts.Create(r.Context(), author, req)
	validation := service.ValidationError{}
	if errors.As(err, &validation) {
		return httperrors.New(http.StatusBadRequest, validation.Message, err)
	}
	if err != nil {
		return httperrors.New(http.StatusInternalServerError, "Server error while creating post", err)
	}
	return writeJSON(w, http.StatusOK, post)
}

func (h Post) List(w http.ResponseWriter, r *http.Request) error {
	posts, err := h.posts.List(r.Context())
	if err != nil {
		return httperrors.New(http.StatusInternalServerError, "Server error while fetching posts", err)
	}
	return writeJSON(w, http.StatusOK, posts)
}

func (h Post) ListByUser(w http.ResponseWriter, r *http.Request) error {
	posts, err := h.posts.ListByUser(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		return httperrors.New(http.StatusInternalServerError, "Server error while fetching user posts", err)
	}
	return writeJSON(w, http.StatusOK, posts)
}
