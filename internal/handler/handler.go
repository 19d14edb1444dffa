// Package handler holds the portal HTTP endpoints.
package handler

import (
	"context"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"patient-portal/internal/httperrors"
	"patient-portal/internal/model"
	"patient-portal/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const TokenHeader = "x-auth-token"

type HttpError interface {
	WriteError(w http.ResponseWriter) error
}

// HandlerFunc is an endpoint that reports failures instead of writing them.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// ErrorHandler turns a HandlerFunc into an http.Handler. HttpErrors are
// rendered as they are; anything else becomes a 500.
func ErrorHandler(logger *zap.Logger) func(next HandlerFunc) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := next(w, r)
			if err == nil {
				return
			}

			httpErr, ok := err.(HttpError)
			if !ok {
				logger.Error("handler failed",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				httpErr = httperrors.New(http.StatusInternalServerError, "Server error", err)
			}
			writeErr := httpErr.WriteError(w)
			if writeErr != nil {
				logger.Debug("write error response", zap.Error(writeErr))
			}
		})
	}
}

type AccountService interface {
	Register(ctx context.Context, name string, email string, password string) (*service.Session, error)
	Login(ctx context.Context, email string, password string) (*service.Session, error)
	Verify(ctx context.Context, token string) (*model.PublicUser, error)
}

type userCtxKey struct{}

// UserFromContext returns the user attached by Authenticate.
func UserFromContext(ctx context.Context) (model.PublicUser, bool) {
	user, ok := ctx.Value(userCtxKey{}).(model.PublicUser)
	return user, ok
}

// Authenticate requires a valid x-auth-token header.
func Authenticate(accounts AccountService, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return ErrorHandler(logger)(func(w http.ResponseWriter, r *http.Request) error {
			token := r.Header.Get(TokenHeader)
			if token == "" {
				return httperrors.New(http.StatusUnauthorized, "No token, authorization denied", nil)
			}
			user, err := accounts.Verify(r.Context(), token)
			if errors.Is(err, service.ErrInvalidToken) {
				return httperrors.New(http.StatusUnauthorized, "Token is not valid", err)
			}
			if err != nil {
				return errors.WithMessage(err, "verify token")
			}

			ctx := context.WithValue(r.Context(), userCtxKey{}, *user)
			next.ServeHTTP(w, r.WithContext(ctx))
			return nil
		})
	}
}

func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil {
		return httperrors.New(http.StatusBadRequest, "Invalid request body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) error {
	return httperrors.WriteJSON(w, status, body)
}
