package handler

import (
	"net/http"

	"github.com/pkg/errors"

	"patient-portal/internal/httperrors"
	"patient-portal/internal/model"
	"patient-portal/internal/service"
)

type Auth struct {
	accounts AccountService
}

func NewAuth(accounts AccountService) Auth {
	return Auth{accounts: accounts}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h Auth) Register(w http.ResponseWriter, r *http.Request) error {
	req := registerRequest{}
	err := decodeBody(r, &req)
	if err != nil {
		return err
	}

	session, err := h.accounts.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		return accountError(err)
	}
	return writeJSON(w, http.StatusOK, session)
}

func (h Auth) Login(w http.ResponseWriter, r *http.Request) error {
	req := loginRequest{}
	err := decodeBody(r, &req)
	if err != nil {
		return err
	}

	session, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		return accountError(err)
	}
	return writeJSON(w, http.StatusOK, session)
}

type verifyResponse struct {
	Valid bool              `json:"valid"`
	User  *model.PublicUser `json:"user,omitempty"`
	Error string            `json:"error,omitempty"`
}

func (h Auth) Verify(w http.ResponseWriter, r *http.Request) error {
	token := r.Header.Get(TokenHeader)
	if token == "" {
		return invalidToken("No token provided", nil)
	}

	user, err := h.accounts.Verify(r.Context(), token)
	if errors.Is(err, service.ErrInvalidToken) {
		return invalidToken("Token is not valid", err)
	}
	if err != nil {
		return errors.WithMessage(err, "verify token")
	}
	return writeJSON(w, http.StatusOK, verifyResponse{Valid: true, User: user})
}

func invalidToken(msg string, cause error) error {
	return httperrors.New(http.StatusUnauthorized, msg, cause).
		WithBody(verifyResponse{Valid: false, Error: msg})
}

func accountError(err error) error {
	validation := service.ValidationError{}
	switch {
	case errors.As(err, &validation):
		return httperrors.New(http.StatusBadRequest, validation.Message, err)
	case errors.Is(err, model.ErrUserExists):
		return httperrors.New(http.StatusBadRequest, "User already exists", err)
	case errors.Is(err, service.ErrInvalidCredentials):
		return httperrors.New(http.StatusBadRequest, "Invalid Credentials", err)
	}
	return err
}
