package handler

import (
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"patient-portal/internal/httperrors"
)

const (
	TokenCookie = "token"
	LoginPath   = "/login"
)

type Page struct {
	dir      string
	accounts AccountService
	logger   *zap.Logger
}

func NewPage(dir string, accounts AccountService, logger *zap.Logger) Page {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Page{dir: dir, accounts: accounts, logger: logger}
}

// Protected serves file to clients holding a valid token, from the
// x-auth-token header or the token cookie, and redirects everyone else to
// the login page.
func (h Page) Protected(file string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(TokenHeader)
		if token == "" {
			if c, err := r.Cookie(TokenCookie); err == nil {
				token = c.Value
			}
		}
		if token == "" {
			http.Redirect(w, r, LoginPath, http.StatusFound)
			return
		}
		_, err := h.accounts.Verify(r.Context(), token)
		if err != nil {
			h.logger.Debug("page token rejected", zap.String("path", r.URL.Path), zap.Error(err))
			http.Redirect(w, r, LoginPath, http.StatusFound)
			return
		}
		http.ServeFile(w, r, filepath.Join(h.dir, file))
	})
}

func (h Page) Public(file string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(h.dir, file))
	})
}

// Fallback answers unknown API paths with JSON 404 and serves everything else
// from the static directory.
func (h Page) Fallback() http.Handler {
	files := http.FileServer(http.Dir(h.dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/api" {
			_ = httperrors.New(http.StatusNotFound, "API endpoint not found", nil).WriteError(w)
			return
		}
		files.ServeHTTP(w, r)
	})
}
