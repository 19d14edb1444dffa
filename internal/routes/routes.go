// Package routes assembles the portal router and binds admission categories
// to route groups.
package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"patient-portal/internal/handler"
	"patient-portal/internal/httperrors"
	"patient-portal/middleware/ratelimit"
	"patient-portal/middleware/ratelimit/application"
	"patient-portal/middleware/ratelimit/domain"
	"patient-portal/middleware/requestlog"
)

// Bindings lists, per route group, the categories evaluated in order.
type Bindings struct {
	All         []domain.Category
	Auth        []domain.Category
	PostCreate  []domain.Category
	Appointment []domain.Category
}

// DefaultBindings returns the stock table. postCreate is the category that
// guards POST /api/posts.
func DefaultBindings(postCreate domain.Category) Bindings {
	return Bindings{
		All:         []domain.Category{domain.CategoryGeneral},
		Auth:        []domain.Category{domain.CategoryGeneral, domain.CategoryAuth, domain.CategoryAuthProgressive},
		PostCreate:  []domain.Category{domain.CategoryGeneral, postCreate},
		Appointment: []domain.Category{domain.CategoryGeneral, domain.CategoryAppointmentCreate},
	}
}

type Handlers struct {
	Auth     handler.Auth
	Post     handler.Post
	Page     handler.Page
	Accounts handler.AccountService
}

type Admission struct {
	Controller          *application.Controller
	Stats               domain.StatsStore
	KeyHeader           string
	TrustXForwardedFor  bool
	AddRateLimitHeaders bool
	// InFlight is shared by every route group; nil disables the limit.
	InFlight *application.InFlight
}

type Options struct {
	Handlers     Handlers
	Admission    Admission
	Bindings     Bindings
	MaxBodyBytes int64
	// Gatherer enables GET /metrics when set.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// New builds the portal handler. Every route runs exactly one admission
// middleware holding the full ordered category list of its group, so no
// category is counted twice for one request.
func New(opts Options) (http.Handler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	admit := func(categories []domain.Category) (mux.MiddlewareFunc, error) {
		mw, err := ratelimit.Middleware(ratelimit.Options{
			Controller:          opts.Admission.Controller,
			Categories:          categories,
			Stats:               opts.Admission.Stats,
			KeyHeader:           opts.Admission.KeyHeader,
			TrustXForwardedFor:  opts.Admission.TrustXForwardedFor,
			AddRateLimitHeaders: opts.Admission.AddRateLimitHeaders,
			InFlight:            opts.Admission.InFlight,
			Logger:              logger.Named("admission"),
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "bind %v", categories)
		}
		return mw, nil
	}

	general, err := admit(opts.Bindings.All)
	if err != nil {
		return nil, err
	}
	auth, err := admit(opts.Bindings.Auth)
	if err != nil {
		return nil, err
	}
	postCreate, err := admit(opts.Bindings.PostCreate)
	if err != nil {
		return nil, err
	}
	appointment, err := admit(opts.Bindings.Appointment)
	if err != nil {
		return nil, err
	}

	h := opts.Handlers
	errs := handler.ErrorHandler(logger)
	authenticate := handler.Authenticate(h.Accounts, logger)

	r := mux.NewRouter()

	// auth admission wraps the whole group, so unknown paths and wrong
	// methods under /api/auth spend auth quota too
	authMux := mux.NewRouter()
	authMux.Handle("/api/auth/register", errs(h.Auth.Register)).Methods(http.MethodPost)
	authMux.Handle("/api/auth/login", errs(h.Auth.Login)).Methods(http.MethodPost)
	authMux.Handle("/api/auth/verify", errs(h.Auth.Verify)).Methods(http.MethodGet)
	authMux.NotFoundHandler = h.Page.Fallback()
	authMux.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	r.PathPrefix("/api/auth").Handler(auth(authMux))

	r.Handle("/api/posts", postCreate(authenticate(errs(h.Post.Create)))).Methods(http.MethodPost)
	r.Handle("/api/posts", general(errs(h.Post.List))).Methods(http.MethodGet)
	r.Handle("/api/posts/user/{userId}", general(errs(h.Post.ListByUser))).Methods(http.MethodGet)

	r.Handle("/", general(h.Page.Protected("home.html"))).Methods(http.MethodGet)
	r.Handle("/home", general(h.Page.Protected("home.html"))).Methods(http.MethodGet)
	r.Handle("/service", general(h.Page.Protected("service.html"))).Methods(http.MethodGet)
	r.Handle("/review", appointment(h.Page.Protected("review.html"))).Methods(http.MethodGet)
	r.Handle("/login", general(h.Page.Public("login.html"))).Methods(http.MethodGet)
	r.Handle("/register", general(h.Page.Public("register.html"))).Methods(http.MethodGet)

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	r.NotFoundHandler = general(h.Page.Fallback())
	r.MethodNotAllowedHandler = general(http.HandlerFunc(methodNotAllowed))

	var root http.Handler = r
	if opts.MaxBodyBytes > 0 {
		root = maxBody(opts.MaxBodyBytes)(root)
	}
	root = cors.AllowAll().Handler(root)
	root = requestlog.Middleware(logger.Named("http"))(root)
	return root, nil
}

func maxBody(limit int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	_ = httperrors.New(http.StatusMethodNotAllowed, "Method not allowed", nil).WriteError(w)
}
