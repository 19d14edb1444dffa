package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"patient-portal/internal/handler"
	"patient-portal/internal/repository"
	"patient-portal/internal/service"
	"patient-portal/middleware/ratelimit/application"
	"patient-portal/middleware/ratelimit/domain"
	"patient-portal/middleware/ratelimit/infra"
)

type portal struct {
	h        http.Handler
	accounts service.Account
	stats    *infra.MemoryStatsStore
}

func testPolicies() []domain.Policy {
	policies := domain.DefaultPolicies()
	for i := range policies {
		if policies[i].Category == domain.CategoryAuthProgressive {
			policies[i].DelayIncrement = time.Millisecond
			policies[i].MaxDelay = 5 * time.Millisecond
		}
	}
	return policies
}

func newPortal(t *testing.T, bindings Bindings, tweaks ...func(*Options)) portal {
	t.Helper()
	logger := zaptest.NewLogger(t)

	dir := t.TempDir()
	for _, f := range []string{"home.html", "review.html", "login.html"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte(f), 0o600))
	}

	accounts := service.NewAccount(
		repository.NewMemoryUser(),
		service.NewTokens("test-secret", time.Hour),
		service.NewPasswords(4),
	)
	ctrl, err := application.NewController(infra.NewWindowStore(), testPolicies()...)
	require.NoError(t, err)

	stats := infra.NewMemoryStatsStore()
	reg := prometheus.NewRegistry()
	prom, err := infra.NewPrometheusStatsStore(reg)
	require.NoError(t, err)

	opts := Options{
		Handlers: Handlers{
			Auth:     handler.NewAuth(accounts),
			Post:     handler.NewPost(service.NewPostService(repository.NewMemoryPost())),
			Page:     handler.NewPage(dir, accounts, logger),
			Accounts: accounts,
		},
		Admission: Admission{
			Controller:          ctrl,
			Stats:               infra.MultiStats{stats, prom},
			AddRateLimitHeaders: true,
		},
		Bindings:     bindings,
		MaxBodyBytes: 1024,
		Gatherer:     reg,
		Logger:       logger,
	}
	for _, tweak := range tweaks {
		tweak(&opts)
	}
	h, err := New(opts)
	require.NoError(t, err)
	return portal{h: h, accounts: accounts, stats: stats}
}

func (p portal) do(method string, target string, body string, token string) *httptest.ResponseRecorder {
	return p.doFrom("10.0.0.1:4000", method, target, body, token)
}

func (p portal) doFrom(remote string, method string, target string, body string, token string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	r.RemoteAddr = remote
	if token != "" {
		r.Header.Set(handler.TokenHeader, token)
	}
	w := httptest.NewRecorder()
	p.h.ServeHTTP(w, r)
	return w
}

func TestRouter_AuthRoutesShareAuthQuota(t *testing.T) {
	p := newPortal(t, DefaultBindings(domain.CategoryPostCreate))
	body := `{"email":"ana@example.com","password":"secret1"}`

	for i := 0; i < 3; i++ {
		w := p.do(http.MethodPost, "/api/auth/login", body, "")
		require.Equal(t, http.StatusBadRequest, w.Code)
	}
	for i := 0; i < 2; i++ {
		w := p.do(http.MethodGet, "/api/auth/verify", "", "")
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := p.do(http.MethodPost, "/api/auth/login", body, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.JSONEq(t, `{"error":"Too many authentication attempts, please try again later"}`, w.Body.String())
	require.Equal(t, "900", w.Header().Get("Retry-After"))
	require.Equal(t, "5", w.Header().Get("RateLimit-Limit"))
	require.Equal(t, "0", w.Header().Get("RateLimit-Remaining"))

	// general still has room
	w = p.do(http.MethodGet, "/api/posts", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "100", w.Header().Get("RateLimit-Limit"))
	require.Equal(t, "93", w.Header().Get("RateLimit-Remaining"))

	require.EqualValues(t, 3, p.stats.ByCategory()[domain.CategoryAuthProgressive].Delayed)
	require.EqualValues(t, 1, p.stats.ByCategory()[domain.CategoryAuth].Rejected)
}

func TestRouter_WrongMethodSpendsAuthQuota(t *testing.T) {
	p := newPortal(t, DefaultBindings(domain.CategoryPostCreate))

	for i := 0; i < 5; i++ {
		w := p.do(http.MethodGet, "/api/auth/login", "", "")
		require.Equal(t, http.StatusMethodNotAllowed, w.Code)
		require.JSONEq(t, `{"error":"Method not allowed"}`, w.Body.String())
	}
	require.EqualValues(t, 5, p.stats.ByCategory()[domain.CategoryAuth].Allowed)
	require.EqualValues(t, 5, p.stats.ByCategory()[domain.CategoryGeneral].Allowed)

	w := p.do(http.MethodPost, "/api/auth/login", `{"email":"ana@example.com","password":"secret1"}`, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

// delaySignal closes delayed once a request is held by the progressive delay.
type delaySignal struct {
	once    sync.Once
	delayed chan struct{}
}

func (s *delaySignal) Record(_ context.Context, ev domain.StatsEvent) error {
	if ev.Outcome == domain.OutcomeDelay {
		s.once.Do(func() { close(s.delayed) })
	}
	return nil
}

func TestRouter_DelayedLoginDoesNotBlockOtherClients(t *testing.T) {
	policies := domain.DefaultPolicies()
	for i := range policies {
		if policies[i].Category == domain.CategoryAuthProgressive {
			policies[i].DelayAfter = 0
			policies[i].DelayIncrement = 500 * time.Millisecond
			policies[i].MaxDelay = 500 * time.Millisecond
		}
	}
	ctrl, err := application.NewController(infra.NewWindowStore(), policies...)
	require.NoError(t, err)
	signal := &delaySignal{delayed: make(chan struct{})}

	p := newPortal(t, DefaultBindings(domain.CategoryPostCreate), func(o *Options) {
		o.Admission.Controller = ctrl
		o.Admission.Stats = infra.MultiStats{o.Admission.Stats, signal}
		o.Admission.InFlight = application.NewInFlight(infra.NewSlotPool(1), 100*time.Millisecond)
	})

	loginDone := make(chan int, 1)
	go func() {
		loginDone <- p.doFrom("10.0.0.1:4000", http.MethodPost, "/api/auth/login", `{"email":"ana@example.com","password":"secret1"}`, "").Code
	}()

	select {
	case <-signal.delayed:
	case <-time.After(2 * time.Second):
		t.Fatal("login was never delayed")
	}

	w := p.doFrom("10.0.0.2:4000", http.MethodGet, "/login", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "login.html", w.Body.String())

	select {
	case code := <-loginDone:
		require.Equal(t, http.StatusBadRequest, code)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed login never finished")
	}
}

func TestRouter_PostCreateQuota(t *testing.T) {
	p := newPortal(t, DefaultBindings(domain.CategoryPostCreate))
	session, err := p.accounts.Register(t.Context(), "Ana", "ana@example.com", "secret1")
	require.NoError(t, err)
	body := `{"image":"a.png","description":"d","review":"r"}`

	for i := 0; i < 5; i++ {
		w := p.do(http.MethodPost, "/api/posts", body, session.Token)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := p.do(http.MethodPost, "/api/posts", body, session.Token)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.JSONEq(t, `{"error":"Too many posts created, please try again later"}`, w.Body.String())

	// reading is only bound to general
	w = p.do(http.MethodGet, "/api/posts/user/"+session.User.Id, "", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_PostCreateAsAppointment(t *testing.T) {
	p := newPortal(t, DefaultBindings(domain.CategoryAppointmentCreate))
	session, err := p.accounts.Register(t.Context(), "Ana", "ana@example.com", "secret1")
	require.NoError(t, err)
	body := `{"image":"a.png","description":"d","review":"r"}`

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, p.do(http.MethodPost, "/api/posts", body, session.Token).Code)
	}
	w := p.do(http.MethodPost, "/api/posts", body, session.Token)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Contains(t, w.Body.String(), "Too many appointment requests")
}

func TestRouter_ReviewPageUsesAppointmentQuota(t *testing.T) {
	p := newPortal(t, DefaultBindings(domain.CategoryPostCreate))
	session, err := p.accounts.Register(t.Context(), "Ana", "ana@example.com", "secret1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		w := p.do(http.MethodGet, "/review", "", session.Token)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "review.html", w.Body.String())
	}
	require.Equal(t, http.StatusTooManyRequests, p.do(http.MethodGet, "/review", "", session.Token).Code)

	// the home page is not affected
	require.Equal(t, http.StatusOK, p.do(http.MethodGet, "/home", "", session.Token).Code)
	require.Equal(t, http.StatusFound, p.do(http.MethodGet, "/home", "", "").Code)
}

func TestRouter_FallbacksAndMetrics(t *testing.T) {
	p := newPortal(t, DefaultBindings(domain.CategoryPostCreate))

	w := p.do(http.MethodGet, "/api/nothing", "", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.JSONEq(t, `{"error":"API endpoint not found"}`, w.Body.String())

	w = p.do(http.MethodGet, "/api/auth/nothing", "", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = p.do(http.MethodGet, "/login", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("x-request-id"))

	w = p.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `portal_admission_decisions_total{category="general",outcome="allow"}`)
}

func TestRouter_BodyLimit(t *testing.T) {
	p := newPortal(t, DefaultBindings(domain.CategoryPostCreate))
	big := `{"name":"` + strings.Repeat("a", 2048) + `","email":"a@b.c","password":"secret1"}`

	w := p.do(http.MethodPost, "/api/auth/register", big, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNew_RejectsUnknownBinding(t *testing.T) {
	ctrl, err := application.NewController(infra.NewWindowStore(), domain.Policy{
		Category: domain.CategoryGeneral, Kind: domain.FixedWindow, Window: time.Minute, MaxRequests: 1,
	})
	require.NoError(t, err)

	_, err = New(Options{
		Admission: Admission{Controller: ctrl},
		Bindings:  DefaultBindings(domain.CategoryPostCreate),
	})
	require.ErrorIs(t, err, domain.ErrConfiguration)
}
