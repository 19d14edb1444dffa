package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"patient-portal/middleware/ratelimit/application"
	"patient-portal/middleware/ratelimit/domain"
	"patient-portal/middleware/ratelimit/infra"
)

var start = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ now atomic.Pointer[time.Time] }

func newClock() *clock {
	c := &clock{}
	c.set(start)
	return c
}

func (c *clock) set(t time.Time) { c.now.Store(&t) }

func (c *clock) advance(d time.Duration) { c.set(c.Now().Add(d)) }

func (c *clock) Now() time.Time { return *c.now.Load() }

func newTestController(t *testing.T, policies ...domain.Policy) *application.Controller {
	t.Helper()
	if len(policies) == 0 {
		policies = domain.DefaultPolicies()
	}
	ctrl, err := application.NewController(infra.NewWindowStore(), policies...)
	require.NoError(t, err)
	return ctrl
}

func okHandler(calls *atomic.Int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
}

func do(h http.Handler, remote string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "http://example/api/auth/login", nil)
	r.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_RejectsAuthAfterQuota(t *testing.T) {
	clk := newClock()
	var calls atomic.Int32
	stats := infra.NewMemoryStatsStore()

	mw, err := Middleware(Options{
		Controller:          newTestController(t),
		Categories:          []domain.Category{domain.CategoryGeneral, domain.CategoryAuth},
		Stats:               stats,
		AddRateLimitHeaders: true,
		Logger:              zaptest.NewLogger(t),
		Now:                 clk.Now,
	})
	require.NoError(t, err)
	h := mw(okHandler(&calls))

	for i := 1; i <= 5; i++ {
		w := do(h, "10.0.0.1:1234")
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "5", w.Header().Get("RateLimit-Limit"))
		require.Equal(t, formatInt(5-i), w.Header().Get("RateLimit-Remaining"))
		require.Equal(t, "900", w.Header().Get("RateLimit-Reset"))
		require.Equal(t, "5;w=900", w.Header().Get("RateLimit-Policy"))
	}

	clk.advance(90 * time.Second)
	w := do(h, "10.0.0.1:1234")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "810", w.Header().Get("Retry-After"))
	require.Equal(t, "0", w.Header().Get("RateLimit-Remaining"))
	require.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "Too many authentication attempts, please try again later", body["error"])

	require.EqualValues(t, 5, calls.Load())
	require.EqualValues(t, 1, stats.ByCategory()[domain.CategoryAuth].Rejected)
	require.EqualValues(t, 6, stats.ByCategory()[domain.CategoryGeneral].Allowed)

	// another client is untouched
	require.Equal(t, http.StatusOK, do(h, "10.0.0.2:1234").Code)
}

func TestMiddleware_AllowsAgainAfterWindow(t *testing.T) {
	clk := newClock()
	var calls atomic.Int32

	mw, err := Middleware(Options{
		Controller: newTestController(t),
		Categories: []domain.Category{domain.CategoryAppointmentCreate},
		Now:        clk.Now,
	})
	require.NoError(t, err)
	h := mw(okHandler(&calls))

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, do(h, "10.0.0.1:1").Code)
	}
	require.Equal(t, http.StatusTooManyRequests, do(h, "10.0.0.1:1").Code)

	clk.advance(time.Hour)
	require.Equal(t, http.StatusOK, do(h, "10.0.0.1:1").Code)
	require.EqualValues(t, 4, calls.Load())
}

func TestMiddleware_DelaysProgressively(t *testing.T) {
	var calls atomic.Int32
	ctrl := newTestController(t, domain.Policy{
		Category:       domain.CategoryAuthProgressive,
		Kind:           domain.ProgressiveDelay,
		Window:         time.Minute,
		DelayAfter:     1,
		DelayIncrement: 40 * time.Millisecond,
		MaxDelay:       time.Second,
	})

	mw, err := Middleware(Options{
		Controller: ctrl,
		Categories: []domain.Category{domain.CategoryAuthProgressive},
	})
	require.NoError(t, err)
	h := mw(okHandler(&calls))

	require.Equal(t, http.StatusOK, do(h, "10.0.0.1:1").Code)

	began := time.Now()
	w := do(h, "10.0.0.1:1")
	require.Equal(t, http.StatusOK, w.Code)
	require.GreaterOrEqual(t, time.Since(began), 40*time.Millisecond)
	require.Empty(t, w.Header().Get("RateLimit-Limit"), "headers are opt-in")
	require.EqualValues(t, 2, calls.Load())
}

func TestMiddleware_DelayStopsWhenClientLeaves(t *testing.T) {
	var calls atomic.Int32
	ctrl := newTestController(t, domain.Policy{
		Category:       domain.CategoryAuthProgressive,
		Kind:           domain.ProgressiveDelay,
		Window:         time.Minute,
		DelayAfter:     0,
		DelayIncrement: 10 * time.Second,
		MaxDelay:       10 * time.Second,
	})
	mw, err := Middleware(Options{Controller: ctrl, Categories: []domain.Category{domain.CategoryAuthProgressive}})
	require.NoError(t, err)
	h := mw(okHandler(&calls))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r := httptest.NewRequest(http.MethodPost, "http://example/api/auth/login", nil).WithContext(ctx)
	r.RemoteAddr = "10.0.0.1:1"

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(httptest.NewRecorder(), r)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delayed request did not return after cancellation")
	}
	require.Zero(t, calls.Load())
}

func TestMiddleware_UnknownCategoryFailsAtConstruction(t *testing.T) {
	ctrl := newTestController(t, domain.Policy{
		Category: domain.CategoryGeneral, Kind: domain.FixedWindow, Window: time.Minute, MaxRequests: 1,
	})

	_, err := Middleware(Options{Controller: ctrl, Categories: []domain.Category{domain.CategoryAuth}})
	require.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = Middleware(Options{Controller: ctrl})
	require.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = Middleware(Options{Categories: []domain.Category{domain.CategoryGeneral}})
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestMiddleware_EmptyKeyIsServerError(t *testing.T) {
	var calls atomic.Int32
	mw, err := Middleware(Options{
		Controller: newTestController(t),
		Categories: []domain.Category{domain.CategoryGeneral},
		KeyFn:      func(*http.Request) string { return "" },
	})
	require.NoError(t, err)

	w := do(mw(okHandler(&calls)), "10.0.0.1:1")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Zero(t, calls.Load())
}

func TestMiddleware_KeyByHeader(t *testing.T) {
	var calls atomic.Int32
	ctrl := newTestController(t, domain.Policy{
		Category: domain.CategoryGeneral, Kind: domain.FixedWindow, Window: time.Minute, MaxRequests: 1,
	})
	mw, err := Middleware(Options{
		Controller: ctrl,
		Categories: []domain.Category{domain.CategoryGeneral},
		KeyHeader:  "X-Api-Key",
	})
	require.NoError(t, err)
	h := mw(okHandler(&calls))

	for _, k := range []string{"k1", "k2"} {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.Header.Set("X-Api-Key", k)
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code, k)
	}
}

// delayStats signals once a delayed decision is recorded, i.e. the request
// is about to wait on its timer.
type delayStats struct {
	once    sync.Once
	delayed chan struct{}
}

func (s *delayStats) Record(_ context.Context, ev domain.StatsEvent) error {
	if ev.Outcome == domain.OutcomeDelay {
		s.once.Do(func() { close(s.delayed) })
	}
	return nil
}

func TestMiddleware_DelayedRequestHoldsNoSlot(t *testing.T) {
	ctrl := newTestController(t,
		domain.Policy{
			Category: domain.CategoryGeneral, Kind: domain.FixedWindow, Window: time.Minute, MaxRequests: 100,
		},
		domain.Policy{
			Category:       domain.CategoryAuthProgressive,
			Kind:           domain.ProgressiveDelay,
			Window:         time.Minute,
			DelayAfter:     0,
			DelayIncrement: 500 * time.Millisecond,
			MaxDelay:       500 * time.Millisecond,
		},
	)
	inflight := application.NewInFlight(infra.NewSlotPool(1), 100*time.Millisecond)
	stats := &delayStats{delayed: make(chan struct{})}

	authMw, err := Middleware(Options{
		Controller: ctrl,
		Categories: []domain.Category{domain.CategoryGeneral, domain.CategoryAuthProgressive},
		Stats:      stats,
		InFlight:   inflight,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	generalMw, err := Middleware(Options{
		Controller: ctrl,
		Categories: []domain.Category{domain.CategoryGeneral},
		InFlight:   inflight,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	var calls atomic.Int32
	auth := authMw(okHandler(&calls))
	general := generalMw(okHandler(&calls))

	authDone := make(chan int, 1)
	go func() {
		authDone <- do(auth, "10.0.0.1:1").Code
	}()

	select {
	case <-stats.delayed:
	case <-time.After(2 * time.Second):
		t.Fatal("auth request was never delayed")
	}

	r := httptest.NewRequest(http.MethodGet, "http://example/home", nil)
	r.RemoteAddr = "10.0.0.2:1"
	w := httptest.NewRecorder()
	general.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code, "another client must not wait behind a delayed one")
	require.EqualValues(t, 1, calls.Load())

	select {
	case code := <-authDone:
		require.Equal(t, http.StatusOK, code)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed auth request never finished")
	}
	require.EqualValues(t, 2, calls.Load())

	inUse, _ := inflight.Stats()
	require.Zero(t, inUse)
}

func TestMiddleware_BusyWhenNoSlot(t *testing.T) {
	inflight := application.NewInFlight(infra.NewSlotPool(1), 25*time.Millisecond)
	mw, err := Middleware(Options{
		Controller: newTestController(t),
		Categories: []domain.Category{domain.CategoryGeneral},
		InFlight:   inflight,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	var startedOnce sync.Once
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedOnce.Do(func() { close(started) })
		<-release
		w.WriteHeader(http.StatusOK)
	}))

	firstDone := make(chan int, 1)
	go func() { firstDone <- do(h, "10.0.0.1:1").Code }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("first request never reached the handler")
	}

	w := do(h, "10.0.0.2:1")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "Server busy, please try again later", body["error"])

	close(release)
	require.Equal(t, http.StatusOK, <-firstDone)

	// slot is free again; release stays closed so the handler returns at once
	require.Equal(t, http.StatusOK, do(h, "10.0.0.3:1").Code)
}

func TestCeilSeconds(t *testing.T) {
	require.Equal(t, 0, ceilSeconds(-time.Second))
	require.Equal(t, 0, ceilSeconds(0))
	require.Equal(t, 1, ceilSeconds(time.Millisecond))
	require.Equal(t, 3, ceilSeconds(2500*time.Millisecond))
	require.Equal(t, 3600, ceilSeconds(3_599_997*time.Millisecond))
}
