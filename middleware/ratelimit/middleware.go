package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"patient-portal/middleware/ratelimit/application"
	"patient-portal/middleware/ratelimit/domain"
)

type KeyFunc func(r *http.Request) string

type Options struct {
	Controller *application.Controller
	// Categories são avaliadas nesta ordem; a primeira rejeição vence.
	Categories []domain.Category

	Stats               domain.StatsStore
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	RejectStatus        int
	AddRateLimitHeaders bool
	// InFlight limita requisições admitidas executando handlers ao mesmo tempo.
	// A vaga é pedida depois do atraso progressivo; cliente em espera não ocupa vaga.
	InFlight *application.InFlight

	Logger *zap.Logger
	// RejectLogInterval é o intervalo mínimo entre dois logs de rejeição.
	RejectLogInterval time.Duration
	Now               func() time.Time
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// primeiro hop do X-Forwarded-For é o cliente original
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Middleware monta o middleware de admissão de um grupo de rotas.
// As categorias são conferidas no controller aqui, então um erro de digitação
// falha na subida e nunca por requisição.
func Middleware(opts Options) (func(next http.Handler) http.Handler, error) {
	if opts.Controller == nil {
		return nil, errors.WithMessage(domain.ErrConfiguration, "controller is required")
	}
	err := opts.Controller.Supports(opts.Categories...)
	if err != nil {
		return nil, err
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RejectLogInterval == 0 {
		opts.RejectLogInterval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	categories := append([]domain.Category(nil), opts.Categories...)
	rejectLog := &rate.Sometimes{First: 1, Interval: opts.RejectLogInterval}
	log := opts.Logger.With(zap.Any("categories", categories))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := domain.Key(opts.KeyFn(r))
			now := opts.Now()

			v, err := opts.Controller.EvaluateAll(key, categories, now)
			if err != nil {
				log.Error("admission failed", zap.String("key", string(key)), zap.Error(err))
				writeJSONError(w, http.StatusInternalServerError, "Server error")
				return
			}

			if opts.Stats != nil {
				for _, d := range v.Decisions {
					err := opts.Stats.Record(r.Context(), domain.StatsEvent{
						Key:      key,
						Category: d.Category,
						Outcome:  d.Outcome,
						Delay:    d.Delay,
						Method:   r.Method,
						Path:     r.URL.Path,
						At:       now,
					})
					if err != nil {
						log.Debug("record admission stats", zap.Error(err))
					}
				}
			}

			if opts.AddRateLimitHeaders {
				if q, ok := v.Quota(); ok {
					setQuotaHeaders(w.Header(), q, now)
				}
			}

			if rej, ok := v.Rejection(); ok {
				rejectLog.Do(func() {
					log.Info("request rejected",
						zap.String("key", string(key)),
						zap.String("category", string(rej.Category)),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Duration("retry_after", rej.RetryAfter),
					)
				})
				w.Header().Set("Retry-After", formatInt(ceilSeconds(rej.RetryAfter)))
				writeJSONError(w, opts.RejectStatus, rej.Message)
				return
			}

			if v.Delay > 0 {
				t := time.NewTimer(v.Delay)
				select {
				case <-r.Context().Done():
					t.Stop()
					return
				case <-t.C:
				}
			}

			release, err := opts.InFlight.Enter(r.Context())
			if err != nil {
				if r.Context().Err() != nil {
					return
				}
				log.Warn("in-flight limit reached",
					zap.String("key", string(key)),
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				writeJSONError(w, http.StatusServiceUnavailable, "Server busy, please try again later")
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}, nil
}

func setQuotaHeaders(h http.Header, q domain.Decision, now time.Time) {
	h.Set("RateLimit-Limit", formatInt(q.Limit))
	h.Set("RateLimit-Remaining", formatInt(q.Remaining))
	h.Set("RateLimit-Reset", formatInt(ceilSeconds(q.ResetAt.Sub(now))))
	h.Set("RateLimit-Policy", formatInt(q.Limit)+";w="+formatInt(ceilSeconds(q.Window)))
}
