package domain

import (
	"time"

	"github.com/pkg/errors"
)

// Key identifica um cliente. A comparação é por igualdade exata de string.
type Key string

// Category nomeia a política aplicada a um grupo de rotas.
type Category string

const (
	CategoryGeneral           Category = "general"
	CategoryAuth              Category = "auth"
	CategoryAuthProgressive   Category = "auth-progressive"
	CategoryAppointmentCreate Category = "appointment-create"
	CategoryPostCreate        Category = "post-create"
)

var ErrConfiguration = errors.New("admission configuration error")

func ParseCategory(s string) (Category, error) {
	c := Category(s)
	switch c {
	case CategoryGeneral, CategoryAuth, CategoryAuthProgressive, CategoryAppointmentCreate, CategoryPostCreate:
		return c, nil
	}
	return "", errors.WithMessagef(ErrConfiguration, "unknown category %q", s)
}

type PolicyKind int

const (
	FixedWindow PolicyKind = iota
	ProgressiveDelay
)

func (k PolicyKind) String() string {
	switch k {
	case FixedWindow:
		return "fixed-window"
	case ProgressiveDelay:
		return "progressive-delay"
	}
	return "unknown"
}

// Policy é a configuração imutável de uma categoria.
//
// MaxRequests vale para políticas FixedWindow; DelayAfter, DelayIncrement e
// MaxDelay valem para ProgressiveDelay. Window vale para as duas.
type Policy struct {
	Category Category
	Kind     PolicyKind
	Window   time.Duration

	MaxRequests int

	DelayAfter     int
	DelayIncrement time.Duration
	MaxDelay       time.Duration

	// Message é o texto do corpo da resposta de rejeição.
	Message string
}

func (p Policy) Validate() error {
	if _, err := ParseCategory(string(p.Category)); err != nil {
		return err
	}
	if p.Window <= 0 {
		return errors.WithMessagef(ErrConfiguration, "%s: window must be > 0", p.Category)
	}
	switch p.Kind {
	case FixedWindow:
		if p.MaxRequests <= 0 {
			return errors.WithMessagef(ErrConfiguration, "%s: max requests must be > 0", p.Category)
		}
	case ProgressiveDelay:
		if p.DelayAfter < 0 {
			return errors.WithMessagef(ErrConfiguration, "%s: delay after must be >= 0", p.Category)
		}
		if p.DelayIncrement <= 0 {
			return errors.WithMessagef(ErrConfiguration, "%s: delay increment must be > 0", p.Category)
		}
		if p.MaxDelay < p.DelayIncrement {
			return errors.WithMessagef(ErrConfiguration, "%s: max delay must be >= delay increment", p.Category)
		}
	default:
		return errors.WithMessagef(ErrConfiguration, "%s: unknown policy kind %d", p.Category, p.Kind)
	}
	return nil
}

// DefaultPolicies devolve o conjunto padrão, uma política por categoria.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			Category:    CategoryGeneral,
			Kind:        FixedWindow,
			Window:      15 * time.Minute,
			MaxRequests: 100,
			Message:     "Too many requests from this IP, please try again later",
		},
		{
			Category:    CategoryAuth,
			Kind:        FixedWindow,
			Window:      15 * time.Minute,
			MaxRequests: 5,
			Message:     "Too many authentication attempts, please try again later",
		},
		{
			Category:       CategoryAuthProgressive,
			Kind:           ProgressiveDelay,
			Window:         15 * time.Minute,
			DelayAfter:     2,
			DelayIncrement: 500 * time.Millisecond,
			MaxDelay:       20 * time.Second,
			Message:        "Too many authentication requests, please try again later",
		},
		{
			Category:    CategoryAppointmentCreate,
			Kind:        FixedWindow,
			Window:      time.Hour,
			MaxRequests: 3,
			Message:     "Too many appointment requests, please try again later",
		},
		{
			Category:    CategoryPostCreate,
			Kind:        FixedWindow,
			Window:      time.Hour,
			MaxRequests: 5,
			Message:     "Too many posts created, please try again later",
		},
	}
}

// WindowState é a contagem de um par (Key, Category).
type WindowState struct {
	Start    time.Time
	Count    int
	LastSeen time.Time
}

// WindowStore é dono de todos os WindowState.
//
// Hit deve ser um passo atômico por (key, category): aplica a regra de reset
// (now - Start >= window), incrementa Count e devolve o estado resultante.
type WindowStore interface {
	Hit(key Key, category Category, window time.Duration, now time.Time) WindowState
}
