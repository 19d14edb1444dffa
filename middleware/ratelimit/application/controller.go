package application

import (
	"time"

	"github.com/pkg/errors"

	"patient-portal/middleware/ratelimit/domain"
)

var ErrEmptyKey = errors.New("client key is empty")

// Controller decide, por categoria, se a requisição passa, espera ou é
// rejeitada. Só guarda a tabela de políticas; a contagem das janelas fica
// num domain.WindowStore.
type Controller struct {
	store    domain.WindowStore
	policies map[domain.Category]domain.Policy
}

func NewController(store domain.WindowStore, policies ...domain.Policy) (*Controller, error) {
	if store == nil {
		return nil, errors.WithMessage(domain.ErrConfiguration, "window store is required")
	}
	table := make(map[domain.Category]domain.Policy, len(policies))
	for _, p := range policies {
		err := p.Validate()
		if err != nil {
			return nil, err
		}
		if _, dup := table[p.Category]; dup {
			return nil, errors.WithMessagef(domain.ErrConfiguration, "duplicate policy for %s", p.Category)
		}
		table[p.Category] = p
	}
	return &Controller{store: store, policies: table}, nil
}

// Supports devolve erro de configuração se alguma categoria não tem política.
// Deve ser chamado ao ligar categorias a uma rota, nunca por requisição.
func (c *Controller) Supports(categories ...domain.Category) error {
	if len(categories) == 0 {
		return errors.WithMessage(domain.ErrConfiguration, "no categories bound")
	}
	for _, cat := range categories {
		if _, ok := c.policies[cat]; !ok {
			return errors.WithMessagef(domain.ErrConfiguration, "no policy for category %q", cat)
		}
	}
	return nil
}

func (c *Controller) Policy(category domain.Category) (domain.Policy, bool) {
	p, ok := c.policies[category]
	return p, ok
}

// Evaluate conta a requisição em uma categoria e devolve a decisão.
func (c *Controller) Evaluate(key domain.Key, category domain.Category, now time.Time) (domain.Decision, error) {
	if key == "" {
		return domain.Decision{}, ErrEmptyKey
	}
	p, ok := c.policies[category]
	if !ok {
		return domain.Decision{}, errors.WithMessagef(domain.ErrConfiguration, "no policy for category %q", category)
	}

	st := c.store.Hit(key, category, p.Window, now)
	if p.Kind == domain.ProgressiveDelay {
		return progressive(p, st), nil
	}
	return fixedWindow(p, st, now), nil
}

// EvaluateAll avalia as categorias na ordem. A primeira rejeição interrompe a
// avaliação e as contagens já feitas nas anteriores permanecem. Sem rejeição,
// o veredito carrega o maior atraso pedido.
func (c *Controller) EvaluateAll(key domain.Key, categories []domain.Category, now time.Time) (domain.Verdict, error) {
	v := domain.Verdict{Decisions: make([]domain.Decision, 0, len(categories))}
	for _, cat := range categories {
		d, err := c.Evaluate(key, cat, now)
		if err != nil {
			return domain.Verdict{}, errors.WithMessagef(err, "evaluate %s", cat)
		}
		v.Decisions = append(v.Decisions, d)
		if d.Rejected() {
			v.Delay = 0
			return v, nil
		}
		if d.Delay > v.Delay {
			v.Delay = d.Delay
		}
	}
	return v, nil
}

func fixedWindow(p domain.Policy, st domain.WindowState, now time.Time) domain.Decision {
	resetAt := st.Start.Add(p.Window)
	d := domain.Decision{
		Category:  p.Category,
		Kind:      p.Kind,
		Outcome:   domain.OutcomeAllow,
		Count:     st.Count,
		Limit:     p.MaxRequests,
		Remaining: max(p.MaxRequests-st.Count, 0),
		ResetAt:   resetAt,
		Window:    p.Window,
		Message:   p.Message,
	}
	if st.Count > p.MaxRequests {
		d.Outcome = domain.OutcomeReject
		d.RetryAfter = resetAt.Sub(now)
	}
	return d
}

func progressive(p domain.Policy, st domain.WindowState) domain.Decision {
	d := domain.Decision{
		Category:  p.Category,
		Kind:      p.Kind,
		Outcome:   domain.OutcomeAllow,
		Count:     st.Count,
		Limit:     p.DelayAfter,
		Remaining: max(p.DelayAfter-st.Count, 0),
		ResetAt:   st.Start.Add(p.Window),
		Window:    p.Window,
		Message:   p.Message,
	}
	if st.Count <= p.DelayAfter {
		return d
	}
	over := time.Duration(st.Count - p.DelayAfter)
	delay := p.MaxDelay
	// limita antes de multiplicar para contagens enormes não estourarem
	if over <= p.MaxDelay/p.DelayIncrement {
		delay = min(over*p.DelayIncrement, p.MaxDelay)
	}
	d.Outcome = domain.OutcomeDelay
	d.Delay = delay
	return d
}
