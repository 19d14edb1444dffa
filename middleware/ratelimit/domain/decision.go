package domain

import "time"

type Outcome int

const (
	OutcomeAllow Outcome = iota
	OutcomeDelay
	OutcomeReject
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllow:
		return "allow"
	case OutcomeDelay:
		return "delay"
	case OutcomeReject:
		return "reject"
	}
	return "unknown"
}

// Decision é o resultado da avaliação de uma categoria.
type Decision struct {
	Category Category
	Kind     PolicyKind
	Outcome  Outcome

	// RetryAfter só vale em OutcomeReject: tempo até a janela reiniciar.
	RetryAfter time.Duration
	// Delay só vale em OutcomeDelay.
	Delay time.Duration

	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
	Window    time.Duration

	Message string
}

func (d Decision) Rejected() bool { return d.Outcome == OutcomeReject }

// Verdict é o resultado combinado de uma lista ordenada de categorias.
//
// Decisions guarda cada categoria avaliada, na ordem. Quando uma categoria
// rejeita, a avaliação para e a decisão de rejeição é o último elemento.
type Verdict struct {
	Decisions []Decision
	Delay     time.Duration
}

func (v Verdict) Outcome() Outcome {
	if _, ok := v.Rejection(); ok {
		return OutcomeReject
	}
	if v.Delay > 0 {
		return OutcomeDelay
	}
	return OutcomeAllow
}

func (v Verdict) Rejection() (Decision, bool) {
	if len(v.Decisions) == 0 {
		return Decision{}, false
	}
	last := v.Decisions[len(v.Decisions)-1]
	return last, last.Rejected()
}

// Quota devolve a decisão que alimenta os headers RateLimit-*: a rejeição,
// quando existe, senão a decisão de janela fixa com menor cota restante.
func (v Verdict) Quota() (Decision, bool) {
	if d, ok := v.Rejection(); ok {
		return d, true
	}
	var (
		best  Decision
		found bool
	)
	for _, d := range v.Decisions {
		if d.Kind != FixedWindow {
			continue
		}
		if !found || d.Remaining < best.Remaining {
			best = d
			found = true
		}
	}
	return best, found
}
