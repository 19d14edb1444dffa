package application

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"patient-portal/middleware/ratelimit/domain"
)

// ErrSaturated indica que nenhuma vaga liberou dentro do prazo de espera.
var ErrSaturated = errors.New("in-flight limit reached")

// InFlight controla a entrada de requisições já admitidas nos handlers.
// Um *InFlight nil deixa tudo passar.
type InFlight struct {
	pool    domain.SlotPool
	timeout time.Duration
}

// NewInFlight cria o guard sobre pool. Com timeout <= 0 a espera dura até o
// ctx da requisição encerrar.
func NewInFlight(pool domain.SlotPool, timeout time.Duration) *InFlight {
	return &InFlight{pool: pool, timeout: timeout}
}

// Enter ocupa uma vaga. O release devolvido deve ser chamado ao fim do handler.
// Retorna ErrSaturated quando o prazo vence e ctx.Err() quando o cliente desiste antes.
func (g *InFlight) Enter(ctx context.Context) (func(), error) {
	if g == nil || g.pool == nil {
		return func() {}, nil
	}

	waitCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	release, ok := g.pool.Acquire(waitCtx)
	if ok {
		return release, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, errors.WithMessagef(ErrSaturated, "%d/%d slots busy after %s", g.pool.InUse(), g.pool.Cap(), g.timeout)
}

// Stats devolve a ocupação atual do pool.
func (g *InFlight) Stats() (inUse, capacity int) {
	if g == nil || g.pool == nil {
		return 0, 0
	}
	return g.pool.InUse(), g.pool.Cap()
}
