package infra

import (
	"context"

	"github.com/pkg/errors"

	"patient-portal/middleware/ratelimit/domain"
)

// MultiStats repassa o evento para vários stores. Todos são chamados mesmo
// quando um anterior falha; o primeiro erro é devolvido.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		err := s.Record(ctx, ev)
		if err != nil && first == nil {
			first = errors.WithMessagef(err, "record %T", s)
		}
	}
	return first
}
