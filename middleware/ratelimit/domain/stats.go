package domain

import (
	"context"
	"time"
)

// StatsEvent representa uma decisão de admissão de uma categoria.
//
// Method/Path são strings simples para o evento ficar agnóstico de HTTP.
// Cuidado com cardinalidade quando um backend indexa séries por Key ou Path.
type StatsEvent struct {
	Key      Key
	Category Category
	Outcome  Outcome
	Delay    time.Duration

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência das estatísticas de admissão.
// O middleware trata erro como best-effort (não derruba a requisição).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
