package domain

import "context"

// SlotPool limita quantas requisições admitidas executam handlers ao mesmo tempo.
//
// Acquire bloqueia até liberar uma vaga ou até o ctx encerrar. Com ok=true o
// release devolvido libera a vaga; chamá-lo mais de uma vez não tem efeito.
// A vaga só é pedida depois da decisão de admissão e de qualquer atraso
// progressivo, então um cliente em espera não ocupa vaga.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	// InUse é o número de vagas ocupadas no momento.
	InUse() int
	// Cap é a capacidade total.
	Cap() int
}
