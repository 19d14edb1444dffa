package infra

import (
	"context"
	"sync"

	"patient-portal/middleware/ratelimit/domain"
)

type slotPool struct {
	slots chan struct{}
}

// NewSlotPool cria um semáforo de vagas em channel com capacidade size.
func NewSlotPool(size int) domain.SlotPool {
	return &slotPool{slots: make(chan struct{}, size)}
}

func (p *slotPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { <-p.slots }) }, true
}

func (p *slotPool) InUse() int { return len(p.slots) }

func (p *slotPool) Cap() int { return cap(p.slots) }
