package service

import (
	"context"
	"sync"

	"github.com/kursadbilgin/mandate-engine/internal/domain"
)

// LocalSessionGuard tracks in-flight mandate ids inside one process.
type LocalSessionGuard struct {
	mu       sync.Mutex
	inFlight map[domain.MandateID]struct{}
}

func NewLocalSessionGuard() *LocalSessionGuard {
	return &LocalSessionGuard{inFlight: make(map[domain.MandateID]struct{})}
}

func (g *LocalSessionGuard) Acquire(_ context.Context, mandateID domain.MandateID) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inFlight[mandateID]; busy {
		return nil, domain.ErrResolutionInFlight
	}
	g.inFlight[mandateID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inFlight, mandateID)
			g.mu.Unlock()
		})
	}, nil
}
