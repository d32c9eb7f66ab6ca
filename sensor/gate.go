package sensor

import (
	"context"
	"sync"
)

// Gate gives exactly one logical owner at a time the right to click.
// The same owner may re-enter while it holds the gate.
type Gate struct {
	port ActuationPort
	slot chan struct{}

	mu    sync.Mutex
	owner string
	depth int
}

func NewGate(port ActuationPort) *Gate {
	return &Gate{port: port, slot: make(chan struct{}, 1)}
}

// Acquire blocks until owner holds the gate or ctx is done. The returned
// release func must be called exactly once.
func (g *Gate) Acquire(ctx context.Context, owner string) (func(), error) {
	g.mu.Lock()
	if g.depth > 0 && g.owner == owner {
		g.depth++
		g.mu.Unlock()
		return g.releaseOnce(), nil
	}
	g.mu.Unlock()

	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	g.mu.Lock()
	g.owner = owner
	g.depth = 1
	g.mu.Unlock()
	return g.releaseOnce(), nil
}

func (g *Gate) releaseOnce() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			g.depth--
			if g.depth == 0 {
				g.owner = ""
				<-g.slot
			}
		})
	}
}

// Owner reports the current holder, "" when free.
func (g *Gate) Owner() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner
}

// Port returns an ActuationPort that holds the gate as owner for the
// duration of each click.
func (g *Gate) Port(owner string) ActuationPort {
	return gatedPort{gate: g, owner: owner}
}

type gatedPort struct {
	gate  *Gate
	owner string
}

func (p gatedPort) Click(ctx context.Context, pt Point) (bool, error) {
	release, err := p.gate.Acquire(ctx, p.owner)
	if err != nil {
		return false, err
	}
	defer release()
	return p.gate.port.Click(ctx, pt)
}
