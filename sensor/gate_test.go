package sensor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPort struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	clicks   atomic.Int32
}

func (p *countingPort) Click(ctx context.Context, pt Point) (bool, error) {
	n := p.inFlight.Add(1)
	for {
		m := p.maxSeen.Load()
		if n <= m || p.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	p.inFlight.Add(-1)
	p.clicks.Add(1)
	return true, nil
}

func TestGateSerialisesOwners(t *testing.T) {
	port := &countingPort{}
	gate := NewGate(port)

	var wg sync.WaitGroup
	for _, owner := range []string{"pipeline", "refresher"} {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			p := gate.Port(owner)
			for i := 0; i < 20; i++ {
				ok, err := p.Click(context.Background(), Point{X: 1, Y: 2})
				assert.NoError(t, err)
				assert.True(t, ok)
			}
		}(owner)
	}
	wg.Wait()

	assert.EqualValues(t, 40, port.clicks.Load())
	assert.EqualValues(t, 1, port.maxSeen.Load())
	assert.Equal(t, "", gate.Owner())
}

func TestGateReentrantForSameOwner(t *testing.T) {
	gate := NewGate(&countingPort{})
	release, err := gate.Acquire(context.Background(), "pipeline")
	require.NoError(t, err)

	ok, err := gate.Port("pipeline").Click(context.Background(), Point{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "pipeline", gate.Owner())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = gate.Port("other").Click(ctx, Point{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	assert.Equal(t, "", gate.Owner())
}

func TestGatePortWaitsForHolder(t *testing.T) {
	port := &countingPort{}
	gate := NewGate(port)
	release, err := gate.Acquire(context.Background(), "pipeline")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := gate.Port("refresher").Click(context.Background(), Point{})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("click went through while another owner held the gate")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Zero(t, port.clicks.Load())

	release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("click never resumed after release")
	}
	assert.EqualValues(t, 1, port.clicks.Load())
}
