package main

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// tasks runs long-lived goroutines under a shared cancel so shutdown can
// wait for every writer before the stores they feed are closed.
type tasks struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logrus.Entry
}

func newTasks(parent context.Context, log *logrus.Entry) *tasks {
	ctx, cancel := context.WithCancel(parent)
	return &tasks{ctx: ctx, cancel: cancel, log: log}
}

func (t *tasks) Go(fn func(context.Context) error) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := fn(t.ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.log.Errorf("❌ background task stopped: %v", err)
		}
	}()
}

// Stop cancels every task and blocks until all of them have returned.
func (t *tasks) Stop() {
	t.cancel()
	t.wg.Wait()
}
