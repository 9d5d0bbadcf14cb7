// Package detached runs best-effort side effects that must never block or
// fail the request that spawned them.
package detached

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PabloGalante/katana-portal/internal/observability"
)

const defaultTimeout = 10 * time.Second

// Runner spawns detached tasks. Failures and panics are logged, never
// returned. The zero value is ready to use.
type Runner struct {
	Timeout time.Duration
	wg      sync.WaitGroup
}

func NewRunner(timeout time.Duration) *Runner {
	return &Runner{Timeout: timeout}
}

// Go runs fn in its own goroutine. The task keeps ctx's values (request id)
// but not its cancellation, so a closed browser tab does not abort it.
func (r *Runner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	log := observability.LoggerFromContext(ctx).With("task", name)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				log.Error("detached task panicked", "panic", fmt.Sprint(p))
			}
		}()

		start := time.Now()
		if err := fn(taskCtx); err != nil {
			log.Warn("detached task failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
			return
		}
		log.Debug("detached task done", "elapsed_ms", time.Since(start).Milliseconds())
	}()
}

// Wait blocks until every spawned task has finished. Only shutdown and tests
// call it.
func (r *Runner) Wait() {
	r.wg.Wait()
}
