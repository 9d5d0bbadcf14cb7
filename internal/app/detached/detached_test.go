package detached_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/PabloGalante/katana-portal/internal/app/detached"
	"github.com/PabloGalante/katana-portal/internal/observability"
)

func TestMain(m *testing.M) {
	observability.SetOutput(io.Discard)
	goleak.VerifyTestMain(m)
}

func TestRunner_SurvivesParentCancel(t *testing.T) {
	r := detached.NewRunner(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	started := make(chan struct{})

	r.Go(ctx, "persist", func(taskCtx context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		if taskCtx.Err() == nil {
			ran.Store(true)
		}
		return nil
	})

	<-started
	cancel()
	r.Wait()

	assert.True(t, ran.Load(), "task context must not inherit parent cancellation")
}

func TestRunner_SwallowsErrorsAndPanics(t *testing.T) {
	var r detached.Runner

	r.Go(context.Background(), "fails", func(context.Context) error {
		return errors.New("boom")
	})
	r.Go(context.Background(), "panics", func(context.Context) error {
		panic("kaboom")
	})

	r.Wait()
}

func TestRunner_AppliesTimeout(t *testing.T) {
	r := detached.NewRunner(10 * time.Millisecond)

	var deadlineHit atomic.Bool
	r.Go(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		deadlineHit.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return ctx.Err()
	})
	r.Wait()

	assert.True(t, deadlineHit.Load())
}
