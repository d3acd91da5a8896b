package netutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.brendoncarroll.net/stdctx/logctx"
	"golang.org/x/sync/errgroup"
)

const restartDelay = time.Second

type ServiceGroup struct {
	Background context.Context
	Clock      clock.Clock

	setupOnce sync.Once
	ctx       context.Context
	cf        context.CancelFunc

	eg errgroup.Group
}

// Go runs fn in another go routine.
// When the ServiceGroup is stopped the context passed to fn will be cancelled.
// If fn ever returns an error other than ctx.Err(), it will be logged.
// The service will be restarted, unless the group has been stopped.
func (sg *ServiceGroup) Go(fn func(context.Context) error) {
	sg.setupOnce.Do(func() {
		bgCtx := sg.Background
		if bgCtx == nil {
			bgCtx = context.Background()
		}
		if sg.Clock == nil {
			sg.Clock = clock.New()
		}
		sg.ctx, sg.cf = context.WithCancel(bgCtx)
	})
	sg.eg.Go(func() error {
		ctx := sg.ctx
		for {
			err := fn(ctx)
			if errors.Is(err, ctx.Err()) {
				return nil
			}
			if isContextDone(ctx) {
				logctx.Errorf(ctx, "while stopping service group: %v", err)
				return nil
			}
			logctx.Errorf(ctx, "service crashed with %v. restarting...", err)
			select {
			case <-ctx.Done():
				return nil
			case <-sg.Clock.After(restartDelay):
			}
		}
	})
}

func (sg *ServiceGroup) Stop() error {
	sg.setupOnce.Do(func() {
		sg.ctx, sg.cf = context.WithCancel(context.Background())
	})
	sg.cf()
	return sg.eg.Wait()
}

func isContextDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
