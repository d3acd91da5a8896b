package muxlb

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.brendoncarroll.net/stdctx/logctx"
)

// StreamBalancer spreads connections from frontends across a set of
// StreamEndpoint backends, preferring the backend with the fewest active
// streams.
type StreamBalancer struct {
	mu       sync.RWMutex
	backends map[string]*streamBalEntry
}

func NewStreamBalancer() *StreamBalancer {
	return &StreamBalancer{}
}

func (b *StreamBalancer) AddBackend(k string, be StreamEndpoint) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.backends == nil {
		b.backends = make(map[string]*streamBalEntry)
	}
	if _, exists := b.backends[k]; exists {
		return errors.Errorf("backend %q already exists", k)
	}
	b.backends[k] = &streamBalEntry{backend: be}
	return nil
}

func (b *StreamBalancer) RemoveBackend(k string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.backends[k]; !exists {
		return errors.Errorf("backend %q does not exist", k)
	}
	delete(b.backends, k)
	return nil
}

// ServeFrontend serves connections from frontend, until an error occurs
// (including context cancelled).
func (b *StreamBalancer) ServeFrontend(ctx context.Context, frontend StreamEndpoint) error {
	wg := sync.WaitGroup{}
	defer wg.Wait()
	for {
		fconn, err := frontend.Open(ctx)
		if err != nil {
			return err
		}
		logctx.Infof(ctx, "muxlb: accepted connection from %v", fconn.RemoteAddr())

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer logctx.Infof(ctx, "muxlb: closed connection from %v", fconn.RemoteAddr())
			if err := b.serveFrontendConn(ctx, fconn); err != nil {
				logctx.Errorln(ctx, err)
			}
		}()
	}
}

func (b *StreamBalancer) serveFrontendConn(ctx context.Context, fconn net.Conn) error {
	defer fconn.Close()
	ent, err := b.pickBackend()
	if err != nil {
		return err
	}
	ent.active.Add(1)
	defer ent.active.Add(-1)
	bconn, err := ent.backend.Open(ctx)
	if err != nil {
		return errors.Wrap(err, "connecting to backend")
	}
	return PlumbRWC(fconn, bconn)
}

// GetActiveCounts reports the number of active streams per backend.
func (b *StreamBalancer) GetActiveCounts() map[string]int64 {
	ret := make(map[string]int64)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for k, be := range b.backends {
		ret[k] = be.active.Load()
	}
	return ret
}

func (b *StreamBalancer) pickBackend() (*streamBalEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.backends) == 0 {
		return nil, errors.New("no backends available")
	}
	var best *streamBalEntry
	var minActive int64
	for _, e := range b.backends {
		if active := e.active.Load(); best == nil || active < minActive {
			best = e
			minActive = active
		}
	}
	return best, nil
}

type streamBalEntry struct {
	active  atomic.Int64
	backend StreamEndpoint
}
