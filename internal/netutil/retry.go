package netutil

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

type retryConfig struct {
	predicate  func(error) bool
	pulseTrain PulseTrain
}

type RetryOption = func(rc *retryConfig)

func WithPredicate(p func(error) bool) RetryOption {
	return func(rc *retryConfig) {
		rc.predicate = p
	}
}

func WithPulseTrain(pt PulseTrain) RetryOption {
	return func(rc *retryConfig) {
		rc.pulseTrain = pt
	}
}

// Retry calls fn until it returns nil.
// - To only retry on certain errors use WithPredicate to define a predicate.  True means retry.
// - To set the time between retries use WithPulseTrain and specify a pulse train.
func Retry(ctx context.Context, fn func() error, opts ...RetryOption) error {
	rc := retryConfig{
		predicate:  func(error) bool { return true },
		pulseTrain: NewLinear(clock.New(), time.Second),
	}
	for _, opt := range opts {
		opt(&rc)
	}
	defer rc.pulseTrain.Stop()

	for {
		if err := fn(); err == nil || !rc.predicate(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rc.pulseTrain.Out():
		}
	}
}

// PulseTrain is a series of pulses over time.
// callers wait for the next pulse using <-Out()
type PulseTrain interface {
	Reset()
	Stop()
	Out() <-chan time.Time
}

// NewLinear creates a PulseTrain with pulses evenly spaced.
func NewLinear(clk clock.Clock, period time.Duration) PulseTrain {
	return &linearPulseTrain{
		period: period,
		ticker: clk.Ticker(period),
	}
}

type linearPulseTrain struct {
	period time.Duration
	ticker *clock.Ticker
}

func (lpt *linearPulseTrain) Stop() {
	lpt.ticker.Stop()
}

func (lpt *linearPulseTrain) Reset() {
	lpt.ticker.Reset(lpt.period)
}

func (lpt *linearPulseTrain) Out() <-chan time.Time {
	return lpt.ticker.C
}

// NewFixedDelay creates a PulseTrain where each pulse arrives a fixed delay
// after the previous wait began, rather than on an absolute cadence.
// Out arms the delay, so time spent between waits does not count against it.
func NewFixedDelay(clk clock.Clock, delay time.Duration) PulseTrain {
	return &fixedDelayPulseTrain{clk: clk, delay: delay}
}

type fixedDelayPulseTrain struct {
	clk   clock.Clock
	delay time.Duration
	timer *clock.Timer
}

func (pt *fixedDelayPulseTrain) Out() <-chan time.Time {
	if pt.timer == nil {
		pt.timer = pt.clk.Timer(pt.delay)
	} else {
		pt.timer.Reset(pt.delay)
	}
	return pt.timer.C
}

func (pt *fixedDelayPulseTrain) Reset() {
	if pt.timer != nil {
		pt.timer.Reset(pt.delay)
	}
}

func (pt *fixedDelayPulseTrain) Stop() {
	if pt.timer != nil {
		pt.timer.Stop()
	}
}
