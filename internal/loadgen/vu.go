// Package loadgen runs virtual users against a single HTTP target.
package loadgen

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/pummel/internal/loadgen/check"
	"github.com/wesleyorama2/pummel/internal/loadgen/invoker"
	"github.com/wesleyorama2/pummel/internal/loadgen/metrics"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle is the state between spawn and the first iteration.
	VUStateIdle VUState = iota
	// VUStateRunning indicates a request is in flight.
	VUStateRunning
	// VUStateSleeping indicates the VU is pacing between iterations.
	VUStateSleeping
	// VUStateStopped is terminal.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateSleeping:
		return "sleeping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PacingType identifies the type of pacing.
type PacingType string

const (
	PacingNone     PacingType = "none"
	PacingConstant PacingType = "constant"
	PacingRandom   PacingType = "random"
)

// Pacing controls the delay after each iteration.
type Pacing struct {
	Type     PacingType
	Duration time.Duration
	Min      time.Duration
	Max      time.Duration
}

// next returns the delay before the following iteration.
func (p Pacing) next(rng *rand.Rand) time.Duration {
	switch p.Type {
	case PacingConstant:
		return p.Duration
	case PacingRandom:
		diff := p.Max - p.Min
		if diff > 0 {
			return p.Min + time.Duration(rng.Int63n(int64(diff)))
		}
		return p.Min
	default:
		return 0
	}
}

// Scenario defines what every VU executes on each iteration.
type Scenario struct {
	// Request is the target descriptor; its Body is ignored in favor of Body.
	Request invoker.Request

	// Body renders the request body per iteration. Nil sends no body.
	Body *invoker.BodyTemplate

	// Checks are evaluated against every response.
	Checks []check.Check

	// Pacing applies after each iteration.
	Pacing Pacing
}

// VirtualUser is one simulated client looping over the scenario.
//
// A VU owns its pacing state and random source; the only state it shares
// with other VUs is the aggregator, the metrics engine and the rate limiter,
// all of which are safe for concurrent use.
type VirtualUser struct {
	// Unique identifier for this VU
	ID int

	scenario   *Scenario
	invoker    *invoker.Invoker
	aggregator *check.Aggregator
	metrics    *metrics.Engine
	limiter    *rate.Limiter
	logger     *logrus.Entry

	rng      *rand.Rand
	nextFire time.Time

	state     atomic.Int32
	iteration atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of completed iterations.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// Done is closed once the VU has reached VUStateStopped.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// Run loops until runCtx is done or RequestStop is called. runCtx is the soft
// deadline: no iteration starts after it. reqCtx is the hard deadline handed
// to in-flight requests.
//
// Request failures never end the loop.
func (vu *VirtualUser) Run(runCtx, reqCtx context.Context) {
	defer vu.markStopped()

	loopCtx, cancel := context.WithCancel(runCtx)
	defer cancel()
	go func() {
		select {
		case <-vu.stopCh:
			cancel()
		case <-loopCtx.Done():
		}
	}()

	for loopCtx.Err() == nil {
		if vu.limiter != nil {
			if err := vu.limiter.Wait(loopCtx); err != nil {
				return
			}
		}

		vu.RunIteration(reqCtx)

		wait := vu.scenario.Pacing.next(vu.rng)
		vu.nextFire = time.Now().Add(wait)
		if wait <= 0 {
			continue
		}

		vu.state.Store(int32(VUStateSleeping))
		timer := time.NewTimer(time.Until(vu.nextFire))
		select {
		case <-loopCtx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunIteration issues one request and reports its outcome to the aggregator
// and the metrics engine. The outcome is also returned for callers that
// drive a VU directly.
func (vu *VirtualUser) RunIteration(ctx context.Context) (*invoker.Result, error) {
	vu.state.Store(int32(VUStateRunning))
	iter := vu.iteration.Load() + 1

	req := vu.scenario.Request
	req.Body = nil

	var res *invoker.Result
	var err error
	if vu.scenario.Body != nil {
		req.Body, err = vu.scenario.Body.Render(invoker.TemplateData{VU: vu.ID, Iteration: iter})
		if err != nil {
			err = &invoker.ProtocolError{Op: "render body", Err: err}
		}
	}
	if err == nil {
		res, err = vu.invoker.Invoke(ctx, &req)
	}

	if err != nil {
		vu.metrics.RecordFailure()
		vu.logger.WithFields(logrus.Fields{
			"vu":        vu.ID,
			"iteration": iter,
			"kind":      invoker.Kind(err),
		}).Debug(err)
	} else {
		res.VUID = vu.ID
		res.Iteration = iter
		vu.metrics.RecordLatency(res.Latency, res.StatusCode < 400, int64(len(res.Body)))
	}

	vu.aggregator.Record(res, err, vu.scenario.Checks)
	vu.iteration.Store(iter)
	return res, err
}

// RequestStop asks the VU to stop. An in-flight request completes (or hits
// the hard deadline); the loop then exits instead of sleeping.
func (vu *VirtualUser) RequestStop() {
	vu.stopOnce.Do(func() {
		close(vu.stopCh)
	})
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

func (vu *VirtualUser) markStopped() {
	vu.state.Store(int32(VUStateStopped))
	close(vu.doneCh)
	vu.logger.WithFields(logrus.Fields{
		"vu":         vu.ID,
		"iterations": vu.iteration.Load(),
	}).Debug("vu stopped")
}

// String identifies the VU in log lines.
func (vu *VirtualUser) String() string {
	return fmt.Sprintf("vu-%d", vu.ID)
}
