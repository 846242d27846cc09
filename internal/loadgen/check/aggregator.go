package check

import (
	"fmt"
	"sync"

	"github.com/wesleyorama2/pummel/internal/loadgen/invoker"
)

// Tally is the pass/fail count of one check.
type Tally struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// Total returns the number of evaluations.
func (t Tally) Total() int64 {
	return t.Passes + t.Fails
}

// PassRate returns the fraction of passing evaluations (0 when none ran).
func (t Tally) PassRate() float64 {
	if t.Total() == 0 {
		return 0
	}
	return float64(t.Passes) / float64(t.Total())
}

// Summary is an immutable snapshot of the aggregator.
type Summary struct {
	// Total is the number of recorded iterations.
	Total int64 `json:"total"`

	// Failed counts iterations that produced no response.
	Failed int64 `json:"failed"`

	// Checks holds one tally per check, in registration order.
	Checks []Tally `json:"checks"`

	// StatusCodes counts responses by status code.
	StatusCodes map[int]int64 `json:"statusCodes"`

	// Errors counts failed iterations by error kind.
	Errors map[string]int64 `json:"errors"`
}

// Check returns the tally for name.
func (s *Summary) Check(name string) (Tally, bool) {
	for _, t := range s.Checks {
		if t.Name == name {
			return t, true
		}
	}
	return Tally{}, false
}

// Verify checks the internal consistency of the snapshot.
func (s *Summary) Verify() error {
	if s.Total < 0 || s.Failed < 0 || s.Failed > s.Total {
		return &AggregationError{Msg: fmt.Sprintf("iteration counts out of range: total=%d failed=%d", s.Total, s.Failed)}
	}

	var responses, errs int64
	for code, n := range s.StatusCodes {
		if n < 0 {
			return &AggregationError{Msg: fmt.Sprintf("negative count for status %d", code)}
		}
		responses += n
	}
	for kind, n := range s.Errors {
		if n < 0 {
			return &AggregationError{Msg: fmt.Sprintf("negative count for error kind %s", kind)}
		}
		errs += n
	}
	if errs != s.Failed || responses+errs != s.Total {
		return &AggregationError{Msg: fmt.Sprintf(
			"outcomes do not add up: total=%d responses=%d errors=%d failed=%d",
			s.Total, responses, errs, s.Failed)}
	}

	for _, t := range s.Checks {
		if t.Passes < 0 || t.Fails < 0 {
			return &AggregationError{Msg: fmt.Sprintf("negative tally for check %q", t.Name)}
		}
		if t.Total() > s.Total {
			return &AggregationError{Msg: fmt.Sprintf("check %q evaluated %d times over %d iterations", t.Name, t.Total(), s.Total)}
		}
	}
	return nil
}

// AggregationError reports a broken accounting invariant. It indicates a bug,
// never a property of the target.
type AggregationError struct {
	Msg string
}

func (e *AggregationError) Error() string {
	return "aggregation error: " + e.Msg
}

// Aggregator tallies check outcomes across concurrent VUs. Every update is a
// counter increment under one mutex, so the final tallies do not depend on
// the order results arrive in.
type Aggregator struct {
	mu sync.Mutex

	total       int64
	failed      int64
	order       []string
	tallies     map[string]*Tally
	statusCodes map[int]int64
	errorKinds  map[string]int64
}

// NewAggregator creates an Aggregator. Checks listed here are reported in
// this order even before their first evaluation.
func NewAggregator(checks ...Check) *Aggregator {
	a := &Aggregator{
		tallies:     make(map[string]*Tally),
		statusCodes: make(map[int]int64),
		errorKinds:  make(map[string]int64),
	}
	for _, c := range checks {
		a.tally(c.Name)
	}
	return a
}

// tally returns the tally for name, creating it. Caller holds mu.
func (a *Aggregator) tally(name string) *Tally {
	t, ok := a.tallies[name]
	if !ok {
		t = &Tally{Name: name}
		a.tallies[name] = t
		a.order = append(a.order, name)
	}
	return t
}

// Record evaluates checks against one iteration's outcome. When callErr is
// set there is no response and every check fails. Record never panics and
// never returns an error.
func (a *Aggregator) Record(res *invoker.Result, callErr error, checks []Check) {
	// Predicates run outside the lock; they may be slow (schema validation).
	passed := make([]bool, len(checks))
	if callErr == nil && res != nil {
		for i, c := range checks {
			passed[i] = evaluate(c.Predicate, res)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	switch {
	case callErr != nil:
		a.failed++
		a.errorKinds[invoker.Kind(callErr)]++
	case res == nil:
		a.failed++
		a.errorKinds[invoker.KindProtocol]++
	default:
		a.statusCodes[res.StatusCode]++
	}

	for i, c := range checks {
		t := a.tally(c.Name)
		if passed[i] {
			t.Passes++
		} else {
			t.Fails++
		}
	}
}

// evaluate runs a predicate, turning errors and panics into a failure.
func evaluate(p Predicate, res *invoker.Result) (ok bool) {
	if p == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	ok, err := p.Evaluate(res)
	if err != nil {
		return false
	}
	return ok
}

// Total returns the number of recorded iterations.
func (a *Aggregator) Total() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Summary returns a deep copy of the current tallies.
func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Summary{
		Total:       a.total,
		Failed:      a.failed,
		Checks:      make([]Tally, 0, len(a.order)),
		StatusCodes: make(map[int]int64, len(a.statusCodes)),
		Errors:      make(map[string]int64, len(a.errorKinds)),
	}
	for _, name := range a.order {
		s.Checks = append(s.Checks, *a.tallies[name])
	}
	for code, n := range a.statusCodes {
		s.StatusCodes[code] = n
	}
	for kind, n := range a.errorKinds {
		s.Errors[kind] = n
	}
	return s
}
