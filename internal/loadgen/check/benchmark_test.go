package check

import (
	"net/http"
	"testing"
	"time"

	"github.com/wesleyorama2/pummel/internal/loadgen/invoker"
)

func benchChecks(b *testing.B) []Check {
	b.Helper()
	schema, err := JSONSchema(`{"type":"object","required":["summary"]}`)
	if err != nil {
		b.Fatal(err)
	}
	return []Check{
		{Name: "status is 200 or 503", Predicate: StatusIn(200, 503)},
		{Name: "body includes NGINX", Predicate: BodyContains("NGINX")},
		{Name: "has summary", Predicate: JSONPath("summary", "")},
		{Name: "shape", Predicate: schema},
	}
}

func benchResult() *invoker.Result {
	return &invoker.Result{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(`{"summary":"Igor Sysoev originally wrote NGINX to solve the C10K problem"}`),
		Latency:    20 * time.Millisecond,
	}
}

// BenchmarkAggregator_Record measures check evaluation plus tallying for one
// iteration.
func BenchmarkAggregator_Record(b *testing.B) {
	checks := benchChecks(b)
	agg := NewAggregator(checks...)
	res := benchResult()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		agg.Record(res, nil, checks)
	}
}

// BenchmarkAggregator_Record_Parallel records from many goroutines, as VUs do.
func BenchmarkAggregator_Record_Parallel(b *testing.B) {
	checks := benchChecks(b)
	agg := NewAggregator(checks...)
	res := benchResult()

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			agg.Record(res, nil, checks)
		}
	})
}
