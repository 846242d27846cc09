// Package check evaluates named predicates against responses and tallies the
// outcomes across a run.
//
// A Check pairs a name with a Predicate. Predicates are built from
// configuration through a Registry, so the Aggregator stays generic over what
// is being asserted. Check outcomes are data: they never change the control
// flow of a run.
package check

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/pummel/internal/loadgen/invoker"
)

// Predicate decides whether a response satisfies a check. An error means the
// predicate could not be evaluated and is tallied as a failure.
type Predicate interface {
	Evaluate(res *invoker.Result) (bool, error)
}

// PredicateFunc adapts a function to the Predicate interface.
type PredicateFunc func(res *invoker.Result) (bool, error)

// Evaluate calls f(res).
func (f PredicateFunc) Evaluate(res *invoker.Result) (bool, error) {
	return f(res)
}

// Check is a named predicate.
type Check struct {
	Name      string
	Predicate Predicate
}

// StatusIn passes when the status code is one of codes.
func StatusIn(codes ...int) Predicate {
	allowed := make(map[int]bool, len(codes))
	for _, code := range codes {
		allowed[code] = true
	}
	return PredicateFunc(func(res *invoker.Result) (bool, error) {
		return allowed[res.StatusCode], nil
	})
}

// BodyContains passes when the body contains substr.
func BodyContains(substr string) Predicate {
	needle := []byte(substr)
	return PredicateFunc(func(res *invoker.Result) (bool, error) {
		return bytes.Contains(res.Body, needle), nil
	})
}

// BodyMatches passes when the body matches the regular expression.
func BodyMatches(pattern string) (Predicate, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return PredicateFunc(func(res *invoker.Result) (bool, error) {
		return re.Match(res.Body), nil
	}), nil
}

// HeaderEquals passes when the header is present and, if value is not empty,
// equal to value.
func HeaderEquals(name, value string) Predicate {
	return PredicateFunc(func(res *invoker.Result) (bool, error) {
		values := res.Header.Values(name)
		if len(values) == 0 {
			return false, nil
		}
		if value == "" {
			return true, nil
		}
		for _, v := range values {
			if v == value {
				return true, nil
			}
		}
		return false, nil
	})
}

// MaxDuration passes when the request latency is at most max.
func MaxDuration(max time.Duration) Predicate {
	return PredicateFunc(func(res *invoker.Result) (bool, error) {
		return res.Latency <= max, nil
	})
}

// JSONPath passes when path exists in the JSON body and, if expected is not
// empty, its value renders to expected. Paths use the JSONPath subset
// "$.a.b[0].c".
func JSONPath(path, expected string) Predicate {
	gpath := convertToGjsonPath(path)
	return PredicateFunc(func(res *invoker.Result) (bool, error) {
		if !gjson.ValidBytes(res.Body) {
			return false, fmt.Errorf("response body is not valid JSON")
		}
		result := gjson.GetBytes(res.Body, gpath)
		if !result.Exists() {
			return false, nil
		}
		if expected == "" {
			return true, nil
		}
		if result.Type == gjson.Null {
			return expected == "null", nil
		}
		return result.String() == expected, nil
	})
}

// convertToGjsonPath converts a JSONPath expression to gjson syntax:
// $.users[0].name becomes users.0.name.
func convertToGjsonPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	path = strings.NewReplacer(`['`, ".", `']`, "", `["`, ".", `"]`, "").Replace(path)
	path = strings.NewReplacer("[", ".", "]", "").Replace(path)
	return strings.TrimPrefix(path, ".")
}

// JSONSchema passes when the JSON body validates against schema. The schema
// is compiled once.
func JSONSchema(schema string) (Predicate, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	return PredicateFunc(func(res *invoker.Result) (bool, error) {
		var doc interface{}
		if err := json.Unmarshal(res.Body, &doc); err != nil {
			return false, fmt.Errorf("invalid JSON: %w", err)
		}
		return compiled.Validate(doc) == nil, nil
	}), nil
}

// parseStatusList accepts "200,503" or "200 503".
func parseStatusList(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	codes := make([]int, 0, len(fields))
	for _, f := range fields {
		code, err := strconv.Atoi(f)
		if err != nil || code < 100 || code > 599 {
			return nil, fmt.Errorf("invalid status code %q", f)
		}
		codes = append(codes, code)
	}
	return codes, nil
}
