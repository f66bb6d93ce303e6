//go:build ruleguard

// Package gorules defines custom linter rules for this repository.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// MinMaxBuiltin flags manual min/max implementations now that the builtins
// exist (Go 1.21+).
//
//	result := int(math.Min(float64(a), float64(b)))  ->  result := min(a, b)
func MinMaxBuiltin(m dsl.Matcher) {
	m.Match(
		`int(math.Min(float64($a), float64($b)))`,
	).
		Report("use min($a, $b) instead of int(math.Min(float64(...))) (Go 1.21+)").
		Suggest("min($a, $b)")

	m.Match(
		`int(math.Max(float64($a), float64($b)))`,
	).
		Report("use max($a, $b) instead of int(math.Max(float64(...))) (Go 1.21+)").
		Suggest("max($a, $b)")

	m.Match(
		`if $a < $b { $x = $a } else { $x = $b }`,
	).
		Report("use $x = min($a, $b) (Go 1.21+)").
		Suggest("$x = min($a, $b)")

	m.Match(
		`if $a > $b { $x = $a } else { $x = $b }`,
	).
		Report("use $x = max($a, $b) (Go 1.21+)").
		Suggest("$x = max($a, $b)")
}

// TimeSince flags time.Now().Sub(x), which reads worse than time.Since.
func TimeSince(m dsl.Matcher) {
	m.Match(`time.Now().Sub($x)`).
		Report("use time.Since($x) instead of time.Now().Sub($x)").
		Suggest("time.Since($x)")
}

// ErrorsJoin flags fmt.Errorf wrapping two errors with %v, which loses the
// errors.Is/As chain for the second error.
func ErrorsJoin(m dsl.Matcher) {
	m.Match(`fmt.Errorf("%v: %v", $a, $b)`).
		Where(m["a"].Type.Implements("error") && m["b"].Type.Implements("error")).
		Report("use errors.Join($a, $b) to keep both errors inspectable").
		Suggest("errors.Join($a, $b)")
}

// SprintfToFmt flags Sprintf calls whose result goes straight into a writer
// that has its own formatting entry point.
func SprintfToFmt(m dsl.Matcher) {
	m.Match(`$w.WriteString(fmt.Sprintf($*args))`).
		Report("use fmt.Fprintf($w, ...) instead of WriteString(Sprintf(...))").
		Suggest("fmt.Fprintf($w, $args)")
}

// TestifyFloatCompare flags exact float equality in tests; transcript times
// and confidences are rounded floats and must be compared with a tolerance.
func TestifyFloatCompare(m dsl.Matcher) {
	m.Match(`assert.Equal($t, $want, $got)`).
		Where(m["want"].Type.Is("float64") && m["got"].Type.Is("float64")).
		Report("use assert.InDelta for float64 comparisons")
}
