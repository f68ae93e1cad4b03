package harness

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/tether/internal/connector"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/repo"
	"github.com/roach88/tether/internal/store"
)

// validIdentifier restricts the table and column names of final_state
// assertions, which are interpolated into the query.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d %s", event.Seq, event.Step, event.Label())
			if event.ExternalID != "" {
				fmt.Fprintf(&buf, " %s", event.ExternalID)
			}
			if event.Status != "" {
				fmt.Fprintf(&buf, " %s", event.Status)
			}
			if event.Error != "" {
				fmt.Fprintf(&buf, " error=%q", event.Error)
			}
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

// assertTraceContains checks that some event carries the label and the
// match fields (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Label() == assertion.Event && matchFields(event.Fields(), assertion.Match) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %s matching %v", assertion.Event, assertion.Match),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrences of the labels appear
// in the given order. Intervening events are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		label := event.Label()
		if _, seen := positions[label]; !seen {
			positions[label] = i + 1 // 1-indexed for readability
		}
	}

	for _, label := range assertion.Events {
		if positions[label] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", assertion.Events),
				Actual:   fmt.Sprintf("missing event: %s", label),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Events); i++ {
		prev := assertion.Events[i-1]
		curr := assertion.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks that the label appears exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Label() == assertion.Event {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertExternal checks an object on a resource, bypassing injected
// faults.
func assertExternal(ctx context.Context, conn connector.Connector, assertion Assertion) error {
	wantExists := assertion.Exists == nil || *assertion.Exists
	desc := assertion.Resource + "/" + assertion.ExternalID

	obj, err := conn.Get(ctx, assertion.Resource, assertion.ExternalID)
	switch {
	case connector.IsNotFound(err):
		if wantExists {
			return &AssertionError{Type: AssertExternal, Expected: desc + " to exist", Actual: "not found"}
		}
		return nil
	case err != nil:
		return fmt.Errorf("external %s: %w", desc, err)
	case !wantExists:
		return &AssertionError{Type: AssertExternal, Expected: desc + " to be absent", Actual: fmt.Sprintf("found %v", obj.Attrs)}
	}

	want, err := ir.ObjectFromMap(assertion.Attrs)
	if err != nil {
		return fmt.Errorf("external %s: attrs: %w", desc, err)
	}
	for _, key := range want.SortedKeys() {
		got, ok := obj.Attrs[key]
		if !ok || !ir.Equal(want[key], got) {
			return &AssertionError{
				Type:     AssertExternal,
				Expected: fmt.Sprintf("%s attribute %q = %v", desc, key, want[key]),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return nil
}

// assertLinks checks how many shadows a focus object links to.
func assertLinks(ctx context.Context, st *store.Store, assertion Assertion) error {
	obj, err := st.Get(ctx, ir.TypeUser, assertion.OID, &repo.GetOptions{AllowNotFound: true})
	if err != nil {
		return fmt.Errorf("links %s: %w", assertion.OID, err)
	}
	got := 0
	if obj != nil {
		got = len(ir.Values(obj.Attrs[ir.AttrLinks]))
	}
	if got != assertion.Count {
		return &AssertionError{
			Type:     AssertLinks,
			Expected: fmt.Sprintf("%s to have %d links", assertion.OID, assertion.Count),
			Actual:   fmt.Sprintf("%d links", got),
		}
	}
	return nil
}

// assertFinalState selects the single row of a store table matched by
// Where and checks the Expect columns against it. Table and column names
// are interpolated, so they must match validIdentifier.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if assertion.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q", assertion.Table)
	}
	cond, args, err := whereClause(assertion.Where)
	if err != nil {
		return err
	}

	fail := func(expected, actual string) error {
		return &AssertionError{Type: AssertFinalState, Expected: expected, Actual: actual}
	}
	target := fmt.Sprintf("%s where %s", assertion.Table, cond)

	row, columns, err := selectOne(ctx, st, "SELECT * FROM "+assertion.Table+" WHERE "+cond, args)
	switch {
	case errors.Is(err, errNoRow):
		return fail("row in "+target, "row not found")
	case errors.Is(err, errManyRows):
		return fail("exactly one row in "+target, "multiple rows matched")
	case err != nil:
		return fail("query "+assertion.Table, err.Error())
	}

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		want := assertion.Expect[key]
		got, ok := row[key]
		if !ok {
			return fail(fmt.Sprintf("field %q to exist", key), fmt.Sprintf("columns %v", columns))
		}
		if !stateValuesEqual(want, got) {
			return fail(fmt.Sprintf("field %q = %v", key, want), fmt.Sprintf("%v", got))
		}
	}
	return nil
}

var (
	errNoRow    = errors.New("no row")
	errManyRows = errors.New("many rows")
)

// selectOne runs query and returns its only row keyed by column name.
func selectOne(ctx context.Context, st *store.Store, query string, args []any) (map[string]any, []string, error) {
	rows, err := st.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	if !rows.Next() {
		return nil, columns, errNoRow
	}
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, columns, err
	}
	if rows.Next() {
		return nil, columns, errManyRows
	}

	row := make(map[string]any, len(columns))
	for i, col := range columns {
		row[col] = values[i]
	}
	return row, columns, rows.Err()
}

// whereClause renders the conditions as "a = ? AND b = ?" in key order.
// An empty map matches every row.
func whereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "1 = 1", nil, nil
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		if !validIdentifier.MatchString(k) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, len(keys))
	for i, k := range keys {
		v, err := ir.FromAny(where[k])
		if err != nil {
			return "", nil, fmt.Errorf("where %s: %w", k, err)
		}
		switch v := v.(type) {
		case ir.IRString:
			args[i] = string(v)
		case ir.IRInt:
			args[i] = int64(v)
		case ir.IRBool:
			args[i] = bool(v)
		default:
			return "", nil, fmt.Errorf("where %s: only scalar values can be matched", k)
		}
		keys[i] += " = ?"
	}
	return strings.Join(keys, " AND "), args, nil
}

// stateValuesEqual compares an expected value with a scanned SQLite value.
// TEXT may scan as bytes and booleans are stored as 0 or 1.
func stateValuesEqual(expected, actual any) bool {
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	want, err := ir.FromAny(expected)
	if err != nil {
		return false
	}
	if b, ok := want.(ir.IRBool); ok {
		if n, ok := actual.(int64); ok {
			return bool(b) == (n != 0)
		}
	}
	got, err := ir.FromAny(actual)
	return err == nil && ir.Equal(want, got)
}

// matchFields checks if actual contains every expected field (subset
// match). Values are compared as IR values so YAML integers match int64
// sequence numbers.
func matchFields(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, exists := actual[key]
		if !exists {
			return false
		}
		wantV, err := ir.FromAny(want)
		if err != nil {
			return false
		}
		gotV, err := ir.FromAny(got)
		if err != nil {
			return false
		}
		if !ir.Equal(wantV, gotV) {
			return false
		}
	}
	return true
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store     *store.Store
	Connector connector.Connector
	Ctx       context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides store and connector access for state
// assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState, AssertLinks:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, assertion.Type)
			} else if assertion.Type == AssertLinks {
				err = assertLinks(actx.Ctx, actx.Store, assertion)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		case AssertExternal:
			if actx == nil || actx.Connector == nil {
				err = fmt.Errorf("assertion[%d]: external requires a connector", i)
			} else {
				err = assertExternal(actx.Ctx, actx.Connector, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			failures = append(failures, err.Error())
		}
	}

	return failures
}
