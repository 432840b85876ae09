package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/votepool/internal/chain"
	"github.com/roach88/votepool/internal/contract"
	"github.com/roach88/votepool/internal/ir"
	"github.com/roach88/votepool/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
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
			fmt.Fprintf(&buf, "  [%d] %s", event.Step, event.Action)
			if event.From != "" {
				fmt.Fprintf(&buf, " from=%s", event.From)
			}
			if len(event.Args) > 0 {
				fmt.Fprintf(&buf, " %v", event.Args)
			}
			fmt.Fprintf(&buf, " -> %s\n", event.Outcome)
		}
	}

	return buf.String()
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store    *store.Store
	Ctx      context.Context
	Chain    *chain.Chain
	Instance contract.Address
	Book     *addressBook
	Opening  map[string]int64
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides chain and database access for the state
// assertions; trace assertions work without it.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEventEmitted:
			err = assertEventEmitted(result.Trace, assertion, bookOf(actx))
		case AssertEventCount:
			err = assertEventCount(result.Trace, assertion)
		case AssertBalance:
			if actx == nil || actx.Chain == nil {
				err = fmt.Errorf("assertion[%d]: balance requires chain context", i)
			} else {
				err = assertBalance(actx, assertion)
			}
		case AssertCommission:
			if actx == nil || actx.Chain == nil {
				err = fmt.Errorf("assertion[%d]: commission requires chain context", i)
			} else {
				err = assertCommission(actx, assertion)
			}
		case AssertRoundState:
			if actx == nil || actx.Chain == nil {
				err = fmt.Errorf("assertion[%d]: round_state requires chain context", i)
			} else {
				err = assertRoundState(actx, assertion)
			}
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, bookOf(actx), assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

func bookOf(actx *AssertionContext) *addressBook {
	if actx == nil || actx.Book == nil {
		return newAddressBook()
	}
	return actx.Book
}

// assertEventEmitted checks that some event of the given kind carries the
// expected payload fields (subset match). Trace payloads already show
// addresses as account names, so the expected payload uses names too.
func assertEventEmitted(trace []TraceEvent, assertion Assertion, book *addressBook) error {
	var want ir.IRObject
	if len(assertion.Payload) > 0 {
		v, err := ir.FromGo(assertion.Payload)
		if err != nil {
			return fmt.Errorf("event_emitted payload: %w", err)
		}
		want = book.humanizeObject(v.(ir.IRObject))
	}

	for _, event := range trace {
		for _, rec := range event.Events {
			if rec.Kind == assertion.Kind && rec.Payload.Subset(want) {
				return nil
			}
		}
	}

	return &AssertionError{
		Type:     AssertEventEmitted,
		Expected: fmt.Sprintf("event %s with payload %v", assertion.Kind, want),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertEventCount checks that exactly Count events of Kind were emitted.
func assertEventCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		for _, rec := range event.Events {
			if rec.Kind == assertion.Kind {
				count++
			}
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d %s events", assertion.Count, assertion.Kind),
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertBalance checks an account balance, either exactly or as a change
// since the opening balance.
func assertBalance(actx *AssertionContext, assertion Assertion) error {
	got := int64(actx.Chain.Balance(bookOf(actx).resolve(assertion.Account)))

	if assertion.Equals != nil && got != *assertion.Equals {
		return &AssertionError{
			Type:     AssertBalance,
			Expected: fmt.Sprintf("%s holds %d", assertion.Account, *assertion.Equals),
			Actual:   fmt.Sprintf("%s holds %d", assertion.Account, got),
		}
	}

	if assertion.Delta != nil {
		delta := got - actx.Opening[assertion.Account]
		if delta != *assertion.Delta {
			return &AssertionError{
				Type:     AssertBalance,
				Expected: fmt.Sprintf("%s changed by %d", assertion.Account, *assertion.Delta),
				Actual:   fmt.Sprintf("%s changed by %d", assertion.Account, delta),
			}
		}
	}
	return nil
}

// assertCommission checks the owner's withdrawable commission.
func assertCommission(actx *AssertionContext, assertion Assertion) error {
	got, err := actx.Chain.CommissionInfo(actx.Instance)
	if err != nil {
		return fmt.Errorf("commission: %w", err)
	}
	if int64(got) != *assertion.Equals {
		return &AssertionError{
			Type:     AssertCommission,
			Expected: fmt.Sprintf("commission %d", *assertion.Equals),
			Actual:   fmt.Sprintf("commission %d", got),
		}
	}
	return nil
}

// assertRoundState checks the fields of one round. Unset fields are not
// checked.
func assertRoundState(actx *AssertionContext, assertion Assertion) error {
	inst, err := actx.Chain.Instance(actx.Instance)
	if err != nil {
		return fmt.Errorf("round_state: %w", err)
	}
	r, err := inst.Round(*assertion.Round)
	if err != nil {
		return &AssertionError{
			Type:     AssertRoundState,
			Expected: fmt.Sprintf("round %d to exist", *assertion.Round),
			Actual:   err.Error(),
		}
	}

	mismatch := func(field string, want, got any) error {
		return &AssertionError{
			Type:     AssertRoundState,
			Expected: fmt.Sprintf("round %d %s = %v", r.ID, field, want),
			Actual:   fmt.Sprintf("round %d %s = %v", r.ID, field, got),
		}
	}

	if assertion.Ended != nil && *assertion.Ended != r.Ended {
		return mismatch("ended", *assertion.Ended, r.Ended)
	}
	if assertion.Votes != nil && !reflect.DeepEqual(assertion.Votes, r.VoteCounts) {
		return mismatch("votes", assertion.Votes, r.VoteCounts)
	}
	if assertion.Pool != nil && *assertion.Pool != int64(r.Pool) {
		return mismatch("pool", *assertion.Pool, int64(r.Pool))
	}
	if assertion.Winner != nil && *assertion.Winner != r.Winner {
		return mismatch("winner", *assertion.Winner, r.Winner)
	}
	return nil
}

// assertFinalState checks if a store table contains expected values.
// Queries the table with parameterized SQL and validates expected values
// using subset semantics. Account names in where and expect are replaced by
// the stored address form.
//
// Table and column names are validated against a whitelist pattern since
// identifiers can't be parameterized.
func assertFinalState(ctx context.Context, st *store.Store, book *addressBook, assertion Assertion) error {
	if assertion.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}

	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	where := book.addresses(assertion.Where)
	whereSQL, whereArgs, err := buildWhereClause(where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.Query(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// More than one match means the assertion is ambiguous.
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]interface{})
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	expect := book.addresses(assertion.Expect)
	for _, key := range sortedKeys(expect) {
		expectedValue := expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}

		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// addresses replaces every string value that names a known account with
// the account's stored address.
func (b *addressBook) addresses(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			if addr, known := b.byName[s]; known {
				v = addr.Hex()
			}
		}
		out[k] = v
	}
	return out
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
func buildWhereClause(where map[string]interface{}) (string, []interface{}, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := sortedKeys(where)
	clauses := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))

	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts an interface{} value to a SQL-compatible value.
func toSQLValue(v interface{}) interface{} {
	switch val := v.(type) {
	case ir.IRString:
		return string(val)
	case ir.IRInt:
		return int64(val)
	case ir.IRBool:
		return bool(val)
	case string, int, int64, uint64, bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]interface{}) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stateValuesEqual compares expected and actual values from store tables.
// Handles type coercion for SQLite values which may be returned as different types.
func stateValuesEqual(expected, actual interface{}) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	switch exp := expected.(type) {
	case ir.IRString:
		return stateValuesEqual(string(exp), actual)
	case ir.IRInt:
		return stateValuesEqual(int64(exp), actual)
	case ir.IRBool:
		return stateValuesEqual(bool(exp), actual)
	case string:
		switch act := actual.(type) {
		case string:
			return exp == act
		case []byte:
			return exp == string(act)
		}
		return false
	case int:
		return stateValuesEqual(int64(exp), actual)
	case uint64:
		return stateValuesEqual(int64(exp), actual)
	case int64:
		switch act := actual.(type) {
		case int64:
			return exp == act
		case int:
			return exp == int64(act)
		}
		return false
	case bool:
		// SQLite stores booleans as integers (0/1)
		switch act := actual.(type) {
		case bool:
			return exp == act
		case int64:
			return exp == (act != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}
