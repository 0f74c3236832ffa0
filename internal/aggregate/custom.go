package aggregate

import (
	"fmt"
	"sync"

	"aggpipe/internal/config"
)

// CustomReducer defines a user-supplied reduction. Implementations must be
// associative and commutative: Add and Combine may run in any order across
// partitions and the final result must not depend on it. Identity returns
// the empty accumulator state, Result turns the final state into an output
// cell.
type CustomReducer interface {
	Identity() any
	Add(acc any, v any) any
	Combine(a, b any) any
	Result(acc any) any
}

var (
	customMu sync.RWMutex
	custom   = map[string]CustomReducer{}
)

// Register installs a custom reducer under the given op name and makes the
// name pass configuration validation. Registering a built-in op name or
// registering twice panics; call during program init.
func Register(op string, r CustomReducer) {
	customMu.Lock()
	defer customMu.Unlock()
	if op == "count" || op == "sum" || op == "min" || op == "max" || op == "mean" {
		panic(fmt.Sprintf("aggregate: cannot override built-in reducer %q", op))
	}
	if _, dup := custom[op]; dup {
		panic(fmt.Sprintf("aggregate: reducer %q registered twice", op))
	}
	custom[op] = r
	config.RegisterReducerOp(op)
}

func lookupCustom(op string) (CustomReducer, bool) {
	customMu.RLock()
	defer customMu.RUnlock()
	r, ok := custom[op]
	return r, ok
}
