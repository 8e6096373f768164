package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// condEvaluator compiles and runs boolean condition expressions against an
// expense environment, caching compiled programs per expression.
type condEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newCondEvaluator() *condEvaluator {
	return &condEvaluator{cache: make(map[string]*vm.Program)}
}

// eval runs expression against env. The expression must evaluate to a
// boolean; anything else is an error.
func (e *condEvaluator) eval(expression string, env map[string]interface{}) (bool, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()
		if program, ok = e.cache[expression]; !ok {
			var err error
			program, err = expr.Compile(expression, expr.Env(env), expr.AsBool())
			if err != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("compile condition %q: %w", expression, err)
			}
			e.cache[expression] = program
		}
		e.mu.Unlock()
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("run condition %q: %w", expression, err)
	}

	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q evaluated to %T, want bool", expression, result)
	}
	return b, nil
}
