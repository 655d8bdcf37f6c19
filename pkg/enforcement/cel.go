package enforcement

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/protocore/governor/pkg/safematch"
)

// celPrograms memoizes compiled CEL programs by source expression so a
// customExpression shared across many evaluations compiles once.
var (
	celMu       sync.Mutex
	celPrograms = map[string]cel.Program{}
)

func celEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("action", cel.DynType),
		cel.Variable("ctx", cel.DynType),
		cel.Variable("monitoring", cel.DynType),
	)
}

// evalCustomExpression evaluates a proposer-supplied CEL predicate against
// the given input. Per SPEC_FULL.md's REDESIGN FLAGS, a dangerous, unparsable,
// or erroring expression fails closed: it returns true together with the
// error, so the caller treats the expression as satisfied (a violation),
// never silently skipped.
func evalCustomExpression(expr string, input map[string]interface{}) (bool, error) {
	if safematch.IsDangerous(expr) {
		return true, fmt.Errorf("customExpression rejected by dangerous-pattern guard")
	}

	celMu.Lock()
	prg, ok := celPrograms[expr]
	celMu.Unlock()

	if !ok {
		env, err := celEnv()
		if err != nil {
			return true, fmt.Errorf("cel environment: %w", err)
		}
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return true, fmt.Errorf("customExpression compile: %w", issues.Err())
		}
		p, err := env.Program(ast)
		if err != nil {
			return true, fmt.Errorf("customExpression program: %w", err)
		}
		celMu.Lock()
		celPrograms[expr] = p
		celMu.Unlock()
		prg = p
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return true, fmt.Errorf("customExpression eval: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return true, fmt.Errorf("customExpression did not evaluate to a boolean")
	}
	return b, nil
}
