package enforcement

import "testing"

func TestEvalCustomExpression_TrueFalse(t *testing.T) {
	input := map[string]interface{}{
		"action":     map[string]interface{}{"name": "rm"},
		"ctx":        map[string]interface{}{},
		"monitoring": map[string]interface{}{},
	}

	matched, err := evalCustomExpression(`action.name == "rm"`, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !matched {
		t.Fatal("expected expression to evaluate true")
	}

	matched, err = evalCustomExpression(`action.name == "ls"`, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matched {
		t.Fatal("expected expression to evaluate false")
	}
}

func TestEvalCustomExpression_DangerousExpressionFailsClosed(t *testing.T) {
	input := map[string]interface{}{"action": map[string]interface{}{}, "ctx": map[string]interface{}{}, "monitoring": map[string]interface{}{}}
	matched, err := evalCustomExpression(`(a+)+ == "x"`, input)
	if err == nil {
		t.Fatal("expected an error for a dangerous expression")
	}
	if !matched {
		t.Fatal("a rejected expression must fail closed (treated as matched/violation)")
	}
}

func TestEvalCustomExpression_CompileErrorFailsClosed(t *testing.T) {
	input := map[string]interface{}{"action": map[string]interface{}{}, "ctx": map[string]interface{}{}, "monitoring": map[string]interface{}{}}
	matched, err := evalCustomExpression(`not even valid cel (((`, input)
	if err == nil {
		t.Fatal("expected a compile error")
	}
	if !matched {
		t.Fatal("a compile-error expression must fail closed")
	}
}

func TestEvalCustomExpression_NonBooleanResultFailsClosed(t *testing.T) {
	input := map[string]interface{}{"action": map[string]interface{}{}, "ctx": map[string]interface{}{}, "monitoring": map[string]interface{}{}}
	matched, err := evalCustomExpression(`1 + 1`, input)
	if err == nil {
		t.Fatal("expected an error for a non-boolean result")
	}
	if !matched {
		t.Fatal("a non-boolean result must fail closed")
	}
}

func TestEvalCustomExpression_CachesCompiledProgram(t *testing.T) {
	input := map[string]interface{}{"action": map[string]interface{}{"name": "ls"}, "ctx": map[string]interface{}{}, "monitoring": map[string]interface{}{}}
	expr := `action.name == "ls"`

	for i := 0; i < 3; i++ {
		matched, err := evalCustomExpression(expr, input)
		if err != nil {
			t.Fatalf("unexpected error on iteration %d: %v", i, err)
		}
		if !matched {
			t.Fatalf("expected match on iteration %d", i)
		}
	}
}
