package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// conditionEnv declares the single variable available to policy conditions:
// request, a string map with actor, tenant_id, operation and table.
var conditionEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("request", cel.MapType(cel.StringType, cel.StringType)))
})

// Condition is a compiled CEL boolean expression attached to a table policy,
// e.g. `request.actor.startsWith("agent:billing")`.
type Condition struct {
	expr    string
	program cel.Program
}

// NewCondition compiles expr and checks it yields a bool.
func NewCondition(expr string) (*Condition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("condition expression is empty")
	}
	env, err := conditionEnv()
	if err != nil {
		return nil, fmt.Errorf("creating condition environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compiling condition %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("condition %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("building condition program: %w", err)
	}
	return &Condition{expr: expr, program: program}, nil
}

func (c *Condition) String() string {
	if c == nil {
		return ""
	}
	return c.expr
}

// Eval runs the condition against the request attributes.
func (c *Condition) Eval(vars map[string]string) (bool, error) {
	out, _, err := c.program.Eval(map[string]any{"request": vars})
	if err != nil {
		return false, fmt.Errorf("evaluating condition %q: %w", c.expr, err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q returned %T, want bool", c.expr, out.Value())
	}
	return v, nil
}

// MarshalJSON renders the source expression so a described policy matches the file.
func (c *Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}
