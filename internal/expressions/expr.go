package expressions

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/transcanvas/pkg/schema"
)

// ExprPrefix marks a variable value as an Expr expression.
const ExprPrefix = "="

// ExprEngine evaluates expr-lang expressions. Programs are compiled once
// without a typed environment, so one program serves every data map.
type ExprEngine struct {
	cache *programCache[*vm.Program]
}

// NewExprEngine creates an Expr engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: newProgramCache[*vm.Program]()}
}

func (e *ExprEngine) Name() string { return "expr" }

// Evaluate runs expression with data as its environment.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}
	prg, err := e.cache.get(expression, compileExpr)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

func compileExpr(expression string) (*vm.Program, error) {
	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return prg, nil
}

// ResolveVariables returns the runtime variables to inject into a run.
// Values starting with "=" are evaluated with the parameters and the
// variables resolved so far (in name order) as environment; other values
// are copied verbatim.
func (e *ExprEngine) ResolveVariables(ctx context.Context, params, vars map[string]string) (map[string]string, error) {
	env := make(map[string]any, len(params)+len(vars))
	for k, v := range params {
		env[k] = v
	}
	out := make(map[string]string, len(vars))

	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		raw := vars[name]
		if !strings.HasPrefix(raw, ExprPrefix) {
			out[name] = raw
			env[name] = raw
			continue
		}
		v, err := e.Evaluate(ctx, strings.TrimPrefix(raw, ExprPrefix), env)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "variable %q: %s", name, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"variable": name})
		}
		s := ""
		if v != nil {
			s = fmt.Sprint(v)
		}
		out[name] = s
		env[name] = v
	}
	return out, nil
}

var _ Engine = (*ExprEngine)(nil)
