package keys

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

var ErrInvalidExpression = errors.New("invalid key expression")

// ExpressionStrategy evaluates a CEL expression over the call. The expression
// sees `method` (string) and `args` (list). A list result yields one part per
// element; any other result yields a single part.
//
//	args[0].userId
//	[method, string(args[0].orderId)]
type ExpressionStrategy struct {
	expr    string
	program cel.Program
}

// NewExpressionStrategy compiles expr. Compilation errors surface here, at
// setup, never on the request path.
func NewExpressionStrategy(expr string) (*ExpressionStrategy, error) {
	env, err := cel.NewEnv(
		cel.Variable("method", cel.StringType),
		cel.Variable("args", cel.ListType(cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create expression env: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidExpression, expr, iss.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidExpression, expr, err)
	}

	return &ExpressionStrategy{expr: expr, program: program}, nil
}

func (s *ExpressionStrategy) Parts(ctx context.Context, call Call) ([]string, error) {
	args := call.Args
	if args == nil {
		args = []any{}
	}

	out, _, err := s.program.ContextEval(ctx, map[string]any{
		"method": call.Method,
		"args":   args,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate key expression %q: %w", s.expr, err)
	}

	if lister, ok := out.(traits.Lister); ok {
		var parts []string

		it := lister.Iterator()
		for it.HasNext() == types.True {
			parts = append(parts, valueString(it.Next()))
		}

		return parts, nil
	}

	return []string{valueString(out)}, nil
}

func valueString(v ref.Val) string {
	if s, ok := v.Value().(string); ok {
		return s
	}

	return fmt.Sprint(v.Value())
}
