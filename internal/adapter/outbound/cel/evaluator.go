// Package cel compiles CEL key expressions into rate limit key functions.
package cel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Sentinel-Gate/admitgate/internal/domain/ratelimit"
)

// maxExpressionLength is the maximum allowed length for key expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit for a single evaluation.
const maxCostBudget = 10_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout bounds a single evaluation. Keys are derived on the request
// path, so this is much tighter than a policy evaluation would be.
const evalTimeout = 50 * time.Millisecond

// interruptCheckFreq is how often (in comprehension iterations) context cancellation is checked.
const interruptCheckFreq = 100

// Evaluator compiles key expressions.
type Evaluator struct {
	env    *cel.Env
	logger *slog.Logger
}

// NewEvaluator creates a new evaluator with the key environment.
func NewEvaluator(logger *slog.Logger) (*Evaluator, error) {
	env, err := NewKeyEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create key environment: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{env: env, logger: logger}, nil
}

// Compile parses and type-checks a key expression. The expression must
// produce a string.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.StringType) {
		return nil, fmt.Errorf("key expression must return a string, got %s", ast.OutputType())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	return prg, nil
}

// validateNesting checks that the expression does not exceed the maximum allowed
// nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks that a key expression is syntactically valid,
// returns a string and stays within the length and nesting limits.
func (e *Evaluator) ValidateExpression(expr string) error {
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}

	if expr == "" {
		return errors.New("expression is empty")
	}

	if err := validateNesting(expr); err != nil {
		return err
	}

	if _, err := e.Compile(expr); err != nil {
		return fmt.Errorf("invalid key expression: %w", err)
	}

	return nil
}

// Evaluate runs a compiled program for one request and returns its string result.
func (e *Evaluator) Evaluate(prg cel.Program, tier string, d ratelimit.Descriptor) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, BuildKeyActivation(tier, d))
	if err != nil {
		return "", fmt.Errorf("evaluation failed: %w", err)
	}

	s, ok := result.Value().(string)
	if !ok {
		return "", fmt.Errorf("expression did not return a string, got %T", result.Value())
	}
	return s, nil
}

// KeyFunc validates expr and returns a key function for ratelimit.Policy.
// Keys have the form "{tier}:{result}" so that tier-scoped patterns keep
// working. When evaluation fails, or yields an empty string, the default
// key is used and a warning is logged.
func (e *Evaluator) KeyFunc(expr string) (ratelimit.KeyFunc, error) {
	if err := e.ValidateExpression(expr); err != nil {
		return nil, err
	}
	prg, err := e.Compile(expr)
	if err != nil {
		return nil, err
	}

	return func(tier string, d ratelimit.Descriptor) string {
		v, err := e.Evaluate(prg, tier, d)
		if err != nil || v == "" {
			e.logger.Warn("key expression failed, using default key",
				"tier", tier,
				"expression", expr,
				"error", err,
			)
			return ratelimit.GenerateKey(tier, d, false)
		}
		return tier + ":" + v
	}, nil
}
