package attributes

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mrzor/pwd-tracer/internal/config"
)

// Subject is the data an expression can see about one traced child.
type Subject struct {
	PID              int
	ParentPID        int
	WorkingDirectory string
	ShellCwd         string
	Match            bool
	Attempts         int
	Env              map[string]string
}

func (s Subject) exprEnv() map[string]any {
	env := s.Env
	if env == nil {
		env = map[string]string{}
	}
	return map[string]any{
		"pid":       s.PID,
		"ppid":      s.ParentPID,
		"pwd":       s.WorkingDirectory,
		"shell_cwd": s.ShellCwd,
		"match":     s.Match,
		"attempts":  s.Attempts,
		"env":       env,
	}
}

// Evaluator handles compilation and evaluation of custom attribute expressions.
type Evaluator struct {
	customAttrs   []config.CustomAttribute
	compiledExprs []*vm.Program
}

// NewEvaluator creates a new attribute evaluator.
// It pre-compiles all custom attribute expressions for efficiency.
func NewEvaluator(customAttrs []config.CustomAttribute) (*Evaluator, error) {
	typeEnv := Subject{}.exprEnv()

	compiledExprs := make([]*vm.Program, len(customAttrs))
	for i, attr := range customAttrs {
		program, err := expr.Compile(attr.Expression, expr.Env(typeEnv))
		if err != nil {
			return nil, fmt.Errorf("failed to compile expression for attribute %q: %w", attr.Name, err)
		}
		compiledExprs[i] = program
	}

	return &Evaluator{
		customAttrs:   customAttrs,
		compiledExprs: compiledExprs,
	}, nil
}

// NeedsEnvironment reports whether any expression is configured, in which
// case callers should populate Subject.Env.
func (e *Evaluator) NeedsEnvironment() bool {
	return e != nil && len(e.customAttrs) > 0
}

// Evaluate runs every expression against subject. An expression that fails
// at run time is skipped; its error is joined into the returned error and
// the remaining attributes are still returned.
func (e *Evaluator) Evaluate(subject Subject) ([]attribute.KeyValue, error) {
	if e == nil || len(e.customAttrs) == 0 {
		return nil, nil
	}

	env := subject.exprEnv()

	var attrs []attribute.KeyValue
	var errs []error
	for i, customAttr := range e.customAttrs {
		output, err := expr.Run(e.compiledExprs[i], env)
		if err != nil {
			errs = append(errs, fmt.Errorf("evaluating attribute %q: %w", customAttr.Name, err))
			continue
		}

		// Maps expand into one attribute per key, with dot notation
		outputValue := reflect.ValueOf(output)
		if outputValue.Kind() != reflect.Map {
			attrs = append(attrs, attribute.String(customAttr.Name, fmt.Sprint(output)))
			continue
		}

		for _, key := range outputValue.MapKeys() {
			attrName := customAttr.Name + "." + sanitizeAttributeName(fmt.Sprintf("%v", key.Interface()))
			attrs = append(attrs, attribute.String(attrName, fmt.Sprint(outputValue.MapIndex(key).Interface())))
		}
	}

	return attrs, errors.Join(errs...)
}

// sanitizeAttributeName replaces non-alphanumeric characters with underscores.
func sanitizeAttributeName(name string) string {
	result := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result[i] = c
		} else {
			result[i] = '_'
		}
	}
	return string(result)
}
