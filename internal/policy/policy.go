// Package policy vets declared resources against Rego rules before setup.
//
// A policy module lives in package benchctx and contributes messages to the
// deny set:
//
//	package benchctx
//
//	import rego.v1
//
//	deny contains msg if {
//		input.context == "flavors"
//		input.spec.ram > 65536
//		msg := sprintf("%s: ram above 64G", [input.spec.name])
//	}
package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrDenied is returned when at least one deny rule fires.
var ErrDenied = errors.New("denied by policy")

const query = "data.benchctx.deny"

// Input is the document rules see as input.
type Input struct {
	Context string      `json:"context"`
	OwnerID string      `json:"owner_id"`
	Spec    interface{} `json:"spec"`
}

// Engine evaluates a compiled deny query.
type Engine struct {
	query  rego.PreparedEvalQuery
	tracer trace.Tracer
	logger zerolog.Logger
}

// New compiles a Rego module.
func New(ctx context.Context, name, module string) (*Engine, error) {
	prepared, err := rego.New(
		rego.Query(query),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy %s: %w", name, err)
	}

	return &Engine{
		query:  prepared,
		tracer: otel.Tracer("github.com/yairfalse/benchctx/internal/policy"),
		logger: log.With().Str("component", "policy").Str("policy", name).Logger(),
	}, nil
}

// LoadFile compiles the module at path.
func LoadFile(ctx context.Context, path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return New(ctx, path, string(data))
}

// Admit returns an error wrapping ErrDenied if any deny rule matches.
func (e *Engine) Admit(ctx context.Context, contextName, ownerID string, spec interface{}) error {
	ctx, span := e.tracer.Start(ctx, "policy.Admit", trace.WithAttributes(
		attribute.String("context", contextName),
	))
	defer span.End()

	denials, err := e.Evaluate(ctx, Input{Context: contextName, OwnerID: ownerID, Spec: spec})
	if err != nil {
		return err
	}
	if len(denials) == 0 {
		return nil
	}

	span.SetAttributes(attribute.Int("policy.denials", len(denials)))
	e.logger.Warn().Str("context", contextName).Strs("denials", denials).Msg("spec denied")
	return fmt.Errorf("%w: %s", ErrDenied, strings.Join(denials, "; "))
}

// Evaluate returns the sorted deny messages for input.
func (e *Engine) Evaluate(ctx context.Context, input Input) ([]string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluate policy: %w", err)
	}

	var denials []string
	for _, res := range results {
		for _, expr := range res.Expressions {
			values, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, v := range values {
				denials = append(denials, fmt.Sprint(v))
			}
		}
	}
	sort.Strings(denials)
	return denials, nil
}
