// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package summary builds a model graph without executing it and reports its architecture: output
// shape, the variables it creates, and parameter counts per stage (stem, dense blocks, transitions
// and head).
//
// It is used to compare architectures (see Summary.SameArchitecture) and to pretty-print them in
// the command line (see Summary.Render).
package summary

import (
	"slices"
	"strings"

	"github.com/gomlx/densenet1d/pkg/classifiers"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// Variable describes one model variable. Scope is relative to the context used to build the model.
type Variable struct {
	Scope, Name string
	Shape       shapes.Shape
}

// Stage aggregates the variables of one part of the model.
type Stage struct {
	Name                        string
	NumVariables, NumParameters int
	Memory                      uintptr
}

// Summary of a built model.
type Summary struct {
	Name                    string
	InputShape, OutputShape shapes.Shape
	Variables               []Variable
	NumParameters           int
	Memory                  uintptr

	// Hyperparameters set in the context used to build the model, keyed by "<scope>/<key>".
	Hyperparameters map[string]any
}

// Build the model graph for the given batch size in a new graph of backend, without executing it.
//
// Variables are created in ctx as usual (they are not initialized). The summary lists every variable
// under the model scope, including those only updated during training. Framework panics during the graph
// construction (e.g.: incompatible shapes) are returned as errors.
func Build(backend backends.Backend, ctx *context.Context, model *classifiers.Model, batchSize int) (*Summary, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be > 0, got %d", batchSize)
	}
	cfg := model.Config()
	inputShape := shapes.Make(cfg.DType, append([]int{batchSize}, cfg.InputShape...)...)
	g := NewGraph(backend, "summary_"+model.Name())
	var output *Node
	err := exceptions.TryCatch[error](func() {
		x := Parameter(g, "inputs", inputShape)
		output = model.ModelGraph(ctx, nil, []*Node{x})[0]
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to build %s", model.Name())
	}

	s := &Summary{
		Name:            model.Name(),
		InputShape:      inputShape,
		OutputShape:     output.Shape(),
		Hyperparameters: make(map[string]any),
	}
	// Some variables (e.g.: batch normalization running averages) belong to the model but aren't read by
	// the inference graph, so everything under the model scope is included.
	rootScope := ctx.Scope()
	modelScope := ctx.In(classifiers.ModelScope).Scope()
	ctx.EnumerateVariables(func(v *context.Variable) {
		inModel := v.Scope() == modelScope || strings.HasPrefix(v.Scope(), modelScope+context.ScopeSeparator)
		if !inModel && !v.InUseByGraph(g) {
			return
		}
		s.Variables = append(s.Variables, Variable{
			Scope: relativeScope(rootScope, v.Scope()),
			Name:  v.Name(),
			Shape: v.Shape(),
		})
		s.NumParameters += v.Shape().Size()
		s.Memory += v.Shape().Memory()
	})
	ctx.EnumerateParams(func(scope, key string, value any) {
		if scope == context.RootScope {
			scope = ""
		}
		s.Hyperparameters[scope+context.ScopeSeparator+key] = value
	})
	return s, nil
}

// relativeScope returns scope relative to root, without the leading separator.
func relativeScope(root, scope string) string {
	if root != context.RootScope {
		scope = strings.TrimPrefix(scope, root)
	}
	return strings.TrimPrefix(scope, context.ScopeSeparator)
}

// NumVariables returns the number of variables used by the model.
func (s *Summary) NumVariables() int { return len(s.Variables) }

// SameArchitecture returns whether both summaries have the same output shape and the same ordered list
// of variables (relative scope, name and shape).
func (s *Summary) SameArchitecture(other *Summary) bool {
	if !s.OutputShape.Equal(other.OutputShape) || len(s.Variables) != len(other.Variables) {
		return false
	}
	for ii, v := range s.Variables {
		o := other.Variables[ii]
		if v.Scope != o.Scope || v.Name != o.Name || !v.Shape.Equal(o.Shape) {
			return false
		}
	}
	return true
}

// Stages groups the variables by the top-level part of the model they belong to (e.g.: "stem",
// "dense_block_00", "transition_00", "head"), in the order they were created.
func (s *Summary) Stages() []Stage {
	var stages []Stage
	for _, v := range s.Variables {
		name := stageName(v.Scope)
		idx := slices.IndexFunc(stages, func(stage Stage) bool { return stage.Name == name })
		if idx < 0 {
			stages = append(stages, Stage{Name: name})
			idx = len(stages) - 1
		}
		stages[idx].NumVariables++
		stages[idx].NumParameters += v.Shape.Size()
		stages[idx].Memory += v.Shape.Memory()
	}
	return stages
}

// stageName is the first scope component after classifiers.ModelScope.
func stageName(scope string) string {
	parts := strings.Split(scope, context.ScopeSeparator)
	if len(parts) > 1 && parts[0] == classifiers.ModelScope {
		return parts[1]
	}
	return parts[0]
}
