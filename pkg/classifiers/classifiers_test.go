// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifiers

import (
	"fmt"
	"strings"
	"testing"

	"github.com/gomlx/densenet1d/pkg/blocks"
	"github.com/gomlx/densenet1d/pkg/network"
	"github.com/gomlx/exceptions"
	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tinyConfig returns a configuration small enough to be executed quickly in tests.
func tinyConfig(inputShape ...int) Config {
	cfg := DefaultConfig(inputShape...)
	cfg.GrowthRate = 4
	cfg.InitialFilters = 8
	cfg.NumOutputs = 3
	return cfg
}

// buildModel builds (without executing) the model graph for the given batch size, and returns the
// context with the variables created and the output node.
func buildModel(t *testing.T, model *Model, batchSize int) (*context.Context, *Node) {
	backend := graphtest.BuildTestBackend()
	g := NewGraph(backend, t.Name())
	ctx := context.New()
	dims := append([]int{batchSize}, model.Config().InputShape...)
	x := Ones(g, shapes.Make(dtypes.Float32, dims...))
	return ctx, model.ModelGraph(ctx, nil, []*Node{x})[0]
}

// variablesSignature lists the scope, name and shape of every variable in ctx, in creation order.
func variablesSignature(ctx *context.Context) (signature []string) {
	ctx.EnumerateVariables(func(v *context.Variable) {
		signature = append(signature, fmt.Sprintf("%s/%s: %s", v.Scope(), v.Name(), v.Shape()))
	})
	return
}

func TestDenseNet121(t *testing.T) {
	cfg := DefaultConfig(224, 20)
	model, err := DenseNet121(cfg)
	require.NoError(t, err)
	assert.Equal(t, "densenet121", model.Name())
	assert.Equal(t, BlockSizes121, model.Config().BlockSizes)
	assert.Equal(t, []int{8, 512}, model.OutputShape(8))

	ctx, y := buildModel(t, model, 2)
	require.NoError(t, y.Shape().Check(dtypes.Float32, 2, 512))
	assert.Greater(t, ctx.NumVariables(), 0)
	ctx.EnumerateVariables(func(v *context.Variable) {
		assert.Contains(t, v.Scope(), "/model/")
		assert.NotContains(t, v.Scope(), "se_excite")
	})

	// Without the trailing transition, the last dense block output goes directly to the global pooling.
	cfg.TrailingTransition = false
	model, err = DenseNet121(cfg)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1024}, model.OutputShape(2))
	_, y = buildModel(t, model, 2)
	require.NoError(t, y.Shape().Check(dtypes.Float32, 2, 1024))
}

func TestNamedVariants(t *testing.T) {
	// Last dense block channels (before the trailing transition) for k=32:
	// 169: 640 + 32*32 = 1664, 201: 896 + 32*32 = 1920, 264: 1152 + 48*32 = 2688.
	for _, tc := range []struct {
		name       string
		build      func(Config) (*Model, error)
		blockSizes []int
		features   int
	}{
		{"densenet169", DenseNet169, BlockSizes169, 1664 / 2},
		{"densenet201", DenseNet201, BlockSizes201, 1920 / 2},
		{"densenet264", DenseNet264, BlockSizes264, 2688 / 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig(224, 20)
			cfg.BlockSizes = []int{1} // Ignored by the named variants.
			cfg.SqueezeExcite = true  // Ignored by the named variants.
			model, err := tc.build(cfg)
			require.NoError(t, err)
			assert.Equal(t, tc.name, model.Name())
			assert.Equal(t, tc.blockSizes, model.Config().BlockSizes)
			assert.False(t, model.Config().SqueezeExcite)
			assert.Equal(t, []int{1, tc.features}, model.OutputShape(1))

			byName, err := FromName(tc.name, cfg)
			require.NoError(t, err)
			assert.Equal(t, model.OutputShape(3), byName.OutputShape(3))
		})
	}
}

func TestDenseNetCustom(t *testing.T) {
	t.Run("missing-block-sizes", func(t *testing.T) {
		_, err := DenseNetCustom(DefaultConfig(224, 20))
		require.ErrorIs(t, err, ErrMissingBlockSizes)
		_, err = DenseNetCustom(CustomConfig([]int{}, 224, 20))
		require.ErrorIs(t, err, ErrMissingBlockSizes)
		_, err = FromName("custom", DefaultConfig(224, 20))
		require.ErrorIs(t, err, ErrMissingBlockSizes)
	})

	t.Run("squeeze-excite", func(t *testing.T) {
		cfg := CustomConfig([]int{2, 2}, 32, 3)
		cfg.GrowthRate = 8
		cfg.InitialFilters = 16
		assert.True(t, cfg.SqueezeExcite)
		model, err := DenseNetCustom(cfg)
		require.NoError(t, err)
		ctx, y := buildModel(t, model, 2)
		// Channels: 16 -> 32 -> 16 -> 32 -> 16.
		require.NoError(t, y.Shape().Check(dtypes.Float32, 2, 16))
		var gates int
		ctx.EnumerateVariables(func(v *context.Variable) {
			if v.Name() == "weights" && strings.HasSuffix(v.Scope(), "se_excite/dense") {
				gates++
			}
		})
		// One gate per convolutional unit plus one per transition.
		assert.Equal(t, 2+2+2, gates)
	})

	t.Run("invalid-theta", func(t *testing.T) {
		cfg := CustomConfig([]int{2, 2}, 32, 3)
		cfg.Theta = 0
		_, err := DenseNetCustom(cfg)
		require.ErrorIs(t, err, ErrInvalidTheta)
		cfg.Theta = 1.2
		_, err = DenseNet121(cfg)
		require.ErrorIs(t, err, ErrInvalidTheta)
	})

	t.Run("softmax", func(t *testing.T) {
		backend := graphtest.BuildTestBackend()
		cfg := tinyConfig(24, 2)
		cfg.BlockSizes = []int{1, 2}
		cfg.IncludeTop = true
		model, err := DenseNetCustom(cfg)
		require.NoError(t, err)
		assert.Equal(t, []int{4, 3}, model.OutputShape(4))

		ctx := context.New()
		exec, err := model.NewExec(backend, ctx)
		require.NoError(t, err)
		flat := make([]float32, 4*24*2)
		for ii := range flat {
			flat[ii] = float32(ii%7) - 3
		}
		input := tensors.FromFlatDataAndDimensions(flat, 4, 24, 2)
		probabilities := exec.MustExec(input)[0]
		require.NoError(t, probabilities.Shape().Check(dtypes.Float32, 4, 3))
		for _, row := range probabilities.Value().([][]float32) {
			var sum float32
			for _, p := range row {
				assert.GreaterOrEqual(t, p, float32(0))
				sum += p
			}
			assert.InDelta(t, 1.0, sum, 1e-4)
		}
		assert.Greater(t, ctx.NumVariables(), 0)
	})
}

func TestDenseFCN(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := FCNConfig(224, 20)
		assert.Equal(t, 5, cfg.NumOutputs)
		model, err := DenseFCN(cfg)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 4, 5}, model.OutputShape(2))

		// Nil block sizes default to DenseNet121's, empty ones are an error.
		cfg = DefaultConfig(224, 20)
		cfg.NumOutputs = 5
		model, err = DenseFCN(cfg)
		require.NoError(t, err)
		assert.Equal(t, BlockSizes121, model.Config().BlockSizes)
		cfg.BlockSizes = []int{}
		_, err = DenseFCN(cfg)
		require.ErrorIs(t, err, ErrMissingBlockSizes)
	})

	t.Run("probabilities", func(t *testing.T) {
		backend := graphtest.BuildTestBackend()
		cfg := tinyConfig(40, 3)
		cfg.BlockSizes = []int{2, 2}
		cfg.TrailingTransition = false
		model, err := DenseFCN(cfg)
		require.NoError(t, err)
		// Length: 40 -> 20 -> 10 -> 5.
		assert.Equal(t, []int{2, 5, 3}, model.OutputShape(2))

		ctx := context.New()
		output := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			x := IotaFull(g, shapes.Make(dtypes.Float32, 2, 40, 3))
			x = DivScalar(x, 240)
			return model.ModelGraph(ctx, nil, []*Node{x})[0]
		})
		require.NoError(t, output.Shape().Check(dtypes.Float32, 2, 5, 3))
		for _, example := range output.Value().([][][]float32) {
			for _, position := range example {
				for _, p := range position {
					assert.GreaterOrEqual(t, p, float32(0))
					assert.LessOrEqual(t, p, float32(1))
				}
			}
		}
	})

	t.Run("channels-first", func(t *testing.T) {
		cfg := tinyConfig(3, 40)
		cfg.BlockSizes = []int{1}
		cfg.ChannelsAxis = images.ChannelsFirst
		model, err := DenseFCN(cfg)
		require.NoError(t, err)
		// Length: 40 -> 20 -> 10 -> 5.
		assert.Equal(t, []int{2, 3, 5}, model.OutputShape(2))
		_, y := buildModel(t, model, 2)
		assert.Equal(t, model.OutputShape(2), y.Shape().Dimensions)
	})
}

func TestSameArchitecture(t *testing.T) {
	cfg := tinyConfig(32, 4)
	cfg.BlockSizes = []int{2, 3}
	model1, err := DenseNetCustom(cfg)
	require.NoError(t, err)
	model2, err := DenseNetCustom(cfg)
	require.NoError(t, err)

	ctx1, y1 := buildModel(t, model1, 2)
	ctx2, y2 := buildModel(t, model2, 2)
	assert.Equal(t, y1.Shape(), y2.Shape())
	assert.Equal(t, variablesSignature(ctx1), variablesSignature(ctx2))

	// Distinct variables: changing one context doesn't touch the other.
	var first1, first2 *context.Variable
	ctx1.EnumerateVariables(func(v *context.Variable) {
		if first1 == nil {
			first1 = v
		}
	})
	ctx2.EnumerateVariables(func(v *context.Variable) {
		if first2 == nil {
			first2 = v
		}
	})
	require.NotNil(t, first1)
	assert.NotSame(t, first1, first2)
}

func TestFromName(t *testing.T) {
	for _, name := range KnownModels {
		cfg := tinyConfig(64, 2)
		cfg.BlockSizes = []int{1, 1}
		model, err := FromName(name, cfg)
		require.NoErrorf(t, err, "model %q", name)
		assert.Equal(t, name, model.Name())
	}
	_, err := FromName("DenseNet121", DefaultConfig(64, 2))
	require.NoError(t, err)
	_, err = FromName("resnet50", DefaultConfig(64, 2))
	require.ErrorIs(t, err, ErrUnknownModel)
}

func TestInputShape(t *testing.T) {
	_, err := DenseNet121(DefaultConfig(224))
	require.ErrorIs(t, err, ErrInvalidInputShape)
	_, err = DenseNet121(DefaultConfig(0, 20))
	require.ErrorIs(t, err, ErrInvalidInputShape)

	cfg := tinyConfig(16, 2)
	cfg.IncludeTop = true
	cfg.NumOutputs = 0
	_, err = DenseNet121(cfg)
	require.ErrorIs(t, err, blocks.ErrInvalidConfig)

	// Building with an input that doesn't match the configuration panics with ErrInvalidInputShape.
	cfg = tinyConfig(16, 2)
	cfg.BlockSizes = []int{1}
	model, err := DenseNetCustom(cfg)
	require.NoError(t, err)
	backend := graphtest.BuildTestBackend()
	g := NewGraph(backend, "mismatch")
	x := Ones(g, shapes.Make(dtypes.Float32, 2, 16, 3))
	err = exceptions.TryCatch[error](func() { model.ModelGraph(context.New(), nil, []*Node{x}) })
	require.ErrorIs(t, err, ErrInvalidInputShape)
}

func TestConfigFromContext(t *testing.T) {
	ctx := CreateDefaultContext()
	cfg := ConfigFromContext(ctx, 128, 4)
	assert.Equal(t, DefaultConfig(128, 4).GrowthRate, cfg.GrowthRate)
	assert.Nil(t, cfg.BlockSizes)
	assert.Equal(t, 1000, cfg.NumOutputs)
	assert.False(t, cfg.IncludeTop)

	// Without block sizes the custom model can't be built, while DenseFCN defaults to DenseNet121's.
	_, err := DenseNetCustom(ConfigFromContext(ctx, 32, 4))
	require.ErrorIs(t, err, ErrMissingBlockSizes)
	fcn, err := DenseFCN(ConfigFromContext(ctx, 64, 4))
	require.NoError(t, err)
	assert.Equal(t, BlockSizes121, fcn.Config().BlockSizes)

	ctx.SetParams(map[string]any{
		blocks.ParamGrowthRate:          12,
		blocks.ParamTheta:               0.25,
		network.ParamInitialFilters:     24,
		network.ParamTrailingTransition: false,
		ParamBlockSizes:                 []int{3, 3},
		ParamNumOutputs:                 7,
		ParamIncludeTop:                 true,
	})
	cfg = ConfigFromContext(ctx, 128, 4)
	assert.Equal(t, 12, cfg.GrowthRate)
	assert.Equal(t, 0.25, cfg.Theta)
	assert.Equal(t, 24, cfg.InitialFilters)
	assert.False(t, cfg.TrailingTransition)
	assert.Equal(t, []int{3, 3}, cfg.BlockSizes)
	assert.Equal(t, 7, cfg.NumOutputs)
	assert.True(t, cfg.IncludeTop)

	model, err := DenseNetCustom(cfg)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 7}, model.OutputShape(5))
}
