// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package classifiers builds complete 1D DenseNet models: DenseNet121, DenseNet169, DenseNet201,
// DenseNet264, the fully convolutional DenseFCN and DenseNetCustom.
//
// Each builder takes a Config, validates it, and returns a Model, whose Model.ModelGraph can be used
// directly as a GoMLX model function (e.g.: with train.NewTrainer), or executed with Model.NewExec.
//
// Example:
//
//	cfg := classifiers.DefaultConfig(224, 20)
//	cfg.IncludeTop = true
//	cfg.NumOutputs = 10
//	model, err := classifiers.DenseNet121(cfg)
//	if err != nil { ... }
//	exec, err := model.NewExec(backend, ctx)
//	if err != nil { ... }
//	probabilities := exec.MustExec(inputs)[0]
package classifiers

import (
	"slices"

	"github.com/gomlx/densenet1d/pkg/blocks"
	"github.com/gomlx/densenet1d/pkg/network"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

var (
	// ErrMissingBlockSizes is returned (wrapped) when a builder that requires block sizes is given none.
	ErrMissingBlockSizes = network.ErrMissingBlockSizes

	// ErrInvalidTheta is returned (wrapped) when the compression factor is not in (0, 1].
	ErrInvalidTheta = blocks.ErrInvalidTheta

	// ErrInvalidInputShape is returned (wrapped) when the input shape is not a valid (sequence, channels) pair,
	// and it is the panic raised by Model.ModelGraph when the actual input doesn't match it.
	ErrInvalidInputShape = errors.New("invalid input shape")

	// ErrUnknownModel is returned (wrapped) by FromName for names not in KnownModels.
	ErrUnknownModel = errors.New("unknown model")
)

const (
	// ParamNumOutputs is the hyperparameter with the number of outputs (classes) of the classification
	// head. Default is 1000 (int).
	ParamNumOutputs = "densenet_num_outputs"

	// ParamIncludeTop is the hyperparameter that enables the classification head. Default is false (bool).
	ParamIncludeTop = "densenet_include_top"

	// ParamBlockSizes is the hyperparameter with the number of layers per dense block, used by DenseFCN
	// and DenseNetCustom. Default is empty ([]int): DenseFCN then uses DenseNet121's, and DenseNetCustom
	// fails with ErrMissingBlockSizes.
	ParamBlockSizes = "densenet_block_sizes"
)

// Block sizes of the named DenseNet variants.
var (
	BlockSizes121 = []int{6, 12, 24, 16}
	BlockSizes169 = []int{6, 12, 32, 32}
	BlockSizes201 = []int{6, 12, 48, 32}
	BlockSizes264 = []int{6, 12, 64, 48}
)

// Config holds every option of the classifier builders. Create it with DefaultConfig, FCNConfig or
// CustomConfig and change the fields as needed.
type Config struct {
	// InputShape excludes the batch dimension: (sequence, channels), or (channels, sequence) for
	// images.ChannelsFirst.
	InputShape []int

	// NumOutputs of the head (number of classes for the softmax head, or channels for DenseFCN).
	NumOutputs int

	GrowthRate, KernelWidth, Bottleneck  int
	TransitionPoolSize, TransitionStride int
	Theta                                float64

	InitialConvWidth, InitialStride, InitialFilters int
	InitialPoolWidth, InitialPoolStride             int

	// IncludeTop adds a dense layer to NumOutputs followed by a softmax. Ignored by DenseFCN.
	IncludeTop bool

	// SqueezeExcite is only used by DenseNetCustom and DenseFCN: the named variants always disable it.
	SqueezeExcite      bool
	SqueezeExciteRatio int

	// BlockSizes is only used by DenseNetCustom and DenseFCN: the named variants use their own.
	BlockSizes []int

	// TrailingTransition adds a transition block after the last dense block too.
	TrailingTransition bool

	ChannelsAxis images.ChannelsAxisConfig

	// DType of the model: inputs are converted to it, and variables are created with it.
	DType dtypes.DType
}

// DefaultConfig returns the default configuration for the given input shape (without the batch dimension).
func DefaultConfig(inputShape ...int) Config {
	netCfg := network.DefaultConfig()
	return Config{
		InputShape:         slices.Clone(inputShape),
		NumOutputs:         1000,
		GrowthRate:         netCfg.GrowthRate,
		KernelWidth:        netCfg.KernelWidth,
		Bottleneck:         netCfg.Bottleneck,
		TransitionPoolSize: netCfg.TransitionPoolSize,
		TransitionStride:   netCfg.TransitionStride,
		Theta:              netCfg.Theta,
		InitialConvWidth:   netCfg.InitialConvWidth,
		InitialStride:      netCfg.InitialStride,
		InitialFilters:     netCfg.InitialFilters,
		InitialPoolWidth:   netCfg.InitialPoolWidth,
		InitialPoolStride:  netCfg.InitialPoolStride,
		SqueezeExciteRatio: netCfg.SqueezeExciteRatio,
		TrailingTransition: netCfg.TrailingTransition,
		ChannelsAxis:       netCfg.ChannelsAxis,
		DType:              dtypes.Float32,
	}
}

// FCNConfig returns the default configuration of DenseFCN: 5 outputs and DenseNet121's block sizes.
func FCNConfig(inputShape ...int) Config {
	cfg := DefaultConfig(inputShape...)
	cfg.NumOutputs = 5
	cfg.BlockSizes = slices.Clone(BlockSizes121)
	return cfg
}

// CustomConfig returns the default configuration of DenseNetCustom: squeeze-excite enabled, and the
// given block sizes.
func CustomConfig(blockSizes []int, inputShape ...int) Config {
	cfg := DefaultConfig(inputShape...)
	cfg.SqueezeExcite = true
	cfg.BlockSizes = slices.Clone(blockSizes)
	return cfg
}

// networkConfig converts to the feature extractor configuration.
func (cfg Config) networkConfig(blockSizes []int, globalPooling, squeezeExcite bool) *network.Config {
	return &network.Config{
		BlockSizes:         slices.Clone(blockSizes),
		GrowthRate:         cfg.GrowthRate,
		KernelWidth:        cfg.KernelWidth,
		Bottleneck:         cfg.Bottleneck,
		TransitionPoolSize: cfg.TransitionPoolSize,
		TransitionStride:   cfg.TransitionStride,
		Theta:              cfg.Theta,
		InitialConvWidth:   cfg.InitialConvWidth,
		InitialStride:      cfg.InitialStride,
		InitialFilters:     cfg.InitialFilters,
		InitialPoolWidth:   cfg.InitialPoolWidth,
		InitialPoolStride:  cfg.InitialPoolStride,
		GlobalPooling:      globalPooling,
		SqueezeExcite:      squeezeExcite,
		SqueezeExciteRatio: cfg.SqueezeExciteRatio,
		TrailingTransition: cfg.TrailingTransition,
		ChannelsAxis:       cfg.ChannelsAxis,
	}
}

// CreateDefaultContext returns a context with every hyperparameter used by the classifiers set to its
// default value, so they can be overridden (e.g.: from the command line with commandline.ParseContextSettings).
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	cfg := DefaultConfig()
	ctx.SetParams(map[string]any{
		blocks.ParamGrowthRate:          cfg.GrowthRate,
		blocks.ParamKernelWidth:         cfg.KernelWidth,
		blocks.ParamBottleneck:          cfg.Bottleneck,
		blocks.ParamTransitionPoolSize:  cfg.TransitionPoolSize,
		blocks.ParamTransitionStride:    cfg.TransitionStride,
		blocks.ParamTheta:               cfg.Theta,
		blocks.ParamSqueezeExcite:       cfg.SqueezeExcite,
		blocks.ParamSqueezeExciteRatio:  cfg.SqueezeExciteRatio,
		network.ParamInitialConvWidth:   cfg.InitialConvWidth,
		network.ParamInitialStride:      cfg.InitialStride,
		network.ParamInitialFilters:     cfg.InitialFilters,
		network.ParamInitialPoolWidth:   cfg.InitialPoolWidth,
		network.ParamInitialPoolStride:  cfg.InitialPoolStride,
		network.ParamTrailingTransition: cfg.TrailingTransition,
		ParamNumOutputs:                 cfg.NumOutputs,
		ParamIncludeTop:                 cfg.IncludeTop,
		ParamBlockSizes:                 []int{},
	})
	return ctx
}

// ConfigFromContext returns the DefaultConfig for the given input shape, overridden by the hyperparameters
// set in ctx.
func ConfigFromContext(ctx *context.Context, inputShape ...int) Config {
	cfg := DefaultConfig(inputShape...)
	netCfg := network.ConfigFromContext(ctx, context.GetParamOr(ctx, ParamBlockSizes, []int(nil)))
	if len(netCfg.BlockSizes) > 0 {
		cfg.BlockSizes = netCfg.BlockSizes
	}
	cfg.GrowthRate = netCfg.GrowthRate
	cfg.KernelWidth = netCfg.KernelWidth
	cfg.Bottleneck = netCfg.Bottleneck
	cfg.TransitionPoolSize = netCfg.TransitionPoolSize
	cfg.TransitionStride = netCfg.TransitionStride
	cfg.Theta = netCfg.Theta
	cfg.SqueezeExcite = netCfg.SqueezeExcite
	cfg.SqueezeExciteRatio = netCfg.SqueezeExciteRatio
	cfg.InitialConvWidth = netCfg.InitialConvWidth
	cfg.InitialStride = netCfg.InitialStride
	cfg.InitialFilters = netCfg.InitialFilters
	cfg.InitialPoolWidth = netCfg.InitialPoolWidth
	cfg.InitialPoolStride = netCfg.InitialPoolStride
	cfg.TrailingTransition = netCfg.TrailingTransition
	cfg.NumOutputs = context.GetParamOr(ctx, ParamNumOutputs, cfg.NumOutputs)
	cfg.IncludeTop = context.GetParamOr(ctx, ParamIncludeTop, cfg.IncludeTop)
	return cfg
}

// validateInputShape checks that the configured input shape is a (sequence, channels) pair.
func (cfg Config) validateInputShape() error {
	if len(cfg.InputShape) != 2 {
		return errors.Wrapf(ErrInvalidInputShape,
			"input shape must be (sequence, channels) (without the batch dimension), got %v", cfg.InputShape)
	}
	for _, dim := range cfg.InputShape {
		if dim <= 0 {
			return errors.Wrapf(ErrInvalidInputShape, "input dimensions must be > 0, got %v", cfg.InputShape)
		}
	}
	return nil
}
