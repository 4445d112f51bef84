// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package network assembles a 1D DenseNet feature extractor: a convolutional stem, a sequence of
// dense blocks each followed by a transition block, and an optional global average pooling.
//
// The usual entry point is Config: start from DefaultConfig (or ConfigFromContext), set
// BlockSizes, and call Config.Apply inside a model function:
//
//	func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
//		cfg := network.ConfigFromContext(ctx, []int{6, 12, 24, 16})
//		features := cfg.Apply(ctx.In("model"), inputs[0])
//		...
//	}
//
// The classifiers package wraps it with the named DenseNet variants and the classification heads.
package network

import (
	"slices"

	"github.com/gomlx/densenet1d/pkg/blocks"
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// ParamInitialConvWidth is the hyperparameter with the width of the stem convolution. Default is 7 (int).
	ParamInitialConvWidth = "densenet_initial_conv_width"

	// ParamInitialStride is the hyperparameter with the stride of the stem convolution. Default is 2 (int).
	ParamInitialStride = "densenet_initial_stride"

	// ParamInitialFilters is the hyperparameter with the number of channels output by the stem
	// convolution. Default is 64 (int).
	ParamInitialFilters = "densenet_initial_filters"

	// ParamInitialPoolWidth is the hyperparameter with the window of the stem max pooling. Default is 3 (int).
	ParamInitialPoolWidth = "densenet_initial_pool_width"

	// ParamInitialPoolStride is the hyperparameter with the stride of the stem max pooling. Default is 2 (int).
	ParamInitialPoolStride = "densenet_initial_pool_stride"

	// ParamTrailingTransition is the hyperparameter that controls whether the last dense block is also
	// followed by a transition block. Default is true (bool).
	ParamTrailingTransition = "densenet_trailing_transition"
)

// ErrMissingBlockSizes is returned (wrapped) when the configuration has no dense blocks.
var ErrMissingBlockSizes = errors.New("block sizes must be given, with one entry per dense block")

// Config of a DenseNet feature extractor. Create it with DefaultConfig or ConfigFromContext.
type Config struct {
	// BlockSizes has the number of convolutional units of each dense block. It must not be empty.
	BlockSizes []int

	// GrowthRate "k" is the number of channels added by each convolutional unit.
	GrowthRate int

	// KernelWidth of the main convolution of each convolutional unit.
	KernelWidth int

	// Bottleneck multiplier of the convolutional units, 0 disables the bottleneck.
	Bottleneck int

	// TransitionPoolSize and TransitionStride configure the average pooling of the transition blocks.
	TransitionPoolSize, TransitionStride int

	// Theta is the compression factor of the transition blocks, in (0, 1].
	Theta float64

	// Stem configuration: a convolution followed by a max pooling.
	InitialConvWidth, InitialStride, InitialFilters int
	InitialPoolWidth, InitialPoolStride             int

	// GlobalPooling averages the features over the sequence axis, the output is then shaped [batch, channels].
	GlobalPooling bool

	// SqueezeExcite enables squeeze-excite gating in the dense blocks and the transitions.
	SqueezeExcite      bool
	SqueezeExciteRatio int

	// TrailingTransition adds a transition block after the last dense block as well.
	TrailingTransition bool

	// ChannelsAxis configures where the channels axis is in the input.
	ChannelsAxis images.ChannelsAxisConfig
}

// DefaultConfig returns the DenseNet121 configuration, without BlockSizes.
func DefaultConfig() *Config {
	return &Config{
		GrowthRate:         blocks.DefaultGrowthRate,
		KernelWidth:        blocks.DefaultKernelWidth,
		Bottleneck:         blocks.DefaultBottleneck,
		TransitionPoolSize: blocks.DefaultTransitionPoolSize,
		TransitionStride:   blocks.DefaultTransitionStride,
		Theta:              blocks.DefaultTheta,
		InitialConvWidth:   7,
		InitialStride:      2,
		InitialFilters:     64,
		InitialPoolWidth:   3,
		InitialPoolStride:  2,
		GlobalPooling:      true,
		SqueezeExciteRatio: blocks.DefaultSqueezeExciteRatio,
		TrailingTransition: true,
		ChannelsAxis:       images.ChannelsLast,
	}
}

// ConfigFromContext returns DefaultConfig with the given block sizes, overridden by the hyperparameters
// set in the context (see the Param* constants in this package and in package blocks).
func ConfigFromContext(ctx *context.Context, blockSizes []int) *Config {
	cfg := DefaultConfig()
	cfg.BlockSizes = slices.Clone(blockSizes)
	cfg.GrowthRate = context.GetParamOr(ctx, blocks.ParamGrowthRate, cfg.GrowthRate)
	cfg.KernelWidth = context.GetParamOr(ctx, blocks.ParamKernelWidth, cfg.KernelWidth)
	cfg.Bottleneck = context.GetParamOr(ctx, blocks.ParamBottleneck, cfg.Bottleneck)
	cfg.TransitionPoolSize = context.GetParamOr(ctx, blocks.ParamTransitionPoolSize, cfg.TransitionPoolSize)
	cfg.TransitionStride = context.GetParamOr(ctx, blocks.ParamTransitionStride, cfg.TransitionStride)
	cfg.Theta = context.GetParamOr(ctx, blocks.ParamTheta, cfg.Theta)
	cfg.SqueezeExcite = context.GetParamOr(ctx, blocks.ParamSqueezeExcite, cfg.SqueezeExcite)
	cfg.SqueezeExciteRatio = context.GetParamOr(ctx, blocks.ParamSqueezeExciteRatio, cfg.SqueezeExciteRatio)
	cfg.InitialConvWidth = context.GetParamOr(ctx, ParamInitialConvWidth, cfg.InitialConvWidth)
	cfg.InitialStride = context.GetParamOr(ctx, ParamInitialStride, cfg.InitialStride)
	cfg.InitialFilters = context.GetParamOr(ctx, ParamInitialFilters, cfg.InitialFilters)
	cfg.InitialPoolWidth = context.GetParamOr(ctx, ParamInitialPoolWidth, cfg.InitialPoolWidth)
	cfg.InitialPoolStride = context.GetParamOr(ctx, ParamInitialPoolStride, cfg.InitialPoolStride)
	cfg.TrailingTransition = context.GetParamOr(ctx, ParamTrailingTransition, cfg.TrailingTransition)
	return cfg
}

// Validate the configuration. It is called by Apply before any node is created.
func (cfg *Config) Validate() error {
	if len(cfg.BlockSizes) == 0 {
		return errors.WithStack(ErrMissingBlockSizes)
	}
	for ii, size := range cfg.BlockSizes {
		if size < 0 {
			return errors.Wrapf(blocks.ErrInvalidConfig, "BlockSizes[%d]=%d must be >= 0", ii, size)
		}
	}
	stem := []struct {
		name  string
		value int
	}{
		{"InitialConvWidth", cfg.InitialConvWidth},
		{"InitialStride", cfg.InitialStride},
		{"InitialFilters", cfg.InitialFilters},
		{"InitialPoolWidth", cfg.InitialPoolWidth},
		{"InitialPoolStride", cfg.InitialPoolStride},
	}
	for _, field := range stem {
		if field.value <= 0 {
			return errors.Wrapf(blocks.ErrInvalidConfig, "%s=%d must be > 0", field.name, field.value)
		}
	}
	if err := cfg.transition().Validate(); err != nil {
		return err
	}
	return cfg.denseBlock(cfg.BlockSizes[0]).Validate()
}

func (cfg *Config) denseBlock(numLayers int) *blocks.DenseBlock {
	return blocks.NewDenseBlock(cfg.GrowthRate, numLayers).
		KernelWidth(cfg.KernelWidth).
		Bottleneck(cfg.Bottleneck).
		SqueezeExcite(cfg.SqueezeExcite).
		SqueezeExciteRatio(cfg.SqueezeExciteRatio).
		ChannelsAxis(cfg.ChannelsAxis)
}

func (cfg *Config) transition() *blocks.Transition {
	return blocks.NewTransition(cfg.Theta).
		PoolSize(cfg.TransitionPoolSize).
		Stride(cfg.TransitionStride).
		SqueezeExcite(cfg.SqueezeExcite).
		SqueezeExciteRatio(cfg.SqueezeExciteRatio).
		ChannelsAxis(cfg.ChannelsAxis)
}

// NumTransitions returns how many transition blocks the network has.
func (cfg *Config) NumTransitions() int {
	if cfg.TrailingTransition {
		return len(cfg.BlockSizes)
	}
	return max(len(cfg.BlockSizes)-1, 0)
}

// Blocks returns the configured dense blocks (one per BlockSizes entry) and transitions (see NumTransitions).
func (cfg *Config) Blocks() (denseBlocks []*blocks.DenseBlock, transitions []*blocks.Transition, err error) {
	if err = cfg.Validate(); err != nil {
		return nil, nil, err
	}
	denseBlocks = make([]*blocks.DenseBlock, len(cfg.BlockSizes))
	for ii, size := range cfg.BlockSizes {
		denseBlocks[ii] = cfg.denseBlock(size)
	}
	transitions = make([]*blocks.Transition, cfg.NumTransitions())
	for ii := range transitions {
		transitions[ii] = cfg.transition()
	}
	return
}

// Apply the network to x, shaped [batch, sequence, channels] (or [batch, channels, sequence] for
// images.ChannelsFirst).
//
// It returns the features shaped [batch, channels] if GlobalPooling is set, or the full resolution
// feature map otherwise. It panics with the validation error, before creating any node, if the
// configuration is invalid.
func (cfg *Config) Apply(ctx *context.Context, x *Node) *Node {
	denseBlocks, transitions, err := cfg.Blocks()
	if err != nil {
		panic(err)
	}
	if x.Rank() != 3 {
		exceptions.Panicf("DenseNet input must be rank-3, shaped [batch, sequence, channels] (or "+
			"[batch, channels, sequence]), got x.shape=%s", x.Shape())
	}
	channelsAxis := images.GetChannelsAxis(x, cfg.ChannelsAxis)
	sequenceAxis := images.GetSpatialAxes(x, cfg.ChannelsAxis)[0]

	// Stem.
	stemCtx := ctx.In("stem")
	x = layers.Convolution(stemCtx, x).
		ChannelsAxis(cfg.ChannelsAxis).
		Channels(cfg.InitialFilters).
		KernelSize(cfg.InitialConvWidth).
		Strides(cfg.InitialStride).
		PadSame().
		Done()
	x = batchnorm.New(stemCtx, x, channelsAxis).Done()
	x = activations.Relu(x)
	x = MaxPool(x).
		ChannelsAxis(cfg.ChannelsAxis).
		Window(cfg.InitialPoolWidth).
		Strides(cfg.InitialPoolStride).
		PadSame().
		Done()
	klog.V(1).Infof("DenseNet stem: %s", x.Shape())

	for ii, block := range denseBlocks {
		x = block.Apply(ctx.Inf("dense_block_%02d", ii), x)
		klog.V(1).Infof("DenseNet dense block #%d (%d layers): %s", ii, block.NumLayers(), x.Shape())
		if ii < len(transitions) {
			x = transitions[ii].Apply(ctx.Inf("transition_%02d", ii), x)
			klog.V(1).Infof("DenseNet transition #%d: %s", ii, x.Shape())
		}
	}

	if cfg.GlobalPooling {
		x = ReduceMean(x, sequenceAxis)
		klog.V(1).Infof("DenseNet global pooling: %s", x.Shape())
	}
	return x
}

// OutputShape returns the dimensions (excluding the batch dimension) of the output of Apply, for an
// input with the given dimensions (also excluding the batch dimension).
//
// It doesn't build any graph, and it errors if the configuration or the input dimensions are invalid.
func (cfg *Config) OutputShape(inputDims []int) ([]int, error) {
	denseBlocks, transitions, err := cfg.Blocks()
	if err != nil {
		return nil, err
	}
	if len(inputDims) != 2 || inputDims[0] <= 0 || inputDims[1] <= 0 {
		return nil, errors.Wrapf(blocks.ErrInvalidConfig,
			"input dimensions must be (sequence, channels) (or (channels, sequence)), got %v", inputDims)
	}
	length := inputDims[0]
	if cfg.ChannelsAxis == images.ChannelsFirst {
		length = inputDims[1]
	}

	length = ceilDiv(length, cfg.InitialStride)
	length = ceilDiv(length, cfg.InitialPoolStride)
	channels := cfg.InitialFilters
	for ii, block := range denseBlocks {
		channels = block.OutputChannels(channels)
		if ii < len(transitions) {
			channels = transitions[ii].OutputChannels(channels)
			length = transitions[ii].OutputLength(length)
			if channels <= 0 {
				return nil, errors.Wrapf(blocks.ErrInvalidConfig,
					"transition #%d with theta=%g compresses the features to 0 channels", ii, cfg.Theta)
			}
		}
	}

	switch {
	case cfg.GlobalPooling:
		return []int{channels}, nil
	case cfg.ChannelsAxis == images.ChannelsFirst:
		return []int{channels, length}, nil
	default:
		return []int{length, channels}, nil
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
