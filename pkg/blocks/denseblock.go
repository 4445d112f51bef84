// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package blocks

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// DenseBlock applies numLayers convolutional units, where the input of each unit is the
// concatenation (on the channels axis) of the block input and the outputs of all previous units.
//
// Create it with NewDenseBlock or NewDenseBlockFromContext, and apply it with DenseBlock.Apply.
type DenseBlock struct {
	growthRate, numLayers   int
	kernelWidth, bottleneck int
	squeezeExcite           bool
	squeezeExciteRatio      int
	channelsAxisConfig      images.ChannelsAxisConfig
}

// NewDenseBlock creates a dense block with numLayers convolutional units, each adding growthRate channels.
func NewDenseBlock(growthRate, numLayers int) *DenseBlock {
	return &DenseBlock{
		growthRate:         growthRate,
		numLayers:          numLayers,
		kernelWidth:        DefaultKernelWidth,
		bottleneck:         DefaultBottleneck,
		squeezeExciteRatio: DefaultSqueezeExciteRatio,
		channelsAxisConfig: images.ChannelsLast,
	}
}

// NewDenseBlockFromContext creates a dense block with numLayers convolutional units, taking the
// growth rate and the other options from the context hyperparameters (see ParamGrowthRate,
// ParamKernelWidth, ParamBottleneck, ParamSqueezeExcite and ParamSqueezeExciteRatio).
func NewDenseBlockFromContext(ctx *context.Context, numLayers int) *DenseBlock {
	return NewDenseBlock(context.GetParamOr(ctx, ParamGrowthRate, DefaultGrowthRate), numLayers).
		KernelWidth(context.GetParamOr(ctx, ParamKernelWidth, DefaultKernelWidth)).
		Bottleneck(context.GetParamOr(ctx, ParamBottleneck, DefaultBottleneck)).
		SqueezeExcite(context.GetParamOr(ctx, ParamSqueezeExcite, false)).
		SqueezeExciteRatio(context.GetParamOr(ctx, ParamSqueezeExciteRatio, DefaultSqueezeExciteRatio))
}

// KernelWidth sets the width of the main convolution of each unit. Default is 3.
func (b *DenseBlock) KernelWidth(width int) *DenseBlock {
	b.kernelWidth = width
	return b
}

// Bottleneck sets the bottleneck multiplier of each unit, 0 disables it. Default is 4.
func (b *DenseBlock) Bottleneck(multiplier int) *DenseBlock {
	b.bottleneck = multiplier
	return b
}

// SqueezeExcite enables a squeeze-excite gate after each concatenation. Default is false.
func (b *DenseBlock) SqueezeExcite(enabled bool) *DenseBlock {
	b.squeezeExcite = enabled
	return b
}

// SqueezeExciteRatio sets the ratio used by the squeeze-excite gates. Default is 8.
func (b *DenseBlock) SqueezeExciteRatio(ratio int) *DenseBlock {
	b.squeezeExciteRatio = ratio
	return b
}

// ChannelsAxis configures where the channels axis is. Default is images.ChannelsLast.
func (b *DenseBlock) ChannelsAxis(config images.ChannelsAxisConfig) *DenseBlock {
	b.channelsAxisConfig = config
	return b
}

// NumLayers returns the number of convolutional units in the block.
func (b *DenseBlock) NumLayers() int { return b.numLayers }

// OutputChannels returns the number of channels output by the block, given the number of input channels.
func (b *DenseBlock) OutputChannels(inputChannels int) int {
	return inputChannels + b.numLayers*b.growthRate
}

// Validate the configuration.
func (b *DenseBlock) Validate() error {
	if b.numLayers < 0 {
		return errors.Wrapf(ErrInvalidConfig, "number of layers in a dense block must be >= 0, got %d", b.numLayers)
	}
	if err := b.unit().Validate(); err != nil {
		return err
	}
	if b.squeezeExcite {
		return b.gate().Validate()
	}
	return nil
}

func (b *DenseBlock) unit() *ConvUnit {
	return NewConvUnit(b.growthRate).
		Bottleneck(b.bottleneck).
		KernelWidth(b.kernelWidth).
		ChannelsAxis(b.channelsAxisConfig)
}

func (b *DenseBlock) gate() *SqueezeExcite {
	return NewSqueezeExcite().Ratio(b.squeezeExciteRatio).ChannelsAxis(b.channelsAxisConfig)
}

// Apply the dense block to x. The output has the same sequence length as x, and
// OutputChannels(inputChannels) channels.
//
// Each unit creates its variables under the scope "%03d_layer" of ctx.
func (b *DenseBlock) Apply(ctx *context.Context, x *Node) *Node {
	mustValidate(b.Validate)
	channelsAxis, _ := axes(x, b.channelsAxisConfig)
	unit := b.unit()
	var gate *SqueezeExcite
	if b.squeezeExcite {
		gate = b.gate()
	}

	// toConcat holds the block input and the raw unit outputs, never the gated tensors.
	toConcat := make([]*Node, 0, b.numLayers+1)
	toConcat = append(toConcat, x)
	for ii := range b.numLayers {
		layerCtx := ctx.Inf("%03d_layer", ii)
		toConcat = append(toConcat, unit.Apply(layerCtx, x))
		x = Concatenate(toConcat, channelsAxis)
		if gate != nil {
			x = gate.Apply(layerCtx, x)
		}
	}
	return x
}
