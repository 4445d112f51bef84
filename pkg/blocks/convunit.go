// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package blocks

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/pkg/errors"
)

// ConvUnit is the convolutional "layer" of a dense block, named H_l in the DenseNet paper.
//
// It is an optional bottleneck (batch normalization, ReLU and a width-1 convolution to
// `growthRate*bottleneck` channels) followed by batch normalization, ReLU and a "same" padded
// convolution to exactly `growthRate` channels.
type ConvUnit struct {
	growthRate, bottleneck, kernelWidth int
	channelsAxisConfig                  images.ChannelsAxisConfig
}

// NewConvUnit creates a convolutional unit that outputs growthRate channels.
// The bottleneck defaults to 4 and the kernel width to 3.
func NewConvUnit(growthRate int) *ConvUnit {
	return &ConvUnit{
		growthRate:         growthRate,
		bottleneck:         DefaultBottleneck,
		kernelWidth:        DefaultKernelWidth,
		channelsAxisConfig: images.ChannelsLast,
	}
}

// NewConvUnitFromContext creates a convolutional unit configured with the context hyperparameters
// ParamGrowthRate, ParamBottleneck and ParamKernelWidth.
func NewConvUnitFromContext(ctx *context.Context) *ConvUnit {
	return NewConvUnit(context.GetParamOr(ctx, ParamGrowthRate, DefaultGrowthRate)).
		Bottleneck(context.GetParamOr(ctx, ParamBottleneck, DefaultBottleneck)).
		KernelWidth(context.GetParamOr(ctx, ParamKernelWidth, DefaultKernelWidth))
}

// Bottleneck sets the number of channels of the bottleneck, as a multiple of the growth rate.
// Set to 0 to disable the bottleneck.
func (u *ConvUnit) Bottleneck(multiplier int) *ConvUnit {
	u.bottleneck = multiplier
	return u
}

// KernelWidth sets the width of the main convolution.
func (u *ConvUnit) KernelWidth(width int) *ConvUnit {
	u.kernelWidth = width
	return u
}

// ChannelsAxis configures where the channels axis is. Default is images.ChannelsLast.
func (u *ConvUnit) ChannelsAxis(config images.ChannelsAxisConfig) *ConvUnit {
	u.channelsAxisConfig = config
	return u
}

// Validate the configuration.
func (u *ConvUnit) Validate() error {
	switch {
	case u.growthRate <= 0:
		return errors.Wrapf(ErrInvalidConfig, "growth rate must be > 0, got %d", u.growthRate)
	case u.bottleneck < 0:
		return errors.Wrapf(ErrInvalidConfig, "bottleneck size must be >= 0 (0 to disable), got %d", u.bottleneck)
	case u.kernelWidth <= 0:
		return errors.Wrapf(ErrInvalidConfig, "convolution kernel width must be > 0, got %d", u.kernelWidth)
	}
	return nil
}

// Apply the unit to x. The output has the same sequence length as x and exactly growthRate channels.
func (u *ConvUnit) Apply(ctx *context.Context, x *Node) *Node {
	mustValidate(u.Validate)
	channelsAxis, _ := axes(x, u.channelsAxisConfig)
	if u.bottleneck > 0 {
		bottleneckCtx := ctx.In("bottleneck")
		x = batchnorm.New(bottleneckCtx, x, channelsAxis).Done()
		x = activations.Relu(x)
		x = layers.Convolution(bottleneckCtx, x).
			ChannelsAxis(u.channelsAxisConfig).
			Channels(u.growthRate * u.bottleneck).
			KernelSize(1).
			Strides(1).
			PadSame().
			Done()
	}
	x = batchnorm.New(ctx, x, channelsAxis).Done()
	x = activations.Relu(x)
	return layers.Convolution(ctx, x).
		ChannelsAxis(u.channelsAxisConfig).
		Channels(u.growthRate).
		KernelSize(u.kernelWidth).
		Strides(1).
		Dilations(1).
		PadSame().
		Done()
}
