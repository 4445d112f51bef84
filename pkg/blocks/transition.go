// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package blocks

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/pkg/errors"
)

// Transition sits between dense blocks: it compresses the number of channels by the factor theta
// with a width-1 convolution, and down-samples the sequence with an average pooling.
type Transition struct {
	theta              float64
	poolSize, stride   int
	squeezeExcite      bool
	squeezeExciteRatio int
	channelsAxisConfig images.ChannelsAxisConfig
}

// NewTransition creates a transition block with compression factor theta, which must be in (0, 1].
// The pooling window and stride default to 2.
func NewTransition(theta float64) *Transition {
	return &Transition{
		theta:              theta,
		poolSize:           DefaultTransitionPoolSize,
		stride:             DefaultTransitionStride,
		squeezeExciteRatio: DefaultSqueezeExciteRatio,
		channelsAxisConfig: images.ChannelsLast,
	}
}

// NewTransitionFromContext creates a transition block configured from the context hyperparameters
// (see ParamTheta, ParamTransitionPoolSize, ParamTransitionStride, ParamSqueezeExcite and
// ParamSqueezeExciteRatio).
func NewTransitionFromContext(ctx *context.Context) *Transition {
	return NewTransition(context.GetParamOr(ctx, ParamTheta, DefaultTheta)).
		PoolSize(context.GetParamOr(ctx, ParamTransitionPoolSize, DefaultTransitionPoolSize)).
		Stride(context.GetParamOr(ctx, ParamTransitionStride, DefaultTransitionStride)).
		SqueezeExcite(context.GetParamOr(ctx, ParamSqueezeExcite, false)).
		SqueezeExciteRatio(context.GetParamOr(ctx, ParamSqueezeExciteRatio, DefaultSqueezeExciteRatio))
}

// PoolSize sets the window of the average pooling. Default is 2.
func (t *Transition) PoolSize(size int) *Transition {
	t.poolSize = size
	return t
}

// Stride sets the stride of the average pooling. Default is 2.
func (t *Transition) Stride(stride int) *Transition {
	t.stride = stride
	return t
}

// SqueezeExcite enables a squeeze-excite gate after the pooling. Default is false.
func (t *Transition) SqueezeExcite(enabled bool) *Transition {
	t.squeezeExcite = enabled
	return t
}

// SqueezeExciteRatio sets the ratio of the squeeze-excite gate. Default is 8.
func (t *Transition) SqueezeExciteRatio(ratio int) *Transition {
	t.squeezeExciteRatio = ratio
	return t
}

// ChannelsAxis configures where the channels axis is. Default is images.ChannelsLast.
func (t *Transition) ChannelsAxis(config images.ChannelsAxisConfig) *Transition {
	t.channelsAxisConfig = config
	return t
}

// Validate the configuration. It returns an error wrapping ErrInvalidTheta if theta is not in (0, 1].
func (t *Transition) Validate() error {
	if !(t.theta > 0 && t.theta <= 1) {
		return errors.Wrapf(ErrInvalidTheta, "got theta=%g", t.theta)
	}
	if t.poolSize <= 0 || t.stride <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "transition pool size and stride must be > 0, got %d and %d",
			t.poolSize, t.stride)
	}
	if t.squeezeExcite {
		return NewSqueezeExcite().Ratio(t.squeezeExciteRatio).Validate()
	}
	return nil
}

// OutputChannels returns floor(inputChannels*theta).
func (t *Transition) OutputChannels(inputChannels int) int {
	return int(math.Floor(float64(inputChannels) * t.theta))
}

// OutputLength returns the sequence length after the "same" padded pooling: ceil(inputLength/stride).
func (t *Transition) OutputLength(inputLength int) int {
	return (inputLength + t.stride - 1) / t.stride
}

// Apply the transition to x.
//
// It panics with the validation error before creating any node if the configuration is invalid.
func (t *Transition) Apply(ctx *context.Context, x *Node) *Node {
	mustValidate(t.Validate)
	channelsAxis, _ := axes(x, t.channelsAxisConfig)
	outputChannels := t.OutputChannels(x.Shape().Dimensions[channelsAxis])
	if outputChannels <= 0 {
		panic(errors.Wrapf(ErrInvalidConfig, "transition with theta=%g compresses %d channels to none",
			t.theta, x.Shape().Dimensions[channelsAxis]))
	}

	x = batchnorm.New(ctx, x, channelsAxis).Done()
	x = activations.Relu(x)
	x = layers.Convolution(ctx, x).
		ChannelsAxis(t.channelsAxisConfig).
		Channels(outputChannels).
		KernelSize(1).
		Strides(1).
		PadSame().
		Done()
	x = MeanPool(x).
		ChannelsAxis(t.channelsAxisConfig).
		Window(t.poolSize).
		Strides(t.stride).
		PadSame().
		Done()
	if t.squeezeExcite {
		x = NewSqueezeExcite().
			Ratio(t.squeezeExciteRatio).
			ChannelsAxis(t.channelsAxisConfig).
			Apply(ctx, x)
	}
	return x
}
