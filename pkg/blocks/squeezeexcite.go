// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package blocks

import (
	"slices"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/pkg/errors"
)

// SqueezeExcite is a channel-wise gate: it re-weights each channel of its input by a learned,
// input-dependent factor in (0, 1).
//
// Create it with NewSqueezeExcite, and apply it with SqueezeExcite.Apply.
type SqueezeExcite struct {
	ratio              int
	channelsAxisConfig images.ChannelsAxisConfig
}

// NewSqueezeExcite creates a squeeze-excite gate with the default ratio (8) and channels last.
func NewSqueezeExcite() *SqueezeExcite {
	return &SqueezeExcite{
		ratio:              DefaultSqueezeExciteRatio,
		channelsAxisConfig: images.ChannelsLast,
	}
}

// NewSqueezeExciteFromContext creates a squeeze-excite gate with the ratio given by ParamSqueezeExciteRatio.
func NewSqueezeExciteFromContext(ctx *context.Context) *SqueezeExcite {
	return NewSqueezeExcite().Ratio(context.GetParamOr(ctx, ParamSqueezeExciteRatio, DefaultSqueezeExciteRatio))
}

// Ratio sets the reduction ratio: the hidden layer of the gate has `channels/ratio` units.
//
// The ratio is expected to divide the number of channels, but this is not checked: the hidden
// layer uses the integer division. If the number of channels is smaller than the ratio, the hidden
// layer would be empty and Apply panics when building the graph.
func (se *SqueezeExcite) Ratio(ratio int) *SqueezeExcite {
	se.ratio = ratio
	return se
}

// ChannelsAxis configures where the channels axis is. Default is images.ChannelsLast.
func (se *SqueezeExcite) ChannelsAxis(config images.ChannelsAxisConfig) *SqueezeExcite {
	se.channelsAxisConfig = config
	return se
}

// Validate the configuration.
func (se *SqueezeExcite) Validate() error {
	if se.ratio <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "squeeze-excite ratio must be > 0, got %d", se.ratio)
	}
	return nil
}

// Apply the gate to x. The output has the same shape as x.
//
// Variables are created under the scopes "se_squeeze" and "se_excite" of ctx.
func (se *SqueezeExcite) Apply(ctx *context.Context, x *Node) *Node {
	mustValidate(se.Validate)
	channelsAxis, sequenceAxis := axes(x, se.channelsAxisConfig)
	numChannels := x.Shape().Dimensions[channelsAxis]
	if numChannels < se.ratio {
		exceptions.Panicf("squeeze-excite with ratio %d needs at least as many channels, got x.shape=%s",
			se.ratio, x.Shape())
	}

	// Squeeze: [batch, channels].
	gate := ReduceMean(x, sequenceAxis)
	gate = layers.Dense(ctx.In("se_squeeze"), gate, false, numChannels/se.ratio)
	gate = activations.Relu(gate)

	// Excite: one factor per channel, broadcast over the sequence.
	gate = layers.Dense(ctx.In("se_excite"), gate, false, numChannels)
	gate = Sigmoid(gate)
	gateDims := slices.Clone(x.Shape().Dimensions)
	gateDims[sequenceAxis] = 1
	gate = Reshape(gate, gateDims...)
	gate = BroadcastToDims(gate, x.Shape().Dimensions...)
	return Mul(x, gate)
}
