// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package blocks implements the building blocks of a 1D DenseNet: the convolutional unit (H_l),
// the dense block, the transition block and the squeeze-excite gate.
//
// Each block is a configuration object: create it with its New* function (or the *FromContext
// variant, which takes the defaults from the context hyperparameters), adjust it with its setters,
// and then call Apply as many times as needed. Every call to Apply creates new graph nodes, and
// creates (or reuses) variables in the scope of the given context.
//
// The input of every block is shaped `[batch, sequence, channels]` if configured with
// `images.ChannelsLast` (the default), or `[batch, channels, sequence]` with `images.ChannelsFirst`.
//
// Based on "Densely Connected Convolutional Networks" (Gao Huang, Zhuang Liu, Laurens van der Maaten,
// Kilian Q. Weinberger), https://arxiv.org/abs/1608.06993, and on "Squeeze-and-Excitation Networks"
// (Jie Hu, Li Shen, Samuel Albanie, Gang Sun, Enhua Wu), https://arxiv.org/abs/1709.01507.
package blocks

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/pkg/errors"
)

const (
	// ParamGrowthRate is the hyperparameter with the growth rate "k": number of channels each
	// convolutional unit adds to a dense block. Default is 32 (int).
	ParamGrowthRate = "densenet_k"

	// ParamKernelWidth is the hyperparameter with the width of the main convolution of each
	// convolutional unit. Default is 3 (int).
	ParamKernelWidth = "densenet_conv_kernel_width"

	// ParamBottleneck is the hyperparameter with the size of the bottleneck, as a multiple of the
	// growth rate. Set to 0 for no bottleneck. Default is 4 (int).
	ParamBottleneck = "densenet_bottleneck_size"

	// ParamTransitionPoolSize is the hyperparameter with the window of the average pooling in the
	// transition blocks. Default is 2 (int).
	ParamTransitionPoolSize = "densenet_transition_pool_size"

	// ParamTransitionStride is the hyperparameter with the stride of the average pooling in the
	// transition blocks. Default is 2 (int).
	ParamTransitionStride = "densenet_transition_pool_stride"

	// ParamTheta is the hyperparameter with the compression factor of the transition blocks.
	// It must be in the range (0, 1], and 1 means no compression. Default is 0.5 (float64).
	ParamTheta = "densenet_theta"

	// ParamSqueezeExcite is the hyperparameter that enables squeeze-excite gating after each
	// convolutional unit of a dense block and after each transition. Default is false (bool).
	ParamSqueezeExcite = "densenet_se"

	// ParamSqueezeExciteRatio is the hyperparameter with the reduction ratio of the squeeze-excite
	// gate. Default is 8 (int).
	ParamSqueezeExciteRatio = "densenet_se_ratio"
)

// Default values of the hyperparameters.
const (
	DefaultGrowthRate         = 32
	DefaultKernelWidth        = 3
	DefaultBottleneck         = 4
	DefaultTransitionPoolSize = 2
	DefaultTransitionStride   = 2
	DefaultTheta              = 0.5
	DefaultSqueezeExciteRatio = 8
)

var (
	// ErrInvalidTheta is returned (wrapped) when the compression factor theta is not in (0, 1].
	ErrInvalidTheta = errors.New("theta must be in the range (0, 1]")

	// ErrInvalidConfig is returned (wrapped) for any other out-of-range block configuration.
	ErrInvalidConfig = errors.New("invalid block configuration")
)

// axes returns the channels and the sequence axes of x, which must be rank-3.
func axes(x *Node, config images.ChannelsAxisConfig) (channelsAxis, sequenceAxis int) {
	if x.Rank() != 3 {
		exceptions.Panicf("densenet blocks require a rank-3 input shaped [batch, sequence, channels] "+
			"(or [batch, channels, sequence]), got x.shape=%s", x.Shape())
	}
	channelsAxis = images.GetChannelsAxis(x, config)
	sequenceAxis = images.GetSpatialAxes(x, config)[0]
	return
}

// mustValidate panics with the validation error, so it can be caught by exceptions.Try.
func mustValidate(validate func() error) {
	if err := validate(); err != nil {
		panic(err)
	}
}
