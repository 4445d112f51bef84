// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifiers

import (
	"slices"
	"strings"

	"github.com/gomlx/densenet1d/pkg/blocks"
	"github.com/gomlx/densenet1d/pkg/network"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// KnownModels lists the names accepted by FromName.
var KnownModels = []string{"densenet121", "densenet169", "densenet201", "densenet264", "densefcn", "custom"}

type headType int

const (
	headNone headType = iota
	headSoftmax
	headFCN
)

// Model is a configured DenseNet: it holds everything needed to build the graph from the inputs
// to the outputs. It has no state (variables are stored in the context), so the same Model can
// be used to build any number of graphs.
type Model struct {
	name    string
	config  Config
	network *network.Config
	head    headType
}

// DenseNet121 creates a DenseNet with block sizes (6, 12, 24, 16), global pooling and no squeeze-excite.
func DenseNet121(cfg Config) (*Model, error) {
	return namedDenseNet("densenet121", BlockSizes121, cfg)
}

// DenseNet169 creates a DenseNet with block sizes (6, 12, 32, 32), global pooling and no squeeze-excite.
func DenseNet169(cfg Config) (*Model, error) {
	return namedDenseNet("densenet169", BlockSizes169, cfg)
}

// DenseNet201 creates a DenseNet with block sizes (6, 12, 48, 32), global pooling and no squeeze-excite.
func DenseNet201(cfg Config) (*Model, error) {
	return namedDenseNet("densenet201", BlockSizes201, cfg)
}

// DenseNet264 creates a DenseNet with block sizes (6, 12, 64, 48), global pooling and no squeeze-excite.
func DenseNet264(cfg Config) (*Model, error) {
	return namedDenseNet("densenet264", BlockSizes264, cfg)
}

func namedDenseNet(name string, blockSizes []int, cfg Config) (*Model, error) {
	cfg.BlockSizes = slices.Clone(blockSizes)
	cfg.SqueezeExcite = false
	head := headNone
	if cfg.IncludeTop {
		head = headSoftmax
	}
	return newModel(name, cfg, cfg.networkConfig(blockSizes, true, false), head)
}

// DenseFCN creates a fully convolutional DenseNet: there is no global pooling, and the head is a
// width-1 convolution to NumOutputs channels followed by a sigmoid, so the output holds independent
// probabilities per position and per output channel.
//
// If cfg.BlockSizes is nil it defaults to DenseNet121's. An empty (non-nil) BlockSizes is an error.
// IncludeTop is ignored.
func DenseFCN(cfg Config) (*Model, error) {
	if cfg.BlockSizes == nil {
		cfg.BlockSizes = slices.Clone(BlockSizes121)
	}
	if len(cfg.BlockSizes) == 0 {
		return nil, errors.Wrap(ErrMissingBlockSizes, "DenseFCN")
	}
	cfg.IncludeTop = false
	return newModel("densefcn", cfg, cfg.networkConfig(cfg.BlockSizes, false, cfg.SqueezeExcite), headFCN)
}

// DenseNetCustom creates a DenseNet with the given cfg.BlockSizes, which must not be empty, and global
// pooling. Use CustomConfig to start from its defaults, which enable squeeze-excite.
func DenseNetCustom(cfg Config) (*Model, error) {
	if len(cfg.BlockSizes) == 0 {
		return nil, errors.Wrap(ErrMissingBlockSizes, "DenseNetCustom")
	}
	head := headNone
	if cfg.IncludeTop {
		head = headSoftmax
	}
	return newModel("custom", cfg, cfg.networkConfig(cfg.BlockSizes, true, cfg.SqueezeExcite), head)
}

// FromName creates the model with the given name, one of KnownModels (case-insensitive).
func FromName(name string, cfg Config) (*Model, error) {
	switch strings.ToLower(name) {
	case "densenet121":
		return DenseNet121(cfg)
	case "densenet169":
		return DenseNet169(cfg)
	case "densenet201":
		return DenseNet201(cfg)
	case "densenet264":
		return DenseNet264(cfg)
	case "densefcn":
		return DenseFCN(cfg)
	case "custom":
		return DenseNetCustom(cfg)
	}
	return nil, errors.Wrapf(ErrUnknownModel, "%q, valid values are %q", name, KnownModels)
}

// newModel validates everything, so that building the graph later won't fail on configuration issues.
func newModel(name string, cfg Config, netCfg *network.Config, head headType) (*Model, error) {
	if err := cfg.validateInputShape(); err != nil {
		return nil, err
	}
	if head != headNone && cfg.NumOutputs <= 0 {
		return nil, errors.Wrapf(blocks.ErrInvalidConfig, "NumOutputs must be > 0 with a head, got %d", cfg.NumOutputs)
	}
	if _, err := netCfg.OutputShape(cfg.InputShape); err != nil {
		return nil, errors.WithMessagef(err, "invalid configuration for %s", name)
	}
	cfg.InputShape = slices.Clone(cfg.InputShape)
	cfg.BlockSizes = slices.Clone(netCfg.BlockSizes)
	return &Model{name: name, config: cfg, network: netCfg, head: head}, nil
}

// Name of the model, one of KnownModels.
func (m *Model) Name() string { return m.name }

// Config returns a copy of the configuration used to create the model.
func (m *Model) Config() Config {
	cfg := m.config
	cfg.InputShape = slices.Clone(cfg.InputShape)
	cfg.BlockSizes = slices.Clone(cfg.BlockSizes)
	return cfg
}

// ModelScope is the scope, under the given context, where ModelGraph creates the model variables.
const ModelScope = "model"

// ModelGraph builds the model under the scope ModelScope of ctx. It can be used as a train.ModelFn.
//
// It takes one input shaped [batch, ...InputShape], and it returns one output (see OutputShape).
// It panics (with an error wrapping ErrInvalidInputShape) if the input doesn't match the configuration.
func (m *Model) ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	if len(inputs) != 1 {
		panic(errors.Wrapf(ErrInvalidInputShape, "%s takes exactly one input, got %d", m.name, len(inputs)))
	}
	return []*Node{m.Apply(ctx.In(ModelScope), inputs[0])}
}

// Apply builds the model in the current scope of ctx.
func (m *Model) Apply(ctx *context.Context, x *Node) *Node {
	if x.Rank() != 3 || !slices.Equal(x.Shape().Dimensions[1:], m.config.InputShape) {
		panic(errors.Wrapf(ErrInvalidInputShape, "%s configured for inputs shaped [batch, %v], got %s",
			m.name, m.config.InputShape, x.Shape()))
	}
	if x.DType() != m.config.DType {
		x = ConvertDType(x, m.config.DType)
	}
	klog.V(1).Infof("Building %s for input %s", m.name, x.Shape())
	x = m.network.Apply(ctx, x)

	switch m.head {
	case headSoftmax:
		logits := layers.Dense(ctx.In("head"), x, true, m.config.NumOutputs)
		x = Softmax(logits, -1)
	case headFCN:
		x = layers.Convolution(ctx.In("head"), x).
			ChannelsAxis(m.config.ChannelsAxis).
			Channels(m.config.NumOutputs).
			KernelSize(1).
			Strides(1).
			PadSame().
			Done()
		x = Sigmoid(x)
	}
	return x
}

// OutputShape returns the dimensions of the model output, for the given batch size.
func (m *Model) OutputShape(batchSize int) []int {
	// The configuration was already validated by newModel.
	features, _ := m.network.OutputShape(m.config.InputShape)
	switch m.head {
	case headSoftmax:
		return []int{batchSize, m.config.NumOutputs}
	case headFCN:
		if m.config.ChannelsAxis == images.ChannelsFirst {
			return []int{batchSize, m.config.NumOutputs, features[1]}
		}
		return []int{batchSize, features[0], m.config.NumOutputs}
	}
	return append([]int{batchSize}, features...)
}

// NewExec creates an executor for the model: it takes the input tensor and returns the model output.
// Variables are created (and initialized) in ctx on the first execution.
func (m *Model) NewExec(backend backends.Backend, ctx *context.Context) (*context.Exec, error) {
	return context.NewExec(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		return m.ModelGraph(ctx, nil, []*Node{x})[0]
	})
}
