// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/gomlx/densenet1d/pkg/blocks"
	"github.com/gomlx/densenet1d/pkg/classifiers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInts(t *testing.T) {
	got, err := parseInts(" 224, 20 ")
	require.NoError(t, err)
	assert.Equal(t, []int{224, 20}, got)

	got, err = parseInts("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseInts("6,x,24")
	require.Error(t, err)
}

func TestBuildModel(t *testing.T) {
	// Restores the flags after the test.
	saveModel, saveInput, saveBlocks := *flagModel, *flagInput, *flagBlocks
	defer func() { *flagModel, *flagInput, *flagBlocks = saveModel, saveInput, saveBlocks }()

	t.Run("custom-defaults-to-squeeze-excite", func(t *testing.T) {
		ctx := classifiers.CreateDefaultContext()
		paramsSet, err := commandline.ParseContextSettings(ctx, "densenet_k=8")
		require.NoError(t, err)
		*flagModel, *flagInput, *flagBlocks = "Custom", "32,4", "2,2"
		model, err := buildModel(ctx, paramsSet)
		require.NoError(t, err)
		assert.Equal(t, "custom", model.Name())
		cfg := model.Config()
		assert.True(t, cfg.SqueezeExcite)
		assert.Equal(t, 8, cfg.GrowthRate)
		assert.Equal(t, []int{2, 2}, cfg.BlockSizes)
	})

	t.Run("custom-squeeze-excite-disabled", func(t *testing.T) {
		ctx := classifiers.CreateDefaultContext()
		paramsSet, err := commandline.ParseContextSettings(ctx, blocks.ParamSqueezeExcite+"=false")
		require.NoError(t, err)
		assert.True(t, isSet(paramsSet, blocks.ParamSqueezeExcite))
		*flagModel, *flagInput, *flagBlocks = "custom", "32,4", "1"
		model, err := buildModel(ctx, paramsSet)
		require.NoError(t, err)
		assert.False(t, model.Config().SqueezeExcite)
	})

	t.Run("custom-requires-block-sizes", func(t *testing.T) {
		ctx := classifiers.CreateDefaultContext()
		*flagModel, *flagInput, *flagBlocks = "custom", "32,4", ""
		_, err := buildModel(ctx, nil)
		require.ErrorIs(t, err, classifiers.ErrMissingBlockSizes)

		// Block sizes given as a hyperparameter instead of -blocks.
		paramsSet, err := commandline.ParseContextSettings(ctx, classifiers.ParamBlockSizes+"=1,2")
		require.NoError(t, err)
		model, err := buildModel(ctx, paramsSet)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, model.Config().BlockSizes)
	})

	t.Run("densefcn-outputs", func(t *testing.T) {
		ctx := classifiers.CreateDefaultContext()
		*flagModel, *flagInput, *flagBlocks = "densefcn", "64,3", "1,1"
		model, err := buildModel(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 5, model.Config().NumOutputs)
		assert.Equal(t, []int{1, 1}, model.Config().BlockSizes)

		*flagBlocks = ""
		model, err = buildModel(classifiers.CreateDefaultContext(), nil)
		require.NoError(t, err)
		assert.Equal(t, classifiers.BlockSizes121, model.Config().BlockSizes)
	})

	t.Run("invalid-input", func(t *testing.T) {
		*flagModel, *flagInput, *flagBlocks = "densenet121", "224", ""
		_, err := buildModel(classifiers.CreateDefaultContext(), nil)
		require.ErrorIs(t, err, classifiers.ErrInvalidInputShape)
	})
}
