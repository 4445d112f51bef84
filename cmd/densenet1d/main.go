// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// densenet1d builds one of the 1D DenseNet models, prints a summary of its architecture and,
// optionally, benchmarks its forward pass on random inputs.
//
// Example:
//
//	densenet1d -model=densenet121 -input=224,20 -top -outputs=10 -bench=20
//	densenet1d -model=custom -blocks=4,8,8 -set="densenet_k=16;densenet_se_ratio=4" -vars
package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/densenet1d/pkg/blocks"
	"github.com/gomlx/densenet1d/pkg/classifiers"
	"github.com/gomlx/densenet1d/pkg/summary"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagModel = flag.String("model", "densenet121",
		fmt.Sprintf("Model to build, one of %q.", classifiers.KnownModels))
	flagInput = flag.String("input", "224,20",
		"Input shape without the batch dimension: \"sequence,channels\" (or \"channels,sequence\" with -channels_first).")
	flagChannelsFirst = flag.Bool("channels_first", false, "Inputs are shaped [batch, channels, sequence].")
	flagOutputs       = flag.Int("outputs", 0, "Number of outputs of the head. If 0, the model default is used.")
	flagTop           = flag.Bool("top", false, "Include the softmax classification head. Ignored by densefcn.")
	flagBlocks        = flag.String("blocks", "",
		"Comma-separated number of layers per dense block, used by custom and densefcn.")
	flagBatch = flag.Int("batch", 1, "Batch size used to build (and benchmark) the model.")
	flagVars  = flag.Bool("vars", false, "Lists the hyperparameters and every variable of the model.")
	flagBench = flag.Int("bench", 0, "Number of forward passes to time on random inputs. 0 disables the benchmark.")
)

func main() {
	ctx := classifiers.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()

	paramsSet, err := commandline.ParseContextSettings(ctx, *settings)
	if err != nil {
		klog.Fatalf("Failed to parse -set=%q: %+v", *settings, err)
	}
	model, err := buildModel(ctx, paramsSet)
	if err != nil {
		klog.Errorf("Failed to configure %q: %+v", *flagModel, err)
		os.Exit(1)
	}

	backend := backends.MustNew()
	defer backend.Finalize()
	klog.V(1).Infof("Backend: %s", backend.Description())

	s, err := summary.Build(backend, ctx, model, *flagBatch)
	if err != nil {
		klog.Errorf("Failed to build %s: %+v", model.Name(), err)
		os.Exit(1)
	}
	fmt.Println(s.Render(*flagVars))

	if *flagBench > 0 {
		if err := benchmark(backend, ctx, model, *flagBatch, *flagBench); err != nil {
			klog.Errorf("Benchmark failed: %+v", err)
			os.Exit(1)
		}
	}
}

// buildModel creates the model selected by the flags, configured from the context hyperparameters.
func buildModel(ctx *context.Context, paramsSet []string) (*classifiers.Model, error) {
	inputShape, err := parseInts(*flagInput)
	if err != nil {
		return nil, errors.WithMessage(err, "-input")
	}
	blockSizes, err := parseInts(*flagBlocks)
	if err != nil {
		return nil, errors.WithMessage(err, "-blocks")
	}
	name := strings.ToLower(*flagModel)
	cfg := classifiers.ConfigFromContext(ctx, inputShape...)
	if *flagChannelsFirst {
		cfg.ChannelsAxis = images.ChannelsFirst
	}
	if blockSizes != nil {
		cfg.BlockSizes = blockSizes
	}
	if *flagTop {
		cfg.IncludeTop = true
	}

	// Per-model defaults, unless the user explicitly chose otherwise.
	switch name {
	case "custom":
		if !isSet(paramsSet, blocks.ParamSqueezeExcite) {
			cfg.SqueezeExcite = true
		}
	case "densefcn":
		if !isSet(paramsSet, classifiers.ParamNumOutputs) {
			cfg.NumOutputs = classifiers.FCNConfig().NumOutputs
		}
	}
	if *flagOutputs > 0 {
		cfg.NumOutputs = *flagOutputs
	}
	return classifiers.FromName(name, cfg)
}

func parseInts(list string) ([]int, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, nil
	}
	parts := strings.Split(list, ",")
	values := make([]int, len(parts))
	for ii, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid list of integers %q", list)
		}
		values[ii] = v
	}
	return values, nil
}

// isSet returns whether the hyperparameter key was set by the user in -set.
func isSet(paramsSet []string, key string) bool {
	return slices.ContainsFunc(paramsSet, func(path string) bool {
		return path == key || strings.HasSuffix(path, "/"+key)
	})
}

// benchmark times numRuns forward passes of the model on a random batch, and reports the median latency.
func benchmark(backend backends.Backend, ctx *context.Context, model *classifiers.Model, batchSize, numRuns int) error {
	return exceptions.TryCatch[error](func() {
		cfg := model.Config()
		inputShape := shapes.Make(cfg.DType, append([]int{batchSize}, cfg.InputShape...)...)
		inputs := context.MustExecOnce(backend, ctx.In("benchmark"), func(ctx *context.Context, g *Graph) *Node {
			return ctx.RandomNormal(g, inputShape)
		})
		defer inputs.FinalizeAll()
		// Variables were already created by summary.Build.
		exec := must.M1(model.NewExec(backend, ctx.Reuse()))

		// Warm-up: the first execution compiles the graph and initializes the variables.
		start := time.Now()
		exec.MustExec(inputs)[0].FinalizeAll()
		klog.V(1).Infof("Compilation and first execution: %s", time.Since(start))

		bar := progressbar.NewOptions(numRuns,
			progressbar.OptionSetDescription("benchmark"),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("passes"),
			progressbar.OptionSetTheme(commandline.ProgressbarStyle))
		latencies := make([]time.Duration, numRuns)
		for ii := range numRuns {
			start = time.Now()
			output := exec.MustExec(inputs)[0]
			output.Value() // Wait for the results.
			latencies[ii] = time.Since(start)
			output.FinalizeAll()
			_ = bar.Add(1)
		}
		_ = bar.Finish()
		fmt.Println()

		slices.Sort(latencies)
		median := latencies[numRuns/2]
		throughput := float64(batchSize) / median.Seconds()
		fmt.Printf("%s, batch of %d: median latency %s (min %s, max %s), %s examples/s\n",
			model.Name(), batchSize, median, latencies[0], latencies[numRuns-1],
			humanize.CommafWithDigits(throughput, 1))
	})
}
