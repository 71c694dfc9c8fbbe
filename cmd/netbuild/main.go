// Package main provides the netbuild CLI, which builds layer stacks from
// YAML model descriptions and checks their shapes.
package main

import (
	"fmt"
	"os"

	"github.com/born-ml/netbuild/internal/backend/cpu"
	"github.com/born-ml/netbuild/internal/config"
	"github.com/born-ml/netbuild/internal/factory"
	"github.com/born-ml/netbuild/internal/nn"
	"github.com/born-ml/netbuild/internal/tensor"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "v0.1.0-dev"

// app holds the global flags and the logger shared by all subcommands.
type app struct {
	verbose    bool
	inputShape string
	seed       int64

	logger *zap.Logger
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "netbuild",
		Short: "Build neural network layer stacks from YAML descriptions",
		Long: `netbuild turns a declarative layer list into a network of modules,
inferring channel and feature counts from the shape flowing through it.

Each layer entry is either {type: T, params: P} or a single-key mapping {T: P}.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.logger != nil {
				return nil
			}
			cfg := zap.NewProductionConfig()
			if a.verbose {
				cfg = zap.NewDevelopmentConfig()
			}
			logger, err := cfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable development logging at debug level")
	root.PersistentFlags().StringVar(&a.inputShape, "input-shape", "", "Override the input shape, e.g. 8,1,64,400")
	root.PersistentFlags().Int64Var(&a.seed, "seed", 0, "Seed for weight initialization (default: the file's seed)")

	root.AddCommand(
		newVersionCmd(),
		newSummaryCmd(a),
		newCheckCmd(a),
		newForwardCmd(a),
		newExportCmd(a),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "netbuild %s\n", version)
		},
	}
}

// load reads a model file and applies the --input-shape and --seed
// overrides. It returns the model and the effective input shape.
func (a *app) load(cmd *cobra.Command, path string) (*config.Model, tensor.Shape, error) {
	model, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	shape := model.Shape()
	if a.inputShape != "" {
		shape, err = tensor.ParseShape(a.inputShape)
		if err != nil {
			return nil, nil, fmt.Errorf("--input-shape: %w", err)
		}
	}
	if cmd.Flags().Changed("seed") {
		seed := a.seed
		model.Seed = &seed
	}
	return model, shape, nil
}

// build constructs the network for a model on the CPU backend.
func (a *app) build(model *config.Model, shape tensor.Shape) (*factory.Network[*cpu.CPUBackend], error) {
	if model.Seed != nil {
		nn.Seed(*model.Seed)
	}
	logger := a.logger.With(zap.String("model", model.Name))
	net, err := factory.Build(model.Layers, shape, cpu.New(), factory.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", model.Path, err)
	}
	return net, nil
}

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
