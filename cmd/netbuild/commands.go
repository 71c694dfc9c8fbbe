package main

import (
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"strconv"
	"time"

	"github.com/born-ml/netbuild/internal/backend/cpu"
	"github.com/born-ml/netbuild/internal/factory"
	"github.com/born-ml/netbuild/internal/nn"
	"github.com/born-ml/netbuild/internal/tensor"
	"github.com/born-ml/netbuild/internal/weights"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newSummaryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <config>",
		Short: "Build a model and print one row per layer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, shape, err := a.load(cmd, args[0])
			if err != nil {
				return err
			}
			net, err := a.build(model, shape)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderSummary(model.Name, net))
			return nil
		},
	}
}

// renderSummary formats the layer records as a table followed by totals.
func renderSummary[B tensor.Backend](name string, net *factory.Network[B]) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "Type", "Params", "Input", "Output", "Weights").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	total := 0
	for _, info := range net.Layers {
		count := info.ParamCount()
		total += count
		typ := info.Type
		if info.Marker {
			typ += "*"
		}
		t.Row(
			strconv.Itoa(info.Index),
			typ,
			factory.FormatParams(info.Params),
			info.In.String(),
			info.Out.String(),
			humanize.Comma(int64(count)),
		)
	}

	title := name
	if title == "" {
		title = "model"
	}
	out := lipgloss.NewStyle().Bold(true).Render(title) + "\n" + t.Render() + "\n"
	out += fmt.Sprintf("Input:  %v\nOutput: %v\nTotal parameters: %s\n",
		net.InputShape, net.OutputShape, humanize.Comma(int64(total)))
	if net.HasMarkers() {
		out += "* marker layer: shape bookkeeping for a concatenation outside the sequence\n"
	}
	return out
}

// checkResult is the outcome of building one model file.
type checkResult struct {
	path   string
	layers int
	out    tensor.Shape
	err    error
}

func newCheckCmd(a *app) *cobra.Command {
	var jobs int
	cmd := &cobra.Command{
		Use:   "check <config>...",
		Short: "Build several models concurrently and report which succeed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results := a.checkAll(cmd, args, jobs)

			w := cmd.OutOrStdout()
			failed := 0
			for _, r := range results {
				if r.err != nil {
					failed++
					fmt.Fprintf(w, "FAIL %s: %v\n", r.path, r.err)
					continue
				}
				fmt.Fprintf(w, "ok   %s (%d layers, output %v)\n", r.path, r.layers, r.out)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d models failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&jobs, "jobs", "j", runtime.GOMAXPROCS(0), "Maximum number of models built at once")
	return cmd
}

// checkAll builds every model and returns the results in argument order.
// Failures are recorded per file rather than cancelling the other builds.
func (a *app) checkAll(cmd *cobra.Command, paths []string, jobs int) []checkResult {
	results := make([]checkResult, len(paths))
	var g errgroup.Group
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for i, path := range paths {
		g.Go(func() error {
			results[i] = a.checkOne(cmd, path)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (a *app) checkOne(cmd *cobra.Command, path string) checkResult {
	start := time.Now()
	model, shape, err := a.load(cmd, path)
	if err != nil {
		return checkResult{path: path, err: err}
	}
	// Weights do not affect shape checking; leave the shared generator alone.
	model.Seed = nil
	net, err := a.build(model, shape)
	if err != nil {
		return checkResult{path: path, err: err}
	}
	a.logger.Debug("model checked",
		zap.String("path", path),
		zap.Int("layers", len(net.Layers)),
		zap.Duration("elapsed", time.Since(start)))
	return checkResult{path: path, layers: len(net.Layers), out: net.OutputShape}
}

func newForwardCmd(a *app) *cobra.Command {
	var weightsPath string
	var strict bool
	cmd := &cobra.Command{
		Use:   "forward <config>",
		Short: "Run random input through a model and verify every layer's shape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, shape, err := a.load(cmd, args[0])
			if err != nil {
				return err
			}
			net, err := a.build(model, shape)
			if err != nil {
				return err
			}
			if weightsPath != "" {
				if err := a.loadWeights(net, weightsPath, strict); err != nil {
					return err
				}
			}
			net.SetTraining(false)

			seed := time.Now().UnixNano()
			if model.Seed != nil {
				seed = *model.Seed
			}
			rng := rand.New(rand.NewSource(seed)) //nolint:gosec // test input only
			input := tensor.Randn(shape, rng, net.Backend())

			if err := net.Verify(input); err != nil {
				var layerErr *factory.LayerError
				if errors.As(err, &layerErr) {
					a.logger.Error("shape verification failed",
						zap.Int("index", layerErr.Index),
						zap.String("layer", layerErr.Type),
						zap.Error(layerErr.Err))
				}
				return err
			}

			w := cmd.OutOrStdout()
			if net.HasMarkers() {
				fmt.Fprintf(w, "verified %s up to the first marker layer\n", model.Path)
				return nil
			}
			fmt.Fprintf(w, "verified %s: %v -> %v\n", model.Path, net.InputShape, net.OutputShape)
			return nil
		},
	}
	cmd.Flags().StringVar(&weightsPath, "weights", "", "Load parameters from a SafeTensors file before the forward pass")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when the weights file and the model parameters differ in names")
	return cmd
}

func (a *app) loadWeights(net *factory.Network[*cpu.CPUBackend], path string, strict bool) error {
	res, _, err := weights.LoadFile[*cpu.CPUBackend](path, net, strict)
	if err != nil {
		return err
	}
	if len(res.Missing) > 0 {
		a.logger.Warn("parameters missing from weights file",
			zap.String("path", path), zap.Strings("names", res.Missing))
	}
	if len(res.Unexpected) > 0 {
		a.logger.Warn("unused entries in weights file",
			zap.String("path", path), zap.Strings("names", res.Unexpected))
	}
	return nil
}

func newExportCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <config>",
		Short: "Build a model and write its initial parameters as SafeTensors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, shape, err := a.load(cmd, args[0])
			if err != nil {
				return err
			}
			net, err := a.build(model, shape)
			if err != nil {
				return err
			}
			metadata := map[string]string{
				"name":        model.Name,
				"input_shape": shape.String(),
				"netbuild":    version,
			}
			if err := weights.SaveFile[*cpu.CPUBackend](output, net, metadata); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d tensors (%s parameters) to %s\n",
				len(net.Parameters()), humanize.Comma(int64(nn.CountParameters[*cpu.CPUBackend](net))), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "weights.safetensors", "Output file")
	return cmd
}
