package main

// tfexport exports trained tagging models into frozen TensorFlow graphs
//
// Copyright (c) 2020 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vkuznet/tfexport/exporter"
	"github.com/vkuznet/tfexport/freeze"
	"github.com/vkuznet/tfexport/network"
	"github.com/vkuznet/tfexport/verify"
	"github.com/vkuznet/tfexport/weights"
)

// newRootCmd builds tfexport command tree
func newRootCmd() *cobra.Command {
	var cfgFile string
	var verbose int
	cmd := &cobra.Command{
		Use:   "tfexport",
		Short: "Export trained tagging models into frozen TensorFlow graphs",
		Long: `tfexport reconstructs a trained image tagging model from its run directory
and writes a frozen inference graph (output_graph.pb) next to it.

Runs live in $RASTER_VISION_DATA_DIRECTORY/results/<run> (default /opt/data),
run names may be nested, e.g. tagging/7_17_17/resnet_transform/0.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseConfig(cfgFile)
			if err != nil {
				return err
			}
			if verbose > c.Verbose {
				c.Verbose = verbose
			}
			_config = c
			return setupLogging(c)
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file (yaml or json)")
	cmd.PersistentFlags().IntVarP(&verbose, "verbose", "v", 0, "verbosity level")
	cmd.AddCommand(exportCmd(), convertCmd(), inspectCmd(), verifyCmd(), serveCmd())
	return cmd
}

func exportCmd() *cobra.Command {
	var latest, asJSON bool
	cmd := &cobra.Command{
		Use:   "export <run>",
		Short: "Export run into frozen graph",
		Long: `Reads options.json of the run, constructs its architecture, loads
best_model.h5 (or model.h5 with --latest) by layer names and writes
output_graph.pb into the run directory. Converted best_model.pb and model.pb
files are used when keras files are absent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := exporter.New(_config.exporterConfig(httpClient()))
			res, err := e.Export(args[0], !latest)
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Output)
			return nil
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "use latest weights (model.pb) instead of the best ones")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print export result as JSON")
	return cmd
}

func convertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <weights.h5> <weights.pb>",
		Short: "Convert keras weights into tfexport weights file",
		Long: `Reads layer weights of keras HDF5 file and writes them as best_model.pb
or model.pb compatible file, so runs can be exported by binaries built
without -tags hdf5.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			layers, err := weights.Read(args[0])
			if err != nil {
				return err
			}
			if err := weights.WriteFile(args[1], layers); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d layers\n", args[1], len(layers))
			return nil
		},
	}
}

func inspectCmd() *cobra.Command {
	var text bool
	cmd := &cobra.Command{
		Use:   "inspect <graph.pb>",
		Short: "Summarize TensorFlow graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := freeze.ReadGraph(args[0], !text)
			if err != nil {
				return err
			}
			s := freeze.Summarize(def)
			fmt.Fprintln(cmd.OutOrStdout(), s.String())
			if !freeze.Frozen(def) {
				fmt.Fprintln(cmd.OutOrStdout(), "graph is not frozen")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&text, "text", false, "graph is in protobuf text format")
	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <run|graph.pb>",
		Short: "Evaluate frozen graph on a zero batch",
		Long: `Imports frozen graph into TensorFlow runtime and checks that a zero
input produces one row of class probabilities. Requires a binary built with
-tags tensorflow.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fname := args[0]
			if !strings.HasSuffix(fname, ".pb") {
				c := _config.exporterConfig(nil)
				fname = filepath.Join(c.RunDir(fname), exporter.OutputGraph)
			}
			if _, err := os.Stat(fname); err != nil {
				return err
			}
			res, err := verify.Graph(fname, network.Classes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.String())
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start export service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port > 0 {
				_config.Server.Port = port
			}
			return server(_config)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "server port, overrides configuration")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
