package exporter

// exporter module exports trained tagging models into frozen TensorFlow graphs
//
// Copyright (c) 2020 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	logs "github.com/sirupsen/logrus"
	"github.com/vkuznet/tfexport/freeze"
	"github.com/vkuznet/tfexport/network"
	"github.com/vkuznet/tfexport/weights"
)

// error kinds of an export, match them with errors.Is
var (
	ErrConfigNotFound        = errors.New("config not found")
	ErrConfigMalformed       = errors.New("config malformed")
	ErrUnsupportedModelType  = network.ErrUnsupportedModelType
	ErrWeightsNotFound       = errors.New("weights not found")
	ErrWeightsIncompatible   = weights.ErrIncompatible
	ErrPretrainedUnavailable = weights.ErrPretrainedUnavailable
	ErrExportIO              = errors.New("export I/O failure")
)

// Config represents exporter configuration
type Config struct {
	DataDir    string         // data area, results live in its results sub-directory
	TempDir    string         // root of per-export temporary directories, system default if empty
	Pretrained *weights.Store // ImageNet weights store used by runs with pretraining
	Seed       int64          // seed of random weights initialization
}

// String returns string representation of the config
func (c Config) String() string {
	return fmt.Sprintf("<Config data=%s tmp=%s pretrained=%v seed=%d>", c.DataDir, c.TempDir, c.Pretrained, c.Seed)
}

// ResultsDir returns directory holding all runs
func (c Config) ResultsDir() string {
	return filepath.Join(c.DataDir, "results")
}

// RunDir resolves run argument: existing directory given by absolute or
// ./ relative path is used as is, otherwise it is a run name inside results
// directory which may span several levels, e.g. tagging/7_17_17/resnet/0
func (c Config) RunDir(run string) string {
	if isPath(run) {
		if fi, err := os.Stat(run); err == nil && fi.IsDir() {
			return run
		}
	}
	return filepath.Join(c.ResultsDir(), run)
}

func isPath(run string) bool {
	if filepath.IsAbs(run) || run == "." || run == ".." {
		return true
	}
	for _, prefix := range []string{"./", "../"} {
		if strings.HasPrefix(filepath.ToSlash(run), prefix) {
			return true
		}
	}
	return false
}

// Result represents export result
type Result struct {
	Run        string        `json:"run"`
	ModelType  string        `json:"model_type"`
	Weights    string        `json:"weights"`
	Output     string        `json:"output"`
	InputNode  string        `json:"input_node"`
	OutputNode string        `json:"output_node"`
	Nodes      int           `json:"nodes"`
	Bytes      int64         `json:"bytes"`
	Duration   time.Duration `json:"duration"`
}

// String returns string representation of the result
func (r *Result) String() string {
	return fmt.Sprintf("<Result run=%s model=%s output=%s nodes=%d bytes=%d duration=%v>", r.Run, r.ModelType, r.Output, r.Nodes, r.Bytes, r.Duration)
}

// Exporter exports runs into frozen graphs
type Exporter struct {
	Config Config
}

// New creates new exporter
func New(c Config) *Exporter {
	if c.DataDir == "" {
		c.DataDir = DataDir()
	}
	return &Exporter{Config: c}
}

// Construct builds network described by run config and initializes its
// weights, either from ImageNet weights or randomly. ImageNet weights are
// best effort: when the store can not provide them the network keeps its
// random initialization.
func (e *Exporter) Construct(rc *RunConfig) (*network.Network, error) {
	net, _, err := e.construct(rc)
	return net, err
}

// construct also reports whether ImageNet weights were loaded
func (e *Exporter) construct(rc *RunConfig) (*network.Network, bool, error) {
	ctor, err := network.Select(rc.ModelType)
	if err != nil {
		return nil, false, err
	}
	if rc.Channels() == 0 {
		return nil, false, errors.Wrap(ErrConfigMalformed, "active_input_inds is empty")
	}
	net, err := ctor(network.Options{Channels: rc.Channels(), Seed: e.Config.Seed})
	if err != nil {
		return nil, false, err
	}
	var pretrained bool
	if rc.UsePretraining {
		report, err := e.pretrained(net, rc.ModelType)
		switch {
		case err == nil:
			pretrained = true
			logs.WithFields(logs.Fields{
				"Model":   rc.ModelType,
				"Loaded":  len(report.Loaded),
				"Skipped": report.Skipped,
			}).Debug("pretrained weights")
		case errors.Is(err, ErrPretrainedUnavailable):
			logs.WithFields(logs.Fields{
				"Model": rc.ModelType,
				"Error": err,
			}).Warn("pretrained weights unavailable, keep random initialization")
		default:
			return nil, false, err
		}
	}
	if rc.FreezeBase {
		net.FreezeBase()
	}
	return net, pretrained, nil
}

// helper function to load ImageNet weights from configured store
func (e *Exporter) pretrained(net *network.Network, t network.ModelType) (*weights.Report, error) {
	if e.Config.Pretrained == nil {
		return nil, errors.Wrap(ErrPretrainedUnavailable, "no pretrained weights store configured")
	}
	return e.Config.Pretrained.Load(net, t)
}

// Export exports given run into frozen graph stored as output_graph.pb in run
// directory. The run weights are best_model.h5 (or best_model.pb) when
// useBest is set and model.h5 (or model.pb) otherwise. No output is written
// on failure and intermediate files are always removed.
func (e *Exporter) Export(run string, useBest bool) (*Result, error) {
	start := time.Now()
	runDir := e.Config.RunDir(run)
	log := logs.WithFields(logs.Fields{"Run": runDir})

	// resolve configuration
	rc, err := ReadRunConfig(runDir)
	if err != nil {
		return nil, err
	}
	log.WithFields(logs.Fields{"Config": rc.String()}).Info("read run options")

	// select architecture and construct network
	net, pretrained, err := e.construct(rc)
	if err != nil {
		return nil, err
	}
	log.WithFields(logs.Fields{
		"Model":     rc.ModelType,
		"Params":    net.CountParams(),
		"Trainable": net.CountTrainableParams(),
	}).Info("constructed network")

	// load run weights by layer names
	wfile, err := FindWeights(runDir, useBest)
	if err != nil {
		return nil, err
	}
	report, err := weights.LoadFile(net, wfile, weights.LoadOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load %s", wfile)
	}
	// layers left out of run weights would carry random values instead of
	// ImageNet ones
	if rc.UsePretraining && !pretrained && len(report.Missing) > 0 {
		return nil, errors.Wrapf(ErrPretrainedUnavailable, "%d layers (%s, ...) are absent in %s", len(report.Missing), report.Missing[0], wfile)
	}
	log.WithFields(logs.Fields{
		"Weights":   wfile,
		"Loaded":    len(report.Loaded),
		"Unmatched": report.Unmatched,
		"Missing":   report.Missing,
	}).Info("loaded weights")

	// inference mode
	net.SetLearningPhase(network.Inference)

	// freeze graph through temporary directory
	tmpDir, err := ioutil.TempDir(e.Config.TempDir, "tfexport-")
	if err != nil {
		return nil, errors.Wrapf(ErrExportIO, "unable to create temporary directory: %v", err)
	}
	defer os.RemoveAll(tmpDir)
	output := filepath.Join(runDir, OutputGraph)
	frozen, err := freeze.Network(net, tmpDir, output)
	if err != nil {
		return nil, errors.Wrapf(ErrExportIO, "unable to freeze %s: %v", net.Name, err)
	}
	fi, err := os.Stat(output)
	if err != nil {
		return nil, errors.Wrapf(ErrExportIO, "%v", err)
	}
	res := &Result{
		Run:        runDir,
		ModelType:  string(rc.ModelType),
		Weights:    wfile,
		Output:     output,
		InputNode:  frozen.Input,
		OutputNode: frozen.Output,
		Nodes:      len(frozen.Def.GetNode()),
		Bytes:      fi.Size(),
		Duration:   time.Since(start),
	}
	log.WithFields(logs.Fields{
		"Output":   output,
		"Nodes":    res.Nodes,
		"Bytes":    res.Bytes,
		"Duration": res.Duration,
	}).Info("exported frozen graph")
	return res, nil
}
