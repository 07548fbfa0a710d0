package exporter

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/vkuznet/tfexport/network"
)

// file names inside a run directory, training writes keras HDF5 weights and
// the .pb ones are produced by the convert command
const (
	OptionsFile        = "options.json"
	BestKerasWeights   = "best_model.h5"
	LatestKerasWeights = "model.h5"
	BestWeights        = "best_model.pb"
	LatestWeights      = "model.pb"
	OutputGraph        = "output_graph.pb"
)

// data area defaults
const (
	DataDirEnv     = "RASTER_VISION_DATA_DIRECTORY"
	DefaultDataDir = "/opt/data"
)

// RunConfig represents run options stored by training in options.json
type RunConfig struct {
	ModelType       network.ModelType `json:"model_type"`
	ActiveInputInds []int             `json:"active_input_inds"`
	UsePretraining  bool              `json:"use_pretraining"`
	FreezeBase      bool              `json:"freeze_base"`
}

// String returns string representation of the run config
func (c *RunConfig) String() string {
	return fmt.Sprintf("<RunConfig model_type=%s inputs=%v pretraining=%v freeze_base=%v>", c.ModelType, c.ActiveInputInds, c.UsePretraining, c.FreezeBase)
}

// Channels returns number of network input channels
func (c *RunConfig) Channels() int {
	return len(c.ActiveInputInds)
}

// ParseRunConfig decodes and validates run options, unknown keys are ignored
func ParseRunConfig(data []byte) (*RunConfig, error) {
	var raw struct {
		ModelType       *string `json:"model_type"`
		ActiveInputInds []int   `json:"active_input_inds"`
		UsePretraining  bool    `json:"use_pretraining"`
		FreezeBase      bool    `json:"freeze_base"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(ErrConfigMalformed, err.Error())
	}
	if raw.ModelType == nil {
		return nil, errors.Wrap(ErrConfigMalformed, "model_type is missing")
	}
	if len(raw.ActiveInputInds) == 0 {
		return nil, errors.Wrap(ErrConfigMalformed, "active_input_inds is empty")
	}
	t, err := network.ParseModelType(*raw.ModelType)
	if err != nil {
		return nil, err
	}
	return &RunConfig{
		ModelType:       t,
		ActiveInputInds: raw.ActiveInputInds,
		UsePretraining:  raw.UsePretraining,
		FreezeBase:      raw.FreezeBase,
	}, nil
}

// ReadRunConfig reads run options from run directory
func ReadRunConfig(runDir string) (*RunConfig, error) {
	fname := filepath.Join(runDir, OptionsFile)
	data, err := ioutil.ReadFile(fname)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrConfigNotFound, "%s", fname)
		}
		return nil, errors.Wrapf(ErrConfigMalformed, "unable to read %s: %v", fname, err)
	}
	c, err := ParseRunConfig(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", fname)
	}
	return c, nil
}

// DataDir returns data area from environment or its default
func DataDir() string {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return dir
	}
	return DefaultDataDir
}

// WeightsNames returns run weights file names in lookup order
func WeightsNames(useBest bool) []string {
	if useBest {
		return []string{BestKerasWeights, BestWeights}
	}
	return []string{LatestKerasWeights, LatestWeights}
}

// FindWeights returns path of run weights file, the first existing one of
// WeightsNames
func FindWeights(runDir string, useBest bool) (string, error) {
	names := WeightsNames(useBest)
	for _, name := range names {
		fname := filepath.Join(runDir, name)
		_, err := os.Stat(fname)
		if err == nil {
			return fname, nil
		}
		if !os.IsNotExist(err) {
			return "", errors.Wrapf(ErrExportIO, "%v", err)
		}
	}
	return "", errors.Wrapf(ErrWeightsNotFound, "none of %v in %s", names, runDir)
}
