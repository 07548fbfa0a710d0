package weights

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/vkuznet/tfexport/network"
)

// ErrNoHDF5 is returned when keras weights are read by a binary built
// without hdf5 tag
var ErrNoHDF5 = errors.New("keras HDF5 weights require a binary built with -tags hdf5")

// KerasGroup is the group of full model files holding layer weights,
// files written by save_weights keep layers at the root
const KerasGroup = "model_weights"

// IsKeras reports whether file name refers to keras HDF5 weights
func IsKeras(fname string) bool {
	switch strings.ToLower(filepath.Ext(fname)) {
	case ".h5", ".hdf5":
		return true
	}
	return false
}

// splitWeightPath splits keras dataset path into layer and weight names.
// Datasets are stored as <layer>/<layer>/<weight>:0, older files use
// <layer>/<weight>:0. Layer names may contain slashes, e.g. conv1/conv.
func splitWeightPath(path string) (string, string) {
	path = strings.TrimSuffix(path, ":0")
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	prefix, weight := path[:i], path[i+1:]
	if n := len(prefix); n%2 == 1 {
		half := n / 2
		if prefix[half] == '/' && prefix[:half] == prefix[half+1:] {
			return prefix[:half], weight
		}
	}
	return prefix, weight
}

// kerasLayers groups keras datasets by layer in file order
type kerasLayers struct {
	order  []string
	layers map[string]*LayerWeights
}

func newKerasLayers() *kerasLayers {
	return &kerasLayers{layers: make(map[string]*LayerWeights)}
}

// add assigns tensor read from dataset path to its layer
func (k *kerasLayers) add(path string, t *network.Tensor) error {
	layer, weight := splitWeightPath(path)
	if layer == "" {
		return errors.Wrapf(ErrFormat, "dataset %s does not belong to a layer", path)
	}
	t.Name = weight
	lw, ok := k.layers[layer]
	if !ok {
		lw = &LayerWeights{Layer: layer}
		k.layers[layer] = lw
		k.order = append(k.order, layer)
	}
	if lw.Tensor(weight) != nil {
		return errors.Wrapf(ErrFormat, "layer %s has duplicate %s weight", layer, weight)
	}
	lw.Tensors = append(lw.Tensors, t)
	return nil
}

func (k *kerasLayers) list() []LayerWeights {
	out := make([]LayerWeights, 0, len(k.order))
	for _, name := range k.order {
		out = append(out, *k.layers[name])
	}
	return out
}
