//go:build hdf5

package weights

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkuznet/tfexport/network"
	"gonum.org/v1/hdf5"
)

// helper function to write float32 dataset under nested groups
func writeDataset(t *testing.T, f *hdf5.File, path []string, tensor *network.Tensor) {
	t.Helper()
	var g *hdf5.Group
	for _, name := range path[:len(path)-1] {
		var err error
		if g == nil {
			if f.LinkExists(name) {
				g, err = f.OpenGroup(name)
			} else {
				g, err = f.CreateGroup(name)
			}
		} else {
			parent := g
			if g.LinkExists(name) {
				g, err = parent.OpenGroup(name)
			} else {
				g, err = parent.CreateGroup(name)
			}
			parent.Close()
		}
		require.NoError(t, err)
	}
	defer g.Close()
	dims := make([]uint, len(tensor.Shape))
	for i, d := range tensor.Shape {
		dims[i] = uint(d)
	}
	space, err := hdf5.CreateSimpleDataspace(dims, nil)
	require.NoError(t, err)
	defer space.Close()
	ds, err := g.CreateDataset(path[len(path)-1], hdf5.T_NATIVE_FLOAT, space)
	require.NoError(t, err)
	defer ds.Close()
	require.NoError(t, ds.Write(&tensor.Values))
}

func TestReadKeras(t *testing.T) {
	source := tinyNetwork(t, "conv1/conv", 3, 1)
	fname := filepath.Join(t.TempDir(), "best_model.h5")
	f, err := hdf5.CreateFile(fname, hdf5.F_ACC_TRUNC)
	require.NoError(t, err)
	for _, l := range source.Layers {
		for _, w := range l.Weights {
			path := append([]string{KerasGroup, "conv1", "conv", "conv1", "conv"}, w.Name+":0")
			if l.Name != "conv1/conv" {
				path = []string{KerasGroup, l.Name, l.Name, w.Name + ":0"}
			}
			writeDataset(t, f, path, w)
		}
	}
	// optimizer state lives outside of model weights
	writeDataset(t, f, []string{"optimizer_weights", "iterations:0"}, &network.Tensor{Shape: []int{1}, Values: []float32{10}})
	require.NoError(t, f.Close())

	layers, err := Read(fname)
	require.NoError(t, err)
	require.Len(t, layers, 3)

	target := tinyNetwork(t, "conv1/conv", 3, 2)
	report, err := LoadByName(target, layers, LoadOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"conv1/conv", "bn", "predictions"}, report.Loaded)
	assert.Empty(t, report.Unmatched)
	for _, l := range source.Layers {
		for _, w := range l.Weights {
			assert.Equal(t, w.Values, target.Layer(l.Name).Weight(w.Name).Values, "%s/%s", l.Name, w.Name)
			assert.Equal(t, w.Shape, target.Layer(l.Name).Weight(w.Name).Shape)
		}
	}
}
