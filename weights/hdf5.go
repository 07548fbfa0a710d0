//go:build hdf5

package weights

import (
	"github.com/pkg/errors"
	"github.com/vkuznet/tfexport/network"
	"gonum.org/v1/hdf5"
)

// common part of hdf5 files and groups
type hdf5Group interface {
	NumObjects() (uint, error)
	ObjectNameByIndex(idx uint) (string, error)
	ObjectTypeByIndex(idx uint) (hdf5.GType, error)
	OpenGroup(name string) (*hdf5.Group, error)
	OpenDataset(name string) (*hdf5.Dataset, error)
}

// ReadKeras reads layer weights of keras HDF5 file, either a full model file
// or the one written by save_weights. Optimizer state is ignored.
func ReadKeras(fname string) ([]LayerWeights, error) {
	f, err := hdf5.OpenFile(fname, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "unable to open %s: %v", fname, err)
	}
	defer f.Close()
	var root hdf5Group = f
	if f.LinkExists(KerasGroup) {
		g, err := f.OpenGroup(KerasGroup)
		if err != nil {
			return nil, errors.Wrapf(ErrFormat, "%s: %v", fname, err)
		}
		defer g.Close()
		root = g
	}
	k := newKerasLayers()
	if err := walkKeras(root, "", k); err != nil {
		return nil, errors.Wrapf(err, "unable to read %s", fname)
	}
	if len(k.order) == 0 {
		return nil, errors.Wrapf(ErrFormat, "%s has no layer weights", fname)
	}
	return k.list(), nil
}

// helper function to walk groups recursively and collect their datasets
func walkKeras(g hdf5Group, prefix string, k *kerasLayers) error {
	n, err := g.NumObjects()
	if err != nil {
		return err
	}
	for i := uint(0); i < n; i++ {
		name, err := g.ObjectNameByIndex(i)
		if err != nil {
			return err
		}
		typ, err := g.ObjectTypeByIndex(i)
		if err != nil {
			return err
		}
		path := name
		if prefix != "" {
			path = prefix + "/" + name
		}
		switch typ {
		case hdf5.H5G_GROUP:
			sub, err := g.OpenGroup(name)
			if err != nil {
				return err
			}
			err = walkKeras(sub, path, k)
			sub.Close()
			if err != nil {
				return err
			}
		case hdf5.H5G_DATASET:
			ds, err := g.OpenDataset(name)
			if err != nil {
				return err
			}
			t, err := readTensor(ds)
			ds.Close()
			if err != nil {
				return errors.Wrapf(err, "dataset %s", path)
			}
			if err := k.add(path, t); err != nil {
				return err
			}
		}
	}
	return nil
}

// readTensor reads float32 dataset, dataset is read with its file type so
// only native float32 layout is accepted
func readTensor(ds *hdf5.Dataset) (*network.Tensor, error) {
	dtype, err := ds.Datatype()
	if err != nil {
		return nil, err
	}
	defer dtype.Close()
	if !dtype.Equal(hdf5.T_NATIVE_FLOAT) {
		return nil, errors.Wrapf(ErrFormat, "unsupported data type of size %d", dtype.Size())
	}
	space := ds.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, err
	}
	t := &network.Tensor{
		Shape:  make([]int, len(dims)),
		Values: make([]float32, space.SimpleExtentNPoints()),
	}
	for i, d := range dims {
		t.Shape[i] = int(d)
	}
	if len(t.Values) > 0 {
		if err := ds.Read(&t.Values); err != nil {
			return nil, err
		}
	}
	return t, nil
}
