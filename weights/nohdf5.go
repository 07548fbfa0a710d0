//go:build !hdf5

package weights

import (
	"os"

	"github.com/pkg/errors"
)

// ReadKeras reports that keras HDF5 weights can not be read by this binary
func ReadKeras(fname string) ([]LayerWeights, error) {
	if _, err := os.Stat(fname); err != nil {
		return nil, err
	}
	return nil, errors.Wrapf(ErrNoHDF5, "%s", fname)
}
