//go:build !hdf5

package weights

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadKerasWithoutHDF5(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "best_model.h5")
	_, err := Read(fname)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoHDF5))

	require.NoError(t, ioutil.WriteFile(fname, []byte("HDF"), 0644))
	_, err = Read(fname)
	assert.True(t, errors.Is(err, ErrNoHDF5))
}
