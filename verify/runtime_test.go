//go:build tensorflow

package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph(t *testing.T) {
	fname := frozenGraph(t)
	res, err := Graph(fname, 5)
	require.NoError(t, err)
	assert.Equal(t, "input_1", res.Input)
	assert.Equal(t, "predictions/Sigmoid", res.Output)
	assert.Equal(t, []int{1, 5}, res.Shape)

	_, err = Graph(fname, 17)
	assert.Error(t, err)
}
