package verify

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkuznet/tfexport/freeze"
	"github.com/vkuznet/tfexport/network"
)

// helper function to write frozen graph of a small tagging network
func frozenGraph(t *testing.T) string {
	t.Helper()
	b := network.NewBuilder("small", []int{16, 16, 4}, 3)
	x := b.Conv("conv", b.Input(), 8, 3, 2, network.Same, true)
	x = b.BatchNorm("bn", x, 1e-3)
	x = b.Activation("relu", x, "relu")
	x = b.GlobalAvgPool("avg_pool", x)
	b.Dense("predictions", x, 5, "sigmoid")
	net, err := b.Build()
	require.NoError(t, err)
	net.SetLearningPhase(network.Inference)
	fname := filepath.Join(t.TempDir(), "output_graph.pb")
	_, err = freeze.Network(net, t.TempDir(), fname)
	require.NoError(t, err)
	return fname
}

func TestInputShape(t *testing.T) {
	def, err := freeze.ReadGraph(frozenGraph(t), true)
	require.NoError(t, err)
	shape, err := InputShape(def, "input_1")
	require.NoError(t, err)
	assert.Equal(t, []int{16, 16, 4}, shape)

	_, err = InputShape(def, "predictions/Sigmoid")
	assert.Error(t, err)
	_, err = InputShape(def, "missing")
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	shape, lo, hi := describe([][]float32{{0.5, 0.2, 0.9}})
	assert.Equal(t, []int{1, 3}, shape)
	assert.Equal(t, float32(0.2), lo)
	assert.Equal(t, float32(0.9), hi)

	r := &Result{Output: "predictions/Sigmoid", Shape: shape, Min: lo, Max: hi}
	assert.NoError(t, r.Check(3))
	assert.Error(t, r.Check(17))

	r.Max = 1.5
	assert.Error(t, r.Check(3))
}
