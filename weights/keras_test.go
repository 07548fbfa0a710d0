package weights

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkuznet/tfexport/network"
)

func TestSplitWeightPath(t *testing.T) {
	tests := []struct {
		path   string
		layer  string
		weight string
	}{
		{"fc1000/fc1000/kernel:0", "fc1000", "kernel"},
		{"conv1/conv/conv1/conv/kernel:0", "conv1/conv", "kernel"},
		{"conv2_block1_1_bn/conv2_block1_1_bn/moving_variance:0", "conv2_block1_1_bn", "moving_variance"},
		{"bn_conv1/gamma:0", "bn_conv1", "gamma"},
		{"conv1/conv/kernel:0", "conv1/conv", "kernel"},
		{"kernel:0", "", "kernel"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			layer, weight := splitWeightPath(tt.path)
			assert.Equal(t, tt.layer, layer)
			assert.Equal(t, tt.weight, weight)
		})
	}
}

func TestKerasLayers(t *testing.T) {
	k := newKerasLayers()
	require.NoError(t, k.add("conv1/conv/conv1/conv/kernel:0", &network.Tensor{Shape: []int{1}, Values: []float32{1}}))
	require.NoError(t, k.add("predictions/predictions/bias:0", &network.Tensor{Shape: []int{2}, Values: []float32{2, 3}}))
	require.NoError(t, k.add("predictions/predictions/kernel:0", &network.Tensor{Shape: []int{1, 2}, Values: []float32{4, 5}}))

	err := k.add("predictions/predictions/bias:0", &network.Tensor{Shape: []int{2}, Values: []float32{0, 0}})
	assert.True(t, errors.Is(err, ErrFormat))
	assert.True(t, errors.Is(k.add("kernel:0", &network.Tensor{}), ErrFormat))

	layers := k.list()
	require.Len(t, layers, 2)
	assert.Equal(t, "conv1/conv", layers[0].Layer)
	assert.Equal(t, "predictions", layers[1].Layer)
	assert.Equal(t, []float32{4, 5}, layers[1].Tensor("kernel").Values)
	assert.Equal(t, []float32{2, 3}, layers[1].Tensor("bias").Values)
}

func TestIsKeras(t *testing.T) {
	assert.True(t, IsKeras("best_model.h5"))
	assert.True(t, IsKeras("/opt/data/model.HDF5"))
	assert.False(t, IsKeras("best_model.pb"))
	assert.False(t, IsKeras("saved_checkpoint-0"))
}
