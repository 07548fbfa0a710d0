package network

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchitectures(t *testing.T) {
	tests := []struct {
		name     string
		model    ModelType
		channels int
		params   int // reference keras parameter counts for 3 channels and 17 classes
		layer    string
		output   string
	}{
		{name: "resnet50", model: BaselineResNet, channels: 3, params: 23587712 + 2048*17 + 17, layer: "res5c_branch2c", output: "fc1000"},
		{name: "densenet121", model: DenseNet121, channels: 3, params: 7037504 + 1024*17 + 17, layer: "conv5_block16_concat", output: "predictions"},
		{name: "densenet169", model: DenseNet169, channels: 3, params: 12642880 + 1664*17 + 17, layer: "conv5_block32_concat", output: "predictions"},
		{name: "densenet121 with four channels", model: DenseNet121, channels: 4, layer: "conv1/conv", output: "predictions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net, err := Build(tt.model, Options{Channels: tt.channels})
			require.NoError(t, err)

			assert.Equal(t, []int{ImageSize, ImageSize, tt.channels}, net.InputShape())
			assert.Equal(t, []int{Classes}, net.OutputShape())
			assert.Equal(t, tt.output, net.Output().Name)
			assert.Equal(t, "sigmoid", net.Output().Params.Activation)
			assert.NotNil(t, net.Layer(tt.layer))
			if tt.params > 0 {
				assert.Equal(t, tt.params, net.CountParams())
			}
			kernel := net.Layers[2].Weight("kernel")
			require.NotNil(t, kernel)
			assert.Equal(t, tt.channels, kernel.Shape[2])
		})
	}
}

func TestUnsupportedModelType(t *testing.T) {
	net, err := Build(ModelType("inception_v3"), Options{Channels: 3})
	assert.Nil(t, net)
	assert.True(t, errors.Is(err, ErrUnsupportedModelType))

	_, err = ParseModelType("densenet201")
	assert.True(t, errors.Is(err, ErrUnsupportedModelType))

	for _, m := range ModelTypes() {
		parsed, err := ParseModelType(string(m))
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
}

func TestInvalidChannels(t *testing.T) {
	_, err := Build(DenseNet121, Options{Channels: 0})
	assert.Error(t, err)
}

func TestFreezeBase(t *testing.T) {
	net, err := Build(DenseNet121, Options{Channels: 3})
	require.NoError(t, err)
	net.FreezeBase()

	for _, l := range net.Layers[:len(net.Layers)-1] {
		assert.False(t, l.Trainable, l.Name)
	}
	assert.True(t, net.Output().Trainable)
	assert.Equal(t, 1024*Classes+Classes, net.CountTrainableParams())
}

func TestSeededInitialization(t *testing.T) {
	a, err := Build(DenseNet121, Options{Channels: 3, Seed: 42})
	require.NoError(t, err)
	b, err := Build(DenseNet121, Options{Channels: 3, Seed: 42})
	require.NoError(t, err)
	c, err := Build(DenseNet121, Options{Channels: 3, Seed: 7})
	require.NoError(t, err)

	ka := a.Layer("conv1/conv").Weight("kernel").Values
	kb := b.Layer("conv1/conv").Weight("kernel").Values
	kc := c.Layer("conv1/conv").Weight("kernel").Values
	assert.Equal(t, ka, kb)
	assert.NotEqual(t, ka, kc)

	bn := a.Layer("conv1/bn")
	assert.Equal(t, float32(1), bn.Weight("gamma").Values[0])
	assert.Equal(t, float32(0), bn.Weight("beta").Values[0])
	assert.Equal(t, float32(1), bn.Weight("moving_variance").Values[0])
}

func TestBuilder(t *testing.T) {
	b := NewBuilder("tiny", []int{8, 8, 2}, 1)
	x := b.Conv("conv", b.Input(), 4, 3, 1, Same, true)
	y := b.Conv("", b.Input(), 4, 1, 1, Valid, false)
	x = b.Add("", x, y)
	x = b.Activation("", x, "relu")
	x = b.MaxPool("", x, 2, 2, Valid)
	x = b.GlobalAvgPool("", x)
	b.Dense("out", x, 3, "sigmoid")
	net, err := b.Build()
	require.NoError(t, err)

	assert.NotNil(t, net.Layer("conv2d_1"))
	assert.NotNil(t, net.Layer("add_1"))
	assert.NotNil(t, net.Layer("activation_1"))
	assert.NotNil(t, net.Layer("max_pooling2d_1"))
	assert.NotNil(t, net.Layer("global_average_pooling2d_1"))
	assert.Equal(t, []int{4, 4, 4}, net.Layer("max_pooling2d_1").Shape)
	assert.Equal(t, []int{3}, net.OutputShape())
	assert.Contains(t, net.Summary(), "Total params")
}

func TestBuilderErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Builder)
	}{
		{"duplicate layer", func(b *Builder) {
			b.Conv("c", b.Input(), 2, 1, 1, Valid, true)
			b.Conv("c", b.Input(), 2, 1, 1, Valid, true)
		}},
		{"unknown inbound", func(b *Builder) {
			b.Activation("", "missing", "relu")
		}},
		{"bad activation", func(b *Builder) {
			b.Activation("", b.Input(), "swish")
		}},
		{"window too large", func(b *Builder) {
			b.Conv("", b.Input(), 2, 9, 1, Valid, true)
		}},
		{"concat mismatch", func(b *Builder) {
			x := b.MaxPool("", b.Input(), 2, 2, Valid)
			b.Concat("", b.Input(), x)
		}},
		{"dense on spatial input", func(b *Builder) {
			b.Dense("", b.Input(), 2, "")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder("broken", []int{4, 4, 1}, 0)
			tt.build(b)
			net, err := b.Build()
			assert.Nil(t, net)
			assert.Error(t, err)
		})
	}
}

func TestLearningPhase(t *testing.T) {
	b := NewBuilder("tiny", []int{4, 4, 1}, 0)
	b.BatchNorm("bn", b.Input(), 1e-3)
	net, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, Training, net.Phase())
	net.SetLearningPhase(Inference)
	assert.Equal(t, "inference", net.Phase().String())
}
