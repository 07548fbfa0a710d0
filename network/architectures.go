package network

import (
	"fmt"

	"github.com/pkg/errors"
)

// ModelType represents supported architecture name as stored in run options
type ModelType string

// supported architectures
const (
	BaselineResNet ModelType = "baseline_resnet"
	DenseNet121    ModelType = "densenet121"
	DenseNet169    ModelType = "densenet169"
)

// fixed input resolution and number of output classes of tagging models
const (
	ImageSize = 256
	Classes   = 17
)

// ErrUnsupportedModelType is returned for model types without constructor
var ErrUnsupportedModelType = errors.New("unsupported model type")

// Options represents architecture construction options
type Options struct {
	Channels   int    // number of input channels
	ImageSize  int    // input height and width, defaults to ImageSize
	Classes    int    // number of output classes, defaults to Classes
	Activation string // output activation, defaults to sigmoid
	Seed       int64  // seed of random weights initialization
}

func (o Options) defaults() Options {
	if o.ImageSize == 0 {
		o.ImageSize = ImageSize
	}
	if o.Classes == 0 {
		o.Classes = Classes
	}
	if o.Activation == "" {
		o.Activation = "sigmoid"
	}
	return o
}

// Constructor builds architecture for given options
type Constructor func(opts Options) (*Network, error)

var constructors = map[ModelType]Constructor{
	BaselineResNet: ResNet50,
	DenseNet121:    func(opts Options) (*Network, error) { return DenseNet(string(DenseNet121), []int{6, 12, 24, 16}, opts) },
	DenseNet169:    func(opts Options) (*Network, error) { return DenseNet(string(DenseNet169), []int{6, 12, 32, 32}, opts) },
}

// ModelTypes returns list of supported model types
func ModelTypes() []ModelType {
	return []ModelType{BaselineResNet, DenseNet121, DenseNet169}
}

// ParseModelType validates given model type name
func ParseModelType(name string) (ModelType, error) {
	t := ModelType(name)
	if _, ok := constructors[t]; !ok {
		return "", errors.Wrapf(ErrUnsupportedModelType, "%q, supported types are %v", name, ModelTypes())
	}
	return t, nil
}

// Select returns constructor of given model type
func Select(t ModelType) (Constructor, error) {
	c, ok := constructors[t]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedModelType, "%q", t)
	}
	return c, nil
}

// Build constructs network of given model type
func Build(t ModelType, opts Options) (*Network, error) {
	c, err := Select(t)
	if err != nil {
		return nil, err
	}
	if opts.Channels <= 0 {
		return nil, errors.Errorf("invalid number of input channels %d", opts.Channels)
	}
	return c(opts)
}

// PretrainedName returns file name of ImageNet weights for given model type
func PretrainedName(t ModelType) string {
	switch t {
	case BaselineResNet:
		return "resnet50_imagenet.pb"
	default:
		return fmt.Sprintf("%s_imagenet.pb", t)
	}
}

// ResNet50 builds ResNet50 architecture with a classification top
func ResNet50(opts Options) (*Network, error) {
	opts = opts.defaults()
	b := NewBuilder("resnet50", []int{opts.ImageSize, opts.ImageSize, opts.Channels}, opts.Seed)
	const eps = 1e-3

	x := b.ZeroPadding("conv1_pad", b.Input(), 3)
	x = b.Conv("conv1", x, 64, 7, 2, Valid, true)
	x = b.BatchNorm("bn_conv1", x, eps)
	x = b.Activation("", x, "relu")
	x = b.ZeroPadding("pool1_pad", x, 1)
	x = b.MaxPool("max_pooling2d_1", x, 3, 2, Valid)

	stages := []struct {
		filters [3]int
		blocks  int
		strides int
	}{
		{[3]int{64, 64, 256}, 3, 1},
		{[3]int{128, 128, 512}, 4, 2},
		{[3]int{256, 256, 1024}, 6, 2},
		{[3]int{512, 512, 2048}, 3, 2},
	}
	for i, s := range stages {
		stage := i + 2
		for j := 0; j < s.blocks; j++ {
			block := string(rune('a' + j))
			if j == 0 {
				x = resnetBlock(b, x, s.filters, stage, block, s.strides, true)
			} else {
				x = resnetBlock(b, x, s.filters, stage, block, 1, false)
			}
		}
	}

	x = b.GlobalAvgPool("avg_pool", x)
	b.Dense("fc1000", x, opts.Classes, opts.Activation)
	return b.Build()
}

// resnetBlock adds bottleneck block, conv blocks use projection shortcut
func resnetBlock(b *Builder, in string, filters [3]int, stage int, block string, strides int, conv bool) string {
	const eps = 1e-3
	convBase := fmt.Sprintf("res%d%s_branch", stage, block)
	bnBase := fmt.Sprintf("bn%d%s_branch", stage, block)

	x := b.Conv(convBase+"2a", in, filters[0], 1, strides, Valid, true)
	x = b.BatchNorm(bnBase+"2a", x, eps)
	x = b.Activation("", x, "relu")
	x = b.Conv(convBase+"2b", x, filters[1], 3, 1, Same, true)
	x = b.BatchNorm(bnBase+"2b", x, eps)
	x = b.Activation("", x, "relu")
	x = b.Conv(convBase+"2c", x, filters[2], 1, 1, Valid, true)
	x = b.BatchNorm(bnBase+"2c", x, eps)

	shortcut := in
	if conv {
		shortcut = b.Conv(convBase+"1", in, filters[2], 1, strides, Valid, true)
		shortcut = b.BatchNorm(bnBase+"1", shortcut, eps)
	}
	x = b.Add("", x, shortcut)
	return b.Activation("", x, "relu")
}

// DenseNet builds DenseNet architecture with given dense block sizes
func DenseNet(name string, blocks []int, opts Options) (*Network, error) {
	opts = opts.defaults()
	b := NewBuilder(name, []int{opts.ImageSize, opts.ImageSize, opts.Channels}, opts.Seed)
	const eps = 1.001e-5

	x := b.ZeroPadding("zero_padding2d_1", b.Input(), 3)
	x = b.Conv("conv1/conv", x, 64, 7, 2, Valid, false)
	x = b.BatchNorm("conv1/bn", x, eps)
	x = b.Activation("conv1/relu", x, "relu")
	x = b.ZeroPadding("zero_padding2d_2", x, 1)
	x = b.MaxPool("pool1", x, 3, 2, Valid)

	channels := 64
	for i, n := range blocks {
		stage := fmt.Sprintf("conv%d", i+2)
		for j := 1; j <= n; j++ {
			x = denseBlock(b, x, fmt.Sprintf("%s_block%d", stage, j))
			channels += growthRate
		}
		if i == len(blocks)-1 {
			break
		}
		channels /= 2
		x = transitionBlock(b, x, channels, fmt.Sprintf("pool%d", i+2))
	}

	x = b.BatchNorm("bn", x, eps)
	x = b.Activation("relu", x, "relu")
	x = b.GlobalAvgPool("avg_pool", x)
	b.Dense("predictions", x, opts.Classes, opts.Activation)
	return b.Build()
}

const growthRate = 32

// denseBlock adds DenseNet convolution block whose output is concatenated
// with its input
func denseBlock(b *Builder, in, name string) string {
	const eps = 1.001e-5
	x := b.BatchNorm(name+"_0_bn", in, eps)
	x = b.Activation(name+"_0_relu", x, "relu")
	x = b.Conv(name+"_1_conv", x, 4*growthRate, 1, 1, Valid, false)
	x = b.BatchNorm(name+"_1_bn", x, eps)
	x = b.Activation(name+"_1_relu", x, "relu")
	x = b.Conv(name+"_2_conv", x, growthRate, 3, 1, Same, false)
	return b.Concat(name+"_concat", in, x)
}

// transitionBlock compresses channels and halves spatial resolution
func transitionBlock(b *Builder, in string, channels int, name string) string {
	const eps = 1.001e-5
	x := b.BatchNorm(name+"_bn", in, eps)
	x = b.Activation(name+"_relu", x, "relu")
	x = b.Conv(name+"_conv", x, channels, 1, 1, Valid, false)
	return b.AvgPool(name+"_pool", x, 2, 2, Valid)
}
