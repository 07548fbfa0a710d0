package network

import (
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// padding modes
const (
	Valid = "valid"
	Same  = "same"
)

// Builder constructs network layer by layer. The first error is kept and
// returned by Build, subsequent calls become no-op.
type Builder struct {
	name    string
	layers  []*Layer
	index   map[string]*Layer
	counter map[Kind]int
	rnd     *rand.Rand
	err     error
}

// NewBuilder creates new builder with input layer of given shape
// (height, width, channels). Seed controls random weights initialization.
func NewBuilder(name string, input []int, seed int64) *Builder {
	b := &Builder{
		name:    name,
		index:   make(map[string]*Layer),
		counter: make(map[Kind]int),
		rnd:     rand.New(rand.NewSource(seed)),
	}
	if len(input) != 3 {
		b.err = errors.Errorf("input shape should be (height, width, channels), got %v", input)
		return b
	}
	for _, d := range input {
		if d <= 0 {
			b.err = errors.Errorf("invalid input shape %v", input)
			return b
		}
	}
	shape := make([]int, len(input))
	copy(shape, input)
	b.add(&Layer{Name: "input_1", Kind: InputLayer, Shape: shape})
	return b
}

// Input returns name of the input layer
func (b *Builder) Input() string {
	return "input_1"
}

var camel = regexp.MustCompile("([a-z0-9])([A-Z])")

// auto generates keras-like layer names, e.g. activation_1
func (b *Builder) auto(kind Kind) string {
	b.counter[kind]++
	base := strings.ToLower(camel.ReplaceAllString(string(kind), "${1}_${2}"))
	base = strings.Replace(base, "2_d", "2d", 1)
	return fmt.Sprintf("%s_%d", base, b.counter[kind])
}

func (b *Builder) add(l *Layer) string {
	if b.err != nil {
		return l.Name
	}
	if _, ok := b.index[l.Name]; ok {
		b.err = errors.Errorf("duplicate layer name %s", l.Name)
		return l.Name
	}
	l.Trainable = true
	b.layers = append(b.layers, l)
	b.index[l.Name] = l
	return l.Name
}

// helper function to look-up inbound layer shape
func (b *Builder) shape(name string, rank int) []int {
	if b.err != nil {
		return nil
	}
	l, ok := b.index[name]
	if !ok {
		b.err = errors.Errorf("unknown inbound layer %s", name)
		return nil
	}
	if rank > 0 && len(l.Shape) != rank {
		b.err = errors.Errorf("layer %s has shape %v, expected rank %d", name, l.Shape, rank)
		return nil
	}
	return l.Shape
}

func (b *Builder) name0(name string, kind Kind) string {
	if name == "" {
		return b.auto(kind)
	}
	return name
}

// spatial output size of convolution or pooling window
func outSize(in, window, strides int, padding string) int {
	if padding == Same {
		return (in + strides - 1) / strides
	}
	return (in-window)/strides + 1
}

func (b *Builder) spatial(name string, h, w, window, strides int, padding string) (int, int) {
	if padding != Valid && padding != Same {
		b.err = errors.Errorf("layer %s: unsupported padding %q", name, padding)
		return 0, 0
	}
	oh, ow := outSize(h, window, strides, padding), outSize(w, window, strides, padding)
	if oh <= 0 || ow <= 0 {
		b.err = errors.Errorf("layer %s: window %d does not fit input %dx%d", name, window, h, w)
	}
	return oh, ow
}

// glorot uniform initializer
func (b *Builder) glorot(name string, shape []int, fanIn, fanOut int) *Tensor {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	t := &Tensor{Name: name, Shape: shape, Values: make([]float32, shapeSize(shape))}
	for i := range t.Values {
		t.Values[i] = float32((b.rnd.Float64()*2 - 1) * limit)
	}
	return t
}

func filled(name string, shape []int, v float32) *Tensor {
	t := &Tensor{Name: name, Shape: shape, Values: make([]float32, shapeSize(shape))}
	if v != 0 {
		for i := range t.Values {
			t.Values[i] = v
		}
	}
	return t
}

// ZeroPadding adds symmetric spatial zero padding layer
func (b *Builder) ZeroPadding(name, in string, pad int) string {
	name = b.name0(name, ZeroPadding2D)
	s := b.shape(in, 3)
	if s == nil {
		return name
	}
	return b.add(&Layer{
		Name:   name,
		Kind:   ZeroPadding2D,
		Inputs: []string{in},
		Params: Params{Pad: pad},
		Shape:  []int{s[0] + 2*pad, s[1] + 2*pad, s[2]},
	})
}

// Conv adds 2D convolution layer with square kernel
func (b *Builder) Conv(name, in string, filters, kernel, strides int, padding string, useBias bool) string {
	name = b.name0(name, Conv2D)
	s := b.shape(in, 3)
	if s == nil {
		return name
	}
	h, w := b.spatial(name, s[0], s[1], kernel, strides, padding)
	if b.err != nil {
		return name
	}
	channels := s[2]
	weights := []*Tensor{
		b.glorot("kernel", []int{kernel, kernel, channels, filters}, kernel*kernel*channels, kernel*kernel*filters),
	}
	if useBias {
		weights = append(weights, filled("bias", []int{filters}, 0))
	}
	return b.add(&Layer{
		Name:    name,
		Kind:    Conv2D,
		Inputs:  []string{in},
		Params:  Params{Filters: filters, Kernel: kernel, Strides: strides, Padding: padding, UseBias: useBias},
		Shape:   []int{h, w, filters},
		Weights: weights,
	})
}

// BatchNorm adds batch normalization layer over channels axis
func (b *Builder) BatchNorm(name, in string, epsilon float32) string {
	name = b.name0(name, BatchNormalization)
	s := b.shape(in, 0)
	if s == nil {
		return name
	}
	c := s[len(s)-1]
	return b.add(&Layer{
		Name:   name,
		Kind:   BatchNormalization,
		Inputs: []string{in},
		Params: Params{Epsilon: epsilon, Axis: -1},
		Shape:  append([]int{}, s...),
		Weights: []*Tensor{
			filled("gamma", []int{c}, 1),
			filled("beta", []int{c}, 0),
			filled("moving_mean", []int{c}, 0),
			filled("moving_variance", []int{c}, 1),
		},
	})
}

// Activation adds activation layer, supported functions are relu, sigmoid,
// softmax and linear
func (b *Builder) Activation(name, in, fn string) string {
	name = b.name0(name, Activation)
	s := b.shape(in, 0)
	if s == nil {
		return name
	}
	if !validActivation(fn) {
		b.err = errors.Errorf("layer %s: unsupported activation %q", name, fn)
		return name
	}
	return b.add(&Layer{
		Name:   name,
		Kind:   Activation,
		Inputs: []string{in},
		Params: Params{Activation: fn},
		Shape:  append([]int{}, s...),
	})
}

func (b *Builder) pool(kind Kind, name, in string, pool, strides int, padding string) string {
	name = b.name0(name, kind)
	s := b.shape(in, 3)
	if s == nil {
		return name
	}
	h, w := b.spatial(name, s[0], s[1], pool, strides, padding)
	return b.add(&Layer{
		Name:   name,
		Kind:   kind,
		Inputs: []string{in},
		Params: Params{Pool: pool, Strides: strides, Padding: padding},
		Shape:  []int{h, w, s[2]},
	})
}

// MaxPool adds max pooling layer
func (b *Builder) MaxPool(name, in string, pool, strides int, padding string) string {
	return b.pool(MaxPooling2D, name, in, pool, strides, padding)
}

// AvgPool adds average pooling layer
func (b *Builder) AvgPool(name, in string, pool, strides int, padding string) string {
	return b.pool(AveragePooling2D, name, in, pool, strides, padding)
}

// GlobalAvgPool adds global average pooling over spatial dimensions
func (b *Builder) GlobalAvgPool(name, in string) string {
	name = b.name0(name, GlobalAveragePooling2D)
	s := b.shape(in, 3)
	if s == nil {
		return name
	}
	return b.add(&Layer{
		Name:   name,
		Kind:   GlobalAveragePooling2D,
		Inputs: []string{in},
		Shape:  []int{s[2]},
	})
}

// Dense adds fully connected layer with optional activation
func (b *Builder) Dense(name, in string, units int, activation string) string {
	name = b.name0(name, Dense)
	s := b.shape(in, 1)
	if s == nil {
		return name
	}
	if activation == "" {
		activation = "linear"
	}
	if !validActivation(activation) {
		b.err = errors.Errorf("layer %s: unsupported activation %q", name, activation)
		return name
	}
	return b.add(&Layer{
		Name:   name,
		Kind:   Dense,
		Inputs: []string{in},
		Params: Params{Units: units, UseBias: true, Activation: activation},
		Shape:  []int{units},
		Weights: []*Tensor{
			b.glorot("kernel", []int{s[0], units}, s[0], units),
			filled("bias", []int{units}, 0),
		},
	})
}

// Concat adds concatenation layer over channels axis
func (b *Builder) Concat(name string, ins ...string) string {
	name = b.name0(name, Concatenate)
	if b.err == nil && len(ins) < 2 {
		b.err = errors.Errorf("layer %s: concatenation requires at least two inputs", name)
	}
	var shape []int
	for _, in := range ins {
		s := b.shape(in, 3)
		if s == nil {
			return name
		}
		if shape == nil {
			shape = append([]int{}, s...)
			continue
		}
		if s[0] != shape[0] || s[1] != shape[1] {
			b.err = errors.Errorf("layer %s: incompatible concatenation inputs %v and %v", name, shape, s)
			return name
		}
		shape[2] += s[2]
	}
	return b.add(&Layer{
		Name:   name,
		Kind:   Concatenate,
		Inputs: ins,
		Params: Params{Axis: -1},
		Shape:  shape,
	})
}

// Add adds element-wise sum layer
func (b *Builder) Add(name string, ins ...string) string {
	name = b.name0(name, Add)
	if b.err == nil && len(ins) < 2 {
		b.err = errors.Errorf("layer %s: addition requires at least two inputs", name)
	}
	var shape []int
	for _, in := range ins {
		s := b.shape(in, 0)
		if s == nil {
			return name
		}
		if shape == nil {
			shape = append([]int{}, s...)
			continue
		}
		if fmt.Sprint(s) != fmt.Sprint(shape) {
			b.err = errors.Errorf("layer %s: incompatible addition inputs %v and %v", name, shape, s)
			return name
		}
	}
	return b.add(&Layer{
		Name:   name,
		Kind:   Add,
		Inputs: ins,
		Shape:  shape,
	})
}

// Build returns constructed network in training phase, the last added layer
// is the output
func (b *Builder) Build() (*Network, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.layers) < 2 {
		return nil, errors.Errorf("network %s has no layers besides its input", b.name)
	}
	return &Network{Name: b.name, Layers: b.layers, phase: Training, index: b.index}, nil
}

func validActivation(fn string) bool {
	switch fn {
	case "relu", "sigmoid", "softmax", "linear":
		return true
	}
	return false
}
