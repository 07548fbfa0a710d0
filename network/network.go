package network

// network module provides in-memory representation of Keras-like
// convolutional networks used by the exporter
//
// Copyright (c) 2020 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"fmt"
	"strings"
)

// Kind represents layer type
type Kind string

// list of supported layer kinds
const (
	InputLayer             Kind = "InputLayer"
	ZeroPadding2D          Kind = "ZeroPadding2D"
	Conv2D                 Kind = "Conv2D"
	BatchNormalization     Kind = "BatchNormalization"
	Activation             Kind = "Activation"
	MaxPooling2D           Kind = "MaxPooling2D"
	AveragePooling2D       Kind = "AveragePooling2D"
	GlobalAveragePooling2D Kind = "GlobalAveragePooling2D"
	Dense                  Kind = "Dense"
	Concatenate            Kind = "Concatenate"
	Add                    Kind = "Add"
)

// LearningPhase mirrors keras learning phase flag
type LearningPhase int

const (
	// Inference phase, BN layers use moving statistics
	Inference LearningPhase = iota
	// Training phase, BN layers use batch statistics
	Training
)

// String returns string representation of learning phase
func (p LearningPhase) String() string {
	if p == Training {
		return "training"
	}
	return "inference"
}

// Tensor represents named float32 weight tensor
type Tensor struct {
	Name   string    // weight name within its layer, e.g. kernel
	Shape  []int     // tensor dimensions
	Values []float32 // row-major values
}

// Size returns number of elements defined by tensor shape
func (t *Tensor) Size() int {
	return shapeSize(t.Shape)
}

// SameShape checks if given shape matches tensor shape
func (t *Tensor) SameShape(shape []int) bool {
	if len(t.Shape) != len(shape) {
		return false
	}
	for i, d := range t.Shape {
		if shape[i] != d {
			return false
		}
	}
	return true
}

// Params keeps layer hyper-parameters, only subset is used by each kind
type Params struct {
	Filters    int     // Conv2D number of filters
	Units      int     // Dense number of units
	Kernel     int     // Conv2D kernel size
	Strides    int     // Conv2D/pooling strides
	Pool       int     // pooling size
	Pad        int     // ZeroPadding2D symmetric padding
	Padding    string  // valid or same
	UseBias    bool    // Conv2D/Dense bias usage
	Activation string  // activation function name
	Epsilon    float32 // BatchNormalization epsilon
	Axis       int     // Concatenate axis
}

// Layer represents single network layer
type Layer struct {
	Name      string    // unique layer name
	Kind      Kind      // layer kind
	Inputs    []string  // names of inbound layers
	Params    Params    // layer hyper-parameters
	Shape     []int     // output shape without batch dimension
	Weights   []*Tensor // layer weights in keras order
	Trainable bool      // trainable flag
}

// Weight returns layer weight with given name or nil
func (l *Layer) Weight(name string) *Tensor {
	for _, w := range l.Weights {
		if w.Name == name {
			return w
		}
	}
	return nil
}

// String returns string representation of the layer
func (l *Layer) String() string {
	return fmt.Sprintf("<Layer name=%s kind=%s inputs=%v shape=%v weights=%d trainable=%v>", l.Name, l.Kind, l.Inputs, l.Shape, len(l.Weights), l.Trainable)
}

// Network represents constructed network with its weights
type Network struct {
	Name   string   // architecture name
	Layers []*Layer // layers in topological order
	phase  LearningPhase
	index  map[string]*Layer
}

// Layer returns network layer with given name or nil
func (n *Network) Layer(name string) *Layer {
	return n.index[name]
}

// Input returns network input layer
func (n *Network) Input() *Layer {
	return n.Layers[0]
}

// Output returns network output layer
func (n *Network) Output() *Layer {
	return n.Layers[len(n.Layers)-1]
}

// InputShape returns input shape (height, width, channels)
func (n *Network) InputShape() []int {
	return n.Input().Shape
}

// OutputShape returns output shape without batch dimension
func (n *Network) OutputShape() []int {
	return n.Output().Shape
}

// Phase returns network learning phase
func (n *Network) Phase() LearningPhase {
	return n.phase
}

// SetLearningPhase switches stochastic and normalization layers between
// training and inference behavior
func (n *Network) SetLearningPhase(p LearningPhase) {
	n.phase = p
}

// FreezeBase marks every layer except the last one as non-trainable
func (n *Network) FreezeBase() {
	for i, l := range n.Layers {
		l.Trainable = i == len(n.Layers)-1
	}
}

// CountParams returns total number of weight values in the network
func (n *Network) CountParams() int {
	var total int
	for _, l := range n.Layers {
		for _, w := range l.Weights {
			total += w.Size()
		}
	}
	return total
}

// CountTrainableParams returns number of weight values of trainable layers
func (n *Network) CountTrainableParams() int {
	var total int
	for _, l := range n.Layers {
		if !l.Trainable {
			continue
		}
		for _, w := range l.Weights {
			total += w.Size()
		}
	}
	return total
}

// String returns string representation of the network
func (n *Network) String() string {
	return fmt.Sprintf("<Network name=%s layers=%d input=%v output=%v params=%d phase=%s>", n.Name, len(n.Layers), n.InputShape(), n.OutputShape(), n.CountParams(), n.phase)
}

// Summary returns keras-like summary table of the network
func (n *Network) Summary() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Model: %s\n", n.Name))
	for _, l := range n.Layers {
		var params int
		for _, w := range l.Weights {
			params += w.Size()
		}
		sb.WriteString(fmt.Sprintf("%-36s %-24s %-20v %d\n", l.Name, l.Kind, l.Shape, params))
	}
	sb.WriteString(fmt.Sprintf("Total params: %d\n", n.CountParams()))
	sb.WriteString(fmt.Sprintf("Trainable params: %d\n", n.CountTrainableParams()))
	return sb.String()
}

func shapeSize(shape []int) int {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return size
}
