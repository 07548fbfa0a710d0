package freeze

// freeze module emits TensorFlow graphs of constructed networks and converts
// their variables into constants
//
// Copyright (c) 2020 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"fmt"
	"strings"

	attrpb "github.com/galeone/tensorflow/tensorflow/go/core/framework/attr_value_go_proto"
	graphpb "github.com/galeone/tensorflow/tensorflow/go/core/framework/graph_go_proto"
	nodepb "github.com/galeone/tensorflow/tensorflow/go/core/framework/node_def_go_proto"
	typespb "github.com/galeone/tensorflow/tensorflow/go/core/framework/types_go_proto"
	versionspb "github.com/galeone/tensorflow/tensorflow/go/core/framework/versions_go_proto"
	"github.com/pkg/errors"
	"github.com/vkuznet/tfexport/network"
)

// producer version stamped on emitted graphs
const graphProducer = 1087

// saver node names, the restore op is not reachable from model outputs and
// is dropped by freezing
const (
	SaverFilename = "save/Const"
	RestoreOp     = "save/restore_all"
)

// Graph represents emitted training graph of a network
type Graph struct {
	Def       *graphpb.GraphDef // graph definition
	Input     string            // input placeholder name
	Output    string            // output op name
	Variables []string          // variable op names in creation order
}

// String returns string representation of the graph
func (g *Graph) String() string {
	return fmt.Sprintf("<Graph nodes=%d input=%s output=%s variables=%d>", len(g.Def.GetNode()), g.Input, g.Output, len(g.Variables))
}

type emitter struct {
	def     *graphpb.GraphDef
	phase   network.LearningPhase
	outputs map[string]string
	vars    []string
}

func (e *emitter) node(name, op string, inputs []string, attrs map[string]*attrpb.AttrValue) string {
	e.def.Node = append(e.def.Node, &nodepb.NodeDef{Name: name, Op: op, Input: inputs, Attr: attrs})
	return name
}

var float32Type = attrType(typespb.DataType_DT_FLOAT)

// variable emits VariableV2 with its read identity and returns the identity
func (e *emitter) variable(layer string, w *network.Tensor) string {
	name := layer + "/" + w.Name
	dims := make([]int64, len(w.Shape))
	for i, d := range w.Shape {
		dims[i] = int64(d)
	}
	e.node(name, "VariableV2", nil, map[string]*attrpb.AttrValue{
		"dtype":       float32Type,
		"shape":       attrShape(dims...),
		"container":   attrString(""),
		"shared_name": attrString(""),
	})
	e.vars = append(e.vars, name)
	return e.node(name+"/read", "Identity", []string{name}, map[string]*attrpb.AttrValue{
		"T": float32Type,
	})
}

func (e *emitter) weight(l *network.Layer, name string) (string, error) {
	w := l.Weight(name)
	if w == nil {
		return "", errors.Errorf("layer %s has no %s weight", l.Name, name)
	}
	return e.variable(l.Name, w), nil
}

func padding(p string) *attrpb.AttrValue {
	return attrString(strings.ToUpper(p))
}

func (e *emitter) activation(name, in, fn string) string {
	switch fn {
	case "relu":
		return e.node(name+"/Relu", "Relu", []string{in}, map[string]*attrpb.AttrValue{"T": float32Type})
	case "sigmoid":
		return e.node(name+"/Sigmoid", "Sigmoid", []string{in}, map[string]*attrpb.AttrValue{"T": float32Type})
	case "softmax":
		return e.node(name+"/Softmax", "Softmax", []string{in}, map[string]*attrpb.AttrValue{"T": float32Type})
	}
	return e.node(name+"/Identity", "Identity", []string{in}, map[string]*attrpb.AttrValue{"T": float32Type})
}

func (e *emitter) layer(l *network.Layer) (string, error) {
	var inputs []string
	for _, in := range l.Inputs {
		out, ok := e.outputs[in]
		if !ok {
			return "", errors.Errorf("layer %s consumes %s which is not emitted yet", l.Name, in)
		}
		inputs = append(inputs, out)
	}
	p := l.Params
	switch l.Kind {
	case network.InputLayer:
		dims := []int64{-1}
		for _, d := range l.Shape {
			dims = append(dims, int64(d))
		}
		return e.node(l.Name, "Placeholder", nil, map[string]*attrpb.AttrValue{
			"dtype": float32Type,
			"shape": attrShape(dims...),
		}), nil
	case network.ZeroPadding2D:
		pad := int32(p.Pad)
		paddings := e.node(l.Name+"/Pad/paddings", "Const", nil, map[string]*attrpb.AttrValue{
			"dtype": attrType(typespb.DataType_DT_INT32),
			"value": attrTensor(int32Tensor([]int64{4, 2}, 0, 0, pad, pad, pad, pad, 0, 0)),
		})
		return e.node(l.Name+"/Pad", "Pad", []string{inputs[0], paddings}, map[string]*attrpb.AttrValue{
			"T":         float32Type,
			"Tpaddings": attrType(typespb.DataType_DT_INT32),
		}), nil
	case network.Conv2D:
		kernel, err := e.weight(l, "kernel")
		if err != nil {
			return "", err
		}
		s := int64(p.Strides)
		out := e.node(l.Name+"/Conv2D", "Conv2D", []string{inputs[0], kernel}, map[string]*attrpb.AttrValue{
			"T":                 float32Type,
			"strides":           attrInts(1, s, s, 1),
			"padding":           padding(p.Padding),
			"data_format":       attrString("NHWC"),
			"dilations":         attrInts(1, 1, 1, 1),
			"explicit_paddings": attrInts(),
			"use_cudnn_on_gpu":  attrBool(true),
		})
		if !p.UseBias {
			return out, nil
		}
		bias, err := e.weight(l, "bias")
		if err != nil {
			return "", err
		}
		return e.node(l.Name+"/BiasAdd", "BiasAdd", []string{out, bias}, map[string]*attrpb.AttrValue{
			"T":           float32Type,
			"data_format": attrString("NHWC"),
		}), nil
	case network.BatchNormalization:
		args := []string{inputs[0]}
		for _, name := range []string{"gamma", "beta", "moving_mean", "moving_variance"} {
			v, err := e.weight(l, name)
			if err != nil {
				return "", err
			}
			args = append(args, v)
		}
		return e.node(l.Name+"/FusedBatchNormV3", "FusedBatchNormV3", args, map[string]*attrpb.AttrValue{
			"T":                      float32Type,
			"U":                      float32Type,
			"epsilon":                attrFloat(p.Epsilon),
			"data_format":            attrString("NHWC"),
			"is_training":            attrBool(e.phase == network.Training),
			"exponential_avg_factor": attrFloat(1),
		}), nil
	case network.Activation:
		return e.activation(l.Name, inputs[0], p.Activation), nil
	case network.MaxPooling2D, network.AveragePooling2D:
		op := "MaxPool"
		if l.Kind == network.AveragePooling2D {
			op = "AvgPool"
		}
		k, s := int64(p.Pool), int64(p.Strides)
		return e.node(l.Name+"/"+op, op, []string{inputs[0]}, map[string]*attrpb.AttrValue{
			"T":           float32Type,
			"ksize":       attrInts(1, k, k, 1),
			"strides":     attrInts(1, s, s, 1),
			"padding":     padding(p.Padding),
			"data_format": attrString("NHWC"),
		}), nil
	case network.GlobalAveragePooling2D:
		axes := e.node(l.Name+"/Mean/reduction_indices", "Const", nil, map[string]*attrpb.AttrValue{
			"dtype": attrType(typespb.DataType_DT_INT32),
			"value": attrTensor(int32Tensor([]int64{2}, 1, 2)),
		})
		return e.node(l.Name+"/Mean", "Mean", []string{inputs[0], axes}, map[string]*attrpb.AttrValue{
			"T":         float32Type,
			"Tidx":      attrType(typespb.DataType_DT_INT32),
			"keep_dims": attrBool(false),
		}), nil
	case network.Dense:
		kernel, err := e.weight(l, "kernel")
		if err != nil {
			return "", err
		}
		out := e.node(l.Name+"/MatMul", "MatMul", []string{inputs[0], kernel}, map[string]*attrpb.AttrValue{
			"T":           float32Type,
			"transpose_a": attrBool(false),
			"transpose_b": attrBool(false),
		})
		bias, err := e.weight(l, "bias")
		if err != nil {
			return "", err
		}
		out = e.node(l.Name+"/BiasAdd", "BiasAdd", []string{out, bias}, map[string]*attrpb.AttrValue{
			"T":           float32Type,
			"data_format": attrString("NHWC"),
		})
		if p.Activation == "linear" {
			return out, nil
		}
		return e.activation(l.Name, out, p.Activation), nil
	case network.Concatenate:
		axis := e.node(l.Name+"/concat/axis", "Const", nil, map[string]*attrpb.AttrValue{
			"dtype": attrType(typespb.DataType_DT_INT32),
			"value": attrTensor(int32Tensor(nil, int32(len(l.Shape)))),
		})
		return e.node(l.Name+"/concat", "ConcatV2", append(inputs, axis), map[string]*attrpb.AttrValue{
			"N":    attrInt(int64(len(inputs))),
			"T":    float32Type,
			"Tidx": attrType(typespb.DataType_DT_INT32),
		}), nil
	case network.Add:
		if len(inputs) == 2 {
			return e.node(l.Name+"/add", "AddV2", inputs, map[string]*attrpb.AttrValue{"T": float32Type}), nil
		}
		return e.node(l.Name+"/AddN", "AddN", inputs, map[string]*attrpb.AttrValue{
			"N": attrInt(int64(len(inputs))),
			"T": float32Type,
		}), nil
	}
	return "", errors.Errorf("layer %s has unsupported kind %s", l.Name, l.Kind)
}

// saver emits restore ops which assign checkpoint values to all variables
func (e *emitter) saver() {
	n := int64(len(e.vars))
	filename := e.node(SaverFilename, "Const", nil, map[string]*attrpb.AttrValue{
		"dtype": attrType(typespb.DataType_DT_STRING),
		"value": attrTensor(stringTensor(nil, "model")),
	})
	slices := make([]string, len(e.vars))
	names := e.node("save/RestoreV2/tensor_names", "Const", nil, map[string]*attrpb.AttrValue{
		"dtype": attrType(typespb.DataType_DT_STRING),
		"value": attrTensor(stringTensor([]int64{n}, e.vars...)),
	})
	shapes := e.node("save/RestoreV2/shape_and_slices", "Const", nil, map[string]*attrpb.AttrValue{
		"dtype": attrType(typespb.DataType_DT_STRING),
		"value": attrTensor(stringTensor([]int64{n}, slices...)),
	})
	dtypes := make([]typespb.DataType, len(e.vars))
	for i := range dtypes {
		dtypes[i] = typespb.DataType_DT_FLOAT
	}
	restore := e.node("save/RestoreV2", "RestoreV2", []string{filename, names, shapes}, map[string]*attrpb.AttrValue{
		"dtypes": attrTypes(dtypes...),
	})
	var assigns []string
	for i, v := range e.vars {
		name := "save/Assign"
		if i > 0 {
			name = fmt.Sprintf("save/Assign_%d", i)
		}
		src := restore
		if i > 0 {
			src = fmt.Sprintf("%s:%d", restore, i)
		}
		e.node(name, "Assign", []string{v, src}, map[string]*attrpb.AttrValue{
			"T":              float32Type,
			"use_locking":    attrBool(true),
			"validate_shape": attrBool(true),
		})
		assigns = append(assigns, "^"+name)
	}
	e.node(RestoreOp, "NoOp", assigns, nil)
}

// Build emits training graph of the network: input placeholder, one
// VariableV2 per weight, layer ops and saver restore ops
func Build(net *network.Network) (*Graph, error) {
	e := &emitter{
		def: &graphpb.GraphDef{
			Versions: &versionspb.VersionDef{Producer: graphProducer},
		},
		phase:   net.Phase(),
		outputs: make(map[string]string),
	}
	for _, l := range net.Layers {
		out, err := e.layer(l)
		if err != nil {
			return nil, err
		}
		e.outputs[l.Name] = out
	}
	e.saver()
	return &Graph{
		Def:       e.def,
		Input:     e.outputs[net.Input().Name],
		Output:    e.outputs[net.Output().Name],
		Variables: e.vars,
	}, nil
}
