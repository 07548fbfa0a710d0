package weights

// weights module provides storage of network weights keyed by layer name
//
// Copyright (c) 2020 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"encoding/binary"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"sort"

	attrpb "github.com/galeone/tensorflow/tensorflow/go/core/framework/attr_value_go_proto"
	tensorpb "github.com/galeone/tensorflow/tensorflow/go/core/framework/tensor_go_proto"
	shapepb "github.com/galeone/tensorflow/tensorflow/go/core/framework/tensor_shape_go_proto"
	typespb "github.com/galeone/tensorflow/tensorflow/go/core/framework/types_go_proto"
	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
	"github.com/vkuznet/tfexport/network"
)

// FormatTag identifies weights files written by this package
const FormatTag = "tfexport.weights.v1"

// ErrFormat is returned when file content is not a weights file
var ErrFormat = errors.New("invalid weights file")

// LayerWeights represents weights of a single layer
type LayerWeights struct {
	Layer   string            // layer name
	Tensors []*network.Tensor // layer weights
}

// Tensor returns layer weight with given name or nil
func (lw LayerWeights) Tensor(name string) *network.Tensor {
	for _, t := range lw.Tensors {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// FromNetwork collects weights of all network layers which have them
func FromNetwork(net *network.Network) []LayerWeights {
	var out []LayerWeights
	for _, l := range net.Layers {
		if len(l.Weights) == 0 {
			continue
		}
		out = append(out, LayerWeights{Layer: l.Name, Tensors: l.Weights})
	}
	return out
}

// ShapeProto converts dimensions into TF shape proto
func ShapeProto(shape []int) *shapepb.TensorShapeProto {
	sp := &shapepb.TensorShapeProto{}
	for _, d := range shape {
		sp.Dim = append(sp.Dim, &shapepb.TensorShapeProto_Dim{Size: int64(d)})
	}
	return sp
}

// TensorProto converts float32 tensor into TF tensor proto
func TensorProto(t *network.Tensor) *tensorpb.TensorProto {
	buf := make([]byte, 4*len(t.Values))
	for i, v := range t.Values {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return &tensorpb.TensorProto{
		Dtype:         typespb.DataType_DT_FLOAT,
		TensorShape:   ShapeProto(t.Shape),
		TensorContent: buf,
	}
}

// FromTensorProto converts TF float tensor proto into tensor with given name
func FromTensorProto(name string, tp *tensorpb.TensorProto) (*network.Tensor, error) {
	if tp.GetDtype() != typespb.DataType_DT_FLOAT {
		return nil, errors.Errorf("tensor %s has dtype %s, expected DT_FLOAT", name, tp.GetDtype())
	}
	var shape []int
	for _, d := range tp.GetTensorShape().GetDim() {
		if d.GetSize() < 0 {
			return nil, errors.Errorf("tensor %s has unknown dimension", name)
		}
		shape = append(shape, int(d.GetSize()))
	}
	t := &network.Tensor{Name: name, Shape: shape}
	t.Values = make([]float32, t.Size())
	switch {
	case len(tp.GetTensorContent()) > 0:
		content := tp.GetTensorContent()
		if len(content) != 4*len(t.Values) {
			return nil, errors.Errorf("tensor %s has %d content bytes for shape %v", name, len(content), shape)
		}
		for i := range t.Values {
			t.Values[i] = math.Float32frombits(binary.LittleEndian.Uint32(content[4*i:]))
		}
	case len(tp.GetFloatVal()) == len(t.Values):
		copy(t.Values, tp.GetFloatVal())
	case len(tp.GetFloatVal()) == 1:
		// single value is broadcast over the whole shape
		for i := range t.Values {
			t.Values[i] = tp.GetFloatVal()[0]
		}
	case len(t.Values) != 0:
		return nil, errors.Errorf("tensor %s has %d values for shape %v", name, len(tp.GetFloatVal()), shape)
	}
	return t, nil
}

// Encode serializes layers weights. The file is TF AttrValue whose list keeps
// the format tag and one NameAttrList per layer mapping weight names to
// tensors.
func Encode(layers []LayerWeights) ([]byte, error) {
	list := &attrpb.AttrValue_ListValue{S: [][]byte{[]byte(FormatTag)}}
	for _, lw := range layers {
		entry := &attrpb.NameAttrList{Name: lw.Layer, Attr: make(map[string]*attrpb.AttrValue)}
		for _, t := range lw.Tensors {
			if len(t.Values) != t.Size() {
				return nil, errors.Errorf("layer %s weight %s has %d values for shape %v", lw.Layer, t.Name, len(t.Values), t.Shape)
			}
			entry.Attr[t.Name] = &attrpb.AttrValue{Value: &attrpb.AttrValue_Tensor{Tensor: TensorProto(t)}}
		}
		list.Func = append(list.Func, entry)
	}
	return proto.Marshal(&attrpb.AttrValue{Value: &attrpb.AttrValue_List{List: list}})
}

// Decode parses serialized layers weights
func Decode(data []byte) ([]LayerWeights, error) {
	var av attrpb.AttrValue
	if err := proto.Unmarshal(data, &av); err != nil {
		return nil, errors.Wrap(ErrFormat, err.Error())
	}
	list := av.GetList()
	if list == nil || len(list.GetS()) == 0 || string(list.GetS()[0]) != FormatTag {
		return nil, errors.Wrap(ErrFormat, "missing format tag")
	}
	var out []LayerWeights
	for _, entry := range list.GetFunc() {
		lw := LayerWeights{Layer: entry.GetName()}
		var names []string
		for name := range entry.GetAttr() {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			tp := entry.GetAttr()[name].GetTensor()
			if tp == nil {
				return nil, errors.Wrapf(ErrFormat, "layer %s weight %s is not a tensor", lw.Layer, name)
			}
			t, err := FromTensorProto(name, tp)
			if err != nil {
				return nil, errors.Wrapf(err, "layer %s", lw.Layer)
			}
			lw.Tensors = append(lw.Tensors, t)
		}
		out = append(out, lw)
	}
	return out, nil
}

// Read reads weights file, keras HDF5 files are recognized by their extension
func Read(fname string) ([]LayerWeights, error) {
	if IsKeras(fname) {
		return ReadKeras(fname)
	}
	data, err := ioutil.ReadFile(fname)
	if err != nil {
		return nil, err
	}
	layers, err := Decode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to decode %s", fname)
	}
	return layers, nil
}

// Save writes all network weights into given file. The file is written to
// a temporary name in the same directory and renamed on success.
func Save(net *network.Network, fname string) error {
	return WriteFile(fname, FromNetwork(net))
}

// WriteFile atomically writes layers weights into given file
func WriteFile(fname string, layers []LayerWeights) error {
	data, err := Encode(layers)
	if err != nil {
		return err
	}
	return AtomicWrite(fname, data, 0644)
}

// AtomicWrite writes data into temporary file next to fname and renames it
func AtomicWrite(fname string, data []byte, perm os.FileMode) error {
	dir, base := filepath.Split(fname)
	if dir == "" {
		dir = "."
	}
	tmp, err := ioutil.TempFile(dir, "."+base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, fname)
}
