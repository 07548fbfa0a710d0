package freeze

import (
	attrpb "github.com/galeone/tensorflow/tensorflow/go/core/framework/attr_value_go_proto"
	tensorpb "github.com/galeone/tensorflow/tensorflow/go/core/framework/tensor_go_proto"
	shapepb "github.com/galeone/tensorflow/tensorflow/go/core/framework/tensor_shape_go_proto"
	typespb "github.com/galeone/tensorflow/tensorflow/go/core/framework/types_go_proto"
)

// helper functions to construct node attributes

func attrType(t typespb.DataType) *attrpb.AttrValue {
	return &attrpb.AttrValue{Value: &attrpb.AttrValue_Type{Type: t}}
}

func attrTypes(types ...typespb.DataType) *attrpb.AttrValue {
	return &attrpb.AttrValue{Value: &attrpb.AttrValue_List{List: &attrpb.AttrValue_ListValue{Type: types}}}
}

func attrInt(i int64) *attrpb.AttrValue {
	return &attrpb.AttrValue{Value: &attrpb.AttrValue_I{I: i}}
}

func attrInts(vals ...int64) *attrpb.AttrValue {
	return &attrpb.AttrValue{Value: &attrpb.AttrValue_List{List: &attrpb.AttrValue_ListValue{I: vals}}}
}

func attrFloat(f float32) *attrpb.AttrValue {
	return &attrpb.AttrValue{Value: &attrpb.AttrValue_F{F: f}}
}

func attrBool(b bool) *attrpb.AttrValue {
	return &attrpb.AttrValue{Value: &attrpb.AttrValue_B{B: b}}
}

func attrString(s string) *attrpb.AttrValue {
	return &attrpb.AttrValue{Value: &attrpb.AttrValue_S{S: []byte(s)}}
}

func attrTensor(tp *tensorpb.TensorProto) *attrpb.AttrValue {
	return &attrpb.AttrValue{Value: &attrpb.AttrValue_Tensor{Tensor: tp}}
}

// shape attribute, negative dimensions are unknown
func attrShape(dims ...int64) *attrpb.AttrValue {
	sp := &shapepb.TensorShapeProto{}
	for _, d := range dims {
		sp.Dim = append(sp.Dim, &shapepb.TensorShapeProto_Dim{Size: d})
	}
	return &attrpb.AttrValue{Value: &attrpb.AttrValue_Shape{Shape: sp}}
}

func int32Tensor(shape []int64, vals ...int32) *tensorpb.TensorProto {
	sp := &shapepb.TensorShapeProto{}
	for _, d := range shape {
		sp.Dim = append(sp.Dim, &shapepb.TensorShapeProto_Dim{Size: d})
	}
	return &tensorpb.TensorProto{Dtype: typespb.DataType_DT_INT32, TensorShape: sp, IntVal: vals}
}

func stringTensor(shape []int64, vals ...string) *tensorpb.TensorProto {
	sp := &shapepb.TensorShapeProto{}
	for _, d := range shape {
		sp.Dim = append(sp.Dim, &shapepb.TensorShapeProto_Dim{Size: d})
	}
	tp := &tensorpb.TensorProto{Dtype: typespb.DataType_DT_STRING, TensorShape: sp}
	for _, v := range vals {
		tp.StringVal = append(tp.StringVal, []byte(v))
	}
	return tp
}
