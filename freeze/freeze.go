package freeze

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	attrpb "github.com/galeone/tensorflow/tensorflow/go/core/framework/attr_value_go_proto"
	graphpb "github.com/galeone/tensorflow/tensorflow/go/core/framework/graph_go_proto"
	nodepb "github.com/galeone/tensorflow/tensorflow/go/core/framework/node_def_go_proto"
	shapepb "github.com/galeone/tensorflow/tensorflow/go/core/framework/tensor_shape_go_proto"
	tensorpb "github.com/galeone/tensorflow/tensorflow/go/core/framework/tensor_go_proto"
	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
	logs "github.com/sirupsen/logrus"
	"github.com/vkuznet/tfexport/network"
	"github.com/vkuznet/tfexport/weights"
)

// CheckpointState is the name of checkpoint state file
const CheckpointState = "checkpoint_state"

// ErrTrainingPhase is returned when freezing network which is not in
// inference mode
var ErrTrainingPhase = errors.New("network is in training phase")

// variable ops replaced by constants
var variableOps = map[string]bool{
	"Variable":    true,
	"VariableV2":  true,
	"VarHandleOp": true,
}

// Options represents freeze options
type Options struct {
	InputGraph   string   // path of input graph
	InputBinary  bool     // input graph is binary protobuf, otherwise text
	Checkpoint   string   // checkpoint path with variables values
	OutputNodes  []string // names of output ops to keep
	OutputGraph  string   // path of frozen graph
	ClearDevices bool     // drop device placement of nodes
}

// String returns string representation of the options
func (o Options) String() string {
	return fmt.Sprintf("<Options input=%s binary=%v checkpoint=%s outputs=%v output=%s>", o.InputGraph, o.InputBinary, o.Checkpoint, o.OutputNodes, o.OutputGraph)
}

// helper function to strip control marker and output index of input name
func nodeName(input string) string {
	name := strings.TrimPrefix(input, "^")
	if idx := strings.LastIndex(name, ":"); idx > 0 {
		name = name[:idx]
	}
	return name
}

// ExtractSubGraph keeps nodes required to compute given outputs in their
// original order
func ExtractSubGraph(def *graphpb.GraphDef, outputs []string) (*graphpb.GraphDef, error) {
	nodes := make(map[string]*nodepb.NodeDef)
	for _, n := range def.GetNode() {
		nodes[n.GetName()] = n
	}
	keep := make(map[string]bool)
	var queue []string
	for _, out := range outputs {
		if _, ok := nodes[out]; !ok {
			return nil, errors.Errorf("output node %s is not in the graph", out)
		}
		queue = append(queue, out)
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if keep[name] {
			continue
		}
		keep[name] = true
		n, ok := nodes[name]
		if !ok {
			return nil, errors.Errorf("node %s is referenced but not defined", name)
		}
		for _, in := range n.GetInput() {
			queue = append(queue, nodeName(in))
		}
	}
	sub := &graphpb.GraphDef{Versions: def.GetVersions(), Library: def.GetLibrary()}
	for _, n := range def.GetNode() {
		if keep[n.GetName()] {
			sub.Node = append(sub.Node, n)
		}
	}
	return sub, nil
}

// ConvertVariablesToConstants prunes graph to given outputs and replaces
// every reachable variable with a constant holding its value
func ConvertVariablesToConstants(def *graphpb.GraphDef, values map[string]*tensorpb.TensorProto, outputs []string, clearDevices bool) (*graphpb.GraphDef, int, error) {
	sub, err := ExtractSubGraph(def, outputs)
	if err != nil {
		return nil, 0, err
	}
	out := &graphpb.GraphDef{Versions: sub.GetVersions(), Library: sub.GetLibrary()}
	var converted int
	for _, n := range sub.GetNode() {
		var node *nodepb.NodeDef
		if variableOps[n.GetOp()] {
			value, ok := values[n.GetName()]
			if !ok {
				return nil, 0, errors.Errorf("no value for variable %s", n.GetName())
			}
			if value.GetDtype() != n.GetAttr()["dtype"].GetType() {
				return nil, 0, errors.Errorf("variable %s has dtype %s, value has %s", n.GetName(), n.GetAttr()["dtype"].GetType(), value.GetDtype())
			}
			if shape := n.GetAttr()["shape"].GetShape(); shape != nil && !sameShape(shape.GetDim(), value) {
				return nil, 0, errors.Errorf("variable %s shape does not match its value", n.GetName())
			}
			node = &nodepb.NodeDef{
				Name:   n.GetName(),
				Op:     "Const",
				Device: n.GetDevice(),
				Attr: map[string]*attrpb.AttrValue{
					"dtype": n.GetAttr()["dtype"],
					"value": attrTensor(value),
				},
			}
			converted++
		} else {
			node = proto.Clone(n).(*nodepb.NodeDef)
			if node.GetOp() == "ReadVariableOp" {
				node.Op = "Identity"
				node.Attr = map[string]*attrpb.AttrValue{"T": node.GetAttr()["dtype"]}
			}
		}
		if clearDevices {
			node.Device = ""
		}
		out.Node = append(out.Node, node)
	}
	return out, converted, nil
}

// Frozen reports whether graph has no variables left
func Frozen(def *graphpb.GraphDef) bool {
	for _, n := range def.GetNode() {
		if variableOps[n.GetOp()] {
			return false
		}
	}
	return true
}

// Marshal serializes graph deterministically
func Marshal(def *graphpb.GraphDef) ([]byte, error) {
	buf := proto.NewBuffer(nil)
	buf.SetDeterministic(true)
	if err := buf.Marshal(def); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteGraph writes graph into given file in text or binary form
func WriteGraph(def *graphpb.GraphDef, fname string, asText bool) error {
	var data []byte
	if asText {
		data = []byte(proto.MarshalTextString(def))
	} else {
		var err error
		data, err = Marshal(def)
		if err != nil {
			return errors.Wrapf(err, "unable to serialize graph %s", fname)
		}
	}
	if err := weights.AtomicWrite(fname, data, 0644); err != nil {
		return errors.Wrapf(err, "unable to write graph %s", fname)
	}
	return nil
}

// ReadGraph reads graph in text or binary form
func ReadGraph(fname string, binary bool) (*graphpb.GraphDef, error) {
	data, err := ioutil.ReadFile(fname)
	if err != nil {
		return nil, err
	}
	def := &graphpb.GraphDef{}
	if binary {
		err = proto.Unmarshal(data, def)
	} else {
		err = proto.UnmarshalText(string(data), def)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse graph %s", fname)
	}
	return def, nil
}

// SaveCheckpoint writes network variables into <prefix>-<step> file and
// records it in checkpoint state file next to it. It returns the checkpoint
// path.
func SaveCheckpoint(net *network.Network, prefix string, step int) (string, error) {
	path := fmt.Sprintf("%s-%d", prefix, step)
	if err := weights.Save(net, path); err != nil {
		return "", errors.Wrapf(err, "unable to save checkpoint %s", path)
	}
	base := filepath.Base(path)
	state := fmt.Sprintf("model_checkpoint_path: %q\nall_model_checkpoint_paths: %q\n", base, base)
	fname := filepath.Join(filepath.Dir(path), CheckpointState)
	if err := ioutil.WriteFile(fname, []byte(state), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// ReadCheckpoint reads checkpoint values keyed by variable op names
func ReadCheckpoint(path string) (map[string]*tensorpb.TensorProto, error) {
	layers, err := weights.Read(path)
	if err != nil {
		return nil, err
	}
	values := make(map[string]*tensorpb.TensorProto)
	for _, lw := range layers {
		for _, t := range lw.Tensors {
			values[lw.Layer+"/"+t.Name] = weights.TensorProto(t)
		}
	}
	return values, nil
}

// Run freezes graph stored in files: it reads input graph and checkpoint,
// converts variables reachable from output nodes into constants and writes
// frozen graph to output path
func Run(opts Options) (*graphpb.GraphDef, error) {
	if len(opts.OutputNodes) == 0 {
		return nil, errors.New("no output nodes")
	}
	def, err := ReadGraph(opts.InputGraph, opts.InputBinary)
	if err != nil {
		return nil, err
	}
	values, err := ReadCheckpoint(opts.Checkpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read checkpoint %s", opts.Checkpoint)
	}
	frozen, converted, err := ConvertVariablesToConstants(def, values, opts.OutputNodes, opts.ClearDevices)
	if err != nil {
		return nil, err
	}
	if err := WriteGraph(frozen, opts.OutputGraph, false); err != nil {
		return nil, err
	}
	logs.WithFields(logs.Fields{
		"Converted": converted,
		"Nodes":     len(frozen.GetNode()),
		"Output":    opts.OutputGraph,
	}).Info("froze graph")
	return frozen, nil
}

// Network freezes network in inference mode and writes frozen graph to
// output path. Intermediate graph and checkpoint are written into tmpDir.
func Network(net *network.Network, tmpDir, output string) (*Graph, error) {
	if net.Phase() != network.Inference {
		return nil, errors.Wrapf(ErrTrainingPhase, "network %s", net.Name)
	}
	g, err := Build(net)
	if err != nil {
		return nil, err
	}
	ckpt, err := SaveCheckpoint(net, filepath.Join(tmpDir, "saved_checkpoint"), 0)
	if err != nil {
		return nil, err
	}
	input := filepath.Join(tmpDir, "input_graph.pb")
	if err := WriteGraph(g.Def, input, true); err != nil {
		return nil, err
	}
	frozen, err := Run(Options{
		InputGraph:   input,
		Checkpoint:   ckpt,
		OutputNodes:  []string{g.Output},
		OutputGraph:  output,
		ClearDevices: false,
	})
	if err != nil {
		return nil, err
	}
	return &Graph{Def: frozen, Input: g.Input, Output: g.Output}, nil
}

// helper function to compare variable shape with value shape
func sameShape(dims []*shapepb.TensorShapeProto_Dim, value *tensorpb.TensorProto) bool {
	vdims := value.GetTensorShape().GetDim()
	if len(dims) != len(vdims) {
		return false
	}
	for i, d := range dims {
		if d.GetSize() >= 0 && d.GetSize() != vdims[i].GetSize() {
			return false
		}
	}
	return true
}
