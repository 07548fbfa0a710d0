package freeze

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	graphpb "github.com/galeone/tensorflow/tensorflow/go/core/framework/graph_go_proto"
	nodepb "github.com/galeone/tensorflow/tensorflow/go/core/framework/node_def_go_proto"
	tensorpb "github.com/galeone/tensorflow/tensorflow/go/core/framework/tensor_go_proto"
	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkuznet/tfexport/network"
	"github.com/vkuznet/tfexport/weights"
)

// helper function to build small network exercising all layer kinds
func testNetwork(t *testing.T) *network.Network {
	t.Helper()
	b := network.NewBuilder("small", []int{8, 8, 3}, 7)
	x := b.ZeroPadding("pad", b.Input(), 1)
	x = b.Conv("conv", x, 4, 3, 1, network.Valid, false)
	bn := b.BatchNorm("bn", x, 1e-3)
	r := b.Activation("relu", bn, "relu")
	a := b.Add("add", r, bn)
	c := b.Conv("conv2", a, 2, 1, 1, network.Same, true)
	x = b.Concat("concat", a, c)
	x = b.MaxPool("pool", x, 2, 2, network.Valid)
	x = b.AvgPool("pool2", x, 2, 2, network.Valid)
	x = b.GlobalAvgPool("avg_pool", x)
	b.Dense("predictions", x, 3, "sigmoid")
	net, err := b.Build()
	require.NoError(t, err)
	return net
}

func findNode(def *graphpb.GraphDef, name string) *nodepb.NodeDef {
	for _, n := range def.GetNode() {
		if n.GetName() == name {
			return n
		}
	}
	return nil
}

// helper function to ensure every node input is defined in the graph
func assertClosed(t *testing.T, def *graphpb.GraphDef) {
	t.Helper()
	for _, n := range def.GetNode() {
		for _, in := range n.GetInput() {
			assert.NotNil(t, findNode(def, nodeName(in)), "node %s input %s", n.GetName(), in)
		}
	}
}

func networkValues(net *network.Network) map[string]*tensorpb.TensorProto {
	values := make(map[string]*tensorpb.TensorProto)
	for _, l := range net.Layers {
		for _, w := range l.Weights {
			values[l.Name+"/"+w.Name] = weights.TensorProto(w)
		}
	}
	return values
}

func TestBuild(t *testing.T) {
	net := testNetwork(t)
	g, err := Build(net)
	require.NoError(t, err)
	assert.Equal(t, "input_1", g.Input)
	assert.Equal(t, "predictions/Sigmoid", g.Output)
	assert.Equal(t, []string{
		"conv/kernel",
		"bn/gamma", "bn/beta", "bn/moving_mean", "bn/moving_variance",
		"conv2/kernel", "conv2/bias",
		"predictions/kernel", "predictions/bias",
	}, g.Variables)
	assertClosed(t, g.Def)

	bn := findNode(g.Def, "bn/FusedBatchNormV3")
	require.NotNil(t, bn)
	assert.True(t, bn.GetAttr()["is_training"].GetB())
	assert.Equal(t, "add/add", findNode(g.Def, "concat/concat").GetInput()[0])
	assert.Equal(t, "AvgPool", findNode(g.Def, "pool2/AvgPool").GetOp())

	restore := findNode(g.Def, RestoreOp)
	require.NotNil(t, restore)
	assert.Len(t, restore.GetInput(), len(g.Variables))
	assert.Equal(t, "^save/Assign", restore.GetInput()[0])

	input := findNode(g.Def, "input_1")
	dims := input.GetAttr()["shape"].GetShape().GetDim()
	require.Len(t, dims, 4)
	assert.Equal(t, int64(-1), dims[0].GetSize())
	assert.Equal(t, int64(3), dims[3].GetSize())
}

func TestConvertVariablesToConstants(t *testing.T) {
	net := testNetwork(t)
	g, err := Build(net)
	require.NoError(t, err)
	values := networkValues(net)

	frozen, converted, err := ConvertVariablesToConstants(g.Def, values, []string{g.Output}, true)
	require.NoError(t, err)
	assert.Equal(t, len(g.Variables), converted)
	assert.True(t, Frozen(frozen))
	assert.False(t, Frozen(g.Def))
	assert.Nil(t, findNode(frozen, RestoreOp))
	assert.Nil(t, findNode(frozen, SaverFilename))
	assertClosed(t, frozen)

	kernel := findNode(frozen, "conv/kernel")
	require.NotNil(t, kernel)
	assert.Equal(t, "Const", kernel.GetOp())
	assert.True(t, proto.Equal(values["conv/kernel"], kernel.GetAttr()["value"].GetTensor()))

	// input graph is left untouched
	assert.Equal(t, "VariableV2", findNode(g.Def, "conv/kernel").GetOp())

	// device placement is kept unless cleared
	placed := proto.Clone(g.Def).(*graphpb.GraphDef)
	for _, n := range placed.GetNode() {
		n.Device = "/device:CPU:0"
	}
	kept, _, err := ConvertVariablesToConstants(placed, values, []string{g.Output}, false)
	require.NoError(t, err)
	assert.Equal(t, "/device:CPU:0", findNode(kept, "conv/kernel").GetDevice())
	assert.Equal(t, "/device:CPU:0", findNode(kept, g.Output).GetDevice())
	cleared, _, err := ConvertVariablesToConstants(placed, values, []string{g.Output}, true)
	require.NoError(t, err)
	assert.Empty(t, findNode(cleared, "conv/kernel").GetDevice())
	assert.Empty(t, findNode(cleared, g.Output).GetDevice())
}

func TestConvertErrors(t *testing.T) {
	net := testNetwork(t)
	g, err := Build(net)
	require.NoError(t, err)
	values := networkValues(net)

	_, _, err = ConvertVariablesToConstants(g.Def, values, []string{"missing"}, false)
	assert.Error(t, err)

	delete(values, "bn/gamma")
	_, _, err = ConvertVariablesToConstants(g.Def, values, []string{g.Output}, false)
	assert.Error(t, err)

	values = networkValues(net)
	values["conv/kernel"] = weights.TensorProto(&network.Tensor{Shape: []int{2}, Values: []float32{1, 2}})
	_, _, err = ConvertVariablesToConstants(g.Def, values, []string{g.Output}, false)
	assert.Error(t, err)
}

func TestNetwork(t *testing.T) {
	net := testNetwork(t)
	tmp := t.TempDir()
	out := filepath.Join(t.TempDir(), "output_graph.pb")

	_, err := Network(net, tmp, out)
	assert.True(t, errors.Is(err, ErrTrainingPhase))

	net.SetLearningPhase(network.Inference)
	g, err := Network(net, tmp, out)
	require.NoError(t, err)
	assert.Equal(t, "predictions/Sigmoid", g.Output)
	frozen := g.Def
	assert.True(t, Frozen(frozen))
	assert.False(t, findNode(frozen, "bn/FusedBatchNormV3").GetAttr()["is_training"].GetB())

	def, err := ReadGraph(out, true)
	require.NoError(t, err)
	assert.True(t, proto.Equal(frozen, def))

	for _, name := range []string{"input_graph.pb", "saved_checkpoint-0", CheckpointState} {
		assert.FileExists(t, filepath.Join(tmp, name))
	}
	state, err := ioutil.ReadFile(filepath.Join(tmp, CheckpointState))
	require.NoError(t, err)
	assert.Contains(t, string(state), `model_checkpoint_path: "saved_checkpoint-0"`)

	// text input graph round trips
	input, err := ReadGraph(filepath.Join(tmp, "input_graph.pb"), false)
	require.NoError(t, err)
	assert.NotNil(t, findNode(input, RestoreOp))

	// output is deterministic
	first, err := ioutil.ReadFile(out)
	require.NoError(t, err)
	_, err = Network(net, t.TempDir(), out)
	require.NoError(t, err)
	second, err := ioutil.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRunOptions(t *testing.T) {
	_, err := Run(Options{})
	assert.Error(t, err)

	_, err = Run(Options{InputGraph: filepath.Join(t.TempDir(), "missing.pb"), OutputNodes: []string{"out"}})
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	net := testNetwork(t)
	g, err := Build(net)
	require.NoError(t, err)
	s := Summarize(g.Def)
	assert.Equal(t, []string{"input_1"}, s.Inputs)
	assert.Equal(t, []string{"predictions/Sigmoid"}, s.Outputs)
	assert.Equal(t, 9, s.Variables)
	assert.Equal(t, 9, s.Ops["VariableV2"])
	assert.Equal(t, len(g.Def.GetNode()), s.Nodes)

	frozen, _, err := ConvertVariablesToConstants(g.Def, networkValues(net), []string{g.Output}, false)
	require.NoError(t, err)
	s = Summarize(frozen)
	assert.Equal(t, 0, s.Variables)
	assert.Equal(t, []string{"predictions/Sigmoid"}, s.Outputs)
	assert.Equal(t, 4*net.CountParams(), s.Bytes)
	assert.Contains(t, s.String(), "inputs: input_1")
}
