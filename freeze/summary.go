package freeze

import (
	"fmt"
	"sort"
	"strings"

	graphpb "github.com/galeone/tensorflow/tensorflow/go/core/framework/graph_go_proto"
)

// Summary represents graph summary
type Summary struct {
	Nodes     int            `json:"nodes"`
	Ops       map[string]int `json:"ops"`
	Inputs    []string       `json:"inputs"`
	Outputs   []string       `json:"outputs"`
	Variables int            `json:"variables"`
	Constants int            `json:"constants"`
	Bytes     int            `json:"bytes"`
}

// Summarize returns summary of the graph. Inputs are placeholders, outputs
// are nodes whose results are not consumed by any other node.
func Summarize(def *graphpb.GraphDef) Summary {
	s := Summary{Ops: make(map[string]int)}
	consumed := make(map[string]bool)
	for _, n := range def.GetNode() {
		for _, in := range n.GetInput() {
			consumed[nodeName(in)] = true
		}
	}
	for _, n := range def.GetNode() {
		s.Nodes++
		s.Ops[n.GetOp()]++
		switch n.GetOp() {
		case "Placeholder":
			s.Inputs = append(s.Inputs, n.GetName())
		case "Const":
			s.Constants++
			s.Bytes += len(n.GetAttr()["value"].GetTensor().GetTensorContent())
		}
		if variableOps[n.GetOp()] {
			s.Variables++
		}
		if !consumed[n.GetName()] && n.GetOp() != "NoOp" && n.GetOp() != "Const" {
			s.Outputs = append(s.Outputs, n.GetName())
		}
	}
	return s
}

// String returns string representation of the summary
func (s Summary) String() string {
	var ops []string
	for op := range s.Ops {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	var parts []string
	for _, op := range ops {
		parts = append(parts, fmt.Sprintf("%s:%d", op, s.Ops[op]))
	}
	return fmt.Sprintf("nodes: %d\ninputs: %s\noutputs: %s\nvariables: %d\nconstants: %d (%d bytes)\nops: %s",
		s.Nodes, strings.Join(s.Inputs, ","), strings.Join(s.Outputs, ","), s.Variables, s.Constants, s.Bytes, strings.Join(parts, " "))
}
