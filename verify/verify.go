package verify

// verify module checks frozen graphs by evaluating them in TensorFlow runtime
//
// Copyright (c) 2020 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"fmt"
	"time"

	graphpb "github.com/galeone/tensorflow/tensorflow/go/core/framework/graph_go_proto"
	"github.com/pkg/errors"
	logs "github.com/sirupsen/logrus"
	"github.com/vkuznet/tfexport/freeze"
)

// ErrNoRuntime is returned when binary is built without TensorFlow runtime
var ErrNoRuntime = errors.New("tensorflow runtime support is not compiled in, rebuild with -tags tensorflow")

// Result represents outcome of graph evaluation on a zero batch
type Result struct {
	Graph    string        `json:"graph"`
	Input    string        `json:"input"`
	Output   string        `json:"output"`
	Shape    []int         `json:"shape"`
	Min      float32       `json:"min"`
	Max      float32       `json:"max"`
	Duration time.Duration `json:"duration"`
}

// String returns string representation of the result
func (r *Result) String() string {
	return fmt.Sprintf("<Result graph=%s input=%s output=%s shape=%v min=%v max=%v duration=%v>", r.Graph, r.Input, r.Output, r.Shape, r.Min, r.Max, r.Duration)
}

// Check ensures the output is a single row of given width with probabilities
func (r *Result) Check(classes int) error {
	if len(r.Shape) != 2 || r.Shape[0] != 1 || r.Shape[1] != classes {
		return errors.Errorf("output %s has shape %v, expected [1 %d]", r.Output, r.Shape, classes)
	}
	if r.Min < 0 || r.Max > 1 {
		return errors.Errorf("output %s values [%v, %v] are not probabilities", r.Output, r.Min, r.Max)
	}
	return nil
}

// InputShape returns per-example shape of input placeholder
func InputShape(def *graphpb.GraphDef, input string) ([]int, error) {
	for _, n := range def.GetNode() {
		if n.GetName() != input {
			continue
		}
		if n.GetOp() != "Placeholder" {
			return nil, errors.Errorf("node %s is %s, not a placeholder", input, n.GetOp())
		}
		dims := n.GetAttr()["shape"].GetShape().GetDim()
		if len(dims) < 2 {
			return nil, errors.Errorf("placeholder %s has no batch shape", input)
		}
		var shape []int
		for _, d := range dims[1:] {
			if d.GetSize() <= 0 {
				return nil, errors.Errorf("placeholder %s has unknown dimension", input)
			}
			shape = append(shape, int(d.GetSize()))
		}
		return shape, nil
	}
	return nil, errors.Errorf("placeholder %s is not in the graph", input)
}

// helper function to compute output shape and value range
func describe(rows [][]float32) ([]int, float32, float32) {
	shape := []int{len(rows), 0}
	var lo, hi float32
	for i, row := range rows {
		shape[1] = len(row)
		for j, v := range row {
			if (i == 0 && j == 0) || v < lo {
				lo = v
			}
			if (i == 0 && j == 0) || v > hi {
				hi = v
			}
		}
	}
	return shape, lo, hi
}

// Graph evaluates frozen graph stored in fname on a zero batch of a single
// example and checks that output has given number of classes
func Graph(fname string, classes int) (*Result, error) {
	def, err := freeze.ReadGraph(fname, true)
	if err != nil {
		return nil, err
	}
	s := freeze.Summarize(def)
	if len(s.Inputs) != 1 || len(s.Outputs) != 1 {
		return nil, errors.Errorf("graph %s has inputs %v and outputs %v, expected one of each", fname, s.Inputs, s.Outputs)
	}
	shape, err := InputShape(def, s.Inputs[0])
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := evaluate(fname, s.Inputs[0], s.Outputs[0], shape)
	if err != nil {
		return nil, err
	}
	res := &Result{Graph: fname, Input: s.Inputs[0], Output: s.Outputs[0], Duration: time.Since(start)}
	res.Shape, res.Min, res.Max = describe(rows)
	logs.WithFields(logs.Fields{
		"Graph":    fname,
		"Output":   res.Output,
		"Shape":    res.Shape,
		"Duration": res.Duration,
	}).Info("evaluated frozen graph")
	return res, res.Check(classes)
}
