package weights

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/vkuznet/tfexport/network"
)

// ErrIncompatible is returned when same-named layer weights do not fit the
// network layer
var ErrIncompatible = errors.New("incompatible weights")

// LoadOptions controls name based loading
type LoadOptions struct {
	// SkipMismatch skips layers whose weights count or shapes differ instead
	// of failing the whole load
	SkipMismatch bool
}

// Report summarizes name based loading
type Report struct {
	Loaded    []string // network layers which received weights
	Skipped   []string // layers skipped due to shape mismatch
	Unmatched []string // file layers without network counterpart
	Missing   []string // network layers with weights absent in the file
}

// String returns string representation of the report
func (r *Report) String() string {
	return fmt.Sprintf("<Report loaded=%d skipped=%d unmatched=%d missing=%d>", len(r.Loaded), len(r.Skipped), len(r.Unmatched), len(r.Missing))
}

// helper function to check layer weights compatibility
func compatible(l *network.Layer, lw LayerWeights) error {
	if len(lw.Tensors) != len(l.Weights) {
		return errors.Wrapf(ErrIncompatible, "layer %s expects %d weights, file provides %d", l.Name, len(l.Weights), len(lw.Tensors))
	}
	for _, w := range l.Weights {
		t := lw.Tensor(w.Name)
		if t == nil {
			return errors.Wrapf(ErrIncompatible, "layer %s has no %s weight in file", l.Name, w.Name)
		}
		if !w.SameShape(t.Shape) {
			return errors.Wrapf(ErrIncompatible, "layer %s weight %s has shape %v, file provides %v", l.Name, w.Name, w.Shape, t.Shape)
		}
	}
	return nil
}

// LoadByName assigns weights to network layers by matching layer names rather
// than layer order, so weights saved from a structurally different network can
// be loaded as long as same-named layers agree. Network layers not present in
// the file keep their current values. The network is not modified when an
// error is returned.
func LoadByName(net *network.Network, layers []LayerWeights, opts LoadOptions) (*Report, error) {
	report := &Report{}
	type assignment struct {
		layer *network.Layer
		lw    LayerWeights
	}
	var assignments []assignment
	seen := make(map[string]bool)
	for _, lw := range layers {
		l := net.Layer(lw.Layer)
		if l == nil {
			report.Unmatched = append(report.Unmatched, lw.Layer)
			continue
		}
		seen[l.Name] = true
		if err := compatible(l, lw); err != nil {
			if opts.SkipMismatch {
				report.Skipped = append(report.Skipped, l.Name)
				continue
			}
			return nil, err
		}
		assignments = append(assignments, assignment{layer: l, lw: lw})
	}
	for _, a := range assignments {
		for _, w := range a.layer.Weights {
			copy(w.Values, a.lw.Tensor(w.Name).Values)
		}
		report.Loaded = append(report.Loaded, a.layer.Name)
	}
	for _, l := range net.Layers {
		if len(l.Weights) > 0 && !seen[l.Name] {
			report.Missing = append(report.Missing, l.Name)
		}
	}
	return report, nil
}

// LoadFile reads weights file and loads it into network by layer names
func LoadFile(net *network.Network, fname string, opts LoadOptions) (*Report, error) {
	layers, err := Read(fname)
	if err != nil {
		return nil, err
	}
	return LoadByName(net, layers, opts)
}
