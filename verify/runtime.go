//go:build tensorflow

package verify

import (
	"fmt"

	tf "github.com/galeone/tensorflow/tensorflow/go"
	tg "github.com/galeone/tfgo"
)

// zero batch of a single example of given (height, width, channels) shape
func zeroBatch(shape []int) ([][][][]float32, error) {
	if len(shape) != 3 {
		return nil, fmt.Errorf("unsupported input shape %v", shape)
	}
	batch := make([][][][]float32, 1)
	batch[0] = make([][][]float32, shape[0])
	for i := range batch[0] {
		batch[0][i] = make([][]float32, shape[1])
		for j := range batch[0][i] {
			batch[0][i][j] = make([]float32, shape[2])
		}
	}
	return batch, nil
}

// evaluate runs output op of the graph stored in fname, tfgo panics on
// runtime errors so they are converted here
func evaluate(fname, input, output string, shape []int) (rows [][]float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tensorflow runtime: %v", r)
		}
	}()
	batch, err := zeroBatch(shape)
	if err != nil {
		return nil, err
	}
	tensor, err := tf.NewTensor(batch)
	if err != nil {
		return nil, err
	}
	model := tg.ImportModel(fname, "", nil)
	results := model.Exec([]tf.Output{
		model.Op(output, 0),
	}, map[tf.Output]*tf.Tensor{
		model.Op(input, 0): tensor,
	})
	values, ok := results[0].Value().([][]float32)
	if !ok {
		return nil, fmt.Errorf("output %s has unexpected type %T", output, results[0].Value())
	}
	return values, nil
}
