package weights

import (
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkuznet/tfexport/network"
)

// helper function to build small network with configurable first layer name
func tinyNetwork(t *testing.T, convName string, channels int, seed int64) *network.Network {
	t.Helper()
	b := network.NewBuilder("tiny", []int{8, 8, channels}, seed)
	x := b.Conv(convName, b.Input(), 4, 3, 1, network.Same, true)
	x = b.BatchNorm("bn", x, 1e-3)
	x = b.Activation("", x, "relu")
	x = b.GlobalAvgPool("avg_pool", x)
	b.Dense("predictions", x, 2, "sigmoid")
	net, err := b.Build()
	require.NoError(t, err)
	return net
}

func TestSaveRead(t *testing.T) {
	net := tinyNetwork(t, "conv", 3, 1)
	fname := filepath.Join(t.TempDir(), "model.pb")
	require.NoError(t, Save(net, fname))

	layers, err := Read(fname)
	require.NoError(t, err)
	require.Len(t, layers, 3)
	assert.Equal(t, "conv", layers[0].Layer)
	kernel := layers[0].Tensor("kernel")
	require.NotNil(t, kernel)
	assert.Equal(t, []int{3, 3, 3, 4}, kernel.Shape)
	assert.Equal(t, net.Layer("conv").Weight("kernel").Values, kernel.Values)
	assert.Len(t, layers[1].Tensors, 4)

	entries, err := ioutil.ReadDir(filepath.Dir(fname))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files should be renamed or removed")
}

func TestLoadByName(t *testing.T) {
	source := tinyNetwork(t, "conv", 3, 1)
	target := tinyNetwork(t, "conv", 3, 2)
	fname := filepath.Join(t.TempDir(), "best_model.pb")
	require.NoError(t, Save(source, fname))

	report, err := LoadFile(target, fname, LoadOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"conv", "bn", "predictions"}, report.Loaded)
	assert.Empty(t, report.Missing)
	assert.Equal(t, source.Layer("conv").Weight("kernel").Values, target.Layer("conv").Weight("kernel").Values)
	assert.Equal(t, source.Layer("predictions").Weight("kernel").Values, target.Layer("predictions").Weight("kernel").Values)
}

func TestLoadByNameRenamedLayer(t *testing.T) {
	source := tinyNetwork(t, "conv", 3, 1)
	target := tinyNetwork(t, "conv_renamed", 3, 2)
	initial := append([]float32{}, target.Layer("conv_renamed").Weight("kernel").Values...)

	report, err := LoadByName(target, FromNetwork(source), LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"conv"}, report.Unmatched)
	assert.Equal(t, []string{"conv_renamed"}, report.Missing)
	assert.Equal(t, initial, target.Layer("conv_renamed").Weight("kernel").Values)
	assert.Equal(t, source.Layer("bn").Weight("gamma").Values, target.Layer("bn").Weight("gamma").Values)
}

func TestLoadByNameMismatch(t *testing.T) {
	source := tinyNetwork(t, "conv", 3, 1)
	target := tinyNetwork(t, "conv", 4, 2)
	initial := append([]float32{}, target.Layer("predictions").Weight("kernel").Values...)

	_, err := LoadByName(target, FromNetwork(source), LoadOptions{})
	assert.True(t, errors.Is(err, ErrIncompatible))
	assert.Equal(t, initial, target.Layer("predictions").Weight("kernel").Values, "failed load should not modify network")

	report, err := LoadByName(target, FromNetwork(source), LoadOptions{SkipMismatch: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"conv"}, report.Skipped)
	assert.ElementsMatch(t, []string{"bn", "predictions"}, report.Loaded)
	assert.Equal(t, source.Layer("predictions").Weight("kernel").Values, target.Layer("predictions").Weight("kernel").Values)
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode([]byte("not a weights file"))
	assert.True(t, errors.Is(err, ErrFormat))

	fname := filepath.Join(t.TempDir(), "model.pb")
	require.NoError(t, ioutil.WriteFile(fname, []byte{}, 0644))
	_, err = Read(fname)
	assert.True(t, errors.Is(err, ErrFormat))

	_, err = Read(filepath.Join(t.TempDir(), "missing.pb"))
	assert.True(t, os.IsNotExist(errors.Cause(err)))
}

func TestStoreLocal(t *testing.T) {
	dir := t.TempDir()
	source := tinyNetwork(t, "conv", 3, 1)
	require.NoError(t, Save(source, filepath.Join(dir, network.PretrainedName(network.DenseNet121))))

	store := &Store{Dir: dir}
	fname, err := store.Path(network.DenseNet121)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "densenet121_imagenet.pb"), fname)

	_, err = store.Path(network.BaselineResNet)
	assert.True(t, errors.Is(err, ErrPretrainedUnavailable))

	target := tinyNetwork(t, "conv", 4, 2)
	report, err := store.Load(target, network.DenseNet121)
	require.NoError(t, err)
	assert.Equal(t, []string{"conv"}, report.Skipped)
}

func TestStoreDownload(t *testing.T) {
	source := tinyNetwork(t, "conv", 3, 1)
	data, err := Encode(FromNetwork(source))
	require.NoError(t, err)

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/weights/resnet50_imagenet.pb" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	}))
	defer server.Close()

	dir := filepath.Join(t.TempDir(), "pretrained")
	store := &Store{Dir: dir, URL: server.URL + "/weights/", Client: server.Client()}
	fname, err := store.Path(network.BaselineResNet)
	require.NoError(t, err)
	layers, err := Read(fname)
	require.NoError(t, err)
	assert.Len(t, layers, 3)

	// second lookup is served from the local cache
	_, err = store.Path(network.BaselineResNet)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	_, err = store.Path(network.DenseNet169)
	assert.True(t, errors.Is(err, ErrPretrainedUnavailable))
	entries, err := ioutil.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
