package weights

import (
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	logs "github.com/sirupsen/logrus"
	"github.com/vkuznet/tfexport/network"
)

// ErrPretrainedUnavailable is returned when ImageNet weights are neither
// cached nor downloadable
var ErrPretrainedUnavailable = errors.New("pretrained weights unavailable")

// Store provides ImageNet weights of supported architectures. Weights are
// looked up in local directory and fetched from URL when missing.
type Store struct {
	Dir      string       // local cache directory
	URL      string       // base URL of remote weights area, optional
	Client   *http.Client // HTTP client to use for downloads
	Progress bool         // show download progress bar
}

// String returns string representation of the store
func (s *Store) String() string {
	return fmt.Sprintf("<Store dir=%s url=%s>", s.Dir, s.URL)
}

// Path returns local path of ImageNet weights for given model type,
// downloading the file if necessary
func (s *Store) Path(t network.ModelType) (string, error) {
	name := network.PretrainedName(t)
	fname := filepath.Join(s.Dir, name)
	if _, err := os.Stat(fname); err == nil {
		return fname, nil
	}
	if s.URL == "" {
		return "", errors.Wrapf(ErrPretrainedUnavailable, "%s not found in %s", name, s.Dir)
	}
	rurl := fmt.Sprintf("%s/%s", strings.TrimRight(s.URL, "/"), name)
	if err := s.fetch(rurl, fname); err != nil {
		return "", errors.Wrapf(ErrPretrainedUnavailable, "unable to fetch %s: %v", rurl, err)
	}
	return fname, nil
}

// Load loads ImageNet weights into network by layer names, layers which do
// not fit (e.g. first convolution of non-RGB inputs or the classifier) keep
// their initial values
func (s *Store) Load(net *network.Network, t network.ModelType) (*Report, error) {
	fname, err := s.Path(t)
	if err != nil {
		return nil, err
	}
	return LoadFile(net, fname, LoadOptions{SkipMismatch: true})
}

// helper function to download remote file into local one
func (s *Store) fetch(rurl, fname string) error {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return err
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequest("GET", rurl, nil)
	if err != nil {
		return err
	}
	req.Header.Add("Accept", "*/*")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("GET %s returned %s", rurl, resp.Status)
	}

	tmp, err := ioutil.TempFile(s.Dir, "."+filepath.Base(fname)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	var w io.Writer = tmp
	if s.Progress {
		bar := progressbar.DefaultBytes(resp.ContentLength, "downloading "+filepath.Base(fname))
		w = io.MultiWriter(tmp, bar)
	}
	nbytes, err := io.Copy(w, resp.Body)
	if err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if _, err := Read(tmp.Name()); err != nil {
		return err
	}
	logs.WithFields(logs.Fields{
		"URL":   rurl,
		"File":  fname,
		"Bytes": nbytes,
	}).Info("fetched pretrained weights")
	return os.Rename(tmp.Name(), fname)
}
