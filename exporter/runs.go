package exporter

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// RunInfo represents run found in results directory
type RunInfo struct {
	Name      string    `json:"name"`
	ModelType string    `json:"model_type"`
	Exported  bool      `json:"exported"`
	Modified  time.Time `json:"modified,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Runs lists runs of results directory, i.e. directories at any depth which
// carry run options. Run names are slash separated paths relative to results
// directory, runs with unreadable options are reported with an error.
func (c Config) Runs() ([]RunInfo, error) {
	root := c.ResultsDir()
	runs := []RunInfo{}
	err := filepath.WalkDir(root, func(dir string, d fs.DirEntry, err error) error {
		if err != nil {
			if dir == root && os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() || dir == root {
			return nil
		}
		if _, err := os.Stat(filepath.Join(dir, OptionsFile)); err != nil {
			return nil
		}
		name, err := filepath.Rel(root, dir)
		if err != nil {
			return err
		}
		info := RunInfo{Name: filepath.ToSlash(name)}
		if rc, err := ReadRunConfig(dir); err == nil {
			info.ModelType = string(rc.ModelType)
		} else {
			info.Error = err.Error()
		}
		if ofi, err := os.Stat(filepath.Join(dir, OutputGraph)); err == nil {
			info.Exported = true
			info.Modified = ofi.ModTime()
		}
		runs = append(runs, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}
