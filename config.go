package main

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/vkuznet/tfexport/exporter"
	"github.com/vkuznet/tfexport/weights"
)

// PretrainedConfig describes location of ImageNet weights
type PretrainedConfig struct {
	Dir      string `mapstructure:"dir"`      // local directory with <arch>_imagenet.pb files
	URL      string `mapstructure:"url"`      // remote area to fetch missing files from
	Progress bool   `mapstructure:"progress"` // show download progress bar
}

// ServerConfig stores export service parameters
type ServerConfig struct {
	Port      int    `mapstructure:"port"` // server port number
	Base      string `mapstructure:"base"` // server base path
	ServerKey string `mapstructure:"key"`  // server key for https
	ServerCrt string `mapstructure:"crt"`  // server certificate for https
	Rate      string `mapstructure:"rate"` // limiter rate, e.g. 100-S
}

// Configuration stores tfexport configuration parameters
type Configuration struct {
	DataDir      string           `mapstructure:"data_dir"`      // data area with results directory
	TempDir      string           `mapstructure:"temp_dir"`      // root of temporary export directories
	Seed         int64            `mapstructure:"seed"`          // seed of random weights initialization
	Pretrained   PretrainedConfig `mapstructure:"pretrained"`    // ImageNet weights
	Server       ServerConfig     `mapstructure:"server"`        // export service
	LogFile      string           `mapstructure:"log_file"`      // log file
	LogFormatter string           `mapstructure:"log_formatter"` // log formatter, text or json
	Verbose      int              `mapstructure:"verbose"`       // verbosity level
}

// String returns string representation of tfexport configuration
func (c *Configuration) String() string {
	return fmt.Sprintf("<Config data=%s tmp=%s pretrained=%s url=%s port=%d base=%s rate=%s verbose=%d log=%s crt=%s key=%s>", c.DataDir, c.TempDir, c.Pretrained.Dir, c.Pretrained.URL, c.Server.Port, c.Server.Base, c.Server.Rate, c.Verbose, c.LogFile, c.Server.ServerCrt, c.Server.ServerKey)
}

// global configuration
var _config Configuration

// helper function to load configuration from optional file and environment,
// TFEXPORT_ prefixed variables override file values and data_dir also
// follows RASTER_VISION_DATA_DIRECTORY
func parseConfig(configFile string) (Configuration, error) {
	v := viper.New()
	v.SetDefault("data_dir", exporter.DefaultDataDir)
	v.SetDefault("temp_dir", "")
	v.SetDefault("seed", 0)
	v.SetDefault("pretrained.dir", "")
	v.SetDefault("pretrained.url", "")
	v.SetDefault("pretrained.progress", true)
	v.SetDefault("server.port", 8083)
	v.SetDefault("server.base", "")
	v.SetDefault("server.key", "")
	v.SetDefault("server.crt", "")
	v.SetDefault("server.rate", "100-S")
	v.SetDefault("log_file", "")
	v.SetDefault("log_formatter", "text")
	v.SetDefault("verbose", 0)

	v.SetEnvPrefix("TFEXPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("data_dir", "TFEXPORT_DATA_DIR", exporter.DataDirEnv)

	var c Configuration
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return c, fmt.Errorf("unable to read config %s: %v", configFile, err)
		}
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("unable to parse config: %v", err)
	}
	if c.Pretrained.Dir == "" {
		c.Pretrained.Dir = filepath.Join(c.DataDir, "pretrained")
	}
	return c, nil
}

// exporterConfig converts configuration into exporter one
func (c *Configuration) exporterConfig(client *http.Client) exporter.Config {
	return exporter.Config{
		DataDir: c.DataDir,
		TempDir: c.TempDir,
		Seed:    c.Seed,
		Pretrained: &weights.Store{
			Dir:      c.Pretrained.Dir,
			URL:      c.Pretrained.URL,
			Client:   client,
			Progress: c.Pretrained.Progress,
		},
	}
}
