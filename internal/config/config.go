// Package config provides configuration loading for the mriqc-nidm app.
//
// Configuration is layered: built-in defaults, then an optional
// mriqc-nidm.yaml file, then MRIQC_NIDM_* environment variables. The
// result is an explicit Config value handed to each component at
// construction; nothing reads configuration ambiently, so tests can run
// several configurations in one process.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the optional configuration file searched for in the
// working directory.
const ConfigFileName = "mriqc-nidm.yaml"

// envPrefix namespaces environment overrides (MRIQC_NIDM_MRIQC_COMMAND etc.).
const envPrefix = "MRIQC_NIDM"

// Config holds every tunable of the pipeline.
type Config struct {
	// AppDirName is the derivatives directory created under the output
	// root (OUTPUT/<AppDirName>/{mriqc,nidm}).
	AppDirName string `mapstructure:"app_dir_name" yaml:"app_dir_name"`

	// MRIQCCommand is the MRIQC executable name or path.
	MRIQCCommand string `mapstructure:"mriqc_command" yaml:"mriqc_command"`

	// CSV2NIDMCommand is the csv2nidm executable name or path.
	CSV2NIDMCommand string `mapstructure:"csv2nidm_command" yaml:"csv2nidm_command"`

	// CSV2NIDMTimeout bounds one csv2nidm invocation. MRIQC itself runs
	// without a timeout.
	CSV2NIDMTimeout time.Duration `mapstructure:"csv2nidm_timeout" yaml:"csv2nidm_timeout"`

	// Datatypes are the MRIQC output subdirectories searched for IQM JSONs.
	Datatypes []string `mapstructure:"datatypes" yaml:"datatypes"`

	// NIDMExtensions are the recognized NIDM graph file extensions, in
	// search-preference order after the preferred nidm.ttl.
	NIDMExtensions []string `mapstructure:"nidm_extensions" yaml:"nidm_extensions"`

	// DefaultSession is assumed when no ses- entity is present.
	DefaultSession string `mapstructure:"default_session" yaml:"default_session"`

	// LogMaxSizeMB caps the run log file before rotation.
	LogMaxSizeMB int `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`

	// LogMaxBackups is the number of rotated log files kept.
	LogMaxBackups int `mapstructure:"log_max_backups" yaml:"log_max_backups"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		AppDirName:      "mriqc-nidm_bidsapp",
		MRIQCCommand:    "mriqc",
		CSV2NIDMCommand: "csv2nidm",
		CSV2NIDMTimeout: 300 * time.Second,
		Datatypes:       []string{"anat", "func", "dwi"},
		NIDMExtensions:  []string{".ttl", ".jsonld", ".json-ld"},
		DefaultSession:  "01",
		LogMaxSizeMB:    50,
		LogMaxBackups:   3,
	}
}

// Load builds the effective configuration. path may name an explicit
// config file; when empty, ConfigFileName in the working directory is
// used if it exists.
func Load(path string) (Config, error) {
	v := viper.New()
	def := Default()

	v.SetDefault("app_dir_name", def.AppDirName)
	v.SetDefault("mriqc_command", def.MRIQCCommand)
	v.SetDefault("csv2nidm_command", def.CSV2NIDMCommand)
	v.SetDefault("csv2nidm_timeout", def.CSV2NIDMTimeout)
	v.SetDefault("datatypes", def.Datatypes)
	v.SetDefault("nidm_extensions", def.NIDMExtensions)
	v.SetDefault("default_session", def.DefaultSession)
	v.SetDefault("log_max_size_mb", def.LogMaxSizeMB)
	v.SetDefault("log_max_backups", def.LogMaxBackups)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	switch {
	case path != "":
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	default:
		if _, err := os.Stat(ConfigFileName); err == nil {
			v.SetConfigFile(ConfigFileName)
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("reading config %s: %w", ConfigFileName, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.AppDirName == "" {
		return fmt.Errorf("app_dir_name must not be empty")
	}
	if c.MRIQCCommand == "" {
		return fmt.Errorf("mriqc_command must not be empty")
	}
	if c.CSV2NIDMCommand == "" {
		return fmt.Errorf("csv2nidm_command must not be empty")
	}
	if c.CSV2NIDMTimeout <= 0 {
		return fmt.Errorf("csv2nidm_timeout must be positive, got %s", c.CSV2NIDMTimeout)
	}
	if len(c.Datatypes) == 0 {
		return fmt.Errorf("datatypes must not be empty")
	}
	if len(c.NIDMExtensions) == 0 {
		return fmt.Errorf("nidm_extensions must not be empty")
	}
	return nil
}

// WriteDefault writes the built-in configuration as YAML to path,
// refusing to clobber an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
