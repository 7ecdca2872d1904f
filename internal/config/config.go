package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate to zero fields.
const (
	DefaultTheme             = "arbor-dark"
	DefaultCallTimeout       = 10 * time.Second
	DefaultMaxInstances      = 64
	DefaultMaxInjectionDepth = 3
	DefaultLogLevel          = "warning"
)

// ErrInvalidConfig reports an option set that cannot be used.
var ErrInvalidConfig = errors.New("invalid configuration")

// Duration is a time.Duration that unmarshals from YAML strings like
// "10s" or "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Options configures the highlighting host.
type Options struct {
	// PluginDir is a local directory of <language>.wasm artifacts.
	PluginDir string `yaml:"plugin_dir"`

	// BaseURL is a remote artifact root; requires Manifest.
	BaseURL string `yaml:"base_url"`

	// Manifest is the path of a JSON catalog mapping language ids to
	// artifact locations and aliases. Optional with PluginDir, required
	// with BaseURL.
	Manifest string `yaml:"manifest"`

	// Theme names a built-in theme, or is the path of a TOML theme file
	// when it ends in ".toml".
	Theme string `yaml:"theme"`

	// CallTimeout bounds a single plugin call.
	CallTimeout Duration `yaml:"call_timeout"`

	// MaxInstances bounds the live plugin cache.
	MaxInstances int `yaml:"max_instances"`

	// MaxInjectionDepth bounds recursion into embedded languages.
	MaxInjectionDepth int `yaml:"max_injection_depth"`

	// Watch invalidates cached plugins when their artifact changes on
	// disk. Only meaningful with PluginDir.
	Watch bool `yaml:"watch"`

	// LogLevel is a logrus level name.
	LogLevel string `yaml:"log_level"`
}

// Load reads a YAML options file and applies environment overrides. An
// empty path skips the file and uses environment only. Callers layer
// any further overrides on top and then call Validate.
func Load(path string) (Options, error) {
	var opts Options
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Options{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return Options{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	if err := opts.applyEnv(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// applyEnv overrides fields from ARBORIUM_* environment variables.
func (o *Options) applyEnv() error {
	if v, ok := os.LookupEnv("ARBORIUM_PLUGIN_DIR"); ok {
		o.PluginDir = v
	}
	if v, ok := os.LookupEnv("ARBORIUM_BASE_URL"); ok {
		o.BaseURL = v
	}
	if v, ok := os.LookupEnv("ARBORIUM_MANIFEST"); ok {
		o.Manifest = v
	}
	if v, ok := os.LookupEnv("ARBORIUM_THEME"); ok {
		o.Theme = v
	}
	if v, ok := os.LookupEnv("ARBORIUM_LOG_LEVEL"); ok {
		o.LogLevel = v
	}
	if v, ok := os.LookupEnv("ARBORIUM_CALL_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: ARBORIUM_CALL_TIMEOUT %q: %v", ErrInvalidConfig, v, err)
		}
		o.CallTimeout = Duration(d)
	}
	if v, ok := os.LookupEnv("ARBORIUM_MAX_INSTANCES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: ARBORIUM_MAX_INSTANCES %q: %v", ErrInvalidConfig, v, err)
		}
		o.MaxInstances = n
	}
	if v, ok := os.LookupEnv("ARBORIUM_MAX_INJECTION_DEPTH"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: ARBORIUM_MAX_INJECTION_DEPTH %q: %v", ErrInvalidConfig, v, err)
		}
		o.MaxInjectionDepth = n
	}
	if v, ok := os.LookupEnv("ARBORIUM_WATCH"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: ARBORIUM_WATCH %q: %v", ErrInvalidConfig, v, err)
		}
		o.Watch = b
	}
	return nil
}

// Validate fills defaults and rejects contradictory settings.
func (o *Options) Validate() error {
	if o.PluginDir == "" && o.BaseURL == "" {
		return fmt.Errorf("%w: one of plugin_dir or base_url is required", ErrInvalidConfig)
	}
	if o.PluginDir != "" && o.BaseURL != "" {
		return fmt.Errorf("%w: plugin_dir and base_url are mutually exclusive", ErrInvalidConfig)
	}
	if o.BaseURL != "" && o.Manifest == "" {
		return fmt.Errorf("%w: base_url requires a manifest", ErrInvalidConfig)
	}
	if o.Watch && o.PluginDir == "" {
		return fmt.Errorf("%w: watch requires plugin_dir", ErrInvalidConfig)
	}
	if o.CallTimeout < 0 {
		return fmt.Errorf("%w: call_timeout must not be negative", ErrInvalidConfig)
	}
	if o.MaxInstances < 0 {
		return fmt.Errorf("%w: max_instances must not be negative", ErrInvalidConfig)
	}
	if o.MaxInjectionDepth < 0 {
		return fmt.Errorf("%w: max_injection_depth must not be negative", ErrInvalidConfig)
	}

	if o.Theme == "" {
		o.Theme = DefaultTheme
	}
	if o.CallTimeout == 0 {
		o.CallTimeout = Duration(DefaultCallTimeout)
	}
	if o.MaxInstances == 0 {
		o.MaxInstances = DefaultMaxInstances
	}
	if o.MaxInjectionDepth == 0 {
		o.MaxInjectionDepth = DefaultMaxInjectionDepth
	}
	if o.LogLevel == "" {
		o.LogLevel = DefaultLogLevel
	}
	return nil
}
