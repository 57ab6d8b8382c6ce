package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	yaml "gopkg.in/yaml.v3"

	"github.com/lakefront/depot/pkg/objstore"
)

// DefaultConfigName is the config file basename searched for (depot.yaml).
const DefaultConfigName = "depot"

// Load reads configuration. path names an explicit config file; when empty
// the loader searches the working directory and $HOME/.config/depot. A
// missing file is only an error when explicitly named; environment and
// defaults alone form a valid configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DEPOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/depot")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	decode := func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
	if err := v.Unmarshal(&cfg, decode); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	v.SetDefault("store.bucket", "")
	v.SetDefault("store.region", "")
	v.SetDefault("store.endpoint", "")
	v.SetDefault("store.force_path_style", false)
	v.SetDefault("store.cross_object_concurrency", objstore.DefaultCrossObjectConcurrency)
	v.SetDefault("store.transfer_concurrency", objstore.DefaultTransferConcurrency)
	v.SetDefault("store.rate_limit", 0.0)

	v.SetDefault("metadata.path", "depot.db")

	v.SetDefault("manager.link_ttl", "1h")
	v.SetDefault("manager.multipart_threshold", objstore.MultipartMinSize)
	v.SetDefault("manager.reconcile_attempts", 50)
	v.SetDefault("manager.reconcile_base_delay", "500ms")
	v.SetDefault("manager.dir_size_staleness", "5m")
}

// Example renders the default configuration as annotated YAML for
// `depot config init`. Durations are rendered in their string form, which is
// what the loader's decode hook parses back.
func Example() ([]byte, error) {
	example := map[string]any{
		"server": map[string]any{
			"host":             "localhost",
			"port":             8080,
			"read_timeout":     "30s",
			"write_timeout":    "30s",
			"idle_timeout":     "120s",
			"shutdown_timeout": "10s",
		},
		"logging": map[string]any{
			"level":   "info",
			"profile": "STRUCTURED",
		},
		"store": map[string]any{
			"bucket":                   "my-bucket",
			"region":                   "",
			"endpoint":                 "",
			"force_path_style":         false,
			"cross_object_concurrency": objstore.DefaultCrossObjectConcurrency,
			"transfer_concurrency":     objstore.DefaultTransferConcurrency,
			"rate_limit":               0,
		},
		"metadata": map[string]any{
			"path": "depot.db",
		},
		"manager": map[string]any{
			"link_ttl":             "1h",
			"multipart_threshold":  objstore.MultipartMinSize,
			"reconcile_attempts":   50,
			"reconcile_base_delay": "500ms",
			"dir_size_staleness":   "5m",
		},
	}

	body, err := yaml.Marshal(example)
	if err != nil {
		return nil, fmt.Errorf("encode example config: %w", err)
	}

	header := `# depot configuration.
# Every key can be overridden with a DEPOT_* environment variable,
# e.g. store.bucket -> DEPOT_STORE_BUCKET.
`
	return append([]byte(header), body...), nil
}
