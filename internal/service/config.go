package service

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/CZERTAINLY/Courier/internal/model"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ConfigEnv names the config file when --config is not given.
const ConfigEnv = "COURIERCONFIG"

// EnvPrefix of the variables overriding single config keys, for example
// COURIER_BACKEND_HOST or COURIER_RUNTIME_RESTART_DELAY.
const EnvPrefix = "COURIER"

// flag name -> config key
var flagKeys = map[string]string{
	"host":    "backend.host",
	"port":    "backend.port",
	"verbose": "service.verbose",
}

// LoadConfig resolves the startup configuration. The file is path, or the
// value of COURIERCONFIG, or none and the defaults apply. Files ending in
// .toml or .json are read as such, anything else as YAML. Environment
// variables override the file and explicitly set flags override both. The
// result is validated again. It returns the config file used.
func LoadConfig(path string, flags *pflag.FlagSet) (model.Config, string, error) {
	if path == "" {
		path = os.Getenv(ConfigEnv)
	}

	cfg := model.DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return model.Config{}, path, fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		cfg, err = loaderFor(path)(f)
		if err != nil {
			return model.Config{}, path, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	var buf bytes.Buffer
	if err := cfg.WriteYAML(&buf); err != nil {
		return model.Config{}, path, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(&buf); err != nil {
		return model.Config{}, path, fmt.Errorf("reading config: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return model.Config{}, path, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	cfg.Backend.Host = v.GetString("backend.host")
	cfg.Backend.Port = v.GetInt("backend.port")
	cfg.Service.Verbose = v.GetBool("service.verbose")
	cfg.Service.Console = v.GetBool("service.console")
	cfg.Service.LogDir = v.GetString("service.log_dir")
	cfg.Service.Address = v.GetString("service.address")
	cfg.Runtime.PresenceTTL = v.GetString("runtime.presence_ttl")
	cfg.Runtime.HeartbeatInterval = v.GetString("runtime.heartbeat_interval")
	cfg.Runtime.PollTimeout = v.GetString("runtime.poll_timeout")
	cfg.Runtime.RestartDelay = v.GetString("runtime.restart_delay")
	cfg.Runtime.TickInterval = v.GetString("runtime.tick_interval")
	cfg.Runtime.Parallelism = v.GetInt("runtime.parallelism")

	// overrides bypassed the schema
	buf.Reset()
	if err := cfg.WriteYAML(&buf); err != nil {
		return model.Config{}, path, err
	}
	cfg, err := model.LoadConfig(&buf)
	if err != nil {
		return model.Config{}, path, fmt.Errorf("validating overrides: %w", err)
	}
	return cfg, path, nil
}

// loaderFor picks the decoder by file extension, YAML by default.
func loaderFor(path string) func(io.Reader) (model.Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return model.LoadTOMLConfig
	case ".json", ".jsonc":
		return model.LoadJSONConfig
	default:
		return model.LoadConfig
	}
}
