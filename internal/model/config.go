package model

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	yamlv3 "gopkg.in/yaml.v3"

	_ "embed"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

// Config is the startup configuration of a courier service.
type Config struct {
	Version int     `json:"version" yaml:"version"` // fixed 0 for now
	Backend Backend `json:"backend" yaml:"backend"`
	Service Service `json:"service" yaml:"service"`
	Runtime Runtime `json:"runtime" yaml:"runtime"`
}

// Backend is the Redis endpoint used as store and bus.
type Backend struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

func (b Backend) Addr() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

type Service struct {
	Verbose bool   `json:"verbose" yaml:"verbose"`
	Console bool   `json:"console" yaml:"console"` // echo runtime log records to stderr
	LogDir  string `json:"log_dir" yaml:"log_dir"` // offline log files, "" => cwd
	Address string `json:"address" yaml:"address"` // value of the presence record
}

// Runtime tunes the service runtime. Durations use time.ParseDuration syntax.
type Runtime struct {
	PresenceTTL       string `json:"presence_ttl" yaml:"presence_ttl"`
	HeartbeatInterval string `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	PollTimeout       string `json:"poll_timeout" yaml:"poll_timeout"`
	RestartDelay      string `json:"restart_delay" yaml:"restart_delay"`
	TickInterval      string `json:"tick_interval" yaml:"tick_interval"`
	Parallelism       int    `json:"parallelism" yaml:"parallelism"`
}

// DefaultConfig returns the schema defaults.
func DefaultConfig() Config {
	cfg, err := decode(cueCtx.CompileString("{}"))
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	return decode(cueCtx.BuildFile(yamlFile))
}

// LoadTOMLConfig is LoadConfig for TOML documents.
func LoadTOMLConfig(r io.Reader) (Config, error) {
	var raw map[string]any
	if _, err := toml.NewDecoder(r).Decode(&raw); err != nil {
		return Config{}, fmt.Errorf("decoding toml: %w", err)
	}
	return decode(cueCtx.Encode(raw))
}

// LoadJSONConfig is LoadConfig for JSON documents. Comments and trailing
// commas are allowed.
func LoadJSONConfig(r io.Reader) (Config, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}
	return decode(cueCtx.CompileBytes(jsonc.ToJSON(b), cue.Filename("config.json")))
}

func decode(value cue.Value) (Config, error) {
	unified := schema.Unify(value)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	return out, nil
}

// WriteYAML stores the configuration in the format LoadConfig accepts.
func (c Config) WriteYAML(w io.Writer) error {
	enc := yamlv3.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}
	return enc.Close()
}

func (c Config) String() string {
	var b strings.Builder
	_ = c.WriteYAML(&b)
	return b.String()
}
