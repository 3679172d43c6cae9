package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
)

// EnvPrefix is stripped from environment keys; LEAF_SERVER_PORT sets server.port
const EnvPrefix = "LEAF_"

// Backend types
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// Storage types
const (
	StorageLocal = "local"
	StorageAzure = "azure"
)

type ServerConfig struct {
	Host               string        `koanf:"host"`
	Port               string        `koanf:"port"`
	RequestTimeout     time.Duration `koanf:"requesttimeout"`
	MaxRequestBodySize int64         `koanf:"maxrequestbodysize"`
	AllowedExtensions  []string      `koanf:"allowedextensions"`
	// AllowedImageHosts limits /api/predict/url to these host[:port]
	// values; empty allows any host
	AllowedImageHosts  []string      `koanf:"allowedimagehosts"`
}

// BackendConfig selects and configures the inference backend
type BackendConfig struct {
	Type     string        `koanf:"type"`
	Endpoint string        `koanf:"endpoint"`
	Timeout  time.Duration `koanf:"timeout"`
	Retries  int           `koanf:"retries"`
}

// ModelConfig describes the bundled model used by the local backend
type ModelConfig struct {
	Path           string        `koanf:"path"`
	URL            string        `koanf:"url"`
	LabelsPath     string        `koanf:"labelspath"`
	InputSize      int           `koanf:"inputsize"`
	InputName      string        `koanf:"inputname"`
	OutputName     string        `koanf:"outputname"`
	SharedLibrary  string        `koanf:"sharedlibrary"`
	PoolSize       int           `koanf:"poolsize"`
	AcquireTimeout time.Duration `koanf:"acquiretimeout"`
}

type AzureConfig struct {
	Account   string `koanf:"account"`
	Key       string `koanf:"key"`
	Container string `koanf:"container"`
}

// StorageConfig controls where uploads and masks are kept
type StorageConfig struct {
	Type  string      `koanf:"type"`
	Dir   string      `koanf:"dir"`
	Azure AzureConfig `koanf:"azure"`
}

// LeafConfig holds the green-pixel gate; thresholds use PIL's 0..255 HSV
// scale and are overridden at runtime by ThresholdsFile.
type LeafConfig struct {
	Enabled        bool    `koanf:"enabled"`
	ThresholdsFile string  `koanf:"thresholdsfile"`
	HMin           int     `koanf:"hmin"`
	HMax           int     `koanf:"hmax"`
	SMin           int     `koanf:"smin"`
	VMin           int     `koanf:"vmin"`
	MinProportion  float64 `koanf:"minproportion"`
}

type KnowledgeConfig struct {
	Path string `koanf:"path"`
}

type LogConfig struct {
	Level      string `koanf:"level"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"maxsizemb"`
	MaxBackups int    `koanf:"maxbackups"`
	MaxAgeDays int    `koanf:"maxagedays"`
}

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Backend   BackendConfig   `koanf:"backend"`
	Model     ModelConfig     `koanf:"model"`
	Storage   StorageConfig   `koanf:"storage"`
	Leaf      LeafConfig      `koanf:"leaf"`
	Knowledge KnowledgeConfig `koanf:"knowledge"`
	Log       LogConfig       `koanf:"log"`
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Server.Host)
	port := strings.TrimSpace(c.Server.Port)
	return net.JoinHostPort(host, port)
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.host":               "0.0.0.0",
		"server.port":               "8080",
		"server.requesttimeout":     "60s",
		"server.maxrequestbodysize": 16 * 1024 * 1024, // 16MB
		"server.allowedextensions":  []string{"png", "jpg", "jpeg"},
		"server.allowedimagehosts":  []string{},
		"backend.type":              BackendLocal,
		"backend.timeout":           "30s",
		"backend.retries":           0,
		"model.path":                "models/tomato_inception_v3.onnx",
		"model.labelspath":          "models/labels.txt",
		"model.inputsize":           299,
		"model.inputname":           "input",
		"model.outputname":          "output",
		"model.poolsize":            2,
		"model.acquiretimeout":      "5s",
		"storage.type":              StorageLocal,
		"storage.dir":               "static/uploads",
		"leaf.enabled":              true,
		"leaf.thresholdsfile":       "config.json",
		"leaf.hmin":                 25,
		"leaf.hmax":                 100,
		"leaf.smin":                 40,
		"leaf.vmin":                 40,
		"leaf.minproportion":        0.03,
		"knowledge.path":            "",
		"model.url":                 "",
		"log.level":                 "info",
		"log.maxsizemb":             10,
		"log.maxbackups":            5,
		"log.maxagedays":            7,
	}
}

// LoadFromEnv loads defaults, the file named by LEAF_CONFIG_FILE (if any)
// and LEAF_* environment overrides.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv(EnvPrefix + "CONFIG_FILE"))
}

// Load layers defaults, an optional YAML file and the environment, then validates
func Load(filePath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load config defaults: %w", err)
	}

	if filePath != "" {
		if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %q: %w", filePath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(s string, v string) (string, interface{}) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies the rules the rest of the program relies on
func Validate(cfg *Config) error {
	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(cfg.Server.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid server.port: %q", cfg.Server.Port)
	}
	if cfg.Server.MaxRequestBodySize <= 0 {
		return fmt.Errorf("server.maxrequestbodysize must be > 0 (got %d)", cfg.Server.MaxRequestBodySize)
	}
	if cfg.Server.RequestTimeout <= 0 || cfg.Backend.Timeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, backend=%s)",
			cfg.Server.RequestTimeout, cfg.Backend.Timeout)
	}
	if cfg.Backend.Retries < 0 {
		return fmt.Errorf("backend.retries must be >= 0 (got %d)", cfg.Backend.Retries)
	}

	switch cfg.Backend.Type {
	case BackendLocal:
		if cfg.Model.Path == "" || cfg.Model.LabelsPath == "" {
			return fmt.Errorf("local backend requires model.path and model.labelspath")
		}
		if cfg.Model.InputSize <= 0 {
			return fmt.Errorf("model.inputsize must be > 0 (got %d)", cfg.Model.InputSize)
		}
	case BackendRemote:
		if strings.TrimSpace(cfg.Backend.Endpoint) == "" {
			return fmt.Errorf("remote backend requires backend.endpoint")
		}
	default:
		return fmt.Errorf("unsupported backend.type: %q", cfg.Backend.Type)
	}

	switch cfg.Storage.Type {
	case StorageLocal:
		if cfg.Storage.Dir == "" {
			return fmt.Errorf("local storage requires storage.dir")
		}
	case StorageAzure:
		if cfg.Storage.Azure.Account == "" || cfg.Storage.Azure.Container == "" {
			return fmt.Errorf("azure storage requires storage.azure.account and storage.azure.container")
		}
	default:
		return fmt.Errorf("unsupported storage.type: %q", cfg.Storage.Type)
	}

	return nil
}
