// Package config loads live-rpc settings from a JSON file, the environment and
// built-in defaults, in increasing order of precedence: defaults, then file,
// then environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/naveego/live-go/codec"
)

// Environment overrides.
const (
	EnvRelayURL = "LIVE_RELAY_URL"
	EnvToken    = "LIVE_TOKEN"
	EnvLogLevel = "LIVE_LOG_LEVEL"
)

// Config 顶层配置
type Config struct {
	RelayURL         string          `json:"relay_url"`
	Token            string          `json:"token,omitempty"`
	Channel          string          `json:"channel"`
	Codec            string          `json:"codec"`             // json | binary
	CallTimeout      Duration        `json:"call_timeout"`      // 0 = bounded by the caller's context only
	Heartbeat        Duration        `json:"heartbeat"`         // 0 disables heartbeats
	HandshakeTimeout Duration        `json:"handshake_timeout"`
	Handler          HandlerOptions  `json:"handler"`
	Registry         RegistryOptions `json:"registry"`
	Log              LogOptions      `json:"log"`
}

// HandlerOptions configures the middleware around inbound handlers.
type HandlerOptions struct {
	Timeout Duration `json:"timeout"` // 0 disables the timeout middleware
	Rate    float64  `json:"rate"`    // requests per second, 0 disables rate limiting
	Burst   int      `json:"burst"`
}

// RegistryOptions 服务注册配置
type RegistryOptions struct {
	Endpoints   []string `json:"endpoints"` // etcd endpoints, empty = no registry
	TTL         Duration `json:"ttl"`
	DialTimeout Duration `json:"dial_timeout"`
	Balancer    string   `json:"balancer"`
}

// LogOptions 日志配置选项
type LogOptions struct {
	Level     string `json:"level"`      // debug, info, warn, error
	ToConsole bool   `json:"to_console"` // 是否输出到控制台
	FilePath  string `json:"file_path"`  // 日志文件路径, empty = no file

	MaxSize    int  `json:"max_size"`    // 单个日志文件最大大小(MB)
	MaxBackups int  `json:"max_backups"` // 最大备份文件数
	MaxAge     int  `json:"max_age"`     // 日志文件最大保留天数
	Compress   bool `json:"compress"`    // 是否压缩历史日志文件
}

// Duration is a time.Duration written as "5s" in JSON. Plain numbers are read
// as nanoseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvRelayURL); v != "" {
		c.RelayURL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Token = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// CodecType resolves the configured codec name.
func (c *Config) CodecType() (codec.CodecType, error) {
	return codec.ParseCodecType(c.Codec)
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Channel) == "" {
		errs = append(errs, errors.New("channel must not be empty"))
	}
	if _, err := c.CodecType(); err != nil {
		errs = append(errs, err)
	}
	for name, d := range map[string]Duration{
		"call_timeout":      c.CallTimeout,
		"heartbeat":         c.Heartbeat,
		"handshake_timeout": c.HandshakeTimeout,
		"handler.timeout":   c.Handler.Timeout,
		"registry.ttl":      c.Registry.TTL,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.Handler.Rate < 0 || c.Handler.Burst < 0 {
		errs = append(errs, errors.New("handler rate and burst must not be negative"))
	}
	if c.Handler.Rate > 0 && c.Handler.Burst == 0 {
		errs = append(errs, errors.New("handler burst must be positive when rate is set"))
	}
	if len(c.Registry.Endpoints) > 0 && c.Registry.TTL < Duration(time.Second) {
		errs = append(errs, errors.New("registry ttl must be at least 1s"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
