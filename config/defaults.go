package config

import "time"

// 默认配置值
const (
	defaultRelayURL         = "ws://127.0.0.1:8080/live"
	defaultChannel          = "rpc"
	defaultCodec            = "json"
	defaultHeartbeat        = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second

	defaultRegistryTTL         = 10 * time.Second
	defaultRegistryDialTimeout = 5 * time.Second
	defaultBalancer            = "round_robin"

	defaultLogLevel   = "info"
	defaultToConsole  = true
	defaultMaxSize    = 100
	defaultMaxBackups = 5
	defaultMaxAge     = 30
)

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		RelayURL:         defaultRelayURL,
		Channel:          defaultChannel,
		Codec:            defaultCodec,
		Heartbeat:        Duration(defaultHeartbeat),
		HandshakeTimeout: Duration(defaultHandshakeTimeout),
		Registry: RegistryOptions{
			TTL:         Duration(defaultRegistryTTL),
			DialTimeout: Duration(defaultRegistryDialTimeout),
			Balancer:    defaultBalancer,
		},
		Log: LogOptions{
			Level:      defaultLogLevel,
			ToConsole:  defaultToConsole,
			MaxSize:    defaultMaxSize,
			MaxBackups: defaultMaxBackups,
			MaxAge:     defaultMaxAge,
		},
	}
}
