package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileName is the name of the runtime configuration file looked up in the config dir.
const ConfigFileName = "anchorcast.cfg.json"

// MemoryConfig holds in-memory/JSON journal backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite journal backend settings
type SQLiteConfig struct {
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	DumpDir      string        `json:"dumpDir" mapstructure:"dumpDir"`
}

// WebSocketConfig holds streaming journal backend settings
type WebSocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`

	ReconnectAttempts int           `json:"reconnectAttempts" mapstructure:"reconnectAttempts"`
	MaxBackoff        time.Duration `json:"maxBackoff" mapstructure:"maxBackoff"`
	SendBuffer        int           `json:"sendBuffer" mapstructure:"sendBuffer"`
}

// JournalConfig selects and configures the lifecycle journal backend
type JournalConfig struct {
	Type       string          `json:"type" mapstructure:"type"`
	BufferSize int             `json:"bufferSize" mapstructure:"bufferSize"`
	Memory     MemoryConfig    `json:"memory" mapstructure:"memory"`
	SQLite     SQLiteConfig    `json:"sqlite" mapstructure:"sqlite"`
	WebSocket  WebSocketConfig `json:"websocket" mapstructure:"websocket"`
}

// AssetsConfig configures the asset loader
type AssetsConfig struct {
	Dir         string        `json:"dir" mapstructure:"dir"`
	Workers     int           `json:"workers" mapstructure:"workers"`
	LoadTimeout time.Duration `json:"loadTimeout" mapstructure:"loadTimeout"`
}

// OTelConfig configures the OpenTelemetry provider
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`

	Headers map[string]string `json:"headers" mapstructure:"headers"`
}

// InfluxConfig configures the tick performance sink
type InfluxConfig struct {
	Enabled       bool          `json:"enabled" mapstructure:"enabled"`
	Protocol      string        `json:"protocol" mapstructure:"protocol"`
	Host          string        `json:"host" mapstructure:"host"`
	Port          string        `json:"port" mapstructure:"port"`
	Token         string        `json:"token" mapstructure:"token"`
	Org           string        `json:"org" mapstructure:"org"`
	Bucket        string        `json:"bucket" mapstructure:"bucket"`
	Retention     time.Duration `json:"retention" mapstructure:"retention"`
	BatchSize     int           `json:"batchSize" mapstructure:"batchSize"`
	FlushInterval time.Duration `json:"flushInterval" mapstructure:"flushInterval"`
}

// URL joins protocol, host and port.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// SetDefaults registers default values for every known key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./anchorcast-logs")

	viper.SetDefault("manifest.path", "./assets/manifest.json")

	viper.SetDefault("assets.dir", "./assets")
	viper.SetDefault("assets.workers", 4)
	viper.SetDefault("assets.loadTimeout", "30s")

	viper.SetDefault("media.dir", "./assets/media")

	viper.SetDefault("tick.interval", "33ms")

	viper.SetDefault("journal.type", "memory")
	viper.SetDefault("journal.bufferSize", 1000)
	viper.SetDefault("journal.memory.outputDir", "./journal")
	viper.SetDefault("journal.memory.compressOutput", true)
	viper.SetDefault("journal.sqlite.dumpInterval", "3m")
	viper.SetDefault("journal.sqlite.dumpDir", "./journal")
	viper.SetDefault("journal.websocket.url", "ws://localhost:5000/api/v1/journal")
	viper.SetDefault("journal.websocket.secret", "")
	viper.SetDefault("journal.websocket.reconnectAttempts", 8)
	viper.SetDefault("journal.websocket.maxBackoff", "4s")
	viper.SetDefault("journal.websocket.sendBuffer", 4096)

	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "anchorcast")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "anchorcast")
	viper.SetDefault("influx.bucket", "tick_performance")
	viper.SetDefault("influx.retention", "720h")
	viper.SetDefault("influx.batchSize", 2500)
	viper.SetDefault("influx.flushInterval", "1s")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")
	viper.SetDefault("graylog.level", "warn")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "anchorcast")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(ConfigFileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetJournalConfig returns the journal backend configuration.
func GetJournalConfig() JournalConfig {
	return JournalConfig{
		Type:       viper.GetString("journal.type"),
		BufferSize: viper.GetInt("journal.bufferSize"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("journal.memory.outputDir"),
			CompressOutput: viper.GetBool("journal.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("journal.sqlite.dumpInterval"),
			DumpDir:      viper.GetString("journal.sqlite.dumpDir"),
		},
		WebSocket: WebSocketConfig{
			URL:    viper.GetString("journal.websocket.url"),
			Secret: viper.GetString("journal.websocket.secret"),

			ReconnectAttempts: viper.GetInt("journal.websocket.reconnectAttempts"),
			MaxBackoff:        viper.GetDuration("journal.websocket.maxBackoff"),
			SendBuffer:        viper.GetInt("journal.websocket.sendBuffer"),
		},
	}
}

// GetAssetsConfig returns the asset loader configuration.
func GetAssetsConfig() AssetsConfig {
	workers := viper.GetInt("assets.workers")
	if workers < 1 {
		workers = 1
	}
	return AssetsConfig{
		Dir:         viper.GetString("assets.dir"),
		Workers:     workers,
		LoadTimeout: viper.GetDuration("assets.loadTimeout"),
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
		Headers:      viper.GetStringMapString("otel.headers"),
	}
}

// GetInfluxConfig returns the InfluxDB configuration.
func GetInfluxConfig() InfluxConfig {
	batch := viper.GetInt("influx.batchSize")
	if batch < 0 {
		batch = 0
	}
	return InfluxConfig{
		Enabled:       viper.GetBool("influx.enabled"),
		Protocol:      viper.GetString("influx.protocol"),
		Host:          viper.GetString("influx.host"),
		Port:          viper.GetString("influx.port"),
		Token:         viper.GetString("influx.token"),
		Org:           viper.GetString("influx.org"),
		Bucket:        viper.GetString("influx.bucket"),
		Retention:     viper.GetDuration("influx.retention"),
		BatchSize:     batch,
		FlushInterval: viper.GetDuration("influx.flushInterval"),
	}
}
