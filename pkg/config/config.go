package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Storage   StorageConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Prefilter PrefilterConfig
	Pipeline  PipelineConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type StorageConfig struct {
	DataDir       string
	CallIDPreview int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLHours int
}

type LLMConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
	MaxRetries  int
}

type PrefilterConfig struct {
	Threshold              float64
	FrustrationWeight      float64
	ConfusionWeight        float64
	RepetitionWeight       float64
	ShortResponseWeight    float64
	AbruptEndingWeight     float64
	ShortResponseThreshold int
}

type PipelineConfig struct {
	Workers int
}

type RateLimitConfig struct {
	Enabled              bool
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/call-analyzer")

	viper.SetEnvPrefix("CALL_ANALYZER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Validate reports configuration problems the service cannot run without.
// A missing LLM credential is fatal at startup, not something individual
// requests should partially tolerate.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.apiKey is required (set CALL_ANALYZER_LLM_APIKEY)")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/call_analysis.db")

	viper.SetDefault("storage.dataDir", "./data")
	viper.SetDefault("storage.callIDPreview", 10)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlHours", 24)

	viper.SetDefault("llm.model", "gpt-3.5-turbo")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2000)
	viper.SetDefault("llm.timeoutSec", 60)
	viper.SetDefault("llm.maxRetries", 3)

	viper.SetDefault("prefilter.threshold", 0.5)
	viper.SetDefault("prefilter.frustrationWeight", 0.5)
	viper.SetDefault("prefilter.confusionWeight", 0.25)
	viper.SetDefault("prefilter.repetitionWeight", 0.3)
	viper.SetDefault("prefilter.shortResponseWeight", 0.2)
	viper.SetDefault("prefilter.abruptEndingWeight", 0.3)
	viper.SetDefault("prefilter.shortResponseThreshold", 10)

	viper.SetDefault("pipeline.workers", 4)

	viper.SetDefault("ratelimit.enabled", true)
	viper.SetDefault("ratelimit.maxRequestsPerMinute", 120)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
