// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath         = "config.yaml"
	DefaultAddr               = ":8080"
	DefaultWorkers            = 4
	DefaultMaxRepliesPerHour  = 6
	DefaultBotTimeout         = 30 * time.Second
	DefaultGatewayTimeout     = 15 * time.Second
	DefaultTokenTTL           = 24 * time.Hour
	DefaultLLMModel           = "gpt-4o-mini"
	DefaultLLMTemperature     = 0.2
	DefaultSystemPrompt       = "Sos un asistente de ventas. Respuestas cortas, claras. Si falta info, pedí 1 pregunta. Si el usuario quiere un humano, derivá."
	DefaultWhatsAppGatewayURL = "http://localhost:4010"
	DefaultMetaGatewayURL     = "http://localhost:4020"

	QueueDriverRabbit = "rabbitmq"
	QueueDriverMemory = "memory"
)

type Config struct {
	Server struct {
		Addr        string `yaml:"addr" env:"SERVER_ADDR"`
		IngestToken string `yaml:"ingest_token" env:"INGEST_TOKEN"`
		CORSOrigin  string `yaml:"cors_origin" env:"CORS_ORIGIN"`
	} `yaml:"server"`

	RabbitMQ struct {
		URL string `yaml:"url" env:"RABBITMQ_URL"`
	} `yaml:"rabbitmq"`

	Queue struct {
		Driver string `yaml:"driver" env:"QUEUE_DRIVER"`
	} `yaml:"queue"`

	Database struct {
		URL string `yaml:"url" env:"DATABASE_URL"`
	} `yaml:"database"`

	Redis struct {
		URL string `yaml:"url" env:"REDIS_URL"`
	} `yaml:"redis"`

	Workers int `yaml:"workers" env:"WORKERS"`

	Auth struct {
		JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET"`
		TokenTTL  time.Duration `yaml:"token_ttl" env:"JWT_TOKEN_TTL"`
	} `yaml:"auth"`

	Log struct {
		Level  string `yaml:"level" env:"LOG_LEVEL"`
		Format string `yaml:"format" env:"LOG_FORMAT"`
	} `yaml:"log"`

	Bot struct {
		Enabled           bool          `yaml:"enabled" env:"BOT_ENABLED"`
		MaxRepliesPerHour int           `yaml:"max_replies_per_hour" env:"BOT_MAX_AUTO_REPLIES_PER_HOUR"`
		Timeout           time.Duration `yaml:"timeout" env:"BOT_TIMEOUT"`
		SystemPrompt      string        `yaml:"system_prompt" env:"BOT_SYSTEM_PROMPT"`
	} `yaml:"bot"`

	LLM struct {
		Provider    string  `yaml:"provider" env:"LLM_PROVIDER"`
		APIKey      string  `yaml:"api_key" env:"LLM_API_KEY"`
		Model       string  `yaml:"model" env:"LLM_MODEL"`
		BaseURL     string  `yaml:"base_url" env:"LLM_BASE_URL"`
		Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE"`
	} `yaml:"llm"`

	Gateways struct {
		WhatsAppURL string        `yaml:"whatsapp_url" env:"GATEWAY_WA_URL"`
		MetaURL     string        `yaml:"meta_url" env:"GATEWAY_META_URL"`
		Timeout     time.Duration `yaml:"timeout" env:"GATEWAY_TIMEOUT"`
	} `yaml:"gateways"`
}

// Default returns a config with every optional field filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Addr = DefaultAddr
	cfg.Queue.Driver = QueueDriverRabbit
	cfg.Workers = DefaultWorkers
	cfg.Auth.TokenTTL = DefaultTokenTTL
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Bot.Enabled = true
	cfg.Bot.MaxRepliesPerHour = DefaultMaxRepliesPerHour
	cfg.Bot.Timeout = DefaultBotTimeout
	cfg.Bot.SystemPrompt = DefaultSystemPrompt
	cfg.LLM.Provider = "openai"
	cfg.LLM.Model = DefaultLLMModel
	cfg.LLM.Temperature = DefaultLLMTemperature
	cfg.Gateways.WhatsAppURL = DefaultWhatsAppGatewayURL
	cfg.Gateways.MetaURL = DefaultMetaGatewayURL
	cfg.Gateways.Timeout = DefaultGatewayTimeout
	return cfg
}

// LoadConfig reads the YAML file at path (a missing file is fine), then applies
// a local .env file and the process environment on top.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	_ = godotenv.Load()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	switch c.Queue.Driver {
	case QueueDriverRabbit:
		if c.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("rabbitmq.url is required for the rabbitmq queue driver"))
		}
	case QueueDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("queue.driver %q is not supported", c.Queue.Driver))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.Bot.MaxRepliesPerHour <= 0 {
		errs = append(errs, errors.New("bot.max_replies_per_hour must be positive"))
	}
	if c.Bot.Timeout <= 0 {
		errs = append(errs, errors.New("bot.timeout must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
