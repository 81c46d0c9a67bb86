package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	LLM      LLMConfig      `yaml:"llm"`
	Media    MediaConfig    `yaml:"media"`
	Poller   PollerConfig   `yaml:"poller"`
	Offers   OffersConfig   `yaml:"offers"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	MaxJobs           int           `yaml:"max_jobs"`
	MaxRetries        int           `yaml:"max_retries"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"` // processing jobs without a heartbeat for this long are recovered
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig holds the S3 compatible object storage used for uploads and media blobs
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
}

// RedisConfig holds the optional shared media resolution cache
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LLMConfig holds the chat/completions endpoint used for price card extraction
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// MediaConfig holds the media resolver and proxy settings
type MediaConfig struct {
	PublicBaseURL   string        `yaml:"public_base_url"`
	ProxyTimeout    time.Duration `yaml:"proxy_timeout"`
	DirectTimeout   time.Duration `yaml:"direct_timeout"`
	CORSTimeout     time.Duration `yaml:"cors_timeout"`
	CORSProxies     []string      `yaml:"cors_proxies"`
	CacheSize       int           `yaml:"cache_size"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	BlobTTL         time.Duration `yaml:"blob_ttl"`
	BlobBackend     string        `yaml:"blob_backend"`
	MaxBytes        int64         `yaml:"max_bytes"`
	AllowedHosts    []string      `yaml:"allowed_hosts"`
	UserAgent       string        `yaml:"user_agent"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
}

// PollerConfig holds the job status polling budget used by clients
type PollerConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Interval    time.Duration `yaml:"interval"`
}

// OffersConfig holds the commodities marketplace integration
type OffersConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	DefaultAmount     int           `yaml:"default_amount"`
	ExpiryDays        int           `yaml:"expiry_days"`
	StateRegistration string        `yaml:"state_registration"`
	CommissionValue   float64       `yaml:"commission_value"`
	FoxFee            float64       `yaml:"fox_fee"`
	FinanceTax        float64       `yaml:"finance_tax"`
	SignLatitude      float64       `yaml:"sign_latitude"`
	SignLongitude     float64       `yaml:"sign_longitude"`
	SignIP            string        `yaml:"sign_ip"`
}

// AuthConfig holds bearer token settings; an empty secret disables auth
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

// DefaultCORSProxies are the public CORS proxies tried after the direct URL
var DefaultCORSProxies = []string{
	"https://api.allorigins.win/raw?url=",
	"https://cors-anywhere.herokuapp.com/",
	"https://thingproxy.freeboard.io/fetch/",
	"https://api.codetabs.com/v1/proxy?quest=",
}

// Load reads the configuration file, expands ${VAR} references from the
// environment and fills in defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills zero values with the documented defaults
func (c *Config) ApplyDefaults() {
	if c.Poller.MaxAttempts <= 0 {
		c.Poller.MaxAttempts = 30
	}
	if c.Poller.Interval <= 0 {
		c.Poller.Interval = 2 * time.Second
	}

	if c.Media.ProxyTimeout <= 0 {
		c.Media.ProxyTimeout = 10 * time.Second
	}
	if c.Media.DirectTimeout <= 0 {
		c.Media.DirectTimeout = 5 * time.Second
	}
	if c.Media.CORSTimeout <= 0 {
		c.Media.CORSTimeout = 8 * time.Second
	}
	if c.Media.CORSProxies == nil {
		c.Media.CORSProxies = append([]string(nil), DefaultCORSProxies...)
	}
	if c.Media.CacheSize <= 0 {
		c.Media.CacheSize = 1024
	}
	if c.Media.CacheTTL <= 0 {
		c.Media.CacheTTL = time.Hour
	}
	if c.Media.BlobTTL <= 0 {
		c.Media.BlobTTL = 30 * time.Minute
	}
	if c.Media.BlobBackend == "" {
		c.Media.BlobBackend = "memory"
	}
	if c.Media.MaxBytes <= 0 {
		c.Media.MaxBytes = 16 << 20
	}
	if c.Media.UpstreamTimeout <= 0 {
		c.Media.UpstreamTimeout = 30 * time.Second
	}
	if c.Media.UserAgent == "" {
		c.Media.UserAgent = "pricecards-media/1.0"
	}

	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = 120 * time.Second
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}

	if c.Offers.Timeout <= 0 {
		c.Offers.Timeout = 30 * time.Second
	}
	if c.Offers.DefaultAmount <= 0 {
		c.Offers.DefaultAmount = 2000
	}
	if c.Offers.ExpiryDays <= 0 {
		c.Offers.ExpiryDays = 15
	}

	if c.Worker.MaxRetries <= 0 {
		c.Worker.MaxRetries = 3
	}
	if c.Worker.StaleAfter <= 0 {
		c.Worker.StaleAfter = 3 * c.Worker.HeartbeatInterval
	}

	if c.Auth.TokenExpiry <= 0 {
		c.Auth.TokenExpiry = 24 * time.Hour
	}

	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "media:resolve:"
	}
}

// ValidateAPIConfig checks the settings api-service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	switch c.Media.BlobBackend {
	case "memory", "storage":
	default:
		return fmt.Errorf("invalid media blob_backend: %q (must be memory or storage)", c.Media.BlobBackend)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}

	// Memory blobs only exist in the replica that created them.
	if c.Redis.Enabled && c.Media.BlobBackend == "memory" {
		return fmt.Errorf("media blob_backend memory cannot be used with the redis cache (use storage)")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth jwt_secret must be at least 16 characters")
	}

	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.Endpoint == "" {
		return fmt.Errorf("storage endpoint is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}
	return nil
}

// ValidateWorkerConfig checks the settings worker-service needs
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.MaxJobs <= 0 {
		return fmt.Errorf("worker max_jobs must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.StaleAfter <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("worker stale_after must be greater than heartbeat_interval")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if !strings.HasPrefix(c.LLM.BaseURL, "http://") && !strings.HasPrefix(c.LLM.BaseURL, "https://") {
		return fmt.Errorf("llm base_url must be an http(s) url")
	}

	return nil
}

// ValidateClientConfig checks the settings cardctl needs
func (c *Config) ValidateClientConfig() error {
	if c.Poller.MaxAttempts <= 0 {
		return fmt.Errorf("poller max_attempts must be greater than 0")
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller interval must be greater than 0")
	}
	return nil
}
