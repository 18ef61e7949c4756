package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"sigs.k8s.io/yaml"
)

const (
	DEFAULT_CONFIG_PATH = "/config/config.yaml"

	DEFAULT_LOG_LEVEL   = "info"
	DEFAULT_SERVER_PORT = 8080

	// GitHub limits webhook payloads to 25 MB
	DEFAULT_MAX_BODY_BYTES               = 25 << 20
	DEFAULT_NORMALIZATION_FAILURE_STATUS = 400

	DEFAULT_API_URL        = "https://api.github.com"
	DEFAULT_API_TIMEOUT    = 10 * time.Second
	DEFAULT_CHECK_NAME     = "buildhook"
	DEFAULT_STATUS_CONTEXT = "continuous-integration/buildhook"

	DEFAULT_QUEUE_BACKEND  = QueueBackendRedis
	DEFAULT_QUEUE_KEY      = "webhooks"
	DEFAULT_REDIS_ADDR     = "localhost:6379"
	DEFAULT_MAX_ATTEMPTS   = 5
	DEFAULT_POLL_INTERVAL  = time.Second
	DEFAULT_DATABASE_PATH  = "/data/buildhook.db"
	DEFAULT_RETRY_MODE     = RetryBackoffExponential
	DEFAULT_RETRY_INITIAL  = 100 * time.Millisecond
	DEFAULT_RETRY_MAX      = 2 * time.Second
	DEFAULT_RETRY_ATTEMPTS = 3
)

const (
	QueueBackendRedis  = "redis"
	QueueBackendSQLite = "sqlite"
	QueueBackendMemory = "memory"
)

type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

var logLevel *slog.LevelVar

// Initialize the logger
func init() {
	logLevel = &slog.LevelVar{}
	opts := slog.HandlerOptions{
		Level: logLevel,
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &opts))
	slog.SetDefault(logger)
}

// Duration is a time.Duration that decodes from Go duration strings like "10s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string or integer: %s", string(b))
		}
		d.Duration = time.Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration '%s': %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	LogLevel string         `json:"logLevel,omitempty"`
	Server   ServerConfig   `json:"server,omitempty"`
	Github   GithubConfig   `json:"github"`
	Queue    QueueConfig    `json:"queue,omitempty"`
	Database DatabaseConfig `json:"database,omitempty"`
}

type ServerConfig struct {
	Port         int       `json:"port,omitempty"`
	SSL          SSLConfig `json:"ssl,omitempty"`
	MaxBodyBytes int64     `json:"maxBodyBytes,omitempty"`
	// HTTP status returned when a verified payload can not be normalized
	NormalizationFailureStatus int `json:"normalizationFailureStatus,omitempty"`
}

type SSLConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Cert    string `json:"cert,omitempty"`
	Key     string `json:"key,omitempty"`
}

type GithubConfig struct {
	// GitHub App credentials, only needed for the github_app integration
	ClientID   string `json:"client-id,omitempty"`
	PrivateKey string `json:"private-key,omitempty"`
	// Token used for the plain github (OAuth/PAT) integration
	Token         string `json:"token,omitempty"`
	WebhookSecret string `json:"webhook-secret,omitempty"`
	// Skip signature verification entirely. Never enable outside of local debugging.
	DebugBypassSignature bool     `json:"debug-bypass-signature,omitempty"`
	API                  string   `json:"api,omitempty"`
	Timeout              Duration `json:"timeout,omitempty"`
	CheckName            string   `json:"check-name,omitempty"`
	StatusContext        string   `json:"status-context,omitempty"`
	DetailsURL           string   `json:"details-url,omitempty"`
}

type QueueConfig struct {
	Backend               string      `json:"backend,omitempty"`
	Key                   string      `json:"key,omitempty"`
	Redis                 RedisConfig `json:"redis,omitempty"`
	StoreFailedDeliveries bool        `json:"store-failed-deliveries,omitempty"`
	EnqueueRetry          RetryConfig `json:"enqueue-retry,omitempty"`
	MaxAttempts           int         `json:"max-attempts,omitempty"`
	PollInterval          Duration    `json:"poll-interval,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

type RetryConfig struct {
	Mode       RetryBackoffMode `json:"mode,omitempty"`
	Initial    Duration         `json:"initial,omitempty"`
	Max        Duration         `json:"max,omitempty"`
	MaxRetries int              `json:"max-retries,omitempty"`
}

type DatabaseConfig struct {
	Path string `json:"path,omitempty"`
}

// Returns a Config with default values set
func DefaultConfig() Config {
	return Config{
		LogLevel: DEFAULT_LOG_LEVEL,
		Server: ServerConfig{
			Port:                       DEFAULT_SERVER_PORT,
			MaxBodyBytes:               DEFAULT_MAX_BODY_BYTES,
			NormalizationFailureStatus: DEFAULT_NORMALIZATION_FAILURE_STATUS,
		},
		Github: GithubConfig{
			API:           DEFAULT_API_URL,
			Timeout:       Duration{DEFAULT_API_TIMEOUT},
			CheckName:     DEFAULT_CHECK_NAME,
			StatusContext: DEFAULT_STATUS_CONTEXT,
		},
		Queue: QueueConfig{
			Backend: DEFAULT_QUEUE_BACKEND,
			Key:     DEFAULT_QUEUE_KEY,
			Redis: RedisConfig{
				Addr: DEFAULT_REDIS_ADDR,
			},
			StoreFailedDeliveries: true,
			EnqueueRetry: RetryConfig{
				Mode:       DEFAULT_RETRY_MODE,
				Initial:    Duration{DEFAULT_RETRY_INITIAL},
				Max:        Duration{DEFAULT_RETRY_MAX},
				MaxRetries: DEFAULT_RETRY_ATTEMPTS,
			},
			MaxAttempts:  DEFAULT_MAX_ATTEMPTS,
			PollInterval: Duration{DEFAULT_POLL_INTERVAL},
		},
		Database: DatabaseConfig{
			Path: DEFAULT_DATABASE_PATH,
		},
	}
}

// Loads config from file, returns error if config is invalid
// Arguments:
//
//		path: Path to config file, if empty will use DEFAULT_CONFIG_PATH
//		env: Determines if enviroment variables in the file will be expanded before decoding
//	 logLevelOverride: Override the log level given by the config
func LoadConfig(path string, env bool, logLevelOverride string) (Config, error) {
	c, err := loadConfigFile(path, env)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load configuration file '%s': %w", path, err)
	}

	level := c.LogLevel
	if logLevelOverride != "" {
		level = logLevelOverride
	}
	err = setLogLevel(level)
	if err != nil {
		return Config{}, fmt.Errorf("failed to set log level to '%s': %w", level, err)
	}

	err = c.Validate()
	if err != nil {
		return Config{}, err
	}

	return c, nil
}

// Validate checks the config for missing or contradicting values
func (c Config) Validate() error {
	if c.Server.SSL.Enabled && (c.Server.SSL.Cert == "" || c.Server.SSL.Key == "") {
		return fmt.Errorf("incomplete SSL configuration: cert and key must be set if SSL is enabled")
	}

	if c.Server.NormalizationFailureStatus < 400 || c.Server.NormalizationFailureStatus > 599 {
		return fmt.Errorf("normalizationFailureStatus must be a 4xx or 5xx status code, got %d", c.Server.NormalizationFailureStatus)
	}

	if c.Github.WebhookSecret == "" && !c.Github.DebugBypassSignature {
		return fmt.Errorf("GitHub webhook secret must be set unless debug-bypass-signature is enabled")
	}
	if c.Github.DebugBypassSignature {
		slog.Warn("Webhook signature verification is disabled by debug-bypass-signature")
	}

	if c.Github.ClientID != "" {
		f, err := os.OpenFile(c.Github.PrivateKey, os.O_RDONLY, 0600)
		if err != nil {
			return fmt.Errorf("can't open Github App private key '%s': %w", c.Github.PrivateKey, err)
		}
		_ = f.Close()
	}

	if c.Github.Timeout.Duration <= 0 {
		return fmt.Errorf("GitHub API timeout must be positive")
	}

	switch c.Queue.Backend {
	case QueueBackendRedis:
		if c.Queue.Redis.Addr == "" {
			return fmt.Errorf("redis address must be set when using the redis queue backend")
		}
	case QueueBackendSQLite, QueueBackendMemory:
	default:
		return fmt.Errorf("unknown queue backend '%s'", c.Queue.Backend)
	}

	if c.Queue.Key == "" {
		return fmt.Errorf("queue key must not be empty")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue max-attempts must be at least 1")
	}

	return nil
}

func loadConfigFile(path string, env bool) (Config, error) {
	c := DefaultConfig()

	p := path
	if p == "" {
		p = DEFAULT_CONFIG_PATH
	}

	// #nosec G304 -- Local users can decide on their file path themselves.
	f, err := os.ReadFile(p)
	if path == "" && os.IsNotExist(err) {
		slog.Info("No config file specified and default file does not exist, falling back to default values.", slog.String("default-path", p))
		return c, nil
	} else if err != nil {
		return Config{}, fmt.Errorf("failed to read config file '%s': %w", p, err)
	}

	if env {
		f = []byte(os.ExpandEnv(string(f)))
	}

	err = yaml.Unmarshal(f, &c)
	if err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config file '%s': %w", p, err)
	}

	return c, nil
}

// Parse a given string and set the resulting log level
func setLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug":
		logLevel.Set(slog.LevelDebug)
	case "info":
		logLevel.Set(slog.LevelInfo)
	case "warn":
		logLevel.Set(slog.LevelWarn)
	case "error":
		logLevel.Set(slog.LevelError)
	default:
		return fmt.Errorf("invalid log level '%s'", level)
	}
	return nil
}
