package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Logger        LoggerConfig        `mapstructure:"logger"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Dispatcher    DispatcherConfig    `mapstructure:"dispatcher"`
	Processor     ProcessorConfig     `mapstructure:"processor"`
	WebSocket     WebSocketConfig     `mapstructure:"websocket"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Features      FeaturesConfig      `mapstructure:"features"`
	Auth          AuthConfig          `mapstructure:"auth"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"gt=0,lt=65536"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level" validate:"oneof=debug info warn error"`
	Encoding         string   `mapstructure:"encoding" validate:"oneof=console json"`
	OutputPaths      []string `mapstructure:"output_paths" validate:"min=1"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths" validate:"min=1"`
}

type QueueConfig struct {
	Capacity int `mapstructure:"capacity" validate:"gt=0"`
	// SubmitTimeout bounds how long a submission waits while the queue is full.
	SubmitTimeout time.Duration `mapstructure:"submit_timeout" validate:"gt=0"`
}

type DispatcherConfig struct {
	// MaxConcurrent caps simultaneous task executions; 0 means unbounded.
	MaxConcurrent int           `mapstructure:"max_concurrent" validate:"gte=0"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff" validate:"gt=0"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout" validate:"gte=0"`
}

type ProcessorConfig struct {
	Steps           int           `mapstructure:"steps" validate:"gt=0,lte=100"`
	DefaultDuration time.Duration `mapstructure:"default_duration" validate:"gte=0"`
	// TaskTimeout fails a run that takes longer; 0 disables it.
	TaskTimeout time.Duration `mapstructure:"task_timeout" validate:"gte=0"`
}

type WebSocketConfig struct {
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval" validate:"gte=0"`
	MaxConnections    int           `mapstructure:"max_connections" validate:"gte=0"`
	BufferSize        int           `mapstructure:"buffer_size" validate:"gt=0"`
	SendBuffer        int           `mapstructure:"send_buffer" validate:"gt=0"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
}

const (
	UnownedPolicyBroadcast = "broadcast"
	UnownedPolicyDrop      = "drop"
)

type NotificationsConfig struct {
	// UnownedPolicy decides where progress of a task without an owner goes.
	UnownedPolicy string `mapstructure:"unowned_policy" validate:"oneof=broadcast drop"`
}

type FeaturesConfig struct {
	RequestIDHeader      string `mapstructure:"request_id_header"`
	EnableRequestLogging bool   `mapstructure:"enable_request_logging"`
}

type AuthConfig struct {
	AdminAPIKey    string   `mapstructure:"admin_api_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DefaultPaths are tried in order when no explicit config path is given.
var DefaultPaths = []string{
	"config/config.yaml",
	"../config/config.yaml",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.output_paths", []string{"stdout"})
	v.SetDefault("logger.error_output_paths", []string{"stderr"})

	v.SetDefault("queue.capacity", 1000)
	v.SetDefault("queue.submit_timeout", 5*time.Second)

	v.SetDefault("dispatcher.max_concurrent", 0)
	v.SetDefault("dispatcher.retry_backoff", time.Second)
	v.SetDefault("dispatcher.drain_timeout", 5*time.Second)

	v.SetDefault("processor.steps", 10)
	v.SetDefault("processor.default_duration", 5*time.Second)
	v.SetDefault("processor.task_timeout", 0)

	v.SetDefault("websocket.keep_alive_interval", 30*time.Second)
	v.SetDefault("websocket.max_connections", 1000)
	v.SetDefault("websocket.buffer_size", 4096)
	v.SetDefault("websocket.send_buffer", 64)
	v.SetDefault("websocket.write_timeout", 10*time.Second)

	v.SetDefault("notifications.unowned_policy", UnownedPolicyBroadcast)

	v.SetDefault("features.request_id_header", "X-Request-Id")
	v.SetDefault("features.enable_request_logging", true)

	v.SetDefault("auth.admin_api_key", "")
	v.SetDefault("auth.allowed_origins", []string{"http://localhost:5173", "http://localhost:4173"})
}

// Load reads configuration from path (or the first existing default path),
// then applies TASKSTREAM_* environment overrides. A missing file is not an
// error; defaults and environment are enough to run.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TASKSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = firstExisting(DefaultPaths)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config validation failed: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
