package config

import (
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/awantoch/flowhook/constants"
	"github.com/spf13/viper"
)

type Config struct {
	Storage     StorageConfig     `json:"storage" mapstructure:"storage"`
	Credentials CredentialsConfig `json:"credentials" mapstructure:"credentials"`
	Blob        BlobConfig        `json:"blob" mapstructure:"blob"`
	Event       EventConfig       `json:"event" mapstructure:"event"`
	Secrets     SecretsConfig     `json:"secrets" mapstructure:"secrets"`
	HTTP        HTTPConfig        `json:"http" mapstructure:"http"`
	Runner      RunnerConfig      `json:"runner" mapstructure:"runner"`
	Tracing     TracingConfig     `json:"tracing" mapstructure:"tracing"`
	Log         LogConfig         `json:"log" mapstructure:"log"`
	FlowsDir    string            `json:"flows_dir" mapstructure:"flows_dir"`
}

type StorageConfig struct {
	Driver string `json:"driver" mapstructure:"driver"`
	DSN    string `json:"dsn" mapstructure:"dsn"`
}

type CredentialsConfig struct {
	Driver    string        `json:"driver" mapstructure:"driver"`
	RedisAddr string        `json:"redis_addr" mapstructure:"redis_addr"`
	Namespace string        `json:"namespace" mapstructure:"namespace"`
	CacheTTL  time.Duration `json:"cache_ttl" mapstructure:"cache_ttl"`
}

type BlobConfig struct {
	Driver    string `json:"driver" mapstructure:"driver"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	Region    string `json:"region" mapstructure:"region"`
	Directory string `json:"directory" mapstructure:"directory"`
}

type EventConfig struct {
	Driver    string `json:"driver" mapstructure:"driver"`
	URL       string `json:"url" mapstructure:"url"`
	ClusterID string `json:"cluster_id" mapstructure:"cluster_id"`
	ClientID  string `json:"client_id" mapstructure:"client_id"`
}

type SecretsConfig struct {
	Driver string `json:"driver" mapstructure:"driver"`
	Region string `json:"region,omitempty" mapstructure:"region"`
	Prefix string `json:"prefix,omitempty" mapstructure:"prefix"`
}

type HTTPConfig struct {
	Host      string `json:"host" mapstructure:"host"`
	Port      int    `json:"port" mapstructure:"port"`
	PublicURL string `json:"public_url" mapstructure:"public_url"`
}

// RunnerConfig bounds step execution.
type RunnerConfig struct {
	StepTimeout    time.Duration `json:"step_timeout" mapstructure:"step_timeout"`
	MaxAttempts    int           `json:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `json:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff" mapstructure:"max_backoff"`
	HTTPTimeout    time.Duration `json:"http_timeout" mapstructure:"http_timeout"`
	// DeliveryWorkers bounds concurrent webhook deliveries.
	DeliveryWorkers int `json:"delivery_workers" mapstructure:"delivery_workers"`
}

type TracingConfig struct {
	Exporter    string `json:"exporter" mapstructure:"exporter"`
	Endpoint    string `json:"endpoint" mapstructure:"endpoint"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

type LogConfig struct {
	Level string `json:"level" mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", constants.StorageDriverSQLite)
	v.SetDefault("storage.dsn", constants.DefaultSQLiteDSN)
	v.SetDefault("credentials.driver", constants.CredentialsDriverMemory)
	v.SetDefault("credentials.redis_addr", "localhost:6379")
	v.SetDefault("credentials.namespace", "flowhook")
	v.SetDefault("credentials.cache_ttl", constants.DefaultCredentialTTL)
	v.SetDefault("blob.driver", constants.BlobDriverFilesystem)
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.region", "")
	v.SetDefault("blob.directory", constants.DefaultBlobDir)
	v.SetDefault("event.driver", constants.EventDriverMemory)
	v.SetDefault("event.url", "")
	v.SetDefault("event.cluster_id", "")
	v.SetDefault("event.client_id", "")
	v.SetDefault("secrets.driver", constants.SecretsDriverEnv)
	v.SetDefault("secrets.region", "")
	v.SetDefault("secrets.prefix", "")
	v.SetDefault("http.host", "")
	v.SetDefault("http.port", constants.DefaultHTTPPort)
	v.SetDefault("http.public_url", "")
	v.SetDefault("runner.step_timeout", constants.DefaultStepTimeout)
	v.SetDefault("runner.max_attempts", constants.DefaultMaxAttempts)
	v.SetDefault("runner.initial_backoff", constants.DefaultInitialBackoff)
	v.SetDefault("runner.max_backoff", constants.DefaultMaxBackoff)
	v.SetDefault("runner.http_timeout", constants.DefaultHTTPTimeout)
	v.SetDefault("runner.delivery_workers", constants.DefaultDeliveryWorkers)
	v.SetDefault("tracing.exporter", "")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "flowhook")
	v.SetDefault("log.level", "info")
	v.SetDefault("flows_dir", constants.DefaultFlowsDir)
}

// LoadConfig reads path (JSON or YAML) and applies FLOWHOOK_* environment
// overrides, e.g. FLOWHOOK_STORAGE_DRIVER. A missing file yields defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.HTTP.Port))
}
