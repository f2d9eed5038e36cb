package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// TransportConfig selects the pub/sub broker a process connects to.
type TransportConfig struct {
	URL string `mapstructure:"url"`
}

// SFTPConfig carries credentials for sftp:// bundle paths.
type SFTPConfig struct {
	Password       string `mapstructure:"password"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
}

// CoordinatorConfig captures runtime settings for the coordinator.
type CoordinatorConfig struct {
	Transport         TransportConfig `mapstructure:"transport"`
	DiscoveryPattern  string          `mapstructure:"discovery_pattern"`
	DistributionTopic string          `mapstructure:"distribution_topic"`
	BundlePath        string          `mapstructure:"bundle_path"`
	SFTP              SFTPConfig      `mapstructure:"sftp"`
	AdminAddr         string          `mapstructure:"admin_addr"`
	AdminToken        string          `mapstructure:"admin_token"`
	DatabaseURL       string          `mapstructure:"database_url"`
	LogLevel          string          `mapstructure:"log_level"`
	Tracing           string          `mapstructure:"tracing"`
}

// RuntimeConfig describes how the worker reaches its container runtime.
type RuntimeConfig struct {
	Binary  string   `mapstructure:"binary"`
	RunArgs []string `mapstructure:"run_args"`
}

// WorkerConfig captures runtime settings for a worker node.
type WorkerConfig struct {
	Transport         TransportConfig `mapstructure:"transport"`
	NodeID            string          `mapstructure:"node_id"`
	Channel           string          `mapstructure:"channel"`
	DistributionTopic string          `mapstructure:"distribution_topic"`
	BundlePath        string          `mapstructure:"bundle_path"`
	ExtractDir        string          `mapstructure:"extract_dir"`
	ImageName         string          `mapstructure:"image_name"`
	RunImage          string          `mapstructure:"run_image"`
	Runtime           RuntimeConfig   `mapstructure:"runtime"`
	QueueSize         int             `mapstructure:"queue_size"`
	AdminAddr         string          `mapstructure:"admin_addr"`
	AdminToken        string          `mapstructure:"admin_token"`
	LogLevel          string          `mapstructure:"log_level"`
	Tracing           string          `mapstructure:"tracing"`
}

// RelayConfig captures runtime settings for the topic relay.
type RelayConfig struct {
	Transport        TransportConfig `mapstructure:"transport"`
	ProcessID        string          `mapstructure:"process_id"`
	ControlTopicBase string          `mapstructure:"control_topic_base"`
	Topics           string          `mapstructure:"topics"`
	LogLevel         string          `mapstructure:"log_level"`
}

const (
	defaultRedisURL          = "redis://localhost:6379/0"
	defaultDiscoveryPattern  = "nodes/new/**"
	defaultDistributionTopic = "distribute/docker_image_zip"
	defaultBundlePath        = "image.zip"
	defaultExtractDir        = "extracted_folder"
)

// LoadCoordinator loads coordinator configuration from defaults, files, and env vars.
func LoadCoordinator(args []string) (CoordinatorConfig, error) {
	v, err := newViper("coordinator", "COORDINATOR", args)
	if err != nil {
		return CoordinatorConfig{}, err
	}

	v.SetDefault("transport.url", defaultRedisURL)
	v.SetDefault("discovery_pattern", defaultDiscoveryPattern)
	v.SetDefault("distribution_topic", defaultDistributionTopic)
	v.SetDefault("bundle_path", defaultBundlePath)
	v.SetDefault("sftp.password", "")
	v.SetDefault("sftp.private_key_path", "")
	v.SetDefault("admin_addr", ":8090")
	v.SetDefault("admin_token", "")
	v.SetDefault("database_url", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("tracing", "none")

	if err := readConfig(v); err != nil {
		return CoordinatorConfig{}, err
	}

	var cfg CoordinatorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return CoordinatorConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if strings.TrimSpace(cfg.BundlePath) == "" {
		return CoordinatorConfig{}, fmt.Errorf("bundle_path must not be empty")
	}
	return cfg, nil
}

// LoadWorker loads worker configuration from defaults, files, and env vars.
func LoadWorker(args []string) (WorkerConfig, error) {
	v, err := newViper("worker", "WORKER", args)
	if err != nil {
		return WorkerConfig{}, err
	}

	v.SetDefault("transport.url", defaultRedisURL)
	v.SetDefault("node_id", "")
	v.SetDefault("channel", "video")
	v.SetDefault("distribution_topic", defaultDistributionTopic)
	v.SetDefault("bundle_path", defaultBundlePath)
	v.SetDefault("extract_dir", defaultExtractDir)
	v.SetDefault("image_name", "")
	v.SetDefault("run_image", "")
	v.SetDefault("runtime.binary", "docker")
	v.SetDefault("runtime.run_args", []string{})
	v.SetDefault("queue_size", 0)
	v.SetDefault("admin_addr", "")
	v.SetDefault("admin_token", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("tracing", "none")

	if err := readConfig(v); err != nil {
		return WorkerConfig{}, err
	}

	var cfg WorkerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return WorkerConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if strings.Contains(cfg.Channel, "/") || strings.TrimSpace(cfg.Channel) == "" {
		return WorkerConfig{}, fmt.Errorf("channel %q must be a single non-empty topic segment", cfg.Channel)
	}
	if cfg.QueueSize < 0 {
		return WorkerConfig{}, fmt.Errorf("queue_size must not be negative")
	}
	return cfg, nil
}

// LoadRelay loads relay configuration from defaults, files, and env vars.
func LoadRelay(args []string) (RelayConfig, error) {
	v, err := newViper("relay", "RELAY", args)
	if err != nil {
		return RelayConfig{}, err
	}

	v.SetDefault("transport.url", defaultRedisURL)
	v.SetDefault("process_id", "")
	v.SetDefault("control_topic_base", "control/")
	v.SetDefault("topics", "")
	v.SetDefault("log_level", "info")

	if err := readConfig(v); err != nil {
		return RelayConfig{}, err
	}

	var cfg RelayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return RelayConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if strings.TrimSpace(cfg.ProcessID) == "" {
		return RelayConfig{}, fmt.Errorf("process_id must be set")
	}
	return cfg, nil
}

func newViper(name, envPrefix string, args []string) (*viper.Viper, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configFile := fs.String("config", "", "path to a config file")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		v.SetConfigName(name)
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("load config: %w", err)
		}
	}
	return nil
}
