package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// DefaultSocketPath is the well-known rendezvous point between capture
// clients and the broker. Both sides must agree on it.
const DefaultSocketPath = "/tmp/framelink-capture.sock"

type Config struct {
	SocketPath        string `mapstructure:"socket_path"`
	PollIntervalMs    int    `mapstructure:"poll_interval_ms"`
	LivenessInterval  int    `mapstructure:"liveness_interval"`
	MaxClients        int    `mapstructure:"max_clients"`
	StatusListenAddr  string `mapstructure:"status_listen_addr"`
	LogLevel          string `mapstructure:"log_level"`
	LogFormat         string `mapstructure:"log_format"`
	LogFile           string `mapstructure:"log_file"`
	LogMaxSizeMB      int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups     int    `mapstructure:"log_max_backups"`
	ShutdownGraceSecs int    `mapstructure:"shutdown_grace_seconds"`
}

func Default() *Config {
	return &Config{
		SocketPath:        DefaultSocketPath,
		PollIntervalMs:    1000,
		LivenessInterval:  60,
		MaxClients:        16,
		LogLevel:          "info",
		LogFormat:         "text",
		ShutdownGraceSecs: 5,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("framelink")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("FRAMELINK")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "framelink")
	}
	return "/etc/framelink"
}
