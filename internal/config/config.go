package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	UploadDir  string        `mapstructure:"upload_dir"`
	DBPath     string        `mapstructure:"db_path"`
	SeedFile   string        `mapstructure:"seed_file"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	// EventRate / EventBurst cap inbound websocket events per connection.
	EventRate  float64 `mapstructure:"event_rate"`
	EventBurst int     `mapstructure:"event_burst"`

	// MaxUploadMB bounds a single avatar or attachment upload.
	MaxUploadMB int64 `mapstructure:"max_upload_mb"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("upload_dir", "./uploads")
	v.SetDefault("db_path", "./data/aurad.db")
	v.SetDefault("seed_file", "./config/channels.yaml")
	v.SetDefault("ping_period", "54s")
	v.SetDefault("event_rate", 20.0)
	v.SetDefault("event_burst", 40)
	v.SetDefault("max_upload_mb", 16)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | DB: %s\n", cfg.Mode, cfg.Port, cfg.DBPath)
	return &cfg, nil
}
