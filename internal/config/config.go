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
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	// Peer settings.
	StoreURL     string        `mapstructure:"store_url"`
	StunServers  []string      `mapstructure:"stun_servers"`
	RingAckDelay time.Duration `mapstructure:"ring_ack_delay"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`

	Media MediaConfig `mapstructure:"media"`
}

type MediaConfig struct {
	EchoCancellation bool `mapstructure:"echo_cancellation"`
	NoiseSuppression bool `mapstructure:"noise_suppression"`
	AutoGainControl  bool `mapstructure:"auto_gain_control"`
	VideoWidth       int  `mapstructure:"video_width"`
	VideoHeight      int  `mapstructure:"video_height"`
	VideoFrameRate   int  `mapstructure:"video_frame_rate"`
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
	v.SetDefault("read_limit", 1048576)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("store_url", "ws://localhost:8080/api/ws/store")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ring_ack_delay", "2s")
	v.SetDefault("stale_after", "60s")
	v.SetDefault("media.echo_cancellation", true)
	v.SetDefault("media.noise_suppression", true)
	v.SetDefault("media.auto_gain_control", true)
	v.SetDefault("media.video_width", 1280)
	v.SetDefault("media.video_height", 720)
	v.SetDefault("media.video_frame_rate", 30)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
