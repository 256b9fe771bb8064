package shared

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Environment variable keys
const (
	EnvKeyConfigPath   = "RECEIVER_CONFIG"
	EnvKeySignalingURL = "RECEIVER_SIGNALING_URL"
	EnvKeyShareBaseURL = "RECEIVER_SHARE_BASE_URL"
)

// Duration is a time.Duration written as "10s" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type SignalingConfig struct {
	URL           string   `yaml:"url"`
	OpenTimeout   Duration `yaml:"open_timeout"`
	AnswerTimeout Duration `yaml:"answer_timeout"`
	PingPeriod    Duration `yaml:"ping_period"`
}

type ShareConfig struct {
	BaseURL string `yaml:"base_url"`
}

type WebRTCConfig struct {
	ICEServers          []string `yaml:"ice_servers"`
	DisconnectedTimeout Duration `yaml:"disconnected_timeout"`
	FailedTimeout       Duration `yaml:"failed_timeout"`
	KeepAliveInterval   Duration `yaml:"keepalive_interval"`
}

type CameraConfig struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Facing string `yaml:"facing"`
}

type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Level      string `yaml:"level"`
}

type Config struct {
	Signaling SignalingConfig `yaml:"signaling"`
	Share     ShareConfig     `yaml:"share"`
	WebRTC    WebRTCConfig    `yaml:"webrtc"`
	Camera    CameraConfig    `yaml:"camera"`
	Log       LogConfig       `yaml:"log"`
}

func DefaultConfig() *Config {
	return &Config{
		Signaling: SignalingConfig{
			URL:           "http://localhost:9000",
			OpenTimeout:   Duration(10 * time.Second),
			AnswerTimeout: Duration(15 * time.Second),
			PingPeriod:    Duration(30 * time.Second),
		},
		Share: ShareConfig{
			BaseURL: "http://localhost:9000/send.html",
		},
		WebRTC: WebRTCConfig{
			ICEServers:          []string{"stun:stun.l.google.com:19302"},
			DisconnectedTimeout: Duration(30 * time.Second),
			FailedTimeout:       Duration(120 * time.Second),
			KeepAliveInterval:   Duration(2 * time.Second),
		},
		Camera: CameraConfig{
			Width:  640,
			Height: 480,
			Facing: "environment",
		},
		Log: LogConfig{
			File:       "receiver/receiver.log",
			MaxSizeMB:  10,
			MaxBackups: 2,
			MaxAgeDays: 3,
			Level:      "debug",
		},
	}
}

// LoadConfig reads path over the defaults. An empty path or a missing file
// yields the defaults. Environment overrides are applied last.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	url, err := Getenv(GetenvString, EnvKeySignalingURL, false, c.Signaling.URL)
	if err != nil {
		return err
	}
	c.Signaling.URL = url
	base, err := Getenv(GetenvString, EnvKeyShareBaseURL, false, c.Share.BaseURL)
	if err != nil {
		return err
	}
	c.Share.BaseURL = base
	return nil
}

func (c *Config) Validate() error {
	if c.Share.BaseURL == "" {
		return errors.New("share.base_url is empty")
	}
	if c.Signaling.OpenTimeout <= 0 {
		return errors.New("signaling.open_timeout must be positive")
	}
	if c.Signaling.AnswerTimeout <= 0 {
		return errors.New("signaling.answer_timeout must be positive")
	}
	return nil
}

func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
