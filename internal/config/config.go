package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SerialConfig describes the link to the head.
type SerialConfig struct {
	Address       string `yaml:"address"`         // device path, or tcp://host:port for a serial bridge
	Baud          int    `yaml:"baud"`            // 9600 on factory heads
	ReadTimeoutMs int    `yaml:"read_timeout_ms"` // position reply wait
	AutoConnect   bool   `yaml:"auto_connect"`    // connect on startup
}

// MotionConfig holds controller timing and seeded axis speeds.
type MotionConfig struct {
	TickIntervalMs        int     `yaml:"tick_interval_ms"`
	PollIntervalMs        int     `yaml:"poll_interval_ms"`
	CalibrationDurationMs int     `yaml:"calibration_duration_ms"`
	PanMaxVelocity        float64 `yaml:"pan_max_velocity"`  // position units per second at full speed
	TiltMaxVelocity       float64 `yaml:"tilt_max_velocity"` // position units per second at full speed
}

// ServerConfig for the websocket control surface.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// PreviewConfig for the optional camera preview.
type PreviewConfig struct {
	RTSPURL    string   `yaml:"rtsp_url"`
	ICEServers []string `yaml:"ice_servers"`
}

// MQTTConfig for event publication. Disabled when Broker is empty.
type MQTTConfig struct {
	Broker        string `yaml:"broker"`
	Topic         string `yaml:"topic"`
	ClientID      string `yaml:"client_id"`
	SkipPositions bool   `yaml:"skip_positions"`
}

// Config aggregates all application configuration.
type Config struct {
	Serial     SerialConfig  `yaml:"serial"`
	Motion     MotionConfig  `yaml:"motion"`
	Server     ServerConfig  `yaml:"server"`
	Preview    PreviewConfig `yaml:"preview"`
	MQTT       MQTTConfig    `yaml:"mqtt"`
	DebugLevel int           `yaml:"debug_level"` // 0=off, 1=info, 2=live, 3=verbose, 4=trace
	Simulate   bool          `yaml:"simulate"`    // use the simulated head instead of hardware
}

// Default returns a configuration usable without a file.
func Default() *Config {
	cfg := &Config{
		Serial: SerialConfig{AutoConnect: true},
		Preview: PreviewConfig{
			ICEServers: []string{"stun:stun.l.google.com:19302"},
		},
		DebugLevel: 1,
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML file and returns the configuration. Missing values take
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Serial.Baud <= 0 {
		c.Serial.Baud = 9600
	}
	if c.Serial.ReadTimeoutMs <= 0 {
		c.Serial.ReadTimeoutMs = 500
	}
	if c.Motion.TickIntervalMs <= 0 {
		c.Motion.TickIntervalMs = 50
	}
	if c.Motion.PollIntervalMs <= 0 {
		c.Motion.PollIntervalMs = 1000
	}
	if c.Motion.CalibrationDurationMs <= 0 {
		c.Motion.CalibrationDurationMs = 5000
	}
	if c.Motion.PanMaxVelocity <= 0 {
		c.Motion.PanMaxVelocity = 51.5
	}
	if c.Motion.TiltMaxVelocity <= 0 {
		c.Motion.TiltMaxVelocity = 94.0
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "pantilt/events"
	}
}

// Validate checks ranges that have no sensible default.
func (c *Config) Validate() error {
	if c.DebugLevel < 0 || c.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.DebugLevel)
	}
	if c.Motion.TickIntervalMs > c.Motion.PollIntervalMs {
		return fmt.Errorf("motion.tick_interval_ms (%d) must not exceed poll_interval_ms (%d)",
			c.Motion.TickIntervalMs, c.Motion.PollIntervalMs)
	}
	if c.Serial.ReadTimeoutMs >= c.Motion.PollIntervalMs {
		return fmt.Errorf("serial.read_timeout_ms (%d) must be below motion.poll_interval_ms (%d)",
			c.Serial.ReadTimeoutMs, c.Motion.PollIntervalMs)
	}
	if c.Serial.AutoConnect && c.Serial.Address == "" && !c.Simulate {
		return fmt.Errorf("serial.address is required when auto_connect is set")
	}
	return nil
}

// ReadTimeout returns how long to wait for a position reply.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Serial.ReadTimeoutMs) * time.Millisecond
}

// TickInterval returns the controller tick period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Motion.TickIntervalMs) * time.Millisecond
}

// PollInterval returns the position poll period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Motion.PollIntervalMs) * time.Millisecond
}

// CalibrationDuration returns the length of one calibration run.
func (c *Config) CalibrationDuration() time.Duration {
	return time.Duration(c.Motion.CalibrationDurationMs) * time.Millisecond
}
