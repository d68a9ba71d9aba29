package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Sensor   SensorConfig   `yaml:"sensor"`
	Matter   MatterConfig   `yaml:"matter"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Log      LogConfig      `yaml:"log"`
}

// SensorConfig contains the I2C bus and sampling settings
type SensorConfig struct {
	Bus            string   `yaml:"bus"`             // i2c character device (default: /dev/i2c-1)
	Address        uint16   `yaml:"address"`         // 7-bit address (default: 0x10)
	RecordInterval Duration `yaml:"record_interval"` // Delay between measurements (default: 30s)
	MaxJobDuration Duration `yaml:"max_job_duration"`
	AutoStart      bool     `yaml:"auto_start"` // Start a sampling job at boot
}

// MatterConfig describes the exposed light sensor endpoint
type MatterConfig struct {
	Endpoint         uint16 `yaml:"endpoint"`
	MinMeasuredValue uint16 `yaml:"min_measured_value"`
	MaxMeasuredValue uint16 `yaml:"max_measured_value"`
}

// ServerConfig contains HTTP settings
type ServerConfig struct {
	Port     int    `yaml:"port"`
	SSL      bool   `yaml:"ssl"`
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig contains broker settings; an empty broker disables the bridge
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// GetRecordInterval returns the sampling interval with default
func (c *SensorConfig) GetRecordInterval() time.Duration {
	if c.RecordInterval <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RecordInterval)
}

// GetMaxJobDuration returns the job timeout with default
func (c *SensorConfig) GetMaxJobDuration() time.Duration {
	if c.MaxJobDuration <= 0 {
		return 8 * time.Hour
	}
	return time.Duration(c.MaxJobDuration)
}

// GetPort returns the listen port with default
func (c *ServerConfig) GetPort() int {
	if c.Port > 0 {
		return c.Port
	}
	if c.SSL {
		return 443
	}
	return 80
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Sensor: SensorConfig{
			Bus:     "/dev/i2c-1",
			Address: 0x10,
		},
		Matter: MatterConfig{
			Endpoint:         1,
			MinMeasuredValue: 1,     // 1 lux
			MaxMeasuredValue: 48165, // ~65500 lux
		},
		Server: ServerConfig{
			CertPath: "cert.pem",
			KeyPath:  "key.pem",
		},
		Database: DatabaseConfig{Path: "luxmeter.db"},
		MQTT: MQTTConfig{
			TopicPrefix: "luxmeter",
			ClientID:    "lux-meter",
		},
		Log: LogConfig{Level: "info", File: "luxmeter.log"},
	}
}

// Load reads a YAML file over the defaults, then applies environment overrides.
// An empty path only applies the overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if os.Getenv("SSL") == "true" {
		c.Server.SSL = true
	}
	if v := os.Getenv("I2C_BUS"); v != "" {
		c.Sensor.Bus = v
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
}

// Validate checks values that would otherwise fail at runtime
func (c *Config) Validate() error {
	if c.Sensor.Address > 0x7F {
		return fmt.Errorf("sensor.address 0x%X is not a 7-bit address", c.Sensor.Address)
	}
	if c.Matter.MinMeasuredValue > c.Matter.MaxMeasuredValue {
		return fmt.Errorf("matter.min_measured_value %d exceeds max_measured_value %d",
			c.Matter.MinMeasuredValue, c.Matter.MaxMeasuredValue)
	}
	if c.Matter.MaxMeasuredValue == 0xFFFF {
		return fmt.Errorf("matter.max_measured_value 0xFFFF is reserved for null")
	}
	return nil
}
