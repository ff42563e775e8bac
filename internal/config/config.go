// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config defines the global configuration structure
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Device   DeviceConfig   `mapstructure:"device"`
	Poll     PollConfig     `mapstructure:"poll"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// DeviceConfig defines the slave the master talks to
type DeviceConfig struct {
	Name    string       `mapstructure:"name"` // Optional name for logging
	SlaveID int          `mapstructure:"slave_id"`
	Serial  SerialConfig `mapstructure:"serial"`
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Driver   string        `mapstructure:"driver"` // "bugst" or "gridx"
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"` // Response budget per exchange

	ReadSlice   time.Duration `mapstructure:"read_slice"`   // Per-read port timeout
	Settle      time.Duration `mapstructure:"settle"`       // Wait after opening the port
	Turnaround  time.Duration `mapstructure:"turnaround"`   // Wait between request and response
	IdleTimeout time.Duration `mapstructure:"idle_timeout"` // Close the port after this much inactivity

	// RS485 specific, gridx driver only
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// PollConfig defines the register block read by a poll
type PollConfig struct {
	Start    int `mapstructure:"start"`
	Quantity int `mapstructure:"quantity"`
}

// SnapshotConfig defines where the last good register block is kept
type SnapshotConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // File path for "file/mmap" type
}

// MQTTConfig defines the optional snapshot publisher
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"` // e.g. "tcp://localhost:1883", empty disables
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
	QoS      byte   `mapstructure:"qos"`
	Retained bool   `mapstructure:"retained"`
}

// MetricsConfig defines where run metrics are pushed
type MetricsConfig struct {
	Pushgateway string `mapstructure:"pushgateway"` // e.g. "http://localhost:9091", empty disables
	Job         string `mapstructure:"job"`
}

const (
	DriverBugst = "bugst"
	DriverGridx = "gridx"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("device.name", "roaster")
	v.SetDefault("device.slave_id", 2)
	v.SetDefault("device.serial.driver", DriverBugst)
	v.SetDefault("device.serial.device", "/dev/ttyUSB0")
	v.SetDefault("device.serial.baud_rate", 9600)
	v.SetDefault("device.serial.data_bits", 8)
	v.SetDefault("device.serial.parity", "N")
	v.SetDefault("device.serial.stop_bits", 1)
	v.SetDefault("device.serial.timeout", 1500*time.Millisecond)
	v.SetDefault("device.serial.read_slice", 20*time.Millisecond)
	v.SetDefault("device.serial.settle", 80*time.Millisecond)
	v.SetDefault("device.serial.turnaround", 10*time.Millisecond)
	v.SetDefault("device.serial.idle_timeout", 60*time.Second)

	v.SetDefault("poll.start", 100)
	v.SetDefault("poll.quantity", 11)

	v.SetDefault("snapshot.type", "memory")
	v.SetDefault("snapshot.path", "")

	// Keys need a default for AutomaticEnv to reach them through Unmarshal.
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "modbus-master")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "modbus/registers")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retained", false)

	v.SetDefault("metrics.pushgateway", "")
	v.SetDefault("metrics.job", "modbus_master")
}

// LoadConfig loads configuration from file and MODBUSMASTER_* environment
// variables. A missing config file is not an error unless configFile names
// it explicitly.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbusmaster/")
		v.AddConfigPath("$HOME/.modbusmaster")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("modbusmaster")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fixupSerial(&config.Device.Serial)
	config.Snapshot.Type = strings.ToLower(config.Snapshot.Type)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	s.Driver = strings.ToLower(s.Driver)
	if s.Driver == "" {
		s.Driver = DriverBugst
	}
	if s.Timeout == 0 {
		s.Timeout = 1500 * time.Millisecond
	}
	if s.ReadSlice == 0 {
		s.ReadSlice = 20 * time.Millisecond
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Device.SlaveID < 1 || c.Device.SlaveID > 247 {
		return fmt.Errorf("device.slave_id %d out of range [1, 247]", c.Device.SlaveID)
	}
	if err := c.Device.Serial.Validate(); err != nil {
		return err
	}
	if c.Poll.Quantity < 1 || c.Poll.Quantity > 125 {
		return fmt.Errorf("poll.quantity %d out of range [1, 125]", c.Poll.Quantity)
	}
	if c.Poll.Start < 0 || c.Poll.Start+c.Poll.Quantity > 0x10000 {
		return fmt.Errorf("poll.start %d with quantity %d exceeds the register space", c.Poll.Start, c.Poll.Quantity)
	}
	switch c.Snapshot.Type {
	case "memory":
	case "file", "mmap":
		if c.Snapshot.Path == "" {
			return fmt.Errorf("snapshot.path is required for type %q", c.Snapshot.Type)
		}
	default:
		return fmt.Errorf("unknown snapshot.type %q", c.Snapshot.Type)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos %d out of range [0, 2]", c.MQTT.QoS)
	}
	return nil
}

// Validate checks the serial line settings.
func (s *SerialConfig) Validate() error {
	switch s.Driver {
	case DriverBugst, DriverGridx:
	default:
		return fmt.Errorf("unknown serial driver %q", s.Driver)
	}
	if s.Device == "" {
		return fmt.Errorf("serial device is required")
	}
	if s.BaudRate <= 0 {
		return fmt.Errorf("serial baud_rate must be positive, got %d", s.BaudRate)
	}
	switch s.Parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("unknown serial parity %q", s.Parity)
	}
	if s.DataBits < 5 || s.DataBits > 8 {
		return fmt.Errorf("serial data_bits %d out of range [5, 8]", s.DataBits)
	}
	if s.StopBits != 1 && s.StopBits != 2 {
		return fmt.Errorf("serial stop_bits must be 1 or 2, got %d", s.StopBits)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("serial timeout must be positive, got %v", s.Timeout)
	}
	if s.IdleTimeout > 0 && s.IdleTimeout <= s.Timeout+s.Turnaround {
		return fmt.Errorf("serial idle_timeout %v must exceed timeout plus turnaround (%v)", s.IdleTimeout, s.Timeout+s.Turnaround)
	}
	return nil
}
