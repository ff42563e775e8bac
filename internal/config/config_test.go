// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
device:
  name: bench
  slave_id: 7
  serial:
    driver: GRIDX
    device: /dev/ttyS3
    baud_rate: 19200
    parity: e
    timeout: 250ms
    rs485: true
poll:
  start: 0
  quantity: 125
snapshot:
  type: MMAP
  path: /tmp/snap.bin
mqtt:
  broker: tcp://localhost:1883
  qos: 1
metrics:
  pushgateway: http://localhost:9091
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Device.Name != "bench" || cfg.Device.SlaveID != 7 {
		t.Errorf("Device = %+v", cfg.Device)
	}
	s := cfg.Device.Serial
	if s.Driver != DriverGridx || s.Device != "/dev/ttyS3" || s.BaudRate != 19200 || s.Parity != "E" {
		t.Errorf("Serial = %+v", s)
	}
	if s.Timeout != 250*time.Millisecond {
		t.Errorf("Serial.Timeout = %v", s.Timeout)
	}
	if !s.RS485 {
		t.Error("Serial.RS485 = false")
	}
	// untouched keys keep their defaults
	if s.DataBits != 8 || s.StopBits != 1 || s.Settle != 80*time.Millisecond || s.Turnaround != 10*time.Millisecond {
		t.Errorf("serial defaults not applied: %+v", s)
	}
	if cfg.Poll.Start != 0 || cfg.Poll.Quantity != 125 {
		t.Errorf("Poll = %+v", cfg.Poll)
	}
	if cfg.Snapshot.Type != "mmap" || cfg.Snapshot.Path != "/tmp/snap.bin" {
		t.Errorf("Snapshot = %+v", cfg.Snapshot)
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" || cfg.MQTT.QoS != 1 || cfg.MQTT.Topic != "modbus/registers" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if cfg.Metrics.Pushgateway != "http://localhost:9091" || cfg.Metrics.Job != "modbus_master" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Device.SlaveID != 2 {
		t.Errorf("SlaveID = %d, want 2", cfg.Device.SlaveID)
	}
	s := cfg.Device.Serial
	if s.Driver != DriverBugst || s.BaudRate != 9600 || s.Parity != "N" || s.Timeout != 1500*time.Millisecond {
		t.Errorf("Serial = %+v", s)
	}
	if cfg.Poll.Start != 100 || cfg.Poll.Quantity != 11 {
		t.Errorf("Poll = %+v", cfg.Poll)
	}
	if cfg.Snapshot.Type != "memory" {
		t.Errorf("Snapshot.Type = %q", cfg.Snapshot.Type)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("MODBUSMASTER_DEVICE_SLAVE_ID", "9")
	t.Setenv("MODBUSMASTER_MQTT_BROKER", "tcp://broker:1883")

	cfg, err := LoadConfig(writeConfig(t, "device:\n  slave_id: 3\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Device.SlaveID != 9 {
		t.Errorf("SlaveID = %d, want 9 from environment", cfg.Device.SlaveID)
	}
	if cfg.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("MQTT.Broker = %q", cfg.MQTT.Broker)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"SlaveZero", "device:\n  slave_id: 0\n", "slave_id"},
		{"SlaveBroadcastRange", "device:\n  slave_id: 248\n", "slave_id"},
		{"QuantityZero", "poll:\n  quantity: 0\n", "poll.quantity"},
		{"QuantityTooLarge", "poll:\n  quantity: 126\n", "poll.quantity"},
		{"RegisterSpace", "poll:\n  start: 65530\n  quantity: 10\n", "register space"},
		{"Parity", "device:\n  serial:\n    parity: X\n", "parity"},
		{"Driver", "device:\n  serial:\n    driver: tarm\n", "driver"},
		{"StopBits", "device:\n  serial:\n    stop_bits: 3\n", "stop_bits"},
		{"IdleWithinExchange", "device:\n  serial:\n    idle_timeout: 1s\n", "idle_timeout"},
		{"SnapshotType", "snapshot:\n  type: redis\n", "snapshot.type"},
		{"SnapshotPath", "snapshot:\n  type: file\n", "snapshot.path"},
		{"QoS", "mqtt:\n  qos: 3\n", "mqtt.qos"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			if err == nil {
				t.Fatalf("LoadConfig() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadConfig() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
