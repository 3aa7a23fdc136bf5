/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Driver backends.
const (
	BackendDevFile  = "devfile"
	BackendEmulator = "emulator"
)

const envPrefix = "AUDIOHAL"

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

type DriverConfig struct {
	Backend   string `mapstructure:"backend" yaml:"backend"`
	DeviceDir string `mapstructure:"device_dir" yaml:"device_dir"`
}

type HardwareConfig struct {
	DualMicControlFile string `mapstructure:"dual_mic_control_file" yaml:"dual_mic_control_file"`
	ProductDevice      string `mapstructure:"product_device" yaml:"product_device"`
}

// BluetoothEndpoint maps a headset name to its acoustic parameter ids.
type BluetoothEndpoint struct {
	Name string `mapstructure:"name" yaml:"name"`
	TX   uint32 `mapstructure:"tx" yaml:"tx"`
	RX   uint32 `mapstructure:"rx" yaml:"rx"`
}

type BluetoothConfig struct {
	Endpoints []BluetoothEndpoint `mapstructure:"endpoints" yaml:"endpoints"`
}

type NATSConfig struct {
	URL             string `mapstructure:"url" yaml:"url"`
	HALID           string `mapstructure:"hal_id" yaml:"hal_id"`
	ConnectAttempts int    `mapstructure:"connect_attempts" yaml:"connect_attempts"`
}

// Config is the effective configuration of the audio HAL.
type Config struct {
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Driver    DriverConfig    `mapstructure:"driver" yaml:"driver"`
	Hardware  HardwareConfig  `mapstructure:"hardware" yaml:"hardware"`
	Bluetooth BluetoothConfig `mapstructure:"bluetooth" yaml:"bluetooth"`
	NATS      NATSConfig      `mapstructure:"nats" yaml:"nats"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("driver.backend", BackendDevFile)
	v.SetDefault("driver.device_dir", "/dev")
	v.SetDefault("hardware.dual_mic_control_file", "/system/etc/DualMicControl.txt")
	v.SetDefault("hardware.product_device", "")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.hal_id", "es209ra")
	v.SetDefault("nats.connect_attempts", 5)
}

// Load reads configFile (YAML) when it is not empty, applies AUDIOHAL_*
// environment overrides and validates the result.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields that have no safe fallback.
func (c *Config) Validate() error {
	var errs []error

	switch c.Driver.Backend {
	case BackendDevFile, BackendEmulator:
	default:
		errs = append(errs, fmt.Errorf("driver.backend must be %q or %q, got %q", BackendDevFile, BackendEmulator, c.Driver.Backend))
	}
	if c.Driver.Backend == BackendDevFile && c.Driver.DeviceDir == "" {
		errs = append(errs, errors.New("driver.device_dir is required for the devfile backend"))
	}
	if c.NATS.HALID == "" {
		errs = append(errs, errors.New("nats.hal_id cannot be empty"))
	}
	if strings.ContainsAny(c.NATS.HALID, ".*> ") {
		errs = append(errs, fmt.Errorf("nats.hal_id %q must be a single subject token", c.NATS.HALID))
	}
	if c.NATS.ConnectAttempts < 1 {
		errs = append(errs, fmt.Errorf("nats.connect_attempts must be at least 1, got %d", c.NATS.ConnectAttempts))
	}

	seen := make(map[string]bool, len(c.Bluetooth.Endpoints))
	for i, ep := range c.Bluetooth.Endpoints {
		if ep.Name == "" {
			errs = append(errs, fmt.Errorf("bluetooth.endpoints[%d]: name cannot be empty", i))
			continue
		}
		key := strings.ToLower(ep.Name)
		if seen[key] {
			errs = append(errs, fmt.Errorf("bluetooth.endpoints[%d]: duplicate name %q", i, ep.Name))
		}
		seen[key] = true
	}

	return errors.Join(errs...)
}
