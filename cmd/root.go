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

package main

import (
	"fmt"
	"os"

	"github.com/loqalabs/loqa-audio-hal/internal/config"
	"github.com/loqalabs/loqa-audio-hal/internal/driver"
	"github.com/loqalabs/loqa-audio-hal/internal/hal"
	"github.com/loqalabs/loqa-audio-hal/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
	log      = zap.NewNop().Sugar()
)

// newDriver builds the configured driver backend. The returned func releases
// it. Tests swap it for a mock.
var newDriver = func(c *config.Config) (driver.Driver, func(), error) {
	if c.Driver.Backend == config.BackendEmulator {
		emu := driver.NewEmulatorDriver(log.Named("emulator"))
		if err := emu.Initialize(); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize emulator: %w", err)
		}
		return emu, func() {
			if err := emu.Terminate(); err != nil {
				log.Warnw("failed to terminate emulator", "error", err)
			}
		}, nil
	}
	return driver.NewDeviceFileDriver(c.Driver.DeviceDir), func() {}, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "audiohal",
		Short: "Audio HAL for QSD8x50 es209ra handsets",
		Long: `audiohal drives the QSD8x50 kernel audio devices: it routes audio between
earpiece, speaker, headsets and Bluetooth, plays and records PCM and encoded
speech, and exposes the HAL on NATS.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			log = logger.InitLogger(cfg.Log.Level)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(),
		newRouteCmd(),
		newDumpCmd(),
		newPlayCmd(),
		newRecordCmd(),
		newConfigCmd(),
	)
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// hardwareOptions maps the configuration onto hal options.
func hardwareOptions(c *config.Config, extra ...hal.Option) []hal.Option {
	profiles := make([]hal.BluetoothProfile, 0, len(c.Bluetooth.Endpoints))
	for _, ep := range c.Bluetooth.Endpoints {
		profiles = append(profiles, hal.BluetoothProfile{Name: ep.Name, TX: ep.TX, RX: ep.RX})
	}

	opts := []hal.Option{
		hal.WithLogger(log.Named("hal")),
		hal.WithProductDevice(c.Hardware.ProductDevice),
		hal.WithDualMicControlFile(c.Hardware.DualMicControlFile),
		hal.WithBluetoothProfiles(profiles),
	}
	return append(opts, extra...)
}

// openHardware builds the driver and the HAL on top of it. The returned func
// closes both.
func openHardware(extra ...hal.Option) (*hal.AudioHardware, func(), error) {
	drv, release, err := newDriver(cfg)
	if err != nil {
		return nil, nil, err
	}
	hw, err := hal.New(drv, hardwareOptions(cfg, extra...)...)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to initialize audio hardware: %w", err)
	}
	return hw, func() {
		if err := hw.Close(); err != nil {
			log.Warnw("failed to close audio hardware", "error", err)
		}
		release()
	}, nil
}
