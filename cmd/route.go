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

	"github.com/loqalabs/loqa-audio-hal/internal/hal"
	"github.com/spf13/cobra"
)

type routeFlags struct {
	output    string
	input     string
	recording bool
	mode      string
	tty       string
	dualMic   bool
	btNrecOff bool
}

// newRouteCmd explains a routing decision without touching the hardware.
func newRouteCmd() *cobra.Command {
	var f routeFlags
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Show the sound device and device ids chosen for a routing request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return explainRoute(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.output, "output", "", "output devices, comma separated (e.g. speaker,wired_headset)")
	cmd.Flags().StringVar(&f.input, "input", "", "input device of a capturing stream (e.g. builtin_mic)")
	cmd.Flags().BoolVar(&f.recording, "recording", true, "the input stream is recording")
	cmd.Flags().StringVar(&f.mode, "mode", "normal", "call mode: normal, ringtone, in_call, call_screen")
	cmd.Flags().StringVar(&f.tty, "tty", "off", "tty mode: off, full, vco, hco")
	cmd.Flags().BoolVar(&f.dualMic, "dual-mic", false, "dual-mic noise suppression enabled")
	cmd.Flags().BoolVar(&f.btNrecOff, "bt-nrec-off", false, "headset does its own echo cancellation")
	return cmd
}

func explainRoute(cmd *cobra.Command, f routeFlags) error {
	out, err := hal.ParseOutputDevices(f.output)
	if err != nil {
		return err
	}
	mode, err := hal.ParseCallMode(f.mode)
	if err != nil {
		return err
	}

	req := hal.RoutingRequest{
		OutputDevices: out,
		Mode:          mode,
		TTY:           hal.ParseTTYMode(f.tty),
		DualMic:       f.dualMic,
	}
	if f.input != "" {
		in, err := hal.ParseInputDevice(f.input)
		if err != nil {
			return err
		}
		req.Input = &hal.InputRoute{Device: in, Routing: true, RecordingEnabled: f.recording}
	}

	w := cmd.OutOrStdout()
	sel, ok := hal.SelectSoundDevice(req)
	if !ok {
		fmt.Fprintln(w, "sound device: unchanged (voice call tap follows the call route)")
		return nil
	}

	table := hal.NewDeviceTable(cfg.Hardware.ProductDevice)
	if err := table.LoadDualMicCalibration(cfg.Hardware.DualMicControlFile); err != nil {
		log.Debugw("using default dual-mic placement", "error", err)
	}

	applied := sel
	if f.btNrecOff && (sel == hal.SoundDeviceBT || sel == hal.SoundDeviceCarkit) {
		applied = hal.SoundDeviceBTECOff
	}
	route, err := table.Lookup(applied)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "sound device: %s\n", sel)
	if applied != sel {
		fmt.Fprintf(w, "applied as: %s\n", applied)
	}
	fmt.Fprintf(w, "output ids: %d %d\n", route.Output[0], route.Output[1])
	fmt.Fprintf(w, "mic ids: %d %d\n", route.Mic[0], route.Mic[1])
	return nil
}
