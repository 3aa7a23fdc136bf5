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
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/loqalabs/loqa-audio-hal/internal/hal"
	"github.com/spf13/cobra"
)

func newPlayCmd() *cobra.Command {
	var devices string
	cmd := &cobra.Command{
		Use:   "play <file|->",
		Short: "Play raw 16 bit stereo 44100 Hz PCM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mask, err := hal.ParseOutputDevices(devices)
			if err != nil {
				return err
			}

			src := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", args[0], err)
				}
				defer f.Close()
				src = f
			}

			hw, closeHardware, err := openHardware()
			if err != nil {
				return err
			}
			defer closeHardware()

			n, err := play(hw, mask, src)
			log.Infow("playback finished", "bytes", n)
			return err
		},
	}
	cmd.Flags().StringVar(&devices, "devices", "speaker", "output devices, comma separated")
	return cmd
}

// play streams src to a fresh output stream routed to devices.
func play(hw *hal.AudioHardware, devices uint32, src io.Reader) (int64, error) {
	out, err := hw.OpenOutputStream(devices, &hal.StreamConfig{})
	if err != nil {
		return 0, fmt.Errorf("failed to open output stream: %w", err)
	}
	defer func() {
		if err := hw.CloseOutputStream(out); err != nil {
			log.Warnw("failed to close output stream", "error", err)
		}
	}()

	var total int64
	buf := make([]byte, out.BufferSize())
	for {
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			w, err := out.Write(buf[:n])
			total += int64(w)
			if err != nil {
				return total, fmt.Errorf("write failed: %w", err)
			}
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			return total, nil
		}
		if rerr != nil {
			return total, fmt.Errorf("read failed: %w", rerr)
		}
	}
}
