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
	"io"
	"os"

	"github.com/loqalabs/loqa-audio-hal/internal/hal"
	"github.com/spf13/cobra"
)

type recordFlags struct {
	device   string
	format   string
	rate     uint32
	channels int
	voiceTap string
	bytes    int64
}

func newRecordCmd() *cobra.Command {
	var f recordFlags
	cmd := &cobra.Command{
		Use:   "record <file|->",
		Short: "Capture from an input device",
		Long: `Capture from an input device. PCM and speech codec data is written as read
from the driver. AAC captures are unpacked and the raw frames are written back
to back.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst := cmd.OutOrStdout()
			if args[0] != "-" {
				out, err := os.Create(args[0])
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", args[0], err)
				}
				defer out.Close()
				dst = out
			}

			hw, closeHardware, err := openHardware()
			if err != nil {
				return err
			}
			defer closeHardware()

			n, err := record(hw, f, dst)
			log.Infow("recording finished", "bytes", n)
			return err
		},
	}

	cmd.Flags().StringVar(&f.device, "device", "builtin_mic", "input device")
	cmd.Flags().StringVar(&f.format, "format", "pcm16", "pcm16, amr-nb, evrc, qcelp or aac")
	cmd.Flags().Uint32Var(&f.rate, "rate", 8000, "sample rate in Hz")
	cmd.Flags().IntVar(&f.channels, "channels", 1, "1 or 2")
	cmd.Flags().StringVar(&f.voiceTap, "voice-tap", "uplink", "call direction for the voice_call device: uplink, downlink or both")
	cmd.Flags().Int64Var(&f.bytes, "bytes", 16000, "stop after this many bytes of audio")
	return cmd
}

func channelMask(channels int, voiceTap string) (uint32, error) {
	var mask uint32
	switch channels {
	case 1:
		mask = hal.ChannelInMono
	case 2:
		mask = hal.ChannelInStereo
	default:
		return 0, fmt.Errorf("%w: channels must be 1 or 2, got %d", hal.ErrBadValue, channels)
	}

	switch voiceTap {
	case "uplink":
		mask |= hal.ChannelInVoiceUplink
	case "downlink":
		mask |= hal.ChannelInVoiceDnlink
	case "both":
		mask |= hal.ChannelInVoiceUplink | hal.ChannelInVoiceDnlink
	default:
		return 0, fmt.Errorf("%w: unknown voice tap %q", hal.ErrBadValue, voiceTap)
	}
	return mask, nil
}

// record captures at least f.bytes bytes of audio into dst.
func record(hw *hal.AudioHardware, f recordFlags, dst io.Writer) (int64, error) {
	device, err := hal.ParseInputDevice(f.device)
	if err != nil {
		return 0, err
	}
	format, err := hal.ParseFormat(f.format)
	if err != nil {
		return 0, err
	}
	channels, err := channelMask(f.channels, f.voiceTap)
	if err != nil {
		return 0, err
	}
	if device != hal.InputVoiceCall {
		channels &^= hal.ChannelInVoiceUplink | hal.ChannelInVoiceDnlink
	}

	sc := &hal.StreamConfig{Format: format, Channels: channels, SampleRate: f.rate}
	in, err := hw.OpenInputStream(device, sc)
	if err != nil {
		return 0, fmt.Errorf("failed to open input stream (supported: format %s, rate %d, channels 0x%X): %w",
			hal.FormatName(sc.Format), sc.SampleRate, sc.Channels, err)
	}
	defer func() {
		if err := hw.CloseInputStream(in); err != nil {
			log.Warnw("failed to close input stream", "error", err)
		}
	}()

	log.Infow("recording",
		"device", hal.InputDeviceString(device),
		"format", hal.FormatName(format),
		"rate", in.Config().SampleRate,
		"buffer", in.BufferSize())

	var total int64
	buf := make([]byte, in.BufferSize())
	for total < f.bytes {
		n, err := in.Read(buf)
		if err != nil {
			return total, fmt.Errorf("read failed: %w", err)
		}
		if n == 0 {
			return total, nil
		}

		chunks := [][]byte{buf[:n]}
		if format == hal.FormatAAC {
			if chunks, err = hal.ParseAACFrames(buf[:n]); err != nil {
				return total, err
			}
		}
		for _, c := range chunks {
			w, err := dst.Write(c)
			total += int64(w)
			if err != nil {
				return total, fmt.Errorf("write failed: %w", err)
			}
		}
	}
	return total, nil
}
