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

// Package driver abstracts the msm kernel audio device files so the HAL can
// run against real hardware, a PortAudio emulation, or a scripted mock.
package driver

import (
	"errors"
	"path/filepath"
)

// Device file names exposed by the QSD8x50 audio drivers.
const (
	ControlDevice = "msm_audio_ctl"
	PCMOutDevice  = "msm_pcm_out"
	PCMInDevice   = "msm_pcm_in"
	AMRNBInDevice = "msm_amr_in"
	EVRCInDevice  = "msm_evrc_in"
	QCELPInDevice = "msm_qcelp_in"
	AACInDevice   = "msm_aac_in"
)

var (
	// ErrTryAgain is returned by Read and Write when the driver reports EAGAIN.
	ErrTryAgain = errors.New("resource temporarily unavailable")

	// ErrUnsupported is returned when a driver cannot serve a device or command.
	ErrUnsupported = errors.New("operation not supported by driver")

	// ErrClosed is returned for operations on a closed device handle.
	ErrClosed = errors.New("device closed")
)

// Driver opens device files. This enables dependency injection and makes the
// HAL testable without the kernel drivers present.
type Driver interface {
	// Open opens the named device file (one of the *Device constants) read/write
	Open(name string) (Device, error)
}

// Device is an open driver handle.
type Device interface {
	// Ioctl issues a command. arg holds the command's fixed binary struct and
	// receives the driver's reply for read-direction commands. A nil arg passes
	// a NULL pointer.
	Ioctl(req uint, arg []byte) error

	// Read reads captured data
	Read(p []byte) (int, error)

	// Write writes playback data
	Write(p []byte) (int, error)

	// Close releases the handle
	Close() error
}

// DevicePath joins a device directory and a device file name.
func DevicePath(dir, name string) string {
	if dir == "" {
		dir = "/dev"
	}
	return filepath.Join(dir, name)
}
