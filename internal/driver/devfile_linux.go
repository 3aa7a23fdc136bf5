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

//go:build linux

package driver

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DeviceFileDriver talks to the real kernel drivers under Dir.
type DeviceFileDriver struct {
	Dir string
}

// NewDeviceFileDriver creates a driver rooted at dir ("/dev" when empty).
func NewDeviceFileDriver(dir string) *DeviceFileDriver {
	if dir == "" {
		dir = "/dev"
	}
	return &DeviceFileDriver{Dir: dir}
}

// Open opens the named device file O_RDWR.
func (d *DeviceFileDriver) Open(name string) (Device, error) {
	path := DevicePath(d.Dir, name)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &deviceFile{fd: fd, path: path}, nil
}

type deviceFile struct {
	mu   sync.Mutex
	fd   int
	path string
}

func (f *deviceFile) handle() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fd < 0 {
		return -1, ErrClosed
	}
	return f.fd, nil
}

func (f *deviceFile) Ioctl(req uint, arg []byte) error {
	fd, err := f.handle()
	if err != nil {
		return err
	}

	var ptr unsafe.Pointer
	if len(arg) > 0 {
		ptr = unsafe.Pointer(&arg[0])
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(ptr))
	if errno != 0 {
		return fmt.Errorf("%s on %s: %w", CommandName(req), f.path, errno)
	}
	return nil
}

func (f *deviceFile) Read(p []byte) (int, error) {
	fd, err := f.handle()
	if err != nil {
		return 0, err
	}
	return ioResult(unix.Read(fd, p))
}

func (f *deviceFile) Write(p []byte) (int, error) {
	fd, err := f.handle()
	if err != nil {
		return 0, err
	}
	return ioResult(unix.Write(fd, p))
}

func (f *deviceFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fd < 0 {
		return nil
	}
	err := unix.Close(f.fd)
	f.fd = -1
	return err
}

// ioResult maps a raw read or write result onto io conventions: the
// syscall's -1 becomes 0.
func ioResult(n int, err error) (int, error) {
	if n < 0 {
		n = 0
	}
	return n, translateErrno(err)
}

func translateErrno(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("%w: %v", ErrTryAgain, err)
	}
	return err
}
