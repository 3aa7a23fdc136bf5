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

//go:build !linux

package driver

import "fmt"

// DeviceFileDriver is only available on linux; use the emulator elsewhere.
type DeviceFileDriver struct {
	Dir string
}

func NewDeviceFileDriver(dir string) *DeviceFileDriver {
	return &DeviceFileDriver{Dir: dir}
}

func (d *DeviceFileDriver) Open(name string) (Device, error) {
	return nil, fmt.Errorf("open %s: %w", DevicePath(d.Dir, name), ErrUnsupported)
}
