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

package hal

import (
	"errors"
	"fmt"
)

var (
	// ErrBadValue is returned for unsupported formats, rates, channel masks,
	// devices and malformed parameter strings. Where a corrected value exists
	// it has been written back to the caller's StreamConfig.
	ErrBadValue = errors.New("bad value")

	// ErrValuesAdjusted is returned by OpenOutputStream when the requested
	// format does not match the hardware. The supported values have been
	// written back; retry with them.
	ErrValuesAdjusted = errors.New("values adjusted to hardware capability")

	// ErrStreamExists is returned when a second output stream is opened.
	ErrStreamExists = errors.New("output stream already exists")

	// ErrUnknownStream is returned when closing a stream the HAL does not own
	// and by Read or Write on a stream that was already closed.
	ErrUnknownStream = errors.New("unknown stream")

	// ErrAlreadyOpen is returned when an input stream already holds a driver handle.
	ErrAlreadyOpen = errors.New("audio record already open")

	ErrNotInitialized = errors.New("audio hardware not initialized")

	// ErrCaptureBusy is returned when another input stream is already capturing.
	ErrCaptureBusy = errors.New("another input stream is capturing")

	ErrNotSupported = errors.New("not supported")

	// ErrRoutingFailed wraps driver errors from a device switch. The previously
	// applied route stays in effect.
	ErrRoutingFailed = errors.New("routing failed")
)

var errStreamClosed = fmt.Errorf("%w: stream was closed", ErrUnknownStream)
