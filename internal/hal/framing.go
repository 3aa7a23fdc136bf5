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
	"encoding/binary"
	"fmt"
)

// Framed AAC capture buffer layout, little endian:
//
//	magic      uint32  0x51434F4D ("QCOM")
//	count      uint16  number of frames
//	then count times:
//	  size     uint16  frame length
//	  data     [size]byte
const (
	AACFrameMagic      = 0x51434F4D
	AACHeaderSize      = 6
	AACFrameSizePrefix = 2

	// AACMinReadSize is the smallest space worth offering the driver for one
	// frame; smaller reads come back short.
	AACMinReadSize = 512
)

// AACFrameHeader is the fixed header at the start of a framed buffer
type AACFrameHeader struct {
	Magic      uint32
	FrameCount uint16
}

func putAACHeader(p []byte, frames uint16) {
	binary.LittleEndian.PutUint32(p[0:], AACFrameMagic)
	binary.LittleEndian.PutUint16(p[4:], frames)
}

// ParseAACHeader parses and validates the header of a framed buffer
func ParseAACHeader(data []byte) (AACFrameHeader, error) {
	if len(data) < AACHeaderSize {
		return AACFrameHeader{}, fmt.Errorf("aac buffer too small: %d bytes (min %d)", len(data), AACHeaderSize)
	}

	h := AACFrameHeader{
		Magic:      binary.LittleEndian.Uint32(data[0:]),
		FrameCount: binary.LittleEndian.Uint16(data[4:]),
	}
	if h.Magic != AACFrameMagic {
		return AACFrameHeader{}, fmt.Errorf("invalid aac magic: 0x%08X (expected 0x%08X)", h.Magic, AACFrameMagic)
	}
	return h, nil
}

// ParseAACFrames splits a framed buffer returned by an AAC input stream into
// its raw frames. The frames alias data.
func ParseAACFrames(data []byte) ([][]byte, error) {
	h, err := ParseAACHeader(data)
	if err != nil {
		return nil, err
	}

	frames := make([][]byte, 0, h.FrameCount)
	pos := AACHeaderSize
	for i := 0; i < int(h.FrameCount); i++ {
		if pos+AACFrameSizePrefix > len(data) {
			return nil, fmt.Errorf("aac frame %d: size prefix past end of buffer", i)
		}
		size := int(binary.LittleEndian.Uint16(data[pos:]))
		pos += AACFrameSizePrefix
		if pos+size > len(data) {
			return nil, fmt.Errorf("aac frame %d: %d bytes past end of buffer", i, size)
		}
		frames = append(frames, data[pos:pos+size])
		pos += size
	}
	return frames, nil
}
