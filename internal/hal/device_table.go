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
	"fmt"
	"io"
	"os"

	"github.com/loqalabs/loqa-audio-hal/internal/driver"
)

// Product whose handset route plays through the speakerphone amplifier.
const productSpeakerAsEarpiece = "qsd8650a_st1x"

// DefaultDualMicControlFile is where the dual-mic placement flag lives on the device.
const DefaultDualMicControlFile = "/system/etc/DualMicControl.txt"

// Route is a pair of AUDIO_SWITCH_DEVICE arguments: the output path
// {device, 0} and the input path {primary mic, secondary mic}.
type Route struct {
	Output [2]uint32
	Mic    [2]uint32
}

// DeviceTable maps sound device selectors onto physical device ids.
type DeviceTable struct {
	ProductDevice string

	// Secondary mic ids used by the dual-mic routes, per placement calibration.
	HandsetMicID uint32
	SpeakerMicID uint32
}

// NewDeviceTable returns a table with the broadside placement defaults.
func NewDeviceTable(productDevice string) DeviceTable {
	return DeviceTable{
		ProductDevice: productDevice,
		HandsetMicID:  driver.HandsetDualMicBroadside,
		SpeakerMicID:  driver.SpkrDualMicBroadside,
	}
}

// Lookup returns the physical route for a selector.
func (t DeviceTable) Lookup(sel SoundDevice) (Route, error) {
	out := func(id uint32) [2]uint32 { return [2]uint32{id, 0} }

	switch sel {
	case SoundDeviceHandset:
		spkr := uint32(driver.HandsetSpkr)
		if t.ProductDevice == productSpeakerAsEarpiece {
			spkr = driver.SpkrPhoneMono
		}
		return Route{out(spkr), out(driver.HandsetMic)}, nil
	case SoundDeviceBT, SoundDeviceBTECOff, SoundDeviceCarkit:
		return Route{out(driver.BTSCOSpkr), out(driver.BTSCOMic)}, nil
	case SoundDeviceSpeaker, SoundDeviceSpeakerBackMic:
		return Route{out(driver.SpkrPhoneMono), out(driver.SpkrPhoneMic)}, nil
	case SoundDeviceHeadset:
		return Route{out(driver.HeadsetSpkrStereo), out(driver.HeadsetMic)}, nil
	case SoundDeviceHeadsetAndSpeaker:
		return Route{out(driver.SpkrPhoneHeadsetStereo), out(driver.HeadsetMic)}, nil
	case SoundDeviceHeadsetAndSpeakerBackMic:
		return Route{out(driver.SpkrPhoneHeadsetStereo), out(driver.SpkrPhoneMic)}, nil
	case SoundDeviceNoMicHeadset:
		return Route{out(driver.HeadsetSpkrStereo), out(driver.HandsetMic)}, nil
	case SoundDeviceNoMicHeadsetBackMic:
		return Route{out(driver.HeadsetSpkrStereo), out(driver.SpkrPhoneMic)}, nil
	case SoundDeviceHandsetBackMic:
		return Route{out(driver.HandsetSpkr), out(driver.SpkrPhoneMic)}, nil
	case SoundDeviceFMHeadset:
		return Route{out(driver.FMHeadset), out(driver.HeadsetMic)}, nil
	case SoundDeviceFMSpeaker:
		return Route{out(driver.FMSpkr), out(driver.HeadsetMic)}, nil
	case SoundDeviceTTYFull:
		return Route{out(driver.TTYHeadsetSpkr), out(driver.TTYHeadsetMic)}, nil
	case SoundDeviceTTYVCO:
		return Route{out(driver.TTYHeadsetSpkr), out(driver.HandsetMic)}, nil
	case SoundDeviceTTYHCO:
		return Route{out(driver.HandsetSpkr), out(driver.TTYHeadsetMic)}, nil
	case SoundDeviceHandsetDualMic:
		return Route{out(driver.HandsetSpkr), [2]uint32{driver.HandsetDualMic, t.HandsetMicID}}, nil
	case SoundDeviceSpeakerDualMic:
		return Route{out(driver.SpkrPhoneMono), [2]uint32{driver.SpkrDualMic, t.SpeakerMicID}}, nil
	}
	return Route{}, fmt.Errorf("%w: unknown sound device %d", ErrBadValue, int(sel))
}

// LoadDualMicCalibration reads the placement flag from path: a first byte
// of '0' selects the broadside mic ids, anything else (including an empty
// file) selects endfire. A missing file leaves the table unchanged and
// returns the open error.
func (t *DeviceTable) LoadDualMicCalibration(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open dual-mic control file: %w", err)
	}
	defer f.Close()

	var flag [1]byte
	n, err := f.Read(flag[:])
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read dual-mic control file: %w", err)
	}

	if n == 1 && flag[0] == '0' {
		t.HandsetMicID = driver.HandsetDualMicBroadside
		t.SpeakerMicID = driver.SpkrDualMicBroadside
	} else {
		t.HandsetMicID = driver.HandsetDualMicEndfire
		t.SpeakerMicID = driver.SpkrDualMicEndfire
	}
	return nil
}
