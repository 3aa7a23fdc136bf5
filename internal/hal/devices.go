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
	"math/bits"
	"strings"
)

// Logical output devices. A stream's routing is a bitmask of these.
const (
	OutputEarpiece            uint32 = 0x1
	OutputSpeaker             uint32 = 0x2
	OutputWiredHeadset        uint32 = 0x4
	OutputWiredHeadphone      uint32 = 0x8
	OutputBluetoothSCO        uint32 = 0x10
	OutputBluetoothSCOHeadset uint32 = 0x20
	OutputBluetoothSCOCarkit  uint32 = 0x40
	OutputBluetoothA2DP       uint32 = 0x80
	OutputA2DPHeadphones      uint32 = 0x100
	OutputA2DPSpeaker         uint32 = 0x200
	OutputAuxDigital          uint32 = 0x400
	OutputFM                  uint32 = 0x800
)

// Logical input devices. An input stream selects exactly one.
const (
	InputCommunication       uint32 = 0x10000
	InputAmbient             uint32 = 0x20000
	InputBuiltinMic          uint32 = 0x40000
	InputBluetoothSCOHeadset uint32 = 0x80000
	InputWiredHeadset        uint32 = 0x100000
	InputAuxDigital          uint32 = 0x200000
	InputVoiceCall           uint32 = 0x400000
	InputBackMic             uint32 = 0x800000
	InputDefault             uint32 = 0x80000000

	inputAll = InputCommunication | InputAmbient | InputBuiltinMic | InputBluetoothSCOHeadset |
		InputWiredHeadset | InputAuxDigital | InputVoiceCall | InputBackMic | InputDefault
)

// IsInputDevice reports whether devices names exactly one input device.
func IsInputDevice(devices uint32) bool {
	return bits.OnesCount32(devices) == 1 && devices&^inputAll == 0
}

// Channel masks.
const (
	ChannelOutStereo uint32 = 0xC

	ChannelInMono        uint32 = 0x10
	ChannelInStereo      uint32 = 0xC
	ChannelInVoiceUplink uint32 = 0x4000
	ChannelInVoiceDnlink uint32 = 0x8000
)

// ChannelCount returns the number of channels in a mask.
func ChannelCount(mask uint32) int {
	return bits.OnesCount32(mask)
}

// Audio formats.
const (
	FormatPCM16 uint32 = 0x1
	FormatAMRNB uint32 = 0x02000000
	FormatAAC   uint32 = 0x04000000
	FormatEVRC  uint32 = 0x08000000
	FormatQCELP uint32 = 0x09000000
)

// FormatName returns a short name for logs and the CLI.
func FormatName(format uint32) string {
	switch format {
	case FormatPCM16:
		return "pcm16"
	case FormatAMRNB:
		return "amr-nb"
	case FormatAAC:
		return "aac"
	case FormatEVRC:
		return "evrc"
	case FormatQCELP:
		return "qcelp"
	}
	return fmt.Sprintf("0x%08X", format)
}

// ParseFormat is the inverse of FormatName.
func ParseFormat(name string) (uint32, error) {
	switch strings.ToLower(name) {
	case "pcm16", "pcm":
		return FormatPCM16, nil
	case "amr-nb", "amrnb", "amr":
		return FormatAMRNB, nil
	case "aac":
		return FormatAAC, nil
	case "evrc":
		return FormatEVRC, nil
	case "qcelp":
		return FormatQCELP, nil
	}
	return 0, fmt.Errorf("%w: unknown format %q", ErrBadValue, name)
}

// CallMode is the process wide telephony mode.
type CallMode int

const (
	ModeNormal CallMode = iota
	ModeRingtone
	ModeInCall
	ModeCallScreen
)

func (m CallMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeRingtone:
		return "ringtone"
	case ModeInCall:
		return "in_call"
	case ModeCallScreen:
		return "call_screen"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseCallMode accepts the names produced by CallMode.String.
func ParseCallMode(s string) (CallMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return ModeNormal, nil
	case "ringtone":
		return ModeRingtone, nil
	case "in_call", "incall":
		return ModeInCall, nil
	case "call_screen":
		return ModeCallScreen, nil
	}
	return ModeNormal, fmt.Errorf("%w: unknown mode %q", ErrBadValue, s)
}

// TTYMode selects the teletypewriter relay variant.
type TTYMode int

const (
	TTYOff TTYMode = iota
	TTYFull
	TTYVCO
	TTYHCO
)

func (m TTYMode) String() string {
	switch m {
	case TTYFull:
		return "full"
	case TTYVCO:
		return "vco"
	case TTYHCO:
		return "hco"
	}
	return "off"
}

// ParseTTYMode never fails: anything unrecognised turns TTY off.
func ParseTTYMode(s string) TTYMode {
	switch s {
	case "full":
		return TTYFull
	case "hco":
		return TTYHCO
	case "vco":
		return TTYVCO
	}
	return TTYOff
}

// SoundDevice is the physical route selector understood by the control port.
// Values match the driver's sound device numbering.
type SoundDevice int

const (
	SoundDeviceNone                     SoundDevice = -1
	SoundDeviceHandset                  SoundDevice = 0
	SoundDeviceSpeaker                  SoundDevice = 1
	SoundDeviceHeadset                  SoundDevice = 2
	SoundDeviceBT                       SoundDevice = 3
	SoundDeviceCarkit                   SoundDevice = 4
	SoundDeviceTTYFull                  SoundDevice = 5
	SoundDeviceTTYVCO                   SoundDevice = 6
	SoundDeviceTTYHCO                   SoundDevice = 7
	SoundDeviceNoMicHeadset             SoundDevice = 8
	SoundDeviceFMHeadset                SoundDevice = 9
	SoundDeviceHeadsetAndSpeaker        SoundDevice = 10
	SoundDeviceFMSpeaker                SoundDevice = 11
	SoundDeviceHandsetBackMic           SoundDevice = 20
	SoundDeviceSpeakerBackMic           SoundDevice = 21
	SoundDeviceNoMicHeadsetBackMic      SoundDevice = 28
	SoundDeviceHeadsetAndSpeakerBackMic SoundDevice = 30
	SoundDeviceSpeakerDualMic           SoundDevice = 31
	SoundDeviceHandsetDualMic           SoundDevice = 32
	SoundDeviceBTECOff                  SoundDevice = 45
)

var soundDeviceNames = map[SoundDevice]string{
	SoundDeviceNone:                     "none",
	SoundDeviceHandset:                  "handset",
	SoundDeviceSpeaker:                  "speaker",
	SoundDeviceHeadset:                  "headset",
	SoundDeviceBT:                       "bt",
	SoundDeviceCarkit:                   "carkit",
	SoundDeviceTTYFull:                  "tty_full",
	SoundDeviceTTYVCO:                   "tty_vco",
	SoundDeviceTTYHCO:                   "tty_hco",
	SoundDeviceNoMicHeadset:             "no_mic_headset",
	SoundDeviceFMHeadset:                "fm_headset",
	SoundDeviceHeadsetAndSpeaker:        "headset_and_speaker",
	SoundDeviceFMSpeaker:                "fm_speaker",
	SoundDeviceHandsetBackMic:           "handset_back_mic",
	SoundDeviceSpeakerBackMic:           "speaker_back_mic",
	SoundDeviceNoMicHeadsetBackMic:      "no_mic_headset_back_mic",
	SoundDeviceHeadsetAndSpeakerBackMic: "headset_and_speaker_back_mic",
	SoundDeviceSpeakerDualMic:           "speaker_dual_mic",
	SoundDeviceHandsetDualMic:           "handset_dual_mic",
	SoundDeviceBTECOff:                  "bt_ec_off",
}

func (d SoundDevice) String() string {
	if name, ok := soundDeviceNames[d]; ok {
		return name
	}
	return fmt.Sprintf("sound_device(%d)", int(d))
}

// ParseSoundDevice accepts the names produced by SoundDevice.String.
func ParseSoundDevice(s string) (SoundDevice, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d, name := range soundDeviceNames {
		if name == s && d != SoundDeviceNone {
			return d, nil
		}
	}
	return SoundDeviceNone, fmt.Errorf("%w: unknown sound device %q", ErrBadValue, s)
}

// outputDeviceNames is used to parse and print routing masks in the CLI.
var outputDeviceNames = []struct {
	bit  uint32
	name string
}{
	{OutputEarpiece, "earpiece"},
	{OutputSpeaker, "speaker"},
	{OutputWiredHeadset, "wired_headset"},
	{OutputWiredHeadphone, "wired_headphone"},
	{OutputBluetoothSCO, "bt_sco"},
	{OutputBluetoothSCOHeadset, "bt_sco_headset"},
	{OutputBluetoothSCOCarkit, "bt_sco_carkit"},
	{OutputBluetoothA2DP, "bt_a2dp"},
	{OutputA2DPHeadphones, "bt_a2dp_headphones"},
	{OutputA2DPSpeaker, "bt_a2dp_speaker"},
	{OutputAuxDigital, "aux_digital"},
	{OutputFM, "fm"},
}

// ParseOutputDevices turns "speaker,wired_headset" into a bitmask.
func ParseOutputDevices(s string) (uint32, error) {
	var mask uint32
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		found := false
		for _, d := range outputDeviceNames {
			if d.name == part {
				mask |= d.bit
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: unknown output device %q", ErrBadValue, part)
		}
	}
	return mask, nil
}

// OutputDevicesString is the inverse of ParseOutputDevices.
func OutputDevicesString(mask uint32) string {
	var names []string
	for _, d := range outputDeviceNames {
		if mask&d.bit != 0 {
			names = append(names, d.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

var inputDeviceNames = []struct {
	bit  uint32
	name string
}{
	{InputCommunication, "communication"},
	{InputAmbient, "ambient"},
	{InputBuiltinMic, "builtin_mic"},
	{InputBluetoothSCOHeadset, "bt_sco_headset"},
	{InputWiredHeadset, "wired_headset"},
	{InputAuxDigital, "aux_digital"},
	{InputVoiceCall, "voice_call"},
	{InputBackMic, "back_mic"},
	{InputDefault, "default"},
}

// ParseInputDevice maps a single input device name onto its selector.
func ParseInputDevice(s string) (uint32, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, d := range inputDeviceNames {
		if d.name == s {
			return d.bit, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown input device %q", ErrBadValue, s)
}

// InputDeviceString names an input selector, falling back to hex.
func InputDeviceString(device uint32) string {
	for _, d := range inputDeviceNames {
		if d.bit == device {
			return d.name
		}
	}
	return fmt.Sprintf("0x%X", device)
}
