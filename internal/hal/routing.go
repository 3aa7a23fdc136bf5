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

// InputRoute describes the input stream taking part in a routing decision.
type InputRoute struct {
	// Device is the stream's logical input device.
	Device uint32

	// Routing is set when the stream asks to be routed by its input device.
	// A stream going to standby passes false to restore output routing.
	Routing bool

	// RecordingEnabled is set while the stream is recording; it blocks the
	// dual-mic upgrade.
	RecordingEnabled bool
}

// RoutingRequest is everything the routing decision depends on.
type RoutingRequest struct {
	OutputDevices uint32
	Input         *InputRoute
	Mode          CallMode
	TTY           TTYMode
	DualMic       bool
}

// SelectSoundDevice computes the sound device for a request. It returns
// false when the current route must be kept, which happens when the input
// is the voice call tap: recording then follows the active call route.
func SelectSoundDevice(req RoutingRequest) (SoundDevice, bool) {
	sel := SoundDeviceNone
	out := req.OutputDevices

	if in := req.Input; in != nil && in.Routing {
		if in.Device == InputVoiceCall {
			return SoundDeviceNone, false
		}
		if in.Device != 0 {
			sel = selectForInput(in.Device, out)
		}
	}

	if sel == SoundDeviceNone {
		sel = selectForOutput(out, req.Mode, req.TTY)
	}

	if req.DualMic && req.Mode == ModeInCall && req.Input != nil && !req.Input.RecordingEnabled {
		switch sel {
		case SoundDeviceHandset:
			sel = SoundDeviceHandsetDualMic
		case SoundDeviceSpeaker:
			sel = SoundDeviceSpeakerDualMic
		}
	}

	return sel, true
}

func selectForInput(in, out uint32) SoundDevice {
	switch {
	case in&InputBluetoothSCOHeadset != 0:
		return SoundDeviceBT
	case in&OutputBluetoothSCOCarkit != 0:
		// carkit shares its bit value across directions
		return SoundDeviceCarkit
	case in&InputWiredHeadset != 0:
		if out&OutputWiredHeadset != 0 && out&OutputSpeaker != 0 {
			return SoundDeviceHeadsetAndSpeaker
		}
		return SoundDeviceHeadset
	case in&InputBackMic != 0:
		switch {
		case out&OutputWiredHeadset != 0 && out&OutputSpeaker != 0:
			return SoundDeviceHeadsetAndSpeakerBackMic
		case out&OutputSpeaker != 0:
			return SoundDeviceSpeakerBackMic
		case out == OutputEarpiece:
			return SoundDeviceHandsetBackMic
		default:
			return SoundDeviceNoMicHeadsetBackMic
		}
	}
	return SoundDeviceHandset
}

func selectForOutput(out uint32, mode CallMode, tty TTYMode) SoundDevice {
	switch {
	case tty != TTYOff && mode == ModeInCall && out&OutputWiredHeadset != 0:
		switch tty {
		case TTYFull:
			return SoundDeviceTTYFull
		case TTYVCO:
			return SoundDeviceTTYVCO
		default:
			return SoundDeviceTTYHCO
		}
	case out&(OutputBluetoothSCO|OutputBluetoothSCOHeadset) != 0:
		return SoundDeviceBT
	case out&OutputBluetoothSCOCarkit != 0:
		return SoundDeviceCarkit
	case out&OutputWiredHeadset != 0 && out&OutputSpeaker != 0:
		return SoundDeviceHeadsetAndSpeaker
	case out&OutputWiredHeadphone != 0:
		if out&OutputSpeaker != 0 {
			return SoundDeviceHeadsetAndSpeaker
		}
		return SoundDeviceNoMicHeadset
	case out&OutputWiredHeadset != 0:
		return SoundDeviceHeadset
	case out&OutputSpeaker != 0:
		return SoundDeviceSpeaker
	}
	return SoundDeviceHandset
}

// approximateRoute reports whether an output mask names several devices the
// hardware cannot drive together, in which case the closest route is picked.
func approximateRoute(out uint32) bool {
	return out&(out-1) != 0 && out&OutputSpeaker == 0
}
