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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectSoundDeviceOutputs(t *testing.T) {
	tests := []struct {
		name    string
		devices uint32
		want    SoundDevice
	}{
		{"none", 0, SoundDeviceHandset},
		{"earpiece", OutputEarpiece, SoundDeviceHandset},
		{"speaker", OutputSpeaker, SoundDeviceSpeaker},
		{"wired_headset", OutputWiredHeadset, SoundDeviceHeadset},
		{"wired_headphone", OutputWiredHeadphone, SoundDeviceNoMicHeadset},
		{"headset_and_speaker", OutputWiredHeadset | OutputSpeaker, SoundDeviceHeadsetAndSpeaker},
		{"headphone_and_speaker", OutputWiredHeadphone | OutputSpeaker, SoundDeviceHeadsetAndSpeaker},
		{"bt_sco", OutputBluetoothSCO, SoundDeviceBT},
		{"bt_sco_headset", OutputBluetoothSCOHeadset, SoundDeviceBT},
		{"bt_sco_carkit", OutputBluetoothSCOCarkit, SoundDeviceCarkit},
		{"bt_wins_over_speaker", OutputBluetoothSCO | OutputSpeaker, SoundDeviceBT},
		{"a2dp_falls_back_to_handset", OutputBluetoothA2DP, SoundDeviceHandset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, ok := SelectSoundDevice(RoutingRequest{OutputDevices: tt.devices})
			assert.True(t, ok)
			assert.Equal(t, tt.want, sel)
		})
	}
}

func TestSelectSoundDeviceInputs(t *testing.T) {
	tests := []struct {
		name   string
		input  uint32
		output uint32
		want   SoundDevice
	}{
		{"bt_headset_mic", InputBluetoothSCOHeadset, OutputSpeaker, SoundDeviceBT},
		{"wired_headset_mic", InputWiredHeadset, OutputEarpiece, SoundDeviceHeadset},
		{"wired_headset_mic_with_speaker", InputWiredHeadset, OutputWiredHeadset | OutputSpeaker, SoundDeviceHeadsetAndSpeaker},
		{"back_mic_headset_and_speaker", InputBackMic, OutputWiredHeadset | OutputSpeaker, SoundDeviceHeadsetAndSpeakerBackMic},
		{"back_mic_speaker", InputBackMic, OutputSpeaker, SoundDeviceSpeakerBackMic},
		{"back_mic_earpiece", InputBackMic, OutputEarpiece, SoundDeviceHandsetBackMic},
		{"back_mic_headset", InputBackMic, OutputWiredHeadset, SoundDeviceNoMicHeadsetBackMic},
		{"builtin_mic", InputBuiltinMic, OutputSpeaker, SoundDeviceHandset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, ok := SelectSoundDevice(RoutingRequest{
				OutputDevices: tt.output,
				Input:         &InputRoute{Device: tt.input, Routing: true, RecordingEnabled: true},
			})
			assert.True(t, ok)
			assert.Equal(t, tt.want, sel)
		})
	}

	t.Run("voice_call_tap_keeps_route", func(t *testing.T) {
		_, ok := SelectSoundDevice(RoutingRequest{
			OutputDevices: OutputSpeaker,
			Input:         &InputRoute{Device: InputVoiceCall, Routing: true},
		})
		assert.False(t, ok)
	})

	t.Run("non_routing_input_follows_output", func(t *testing.T) {
		sel, ok := SelectSoundDevice(RoutingRequest{
			OutputDevices: OutputSpeaker,
			Input:         &InputRoute{Device: InputWiredHeadset, Routing: false},
		})
		assert.True(t, ok)
		assert.Equal(t, SoundDeviceSpeaker, sel)
	})
}

func TestInactiveInputDoesNotChangeSingleOutputSelection(t *testing.T) {
	inactive := &InputRoute{Device: InputBuiltinMic, Routing: false, RecordingEnabled: true}
	modes := []CallMode{ModeNormal, ModeRingtone, ModeInCall, ModeCallScreen}
	ttys := []TTYMode{TTYOff, TTYFull, TTYVCO, TTYHCO}

	for bit := uint32(1); bit <= OutputFM; bit <<= 1 {
		for _, mode := range modes {
			for _, tty := range ttys {
				base := RoutingRequest{OutputDevices: bit, Mode: mode, TTY: tty}
				withInput := base
				withInput.Input = inactive

				want, wantOK := SelectSoundDevice(base)
				got, gotOK := SelectSoundDevice(withInput)
				assert.Equal(t, wantOK, gotOK)
				assert.Equal(t, want, got, "devices=%s mode=%s tty=%s", OutputDevicesString(bit), mode, tty)
			}
		}
	}
}

func TestTTYOverrideConditions(t *testing.T) {
	base := RoutingRequest{OutputDevices: OutputWiredHeadset, Mode: ModeInCall, TTY: TTYFull}

	sel, _ := SelectSoundDevice(base)
	assert.Equal(t, SoundDeviceTTYFull, sel)

	t.Run("each_tty_variant", func(t *testing.T) {
		for tty, want := range map[TTYMode]SoundDevice{
			TTYFull: SoundDeviceTTYFull,
			TTYVCO:  SoundDeviceTTYVCO,
			TTYHCO:  SoundDeviceTTYHCO,
		} {
			req := base
			req.TTY = tty
			sel, _ := SelectSoundDevice(req)
			assert.Equal(t, want, sel, tty.String())
		}
	})

	t.Run("tty_off", func(t *testing.T) {
		req := base
		req.TTY = TTYOff
		sel, _ := SelectSoundDevice(req)
		assert.Equal(t, SoundDeviceHeadset, sel)
	})

	t.Run("not_in_call", func(t *testing.T) {
		req := base
		req.Mode = ModeNormal
		sel, _ := SelectSoundDevice(req)
		assert.Equal(t, SoundDeviceHeadset, sel)
	})

	t.Run("no_wired_headset", func(t *testing.T) {
		req := base
		req.OutputDevices = OutputSpeaker
		sel, _ := SelectSoundDevice(req)
		assert.Equal(t, SoundDeviceSpeaker, sel)
	})
}

func TestDualMicUpgradeConditions(t *testing.T) {
	idle := &InputRoute{Device: InputBuiltinMic}

	for _, tc := range []struct {
		output   uint32
		single   SoundDevice
		upgraded SoundDevice
	}{
		{OutputEarpiece, SoundDeviceHandset, SoundDeviceHandsetDualMic},
		{OutputSpeaker, SoundDeviceSpeaker, SoundDeviceSpeakerDualMic},
	} {
		base := RoutingRequest{OutputDevices: tc.output, Mode: ModeInCall, DualMic: true, Input: idle}

		sel, _ := SelectSoundDevice(base)
		assert.Equal(t, tc.upgraded, sel)

		req := base
		req.DualMic = false
		sel, _ = SelectSoundDevice(req)
		assert.Equal(t, tc.single, sel, "dual-mic disabled")

		req = base
		req.Mode = ModeNormal
		sel, _ = SelectSoundDevice(req)
		assert.Equal(t, tc.single, sel, "not in call")

		req = base
		req.Input = nil
		sel, _ = SelectSoundDevice(req)
		assert.Equal(t, tc.single, sel, "no input stream")

		req = base
		req.Input = &InputRoute{Device: InputBuiltinMic, RecordingEnabled: true}
		sel, _ = SelectSoundDevice(req)
		assert.Equal(t, tc.single, sel, "input is recording")
	}

	t.Run("other_selectors_unchanged", func(t *testing.T) {
		sel, _ := SelectSoundDevice(RoutingRequest{
			OutputDevices: OutputWiredHeadset,
			Mode:          ModeInCall,
			DualMic:       true,
			Input:         idle,
		})
		assert.Equal(t, SoundDeviceHeadset, sel)
	})
}

func TestApproximateRoute(t *testing.T) {
	assert.False(t, approximateRoute(OutputSpeaker))
	assert.False(t, approximateRoute(OutputWiredHeadset|OutputSpeaker))
	assert.True(t, approximateRoute(OutputWiredHeadset|OutputBluetoothSCO))
	assert.False(t, approximateRoute(0))
}
