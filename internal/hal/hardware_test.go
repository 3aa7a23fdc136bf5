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
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-audio-hal/internal/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHardware(t *testing.T, opts ...Option) (*AudioHardware, *driver.MockDriver) {
	t.Helper()
	mock := driver.NewMockDriver()
	base := []Option{
		WithDualMicControlFile(filepath.Join(t.TempDir(), "DualMicControl.txt")),
		WithSleep(func(time.Duration) {}),
	}
	hw, err := New(mock, append(base, opts...)...)
	require.NoError(t, err)
	mock.ResetCalls()
	return hw, mock
}

func openOutput(t *testing.T, hw *AudioHardware, devices uint32) *OutputStream {
	t.Helper()
	out, err := hw.OpenOutputStream(devices, &StreamConfig{})
	require.NoError(t, err)
	return out
}

func TestNew(t *testing.T) {
	t.Run("requires_driver", func(t *testing.T) {
		_, err := New(nil)
		assert.Error(t, err)
	})

	t.Run("stops_voice_and_initializes", func(t *testing.T) {
		mock := driver.NewMockDriver()
		hw, err := New(mock, WithDualMicControlFile(filepath.Join(t.TempDir(), "missing")))
		require.NoError(t, err)

		assert.NoError(t, hw.InitCheck())
		assert.Equal(t, 1, mock.CountCalls(driver.ControlDevice, driver.AudioStopVoice))
		assert.True(t, hw.MicMute())
		assert.True(t, hw.BluetoothNrec())
		assert.Equal(t, maxVoiceVolume, hw.VoiceVolume())
		assert.Equal(t, SoundDeviceNone, hw.CurrentSoundDevice())
	})

	t.Run("voice_reset_failure_is_not_fatal", func(t *testing.T) {
		mock := driver.NewMockDriver()
		mock.SetIoctlError(driver.ControlDevice, driver.AudioStopVoice, errors.New("no voice"))
		hw, err := New(mock, WithDualMicControlFile(filepath.Join(t.TempDir(), "missing")))
		require.NoError(t, err)
		assert.NoError(t, hw.InitCheck())
	})
}

func TestRoutingScenarios(t *testing.T) {
	t.Run("headset_and_speaker_in_normal_mode", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		openOutput(t, hw, OutputWiredHeadset|OutputSpeaker)

		require.NoError(t, hw.SetMode(ModeNormal))
		assert.Equal(t, SoundDeviceHeadsetAndSpeaker, hw.CurrentSoundDevice())
		assert.Equal(t, 0, mock.CountCalls(driver.ControlDevice, driver.AudioStartVoice))
	})

	t.Run("entering_call_forces_switch_and_volume", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		openOutput(t, hw, OutputSpeaker)
		require.NoError(t, hw.SetMode(ModeNormal))
		require.Equal(t, SoundDeviceSpeaker, hw.CurrentSoundDevice())
		mock.ResetCalls()

		require.NoError(t, hw.SetMode(ModeInCall))

		assert.Equal(t, SoundDeviceSpeaker, hw.CurrentSoundDevice())
		assert.Len(t, switchArgs(t, mock), 2)
		assert.Equal(t, 1, mock.CountCalls(driver.ControlDevice, driver.AudioStartVoice))
		assert.Equal(t, []uint32{100}, uint32Args(t, mock, driver.AudioSetVolume))

		calls := mock.Calls()
		require.NotEmpty(t, calls)
		assert.Equal(t, driver.AudioSwitchDevice, calls[0].Request, "switch precedes volume")
		assert.Equal(t, driver.AudioSetVolume, calls[len(calls)-1].Request)
	})

	t.Run("leaving_call_forces_switch_and_stops_voice", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		openOutput(t, hw, OutputSpeaker)
		require.NoError(t, hw.SetMode(ModeInCall))
		mock.ResetCalls()

		require.NoError(t, hw.SetMode(ModeNormal))
		assert.Len(t, switchArgs(t, mock), 2)
		assert.Equal(t, 1, mock.CountCalls(driver.ControlDevice, driver.AudioStopVoice))
	})

	t.Run("same_selector_is_applied_once", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		out := openOutput(t, hw, OutputSpeaker)

		require.NoError(t, out.SetParameters("routing=2"))
		require.NoError(t, out.SetParameters("routing=2"))
		assert.Len(t, switchArgs(t, mock), 2, "one output and one mic switch")
	})

	t.Run("ringtone_mutes_voice", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		openOutput(t, hw, OutputSpeaker)

		require.NoError(t, hw.SetMode(ModeRingtone))
		volumes := uint32Args(t, mock, driver.AudioSetVolume)
		require.NotEmpty(t, volumes)
		for _, v := range volumes {
			assert.Equal(t, uint32(0), v)
		}
	})

	t.Run("routing_failure_keeps_state", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		out := openOutput(t, hw, OutputSpeaker)
		require.NoError(t, hw.SetMode(ModeNormal))

		mock.SetIoctlError(driver.ControlDevice, driver.AudioSwitchDevice, errors.New("busy"))
		err := out.SetParameters("routing=4")
		assert.ErrorIs(t, err, ErrRoutingFailed)
		assert.Equal(t, SoundDeviceSpeaker, hw.CurrentSoundDevice())

		mock.SetIoctlError(driver.ControlDevice, driver.AudioSwitchDevice, nil)
		require.NoError(t, out.SetParameters("routing=4"))
		assert.Equal(t, SoundDeviceHeadset, hw.CurrentSoundDevice())
	})

	t.Run("bt_without_nrec_uses_ec_off_route", func(t *testing.T) {
		var events []RouteEvent
		hw, _ := newTestHardware(t, WithRouteObserver(func(ev RouteEvent) { events = append(events, ev) }))
		openOutput(t, hw, OutputBluetoothSCO)

		require.NoError(t, hw.SetParameters("bt_headset_nrec=off"))
		require.NoError(t, hw.SetMode(ModeNormal))
		assert.Equal(t, SoundDeviceBT, hw.CurrentSoundDevice())
		require.Len(t, events, 1)
		assert.Equal(t, SoundDeviceBTECOff, events[0].Device)
		assert.Equal(t, SoundDeviceBT, events[0].Requested)
		assert.Equal(t, [2]uint32{driver.BTSCOSpkr, 0}, events[0].Route.Output)
	})
}

func TestMicMute(t *testing.T) {
	t.Run("one_command_per_change", func(t *testing.T) {
		hw, mock := newTestHardware(t)

		require.NoError(t, hw.SetMicMute(false))
		require.NoError(t, hw.SetMicMute(false))
		assert.Equal(t, []uint32{0}, uint32Args(t, mock, driver.AudioSetMute))
		assert.False(t, hw.MicMute())
	})

	t.Run("default_mute_is_not_resent", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		require.NoError(t, hw.SetMicMute(true))
		assert.Equal(t, 0, mock.CountCalls(driver.ControlDevice, driver.AudioSetMute))
	})

	t.Run("check_forces_mute_outside_call", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		require.NoError(t, hw.SetMicMute(false))

		require.NoError(t, hw.SetMode(ModeInCall))
		require.NoError(t, hw.CheckMicMute())
		assert.False(t, hw.MicMute())

		require.NoError(t, hw.SetMode(ModeNormal))
		require.NoError(t, hw.CheckMicMute())
		assert.True(t, hw.MicMute())
		assert.Equal(t, []uint32{0, 1}, uint32Args(t, mock, driver.AudioSetMute))
	})
}

func TestSetVoiceVolume(t *testing.T) {
	t.Run("ignored_outside_call", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		require.NoError(t, hw.SetVoiceVolume(0.2))
		assert.Equal(t, 0, mock.CountCalls(driver.ControlDevice, driver.AudioSetVolume))
		assert.Equal(t, maxVoiceVolume, hw.VoiceVolume())
	})

	tests := []struct {
		volume  float64
		level   int
		percent uint32
	}{
		{0, 0, 0},
		{0.2, 1, 20},
		{0.5, 2, 40}, // 2.5 rounds to even
		{0.8, 4, 80},
		{1, 5, 100},
		{-1, 0, 0},
		{3, 5, 100},
	}
	for _, tt := range tests {
		hw, mock := newTestHardware(t)
		require.NoError(t, hw.SetMode(ModeInCall))
		mock.ResetCalls()

		require.NoError(t, hw.SetVoiceVolume(tt.volume))
		assert.Equal(t, tt.level, hw.VoiceVolume(), "volume %v", tt.volume)
		assert.Equal(t, []uint32{tt.percent}, uint32Args(t, mock, driver.AudioSetVolume), "volume %v", tt.volume)
	}

	t.Run("stored_volume_restored_on_reroute", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		out := openOutput(t, hw, OutputEarpiece)
		require.NoError(t, hw.SetMode(ModeInCall))
		require.NoError(t, hw.SetVoiceVolume(0.6))
		mock.ResetCalls()

		require.NoError(t, out.SetParameters("routing=2"))
		assert.Equal(t, []uint32{60}, uint32Args(t, mock, driver.AudioSetVolume))
	})

	t.Run("master_volume_left_to_mixer", func(t *testing.T) {
		hw, _ := newTestHardware(t)
		assert.ErrorIs(t, hw.SetMasterVolume(1), ErrNotSupported)
	})
}

func TestSetMode(t *testing.T) {
	hw, _ := newTestHardware(t)
	assert.ErrorIs(t, hw.SetMode(CallMode(42)), ErrBadValue)
	assert.Equal(t, ModeNormal, hw.Mode())

	require.NoError(t, hw.SetMode(ModeCallScreen))
	assert.Equal(t, ModeCallScreen, hw.Mode())
}

func TestHardwareParameters(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		hw, _ := newTestHardware(t)
		assert.ErrorIs(t, hw.SetParameters(""), ErrBadValue)
	})

	t.Run("dualmic_round_trip", func(t *testing.T) {
		hw, _ := newTestHardware(t)

		require.NoError(t, hw.SetParameters("dualmic_enabled=true"))
		assert.Equal(t, "dualmic_enabled=true", hw.GetParameters("dualmic_enabled"))

		require.NoError(t, hw.SetParameters("dualmic_enabled=false"))
		assert.Equal(t, "dualmic_enabled=false", hw.GetParameters("dualmic_enabled"))
	})

	t.Run("tty_mode", func(t *testing.T) {
		hw, _ := newTestHardware(t)
		openOutput(t, hw, OutputWiredHeadset)
		require.NoError(t, hw.SetMode(ModeInCall))
		assert.Equal(t, SoundDeviceHeadset, hw.CurrentSoundDevice())

		require.NoError(t, hw.SetParameters("tty_mode=vco"))
		assert.Equal(t, SoundDeviceTTYVCO, hw.CurrentSoundDevice())
		assert.Equal(t, "tty_mode=vco", hw.GetParameters("tty_mode"))

		require.NoError(t, hw.SetParameters("tty_mode=bogus"))
		assert.Equal(t, SoundDeviceHeadset, hw.CurrentSoundDevice())
		assert.Equal(t, "tty_mode=off", hw.GetParameters("tty_mode"))
	})

	t.Run("nrec_does_not_reroute", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		openOutput(t, hw, OutputSpeaker)
		require.NoError(t, hw.SetMode(ModeNormal))
		mock.ResetCalls()

		require.NoError(t, hw.SetParameters("bt_headset_nrec=off"))
		assert.False(t, hw.BluetoothNrec())
		assert.Empty(t, switchArgs(t, mock))

		require.NoError(t, hw.SetParameters("bt_headset_nrec=on"))
		assert.True(t, hw.BluetoothNrec())
	})

	t.Run("bt_headset_name", func(t *testing.T) {
		hw, _ := newTestHardware(t, WithBluetoothProfiles([]BluetoothProfile{{Name: "Carkit-One", TX: 7, RX: 8}}))

		require.NoError(t, hw.SetParameters("bt_headset_name=carkit-one"))
		tx, rx := hw.BluetoothIDs()
		assert.Equal(t, uint32(7), tx)
		assert.Equal(t, uint32(8), rx)

		require.NoError(t, hw.SetParameters("bt_headset_name=unknown"))
		tx, rx = hw.BluetoothIDs()
		assert.Zero(t, tx)
		assert.Zero(t, rx)
	})

	t.Run("unknown_keys_ignored", func(t *testing.T) {
		hw, _ := newTestHardware(t)
		assert.NoError(t, hw.SetParameters("screen_state=on"))
		assert.Equal(t, "", hw.GetParameters("screen_state"))
	})
}

func TestDualMicRouting(t *testing.T) {
	hw, mock := newTestHardware(t)
	openOutput(t, hw, OutputEarpiece)
	require.NoError(t, hw.SetMode(ModeInCall))
	require.NoError(t, hw.SetParameters("dualmic_enabled=true"))

	in, err := hw.OpenInputStream(InputBuiltinMic, &StreamConfig{})
	require.NoError(t, err)
	mock.ResetCalls()

	// an idle stream that is not recording lets the call use both mics
	require.NoError(t, in.Standby())
	assert.Equal(t, SoundDeviceHandsetDualMic, hw.CurrentSoundDevice())
	assert.Equal(t, [][2]uint32{
		{driver.HandsetSpkr, 0},
		{driver.HandsetDualMic, driver.HandsetDualMicBroadside},
	}, switchArgs(t, mock))

	// capture drops back to the single mic
	buf := make([]byte, 512)
	_, err = in.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, SoundDeviceHandset, hw.CurrentSoundDevice())
	assert.Equal(t, [2]uint32{driver.HandsetMic, 0}, hw.Snapshot().Route.Mic)
	assert.Equal(t, InputStarted, in.State())
}

func TestInputBufferSize(t *testing.T) {
	hw, _ := newTestHardware(t)

	assert.Equal(t, 256, hw.InputBufferSize(8000, FormatPCM16, 1))
	assert.Equal(t, 512, hw.InputBufferSize(44100, FormatPCM16, 2))
	assert.Equal(t, 320, hw.InputBufferSize(8000, FormatAMRNB, 1))
	assert.Equal(t, 230, hw.InputBufferSize(8000, FormatEVRC, 1))
	assert.Equal(t, 350, hw.InputBufferSize(8000, FormatQCELP, 1))
	assert.Equal(t, 2048, hw.InputBufferSize(48000, FormatAAC, 2))

	assert.Zero(t, hw.InputBufferSize(8000, FormatPCM16, 3))
	assert.Zero(t, hw.InputBufferSize(7999, FormatPCM16, 1))
	assert.Zero(t, hw.InputBufferSize(48001, FormatPCM16, 1))
	assert.Zero(t, hw.InputBufferSize(8000, 0x1234, 1))
}

func TestStreamOwnership(t *testing.T) {
	t.Run("single_output", func(t *testing.T) {
		hw, _ := newTestHardware(t)
		first := openOutput(t, hw, OutputSpeaker)

		_, err := hw.OpenOutputStream(OutputEarpiece, &StreamConfig{})
		assert.ErrorIs(t, err, ErrStreamExists)
		assert.Equal(t, OutputSpeaker, first.Devices())

		require.NoError(t, hw.CloseOutputStream(first))
		assert.ErrorIs(t, hw.CloseOutputStream(first), ErrUnknownStream)

		second := openOutput(t, hw, OutputEarpiece)
		assert.NotSame(t, first, second)
	})

	t.Run("input_requires_single_input_device", func(t *testing.T) {
		hw, _ := newTestHardware(t)
		_, err := hw.OpenInputStream(OutputSpeaker, &StreamConfig{})
		assert.ErrorIs(t, err, ErrBadValue)
		_, err = hw.OpenInputStream(InputBuiltinMic|InputBackMic, &StreamConfig{})
		assert.ErrorIs(t, err, ErrBadValue)
	})

	t.Run("close_input", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		in, err := hw.OpenInputStream(InputBuiltinMic, &StreamConfig{})
		require.NoError(t, err)
		require.True(t, mock.IsOpen(driver.PCMInDevice))

		require.NoError(t, hw.CloseInputStream(in))
		assert.False(t, mock.IsOpen(driver.PCMInDevice))
		assert.ErrorIs(t, hw.CloseInputStream(in), ErrUnknownStream)
	})

	t.Run("closed_output_handle_stays_closed", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		stale := openOutput(t, hw, OutputSpeaker)
		require.NoError(t, hw.CloseOutputStream(stale))

		n, err := stale.Write(make([]byte, 64))
		assert.ErrorIs(t, err, ErrUnknownStream)
		assert.Zero(t, n)
		assert.ErrorIs(t, stale.SetParameters("routing=1"), ErrUnknownStream)
		assert.False(t, mock.IsOpen(driver.PCMOutDevice))
		assert.Equal(t, 1, mock.OpenCount(driver.PCMOutDevice))

		current := openOutput(t, hw, OutputEarpiece)
		_, err = stale.Write(make([]byte, 64))
		assert.ErrorIs(t, err, ErrUnknownStream)
		assert.Equal(t, 2, mock.OpenCount(driver.PCMOutDevice), "only the tracked stream holds pcm_out")
		assert.False(t, current.InStandby())
	})

	t.Run("closed_input_handle_stays_closed", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		stale, err := hw.OpenInputStream(InputBuiltinMic, &StreamConfig{})
		require.NoError(t, err)
		require.NoError(t, hw.CloseInputStream(stale))

		n, err := stale.Read(make([]byte, 256))
		assert.ErrorIs(t, err, ErrUnknownStream)
		assert.Zero(t, n)
		assert.ErrorIs(t, stale.SetParameters("routing=0x80000"), ErrUnknownStream)
		assert.False(t, mock.IsOpen(driver.PCMInDevice))
		assert.Equal(t, InputClosed, stale.State())

		next, err := hw.OpenInputStream(InputBuiltinMic, &StreamConfig{})
		require.NoError(t, err)
		_, err = next.Read(make([]byte, 256))
		assert.NoError(t, err, "a closed handle does not hold the capture")
		assert.NoError(t, stale.Standby())
		assert.ErrorIs(t, hw.CloseInputStream(stale), ErrUnknownStream)
		require.NoError(t, hw.CloseInputStream(next))
	})

	t.Run("close_all", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		openOutput(t, hw, OutputSpeaker)
		_, err := hw.OpenInputStream(InputBuiltinMic, &StreamConfig{})
		require.NoError(t, err)
		require.NoError(t, hw.SetMode(ModeInCall))

		require.NoError(t, hw.Close())
		assert.False(t, mock.IsOpen(driver.PCMOutDevice))
		assert.False(t, mock.IsOpen(driver.PCMInDevice))
		assert.ErrorIs(t, hw.InitCheck(), ErrNotInitialized)
	})
}

func TestDump(t *testing.T) {
	hw, _ := newTestHardware(t)
	openOutput(t, hw, OutputSpeaker)
	_, err := hw.OpenInputStream(InputBuiltinMic, &StreamConfig{})
	require.NoError(t, err)
	require.NoError(t, hw.SetMode(ModeInCall))

	var buf bytes.Buffer
	require.NoError(t, hw.Dump(&buf))
	out := buf.String()
	assert.Contains(t, out, "mode: in_call")
	assert.Contains(t, out, "sound device: speaker")
	assert.Contains(t, out, "output stream:")
	assert.Contains(t, out, "input stream:")
	assert.Contains(t, out, "voice started: true")
}

func TestConcurrentFacadeCalls(t *testing.T) {
	const iterations = 50

	hw, _ := newTestHardware(t)
	out := openOutput(t, hw, OutputSpeaker)
	in, err := hw.OpenInputStream(InputBuiltinMic, &StreamConfig{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	run := func(fn func(i int)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				fn(i)
			}
		}()
	}

	modes := []CallMode{ModeNormal, ModeInCall, ModeRingtone, ModeCallScreen}
	run(func(i int) {
		assert.NoError(t, hw.SetMode(modes[i%len(modes)]))
	})
	run(func(i int) {
		kv := "dualmic_enabled=true"
		if i%2 == 1 {
			kv = "dualmic_enabled=false;tty_mode=full"
		}
		assert.NoError(t, hw.SetParameters(kv))
	})
	run(func(i int) {
		if _, err := in.Read(make([]byte, 320)); err != nil {
			assert.ErrorIs(t, err, ErrCaptureBusy)
		}
		if i%5 == 4 {
			assert.NoError(t, in.Standby())
		}
	})
	run(func(i int) {
		_, err := out.Write(make([]byte, 512))
		assert.NoError(t, err)
		routing := "routing=2"
		if i%2 == 1 {
			routing = "routing=4"
		}
		assert.NoError(t, out.SetParameters(routing))
	})
	run(func(int) {
		assert.NoError(t, hw.Dump(io.Discard))
	})
	wg.Wait()

	require.NoError(t, in.Standby())
	require.NoError(t, hw.SetMode(ModeNormal))
	require.NoError(t, hw.SetParameters("dualmic_enabled=false;tty_mode=off"))
	require.NoError(t, out.SetParameters("routing=2"))
	assert.Equal(t, OutputSpeaker, out.Devices())
	assert.Equal(t, SoundDeviceSpeaker, hw.CurrentSoundDevice())
	assert.Equal(t, ModeNormal, hw.Mode())
}
