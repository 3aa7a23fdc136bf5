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
	"testing"
	"time"

	"github.com/loqalabs/loqa-audio-hal/internal/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputStreamOpen(t *testing.T) {
	t.Run("configures_and_starts_driver", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		out := openOutput(t, hw, OutputSpeaker)

		assert.False(t, out.InStandby())
		assert.True(t, mock.IsOpen(driver.PCMOutDevice))

		sets := mock.CallsFor(driver.PCMOutDevice, driver.AudioSetConfig)
		require.Len(t, sets, 1)
		conf, err := driver.UnmarshalAudioConfig(sets[0].Arg)
		require.NoError(t, err)
		assert.Equal(t, uint32(2), conf.ChannelCount)
		assert.Equal(t, uint32(44100), conf.SampleRate)
		assert.Equal(t, uint32(4096), conf.BufferSize)
		assert.Equal(t, uint32(2), conf.BufferCount)
		assert.Equal(t, 1, mock.CountCalls(driver.PCMOutDevice, driver.AudioStart))
	})

	t.Run("defaults_written_back", func(t *testing.T) {
		hw, _ := newTestHardware(t)
		cfg := &StreamConfig{}
		_, err := hw.OpenOutputStream(OutputSpeaker, cfg)
		require.NoError(t, err)
		assert.Equal(t, StreamConfig{Format: FormatPCM16, Channels: ChannelOutStereo, SampleRate: 44100}, *cfg)
	})

	t.Run("mismatch_is_adjusted", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		cfg := &StreamConfig{Format: FormatPCM16, Channels: ChannelOutStereo, SampleRate: 48000}

		_, err := hw.OpenOutputStream(OutputSpeaker, cfg)
		assert.ErrorIs(t, err, ErrValuesAdjusted)
		assert.Equal(t, uint32(44100), cfg.SampleRate)
		assert.Equal(t, 0, mock.OpenCount(driver.PCMOutDevice))

		_, err = hw.OpenOutputStream(OutputSpeaker, cfg)
		assert.NoError(t, err, "retry with the written back values succeeds")
	})

	t.Run("driver_failure_defers_open", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		mock.SetIoctlError(driver.PCMOutDevice, driver.AudioSetConfig, errors.New("bad config"))

		out := openOutput(t, hw, OutputSpeaker)
		assert.True(t, out.InStandby())
		assert.False(t, mock.IsOpen(driver.PCMOutDevice))
	})
}

func TestOutputStreamWrite(t *testing.T) {
	t.Run("short_writes", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		out := openOutput(t, hw, OutputSpeaker)
		mock.SetWriteChunk(1000)

		data := bytes.Repeat([]byte{1, 2, 3, 4}, 2048)
		n, err := out.Write(data)
		require.NoError(t, err)
		assert.Equal(t, len(data), n)
		assert.Equal(t, data, mock.Written(driver.PCMOutDevice))
	})

	t.Run("try_again_is_retried", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		out := openOutput(t, hw, OutputSpeaker)
		mock.SetWriteTryAgain(3)

		n, err := out.Write(make([]byte, 4096))
		require.NoError(t, err)
		assert.Equal(t, 4096, n)
		assert.Equal(t, uint64(3), out.RetryCount())
	})

	t.Run("hard_error", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		out := openOutput(t, hw, OutputSpeaker)
		boom := errors.New("i/o error")
		mock.SetWriteError(boom)

		n, err := out.Write(make([]byte, 4096))
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, n)
	})

	t.Run("reopens_after_standby", func(t *testing.T) {
		hw, mock := newTestHardware(t)
		out := openOutput(t, hw, OutputSpeaker)

		require.NoError(t, out.Standby())
		assert.True(t, out.InStandby())
		assert.False(t, mock.IsOpen(driver.PCMOutDevice))

		_, err := out.Write(make([]byte, 16))
		require.NoError(t, err)
		assert.False(t, out.InStandby())
		assert.Equal(t, 2, mock.OpenCount(driver.PCMOutDevice))
	})

	t.Run("open_failure_paces_caller", func(t *testing.T) {
		var slept time.Duration
		hw, mock := newTestHardware(t, WithSleep(func(d time.Duration) { slept += d }))
		mock.SetOpenError(driver.PCMOutDevice, errors.New("busy"))
		out := openOutput(t, hw, OutputSpeaker)

		// 4410 frames of 16 bit stereo
		n, err := out.Write(make([]byte, 4410*4))
		assert.Error(t, err)
		assert.Zero(t, n)
		assert.Equal(t, 100*time.Millisecond, slept)
	})
}

func TestOutputStreamParameters(t *testing.T) {
	hw, mock := newTestHardware(t)
	out := openOutput(t, hw, OutputEarpiece)

	require.NoError(t, out.SetParameters("routing=2"))
	assert.Equal(t, OutputSpeaker, out.Devices())
	assert.Equal(t, "routing=2", out.GetParameters("routing"))
	assert.Equal(t, SoundDeviceSpeaker, hw.CurrentSoundDevice())

	mock.ResetCalls()
	err := out.SetParameters("routing=4;volume=3")
	assert.ErrorIs(t, err, ErrBadValue)
	assert.Equal(t, OutputWiredHeadset, out.Devices(), "routing is applied before the unknown key is reported")
	assert.Len(t, switchArgs(t, mock), 2)

	assert.ErrorIs(t, out.SetParameters("volume=3"), ErrBadValue)
	assert.Equal(t, "", out.GetParameters("volume"))
}

func TestOutputStreamInfo(t *testing.T) {
	hw, _ := newTestHardware(t)
	out := openOutput(t, hw, OutputSpeaker)

	assert.Equal(t, uint32(44100), out.SampleRate())
	assert.Equal(t, ChannelOutStereo, out.Channels())
	assert.Equal(t, FormatPCM16, out.Format())
	assert.Equal(t, 4096, out.BufferSize())
	assert.Equal(t, 46*time.Millisecond, out.Latency().Truncate(time.Millisecond))

	_, err := out.RenderPosition()
	assert.ErrorIs(t, err, ErrNotSupported)

	var buf bytes.Buffer
	require.NoError(t, out.Dump(&buf))
	assert.Contains(t, buf.String(), "devices: speaker")
	assert.Contains(t, buf.String(), "standby: false")
	assert.Contains(t, buf.String(), "driver handle: msm_pcm_out open")

	require.NoError(t, out.Standby())
	buf.Reset()
	require.NoError(t, out.Dump(&buf))
	assert.Contains(t, buf.String(), "driver handle: closed")
}
