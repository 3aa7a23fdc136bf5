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
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-audio-hal/internal/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceTableLookup(t *testing.T) {
	table := NewDeviceTable("")

	tests := []struct {
		sel    SoundDevice
		output uint32
		mic    [2]uint32
	}{
		{SoundDeviceHandset, driver.HandsetSpkr, [2]uint32{driver.HandsetMic, 0}},
		{SoundDeviceSpeaker, driver.SpkrPhoneMono, [2]uint32{driver.SpkrPhoneMic, 0}},
		{SoundDeviceHeadset, driver.HeadsetSpkrStereo, [2]uint32{driver.HeadsetMic, 0}},
		{SoundDeviceHeadsetAndSpeaker, driver.SpkrPhoneHeadsetStereo, [2]uint32{driver.HeadsetMic, 0}},
		{SoundDeviceNoMicHeadset, driver.HeadsetSpkrStereo, [2]uint32{driver.HandsetMic, 0}},
		{SoundDeviceBT, driver.BTSCOSpkr, [2]uint32{driver.BTSCOMic, 0}},
		{SoundDeviceBTECOff, driver.BTSCOSpkr, [2]uint32{driver.BTSCOMic, 0}},
		{SoundDeviceCarkit, driver.BTSCOSpkr, [2]uint32{driver.BTSCOMic, 0}},
		{SoundDeviceTTYFull, driver.TTYHeadsetSpkr, [2]uint32{driver.TTYHeadsetMic, 0}},
		{SoundDeviceTTYVCO, driver.TTYHeadsetSpkr, [2]uint32{driver.HandsetMic, 0}},
		{SoundDeviceTTYHCO, driver.HandsetSpkr, [2]uint32{driver.TTYHeadsetMic, 0}},
		{SoundDeviceHandsetBackMic, driver.HandsetSpkr, [2]uint32{driver.SpkrPhoneMic, 0}},
		{SoundDeviceFMHeadset, driver.FMHeadset, [2]uint32{driver.HeadsetMic, 0}},
		{SoundDeviceFMSpeaker, driver.FMSpkr, [2]uint32{driver.HeadsetMic, 0}},
		{SoundDeviceHandsetDualMic, driver.HandsetSpkr, [2]uint32{driver.HandsetDualMic, driver.HandsetDualMicBroadside}},
		{SoundDeviceSpeakerDualMic, driver.SpkrPhoneMono, [2]uint32{driver.SpkrDualMic, driver.SpkrDualMicBroadside}},
	}

	for _, tt := range tests {
		t.Run(tt.sel.String(), func(t *testing.T) {
			route, err := table.Lookup(tt.sel)
			require.NoError(t, err)
			assert.Equal(t, [2]uint32{tt.output, 0}, route.Output)
			assert.Equal(t, tt.mic, route.Mic)
		})
	}

	t.Run("unknown_selector", func(t *testing.T) {
		_, err := table.Lookup(SoundDeviceNone)
		assert.ErrorIs(t, err, ErrBadValue)
	})

	t.Run("speaker_as_earpiece_product", func(t *testing.T) {
		route, err := NewDeviceTable(productSpeakerAsEarpiece).Lookup(SoundDeviceHandset)
		require.NoError(t, err)
		assert.Equal(t, uint32(driver.SpkrPhoneMono), route.Output[0])
	})
}

func TestLoadDualMicCalibration(t *testing.T) {
	write := func(t *testing.T, content string) string {
		path := filepath.Join(t.TempDir(), "DualMicControl.txt")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	t.Run("broadside", func(t *testing.T) {
		table := NewDeviceTable("")
		table.HandsetMicID = 0
		require.NoError(t, table.LoadDualMicCalibration(write(t, "0\n")))
		assert.Equal(t, uint32(driver.HandsetDualMicBroadside), table.HandsetMicID)
		assert.Equal(t, uint32(driver.SpkrDualMicBroadside), table.SpeakerMicID)
	})

	t.Run("endfire", func(t *testing.T) {
		table := NewDeviceTable("")
		require.NoError(t, table.LoadDualMicCalibration(write(t, "1")))
		assert.Equal(t, uint32(driver.HandsetDualMicEndfire), table.HandsetMicID)
		assert.Equal(t, uint32(driver.SpkrDualMicEndfire), table.SpeakerMicID)

		route, err := table.Lookup(SoundDeviceSpeakerDualMic)
		require.NoError(t, err)
		assert.Equal(t, uint32(driver.SpkrDualMicEndfire), route.Mic[1])
	})

	t.Run("empty_file_is_endfire", func(t *testing.T) {
		table := NewDeviceTable("")
		require.NoError(t, table.LoadDualMicCalibration(write(t, "")))
		assert.Equal(t, uint32(driver.HandsetDualMicEndfire), table.HandsetMicID)
	})

	t.Run("missing_file_keeps_defaults", func(t *testing.T) {
		table := NewDeviceTable("")
		err := table.LoadDualMicCalibration(filepath.Join(t.TempDir(), "missing"))
		assert.Error(t, err)
		assert.Equal(t, uint32(driver.HandsetDualMicBroadside), table.HandsetMicID)
		assert.Equal(t, uint32(driver.SpkrDualMicBroadside), table.SpeakerMicID)
	})
}
